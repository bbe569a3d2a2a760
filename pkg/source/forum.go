package source

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
)

// BoardPageStride is the number of topics per board listing page; board
// pages are addressed by entry offset, not page number.
const BoardPageStride = 40

// Selectors locate posts on a topic page.
type Selectors struct {
	Post string // one element per post
	Date string // header element holding "on: <date>", searched inside Post
	Body string // post body, searched inside Post; Post itself when absent
}

// ForumOptions configures a Forum crawler.
type ForumOptions struct {
	BaseURL          string
	TopicURLs        []string
	FeedURLs         []string
	BoardIDs         []int
	BoardStartPage   int
	BoardEndPage     int
	MaxPagesPerTopic int
	Years            YearRange
	UserAgent        string
	Selectors        Selectors
}

// Forum crawls an SMF-style forum for posts that mention domains.
type Forum struct {
	opts   ForumOptions
	fetch  *fetcher
	parser *gofeed.Parser
	log    *slog.Logger
}

// NewForum creates a forum crawler. A nil client uses a default one.
func NewForum(opts ForumOptions, client HTTPClient, log *slog.Logger) *Forum {
	if client == nil {
		client = &http.Client{Timeout: PageTimeout}
	}
	if opts.MaxPagesPerTopic < 1 {
		opts.MaxPagesPerTopic = 1
	}
	return &Forum{
		opts:   opts,
		fetch:  &fetcher{client: client, userAgent: opts.UserAgent, timeout: PageTimeout},
		parser: gofeed.NewParser(),
		log:    log,
	}
}

// Crawl yields every in-range post with at least one domain, topic by topic.
// A fetch failure is yielded once and ends the sequence.
func (f *Forum) Crawl(ctx context.Context) iter.Seq2[Post, error] {
	return func(yield func(Post, error) bool) {
		crawled := make(map[string]bool)

		for topicURL, err := range f.topics(ctx) {
			if err != nil {
				yield(Post{}, err)
				return
			}
			if id := TopicID(topicURL); id != "" {
				if crawled[id] {
					continue
				}
				crawled[id] = true
			}

			for post, err := range f.crawlTopic(ctx, topicURL) {
				if !yield(post, err) || err != nil {
					return
				}
			}
		}
	}
}

// topics yields seed topic URLs: explicit ones, then feed items, then board
// listings. Board pages are fetched only as the sequence is consumed.
func (f *Forum) topics(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, raw := range f.opts.TopicURLs {
			u, err := NormalizeURL(f.opts.BaseURL, raw)
			if !yield(u, err) || err != nil {
				return
			}
		}

		for _, feedURL := range f.opts.FeedURLs {
			links, err := f.feedTopics(ctx, feedURL)
			if err != nil {
				yield("", err)
				return
			}
			for _, u := range links {
				if !yield(u, nil) {
					return
				}
			}
		}

		for _, boardID := range f.opts.BoardIDs {
			for page := f.opts.BoardStartPage; page <= f.opts.BoardEndPage; page++ {
				links, err := f.boardTopics(ctx, boardID, page)
				if err != nil {
					yield("", err)
					return
				}
				for _, u := range links {
					if !yield(u, nil) {
						return
					}
				}
			}
		}
	}
}

// BoardURL returns the listing URL of one board page.
func BoardURL(base string, boardID, page int) string {
	return fmt.Sprintf("%s?board=%d.%d", base, boardID, page*BoardPageStride)
}

func (f *Forum) boardTopics(ctx context.Context, boardID, page int) ([]string, error) {
	boardURL := BoardURL(f.opts.BaseURL, boardID, page)
	doc, err := f.document(ctx, boardURL)
	if err != nil {
		return nil, err
	}

	links := topicLinks(doc, boardURL)
	f.log.Debug("board page scanned", "board", boardID, "page", page, "topics", len(links))
	return links, nil
}

func (f *Forum) crawlTopic(ctx context.Context, seed string) iter.Seq2[Post, error] {
	return func(yield func(Post, error) bool) {
		id := TopicID(seed)
		queue := []string{seed}
		visited := map[string]bool{pageKey(seed): true}
		fetched := 0

		for len(queue) > 0 && fetched < f.opts.MaxPagesPerTopic {
			pageURL := queue[0]
			queue = queue[1:]

			doc, err := f.document(ctx, pageURL)
			if err != nil {
				yield(Post{}, err)
				return
			}
			fetched++

			if id != "" {
				for _, link := range topicLinks(doc, pageURL) {
					if !isTopicPage(link, id) || visited[pageKey(link)] {
						continue
					}
					visited[pageKey(link)] = true
					queue = append(queue, link)
				}
			}

			for _, post := range f.extractPosts(doc, pageURL) {
				if !yield(post, nil) {
					return
				}
			}
		}

		f.log.Debug("topic crawled", "url", seed, "pages", fetched)
	}
}

func (f *Forum) document(ctx context.Context, pageURL string) (*goquery.Document, error) {
	body, err := f.fetch.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: fmt.Errorf("parse html: %w", err)}
	}
	return doc, nil
}

func (f *Forum) extractPosts(doc *goquery.Document, pageURL string) []Post {
	var posts []Post

	doc.Find(f.opts.Selectors.Post).Each(func(_ int, container *goquery.Selection) {
		header := ""
		container.Find(f.opts.Selectors.Date).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := nodeText(s)
			if strings.Contains(text, dateMarker) {
				header = text
				return false
			}
			return true
		})
		if header == "" {
			return
		}

		postedAt, err := ParsePostDate(header)
		if err != nil {
			f.log.Debug("skip post", "url", pageURL, "error", err)
			return
		}
		if !f.opts.Years.Contains(postedAt) {
			return
		}

		body := container.Find(f.opts.Selectors.Body).First()
		if body.Length() == 0 {
			body = container
		}

		domains := ExtractDomains(NormalizeText(nodeText(body)))
		if len(domains) == 0 {
			return
		}
		posts = append(posts, Post{URL: pageURL, PostedAt: postedAt, Domains: domains})
	})

	return posts
}

// topicLinks returns the normalized, de-duplicated topic links of a page in
// document order.
func topicLinks(doc *goquery.Document, pageURL string) []string {
	var links []string
	seen := make(map[string]bool)

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !strings.Contains(href, "topic=") {
			return
		}
		u, err := NormalizeURL(pageURL, href)
		if err != nil || seen[u] {
			return
		}
		seen[u] = true
		links = append(links, u)
	})
	return links
}

var topicOffsetPattern = regexp.MustCompile(`[?&;]topic=(\d+)(?:\.(\d+))?(?:$|[&;])`)

// pageKey identifies one page of a topic: "topic=7" and "topic=7.0" are the
// same page. Message permalinks and links without a topic parameter are
// their own key.
func pageKey(link string) string {
	m := topicOffsetPattern.FindStringSubmatch(link)
	if m == nil {
		return link
	}
	offset := m[2]
	if offset == "" {
		offset = "0"
	}
	return m[1] + "." + offset
}

var topicPagePattern = regexp.MustCompile(`[?&;]topic=\d+(?:\.\d+)?(?:$|[&;])`)

// isTopicPage reports whether link is a listing page of topic id, as opposed
// to a message permalink or an action on the topic.
func isTopicPage(link, id string) bool {
	return TopicID(link) == id &&
		topicPagePattern.MatchString(link) &&
		!strings.Contains(link, "action=")
}

// nodeText concatenates the text nodes under s separated by single spaces,
// so adjacent block elements do not run together.
func nodeText(s *goquery.Selection) string {
	var parts []string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	for _, n := range s.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}
