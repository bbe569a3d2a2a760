package source

import (
	"context"
	"fmt"
)

// feedTopics reads an RSS/Atom feed (SMF exposes recent topics and posts
// this way) and returns the topic links of its items.
func (f *Forum) feedTopics(ctx context.Context, feedURL string) ([]string, error) {
	body, err := f.fetch.get(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	parsed, err := f.parser.ParseString(string(body))
	if err != nil {
		return nil, &FetchError{URL: feedURL, Err: fmt.Errorf("parse feed: %w", err)}
	}

	var links []string
	for _, item := range parsed.Items {
		link := item.Link
		if link == "" && len(item.Links) > 0 {
			link = item.Links[0]
		}
		if TopicID(link) == "" {
			continue
		}
		u, err := NormalizeURL(feedURL, link)
		if err != nil {
			continue
		}
		links = append(links, u)
	}

	f.log.Debug("feed scanned", "url", feedURL, "topics", len(links))
	return links, nil
}
