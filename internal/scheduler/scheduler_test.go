package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/elonfeng/domainhunter/internal/store"
	"github.com/elonfeng/domainhunter/pkg/alert"
	"github.com/elonfeng/domainhunter/pkg/availability"
	"github.com/elonfeng/domainhunter/pkg/source"
)

type fakeSource struct {
	posts []source.Post
	err   error
}

func (f *fakeSource) Crawl(context.Context) iter.Seq2[source.Post, error] {
	return func(yield func(source.Post, error) bool) {
		for _, p := range f.posts {
			if !yield(p, nil) {
				return
			}
		}
		if f.err != nil {
			yield(source.Post{}, f.err)
		}
	}
}

type fakeChecker struct {
	available map[string]bool
	errs      map[string]error
	calls     []string
}

func (f *fakeChecker) Available(_ context.Context, domain string) (bool, error) {
	f.calls = append(f.calls, domain)
	if err := f.errs[domain]; err != nil {
		return false, err
	}
	return f.available[domain], nil
}

type fakeNotifier struct {
	err     error
	domains []string
}

func (f *fakeNotifier) Name() string { return "fake" }

func (f *fakeNotifier) Send(_ context.Context, e *alert.Event) error {
	f.domains = append(f.domains, e.Domain)
	return f.err
}

type failingStore struct {
	store.Store
	err error
}

func (f *failingStore) Seen(context.Context, string) (bool, error) { return false, f.err }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "domains.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func post(url string, domains ...string) source.Post {
	return source.Post{
		URL:      url,
		PostedAt: time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC),
		Domains:  domains,
	}
}

func getRecord(t *testing.T, s store.Store, domain string) *store.DomainRecord {
	t.Helper()
	rec, err := s.Get(context.Background(), domain)
	if err != nil {
		t.Fatalf("get %s: %v", domain, err)
	}
	return rec
}

func TestRunCycleChecksRecordsAndNotifies(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	src := &fakeSource{posts: []source.Post{
		post("https://f.org/index.php?topic=1.0", "my-new-site.com", "example.org"),
		post("https://f.org/index.php?topic=2.0", "example.org"),
	}}
	checker := &fakeChecker{available: map[string]bool{"my-new-site.com": true}}
	notifier := &fakeNotifier{}
	s := New(src, checker, st, alert.NewManager([]alert.Notifier{notifier}), time.Hour, testLogger())

	stats, err := s.RunCycle(ctx)
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	want := Stats{Posts: 2, Candidates: 3, Skipped: 1, Checked: 2, Available: 1, Notified: 1}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"my-new-site.com", "example.org"}, checker.calls); diff != "" {
		t.Errorf("checked domains mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"my-new-site.com"}, notifier.domains); diff != "" {
		t.Errorf("notified domains mismatch (-want +got):\n%s", diff)
	}

	free := getRecord(t, st, "my-new-site.com")
	if !free.Available || !free.Notified {
		t.Errorf("my-new-site.com = %+v, want available and notified", free)
	}
	if diff := cmp.Diff("2024-01-05T00:00:00Z", free.FirstSeenAt); diff != "" {
		t.Errorf("first seen at mismatch (-want +got):\n%s", diff)
	}
	taken := getRecord(t, st, "example.org")
	if taken.Available || taken.Notified {
		t.Errorf("example.org = %+v, want registered and not notified", taken)
	}
	if diff := cmp.Diff("https://f.org/index.php?topic=1.0", taken.FirstSeenURL); diff != "" {
		t.Errorf("first seen url mismatch (-want +got):\n%s", diff)
	}

	// A second cycle over the same posts only skips.
	stats, err = s.RunCycle(ctx)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	want = Stats{Posts: 2, Candidates: 3, Skipped: 3}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("second cycle stats mismatch (-want +got):\n%s", diff)
	}
	if len(checker.calls) != 2 {
		t.Errorf("seen domains were checked again: %v", checker.calls)
	}
	if len(notifier.domains) != 1 {
		t.Errorf("seen domains were notified again: %v", notifier.domains)
	}
}

func TestRunCycleLookupErrorRecordsRegistered(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{posts: []source.Post{post("https://f.org/index.php?topic=1.0", "flaky.com")}}
	checker := &fakeChecker{errs: map[string]error{"flaky.com": errors.New("rate limited")}}
	notifier := &fakeNotifier{}
	s := New(src, checker, st, alert.NewManager([]alert.Notifier{notifier}), time.Hour, testLogger())

	stats, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if diff := cmp.Diff(Stats{Posts: 1, Candidates: 1, Checked: 1}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	if rec := getRecord(t, st, "flaky.com"); rec.Available {
		t.Error("lookup failure must be recorded as not available")
	}
	if len(notifier.domains) != 0 {
		t.Errorf("unexpected notifications: %v", notifier.domains)
	}
}

func TestRunCycleNotificationFailureLeavesUnnotified(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{posts: []source.Post{post("https://f.org/index.php?topic=1.0", "free.com")}}
	checker := &fakeChecker{available: map[string]bool{"free.com": true}}
	failing := &fakeNotifier{err: errors.New("smtp down")}
	s := New(src, checker, st, alert.NewManager([]alert.Notifier{failing}), time.Hour, testLogger())

	stats, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if diff := cmp.Diff(Stats{Posts: 1, Candidates: 1, Checked: 1, Available: 1}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	rec := getRecord(t, st, "free.com")
	if !rec.Available || rec.Notified {
		t.Errorf("free.com = %+v, want available and not notified", rec)
	}
}

func TestRunCycleNoChannels(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{posts: []source.Post{post("https://f.org/index.php?topic=1.0", "free.com")}}
	checker := &fakeChecker{available: map[string]bool{"free.com": true}}
	s := New(src, checker, st, alert.NewManager(nil), time.Hour, testLogger())

	if _, err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	rec := getRecord(t, st, "free.com")
	if !rec.Available || rec.Notified {
		t.Errorf("free.com = %+v, want available and not notified", rec)
	}
}

func TestRunCycleAborts(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name   string
		src    *fakeSource
		store  func(t *testing.T) store.Store
		checks int
	}{
		{
			name: "crawl error",
			src:  &fakeSource{posts: []source.Post{post("https://f.org/a", "a.com")}, err: errBoom},
			store: func(t *testing.T) store.Store {
				return newTestStore(t)
			},
			checks: 1,
		},
		{
			name: "store error",
			src:  &fakeSource{posts: []source.Post{post("https://f.org/a", "a.com", "b.com")}},
			store: func(t *testing.T) store.Store {
				return &failingStore{Store: newTestStore(t), err: errBoom}
			},
			checks: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &fakeChecker{}
			s := New(tt.src, checker, tt.store(t), alert.NewManager(nil), time.Hour, testLogger())

			_, err := s.RunCycle(context.Background())
			if !errors.Is(err, errBoom) {
				t.Fatalf("expected wrapped boom error, got %v", err)
			}
			if len(checker.calls) != tt.checks {
				t.Errorf("expected %d checks, got %v", tt.checks, checker.calls)
			}
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{posts: []source.Post{post("https://f.org/a", "a.com")}}
	s := New(src, &fakeChecker{}, newTestStore(t), alert.NewManager(nil), time.Hour, testLogger())

	if err := s.Run(ctx); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}

func TestRunReturnsCycleError(t *testing.T) {
	errBoom := errors.New("boom")
	src := &fakeSource{err: errBoom}
	s := New(src, &fakeChecker{}, newTestStore(t), alert.NewManager(nil), time.Millisecond, testLogger())

	if err := s.Run(context.Background()); !errors.Is(err, errBoom) {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestRunOnceEndToEnd(t *testing.T) {
	forum := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "topic=1.0" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `<html><body><table>
<tr><td class="td_headerandpost">
<div class="smalltext">on: January 5, 2024</div>
<div class="post">Check out my-new-site.com and also visit EXAMPLE.org!</div>
</td></tr>
</table></body></html>`)
	}))
	defer forum.Close()

	rdap := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/domain/example.org" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer rdap.Close()

	var (
		mu       sync.Mutex
		payloads []map[string]string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]string
		_ = json.NewDecoder(r.Body).Decode(&p)
		mu.Lock()
		payloads = append(payloads, p)
		mu.Unlock()
	}))
	defer hook.Close()

	forumURL := forum.URL + "/index.php"
	src := source.NewForum(source.ForumOptions{
		BaseURL:          forumURL,
		TopicURLs:        []string{forumURL + "?topic=1.0"},
		MaxPagesPerTopic: 1,
		Years:            source.YearRange{Start: 2020, End: 2024},
		UserAgent:        "hunter-test/1.0",
		Selectors: source.Selectors{
			Post: "td.td_headerandpost",
			Date: "div.smalltext",
			Body: "div.post",
		},
	}, nil, testLogger())
	checker := availability.New(rdap.URL, "hunter-test/1.0", nil)
	st := newTestStore(t)
	mgr := alert.NewManager([]alert.Notifier{alert.NewWebhook(hook.URL, "", "hunter-test/1.0")})

	s := New(src, checker, st, mgr, time.Hour, testLogger())
	stats, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if diff := cmp.Diff(Stats{Posts: 1, Candidates: 2, Checked: 2, Available: 1, Notified: 1}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []map[string]string{{
		"domain":     "my-new-site.com",
		"source_url": forumURL + "?topic=1.0",
		"found_at":   "2024-01-05T00:00:00Z",
	}}
	if diff := cmp.Diff(want, payloads); diff != "" {
		t.Errorf("webhook payloads mismatch (-want +got):\n%s", diff)
	}

	if rec := getRecord(t, st, "my-new-site.com"); !rec.Notified {
		t.Error("expected my-new-site.com to be marked notified")
	}
	if rec := getRecord(t, st, "example.org"); rec.Available {
		t.Error("expected example.org to be recorded as registered")
	}
}
