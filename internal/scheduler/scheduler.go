package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/elonfeng/domainhunter/internal/store"
	"github.com/elonfeng/domainhunter/pkg/alert"
	"github.com/elonfeng/domainhunter/pkg/source"
)

// Checker decides whether a domain is unregistered.
type Checker interface {
	Available(ctx context.Context, domain string) (bool, error)
}

// Stats counts what one discovery cycle did.
type Stats struct {
	Posts      int
	Candidates int
	Skipped    int
	Checked    int
	Available  int
	Notified   int
}

// LogValue renders the counters as one log group.
func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("posts", s.Posts),
		slog.Int("candidates", s.Candidates),
		slog.Int("skipped", s.Skipped),
		slog.Int("checked", s.Checked),
		slog.Int("available", s.Available),
		slog.Int("notified", s.Notified),
	)
}

// Scheduler runs discovery cycles: crawl, dedup, check, record, notify.
type Scheduler struct {
	source   source.Source
	checker  Checker
	store    store.Store
	alertMgr *alert.Manager
	interval time.Duration
	log      *slog.Logger
}

// New creates a new scheduler.
func New(
	src source.Source,
	checker Checker,
	s store.Store,
	alertMgr *alert.Manager,
	interval time.Duration,
	log *slog.Logger,
) *Scheduler {
	return &Scheduler{
		source:   src,
		checker:  checker,
		store:    s,
		alertMgr: alertMgr,
		interval: interval,
		log:      log,
	}
}

// Run executes cycles back to back with the poll interval between them.
// A failed cycle ends Run with its error. Cancelling ctx ends Run cleanly.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.alertMgr.HasNotifiers() {
		s.log.Warn("no notification channels configured, available domains will only be recorded")
	}
	s.log.Info("scheduler running", "interval", s.interval, "channels", s.alertMgr.Names())

	for {
		if _, err := s.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				s.log.Info("scheduler stopped")
				return nil
			}
			return err
		}

		s.log.Debug("sleeping", "interval", s.interval)
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-time.After(s.interval):
		}
	}
}

// RunOnce executes exactly one cycle.
func (s *Scheduler) RunOnce(ctx context.Context) (Stats, error) {
	return s.RunCycle(ctx)
}

// RunCycle crawls the source once and handles every candidate domain in
// discovery order. Crawl and store failures abort the cycle; lookup and
// notification failures are logged and the cycle continues.
func (s *Scheduler) RunCycle(ctx context.Context) (Stats, error) {
	var stats Stats
	start := time.Now()

	for post, err := range s.source.Crawl(ctx) {
		if err != nil {
			return stats, oops.With("context", "crawl").Wrap(err)
		}
		stats.Posts++

		for _, c := range post.Candidates() {
			stats.Candidates++
			if err := s.handle(ctx, c, &stats); err != nil {
				return stats, err
			}
		}
	}

	s.log.Info("cycle complete", "stats", stats, "elapsed", time.Since(start).Round(time.Millisecond))
	return stats, nil
}

func (s *Scheduler) handle(ctx context.Context, c source.Candidate, stats *Stats) error {
	errb := oops.With("domain", c.Domain, "url", c.SourceURL)

	seen, err := s.store.Seen(ctx, c.Domain)
	if err != nil {
		return errb.Wrapf(err, "dedup lookup")
	}
	if seen {
		stats.Skipped++
		return nil
	}

	available, err := s.checker.Available(ctx, c.Domain)
	if err != nil {
		s.log.Warn("availability check failed, treating as registered", "domain", c.Domain, "error", err)
	}
	stats.Checked++

	if err := s.store.Record(ctx, c.Domain, c.SourceURL, c.FoundAt, available); err != nil {
		return errb.Wrapf(err, "record")
	}
	if !available {
		s.log.Debug("domain registered", "domain", c.Domain)
		return nil
	}

	stats.Available++
	s.log.Info("available domain found", "domain", c.Domain, "url", c.SourceURL, "found_at", c.FoundAt)

	if !s.alertMgr.HasNotifiers() {
		return nil
	}
	delivered, err := s.alertMgr.Broadcast(ctx, alert.NewEvent(c))
	if err != nil {
		s.log.Warn("notification failed", "domain", c.Domain, "delivered", delivered, "error", err)
	}
	if delivered == 0 {
		return nil
	}

	if err := s.store.MarkNotified(ctx, c.Domain); err != nil {
		return errb.Wrapf(err, "mark notified")
	}
	stats.Notified++
	return nil
}
