package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/elonfeng/domainhunter/pkg/source"
)

// Event is the data sent to alert destinations when an available domain
// is found.
type Event struct {
	Domain    string `json:"domain"`
	SourceURL string `json:"source_url"`
	FoundAt   string `json:"found_at"`
}

// NewEvent builds an Event from a crawled candidate.
func NewEvent(c source.Candidate) *Event {
	return &Event{Domain: c.Domain, SourceURL: c.SourceURL, FoundAt: c.FoundAt}
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, e *Event) error
}

// Manager broadcasts events to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Names lists the registered notifiers in send order.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.notifiers))
	for _, n := range m.notifiers {
		names = append(names, n.Name())
	}
	return names
}

// Broadcast sends an event to every registered notifier. A failing
// notifier does not stop the others. It returns how many notifiers
// accepted the event and the joined errors of those that did not.
func (m *Manager) Broadcast(ctx context.Context, e *Event) (int, error) {
	var (
		delivered int
		errs      []error
	)
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
			continue
		}
		delivered++
	}
	return delivered, errors.Join(errs...)
}
