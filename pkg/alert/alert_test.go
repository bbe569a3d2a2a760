package alert

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/elonfeng/domainhunter/pkg/source"
)

type fakeNotifier struct {
	name   string
	err    error
	events []*Event
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Send(_ context.Context, e *Event) error {
	f.events = append(f.events, e)
	return f.err
}

func testEvent() *Event {
	return &Event{
		Domain:    "free.com",
		SourceURL: "https://f.org/index.php?topic=1.0",
		FoundAt:   "2024-01-05T00:00:00Z",
	}
}

func TestBroadcast(t *testing.T) {
	tests := []struct {
		name          string
		notifiers     []*fakeNotifier
		wantDelivered int
		wantErrNames  []string
	}{
		{
			name: "all succeed",
			notifiers: []*fakeNotifier{
				{name: "email"},
				{name: "webhook"},
			},
			wantDelivered: 2,
		},
		{
			name: "first fails, second still attempted",
			notifiers: []*fakeNotifier{
				{name: "email", err: errors.New("smtp down")},
				{name: "webhook"},
			},
			wantDelivered: 1,
			wantErrNames:  []string{"email"},
		},
		{
			name: "all fail",
			notifiers: []*fakeNotifier{
				{name: "email", err: errors.New("smtp down")},
				{name: "webhook", err: errors.New("refused")},
			},
			wantDelivered: 0,
			wantErrNames:  []string{"email", "webhook"},
		},
		{
			name:          "no notifiers",
			wantDelivered: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var notifiers []Notifier
			for _, n := range tt.notifiers {
				notifiers = append(notifiers, n)
			}
			m := NewManager(notifiers)

			delivered, err := m.Broadcast(context.Background(), testEvent())
			if diff := cmp.Diff(tt.wantDelivered, delivered); diff != "" {
				t.Errorf("delivered mismatch (-want +got):\n%s", diff)
			}

			for _, n := range tt.notifiers {
				if len(n.events) != 1 {
					t.Errorf("notifier %s called %d times, want 1", n.name, len(n.events))
				}
			}

			if len(tt.wantErrNames) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			for _, name := range tt.wantErrNames {
				if !strings.Contains(err.Error(), name+":") {
					t.Errorf("error %q does not mention %s", err, name)
				}
			}
		})
	}
}

func TestManagerNames(t *testing.T) {
	m := NewManager([]Notifier{&fakeNotifier{name: "email"}, &fakeNotifier{name: "slack"}})
	if diff := cmp.Diff([]string{"email", "slack"}, m.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
	if !m.HasNotifiers() {
		t.Error("expected HasNotifiers")
	}
	if NewManager(nil).HasNotifiers() {
		t.Error("expected empty manager to report no notifiers")
	}
}

func TestNewEvent(t *testing.T) {
	got := NewEvent(source.Candidate{
		Domain:    "free.com",
		SourceURL: "https://f.org/index.php?topic=1.0",
		FoundAt:   "2024-01-05T00:00:00Z",
	})
	if diff := cmp.Diff(testEvent(), got); diff != "" {
		t.Errorf("NewEvent() mismatch (-want +got):\n%s", diff)
	}
}

func TestBody(t *testing.T) {
	want := "Domain: free.com\n" +
		"Found at: 2024-01-05T00:00:00Z\n" +
		"Source: https://f.org/index.php?topic=1.0\n"
	if diff := cmp.Diff(want, Body(testEvent())); diff != "" {
		t.Errorf("Body() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("Available domain found: free.com", Subject(testEvent())); diff != "" {
		t.Errorf("Subject() mismatch (-want +got):\n%s", diff)
	}
}
