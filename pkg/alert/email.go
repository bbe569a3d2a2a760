package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

// mailSender is the part of *mail.Client used to deliver messages.
type mailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// EmailOptions configures the SMTP notifier.
type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// Email sends one plain text message per event to all recipients over
// SMTP with mandatory STARTTLS.
type Email struct {
	opts      EmailOptions
	newSender func() (mailSender, error)
}

// NewEmail creates a new SMTP notifier. Authentication is used only when
// a username is set.
func NewEmail(opts EmailOptions) *Email {
	e := &Email{opts: opts}
	e.newSender = e.dial
	return e
}

func (e *Email) dial() (mailSender, error) {
	options := []mail.Option{
		mail.WithPort(e.opts.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(30 * time.Second),
	}
	if e.opts.Username != "" {
		options = append(options,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(e.opts.Username),
			mail.WithPassword(e.opts.Password),
		)
	}
	client, err := mail.NewClient(e.opts.Host, options...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return client, nil
}

func (e *Email) Name() string { return "email" }

func (e *Email) Send(ctx context.Context, ev *Event) error {
	msg, err := e.message(ev)
	if err != nil {
		return err
	}

	sender, err := e.newSender()
	if err != nil {
		return err
	}
	if err := sender.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail via %s:%d: %w", e.opts.Host, e.opts.Port, err)
	}
	return nil
}

func (e *Email) message(ev *Event) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(e.opts.From); err != nil {
		return nil, fmt.Errorf("set from %q: %w", e.opts.From, err)
	}
	if err := m.To(e.opts.To...); err != nil {
		return nil, fmt.Errorf("set recipients: %w", err)
	}
	m.Subject(Subject(ev))
	m.SetBodyString(mail.TypeTextPlain, Body(ev))
	return m, nil
}

// Subject is the one line summary of an event.
func Subject(e *Event) string {
	return "Available domain found: " + e.Domain
}

// Body renders an event as plain text lines.
func Body(e *Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Domain: %s\n", e.Domain)
	fmt.Fprintf(&b, "Found at: %s\n", e.FoundAt)
	fmt.Fprintf(&b, "Source: %s\n", e.SourceURL)
	return b.String()
}
