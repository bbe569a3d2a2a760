package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Webhook posts the event as JSON to a generic HTTP endpoint. The
// receiver's answer is not inspected: a completed request counts as
// delivered.
type Webhook struct {
	client    *http.Client
	url       string
	secret    string
	userAgent string
}

// NewWebhook creates a new generic webhook notifier. When secret is set,
// each request carries an X-Signature-256 HMAC of the body.
func NewWebhook(url, secret, userAgent string) *Webhook {
	return &Webhook{
		client:    &http.Client{Timeout: 10 * time.Second},
		url:       url,
		secret:    secret,
		userAgent: userAgent,
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, e *Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.userAgent != "" {
		req.Header.Set("User-Agent", w.userAgent)
	}

	if w.secret != "" {
		req.Header.Set("X-Signature-256", "sha256="+Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

// Sign returns the hex HMAC-SHA256 of body keyed with secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
