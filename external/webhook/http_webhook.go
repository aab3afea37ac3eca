package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/foxseedlab/livescribe/internal/webhook"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxAttempts = 3
	defaultRetryDelay  = 500 * time.Millisecond

	eventHeader       = "X-Livescribe-Event"
	eventSessionEnded = "session.ended"
)

// HTTPSender posts session summaries as JSON. Server errors and transport
// failures are retried; 4xx responses are not.
type HTTPSender struct {
	webhookURL  string
	client      *http.Client
	maxAttempts int
	retryDelay  time.Duration
}

func NewHTTPSender(webhookURL string) *HTTPSender {
	return &HTTPSender{
		webhookURL:  webhookURL,
		client:      &http.Client{Timeout: defaultTimeout},
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}
}

func (s *HTTPSender) SendSessionSummary(ctx context.Context, summary webhook.SessionSummary) error {
	if s.webhookURL == "" {
		return nil
	}
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal session summary: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		retry, err := s.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == s.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("send session summary %s: %w", summary.SessionID, ctx.Err())
		case <-time.After(time.Duration(attempt) * s.retryDelay):
		}
	}
	return fmt.Errorf("send session summary %s: %w", summary.SessionID, lastErr)
}

func (s *HTTPSender) post(ctx context.Context, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventHeader, eventSessionEnded)
	resp, err := s.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests, fmt.Errorf("webhook returned status %d", resp.StatusCode)
}
