package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

const (
	requestTimeout = 5 * time.Second
	maxRetries     = 3
)

var (
	httpClient = &http.Client{Timeout: requestTimeout}
	// retryBackoff is the delay unit between attempts; tests shorten it.
	retryBackoff = time.Second
)

// Send posts an alert event to a webhook endpoint. 5xx responses and
// transport errors are retried; 4xx responses are not.
func Send(ctx context.Context, cfg AlertConfig, event AlertEvent) error {
	body, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return fmt.Errorf("alert: format payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * retryBackoff):
			case <-ctx.Done():
				return fmt.Errorf("alert: %w (last error: %v)", ctx.Err(), lastErr)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("alert: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "carewatch-alert")
		for k, v := range cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return fmt.Errorf("alert: webhook rejected: HTTP %d", resp.StatusCode)
		}
		lastErr = fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("alert: webhook failed after %d attempts: %w", maxRetries, lastErr)
}
