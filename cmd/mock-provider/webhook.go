package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	webhookMaxRetries = 5
	webhookRetryBase  = 250 * time.Millisecond
	webhookRetryMax   = 5 * time.Second
)

// emitMessageCreated posts to the inbox's own webhook when it was provisioned with
// one, else to MOCK_WEBHOOK_URL.
func (s *server) emitMessageCreated(c conversation, m message) {
	target := s.cfg.MockWebhookURL
	s.helpdesk.mu.Lock()
	if ib, ok := s.helpdesk.inboxes[c.InboxID]; ok && ib.WebhookURL != "" {
		target = ib.WebhookURL
	}
	s.helpdesk.mu.Unlock()
	if target == "" {
		return
	}
	body, err := json.Marshal(map[string]any{
		"event":        "message_created",
		"id":           m.ID,
		"content":      m.Content,
		"message_type": m.MessageType,
		"private":      m.Private,
		"attachments":  m.Attachments,
		"account":      map[string]any{"id": c.AccountID},
		"conversation": map[string]any{"id": c.ID, "account_id": c.AccountID, "inbox_id": c.InboxID, "status": c.Status},
		"sender":       map[string]any{"type": "user", "name": "Mock Agent"},
	})
	if err != nil {
		slog.Error("mock webhook encode failed", "err", err)
		return
	}
	go func() {
		_ = s.postWebhookWithRetry(context.Background(), target, body)
	}()
}

func (s *server) postWebhookWithRetry(ctx context.Context, target string, body []byte) error {
	for attempt := 0; attempt <= webhookMaxRetries; attempt++ {
		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		status := 0
		retryAfter := time.Duration(0)
		if resp != nil {
			status = resp.StatusCode
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			_ = resp.Body.Close()
		}
		if err == nil && status >= 200 && status < 300 {
			return nil
		}

		if attempt == webhookMaxRetries {
			slog.Error("mock webhook post failed", "url", target, "attempt", attempt+1, "status", status, "err", err)
			return fmt.Errorf("webhook post failed: status=%d", status)
		}
		if err == nil && !isRetryableStatus(status) {
			slog.Error("mock webhook post non-retryable", "url", target, "attempt", attempt+1, "status", status)
			return fmt.Errorf("webhook post non-retryable: status=%d", status)
		}

		wait := retryAfter
		if wait <= 0 {
			wait = retryBackoff(attempt)
		}
		slog.Warn("mock webhook post retrying", "url", target, "attempt", attempt+1, "status", status, "wait_ms", wait.Milliseconds())
		time.Sleep(wait)
	}
	return nil
}

func retryBackoff(attempt int) time.Duration {
	wait := webhookRetryBase * time.Duration(1<<attempt)
	if wait > webhookRetryMax {
		wait = webhookRetryMax
	}
	return wait
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
