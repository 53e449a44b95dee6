package control

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kilupskalvis/offlog/internal/replay"
)

const webhookAttempts = 3

// WebhookEvent is the JSON body posted to each webhook URL after a drain.
type WebhookEvent struct {
	Event     string `json:"event"`
	Removed   int    `json:"removed"`
	Failed    int    `json:"failed"`
	Timestamp string `json:"timestamp"`
}

// WebhookNotifier tells external listeners about drain outcomes. A nil
// notifier is valid and does nothing.
type WebhookNotifier struct {
	urls       []string
	client     *http.Client
	logger     *slog.Logger
	retryDelay time.Duration
}

// NewWebhookNotifier returns nil when urls is empty.
func NewWebhookNotifier(urls []string, logger *slog.Logger) *WebhookNotifier {
	if len(urls) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		urls:       urls,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "webhook"),
		retryDelay: time.Second,
	}
}

// NotifyDrain posts res to every URL in the background.
func (wn *WebhookNotifier) NotifyDrain(res replay.DrainResult) {
	if wn == nil {
		return
	}
	data, err := json.Marshal(&WebhookEvent{
		Event:     "drain",
		Removed:   len(res.Removed),
		Failed:    len(res.Failed),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		wn.logger.Error("marshal webhook event", "error", err)
		return
	}

	go func() {
		for _, url := range wn.urls {
			if err := wn.post(url, data); err != nil {
				wn.logger.Warn("webhook delivery failed", "url", url, "error", err)
				continue
			}
			wn.logger.Debug("webhook delivered", "url", url)
		}
	}()
}

// post delivers data to url. Transport errors and 5xx answers are retried
// with a linearly growing delay; any other non-2xx answer is final.
func (wn *WebhookNotifier) post(url string, data []byte) error {
	var err error
	for attempt := 1; attempt <= webhookAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(time.Duration(attempt-1) * wn.retryDelay)
		}

		var status int
		status, err = wn.deliver(url, data)
		switch {
		case err == nil && status/100 == 2:
			return nil
		case err == nil:
			err = fmt.Errorf("HTTP %d", status)
			if status < 500 {
				return err
			}
		}
	}
	return err
}

func (wn *WebhookNotifier) deliver(url string, data []byte) (int, error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "offlog-webhook")

	resp, err := wn.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
