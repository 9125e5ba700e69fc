// transport/webhook.go
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
)

// 任务到达终态后回调任务上配置的 webhook_url
type WebhookNotifier struct {
	client      *http.Client
	log         *logrus.Entry
	maxAttempts int
}

func NewWebhookNotifier(timeout time.Duration, log *logrus.Entry) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		client:      &http.Client{Timeout: timeout},
		log:         log,
		maxAttempts: 3,
	}
}

// 没配 webhook 的任务直接跳过；投递失败指数退避再试两次，
// 仍失败只记日志不影响任务状态。
func (n *WebhookNotifier) Notify(ctx context.Context, event *Event) error {
	if event.Task == nil || event.Task.WebhookURL == "" {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	b := &backoff.Backoff{
		Min:    time.Second,
		Max:    10 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 0; attempt < n.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(b.ForAttempt(float64(attempt - 1))):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = n.post(ctx, event.Task.WebhookURL, body)
		if lastErr == nil {
			n.log.WithFields(logrus.Fields{
				"task":  event.Task.ID,
				"event": event.Kind,
				"url":   event.Task.WebhookURL,
			}).Debug("webhook delivered")
			return nil
		}
	}

	n.log.WithFields(logrus.Fields{
		"task": event.Task.ID,
		"url":  event.Task.WebhookURL,
	}).WithError(lastErr).Warn("webhook delivery gave up")
	return lastErr
}

func (n *WebhookNotifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
