// Package notify 提供预算告警通知实现
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"z-pixel-ai-api/internal/domain/service"
)

// WebhookNotifier 把预算告警投递到通用 HTTP webhook
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier 创建 webhook 通知器
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type webhookPayload struct {
	Event     string              `json:"event"`
	Timestamp string              `json:"timestamp"`
	Alert     service.BudgetAlert `json:"alert"`
}

// Notify 投递一条告警
func (w *WebhookNotifier) Notify(ctx context.Context, alert service.BudgetAlert) error {
	body, err := json.Marshal(webhookPayload{
		Event:     "budget_alert",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Alert:     alert,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
