package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"starbench/pkg/config"
	"starbench/pkg/logger"
)

// FeishuNotifier sends operator alerts to Feishu (Lark)
type FeishuNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewFeishuNotifier creates a new Feishu notifier
func NewFeishuNotifier() *FeishuNotifier {
	// Priority: config file > environment variable
	var webhookURL string
	if config.GlobalConfig != nil && config.GlobalConfig.Notification.FeishuWebhookURL != "" {
		webhookURL = config.GlobalConfig.Notification.FeishuWebhookURL
		logger.Info("Using Feishu webhook URL from config file")
	} else {
		webhookURL = os.Getenv("FEISHU_WEBHOOK_URL")
		if webhookURL != "" {
			logger.Info("Using Feishu webhook URL from environment variable")
		}
	}

	if webhookURL == "" {
		logger.Warn("Feishu webhook URL not configured (check config file or FEISHU_WEBHOOK_URL env), Feishu notifications will be disabled")
	}

	return &FeishuNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WorkerLostNotification represents a worker declared dead by the pool
type WorkerLostNotification struct {
	WorkerID         string
	Endpoint         string
	DetachedSessions int
	MissedProbes     int
	LostAt           time.Time
}

// SendWorkerLostNotification alerts operators that a worker was drained
func (f *FeishuNotifier) SendWorkerLostNotification(ctx context.Context, notification *WorkerLostNotification) error {
	if f.webhookURL == "" {
		logger.DebugCtx(ctx, "Feishu webhook URL not configured, skipping notification")
		return nil
	}

	message := f.buildWorkerLostMessage(notification)

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal Feishu message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", f.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Feishu notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Feishu API returned status code: %d", resp.StatusCode)
	}

	logger.InfoCtx(ctx, "Feishu notification sent for lost worker: %s", notification.WorkerID)
	return nil
}

// buildWorkerLostMessage builds a Feishu message card for a drained worker
func (f *FeishuNotifier) buildWorkerLostMessage(notification *WorkerLostNotification) map[string]interface{} {
	return map[string]interface{}{
		"msg_type": "interactive",
		"card": map[string]interface{}{
			"header": map[string]interface{}{
				"template": "red",
				"title": map[string]interface{}{
					"content": "Worker Lost",
					"tag":     "plain_text",
				},
			},
			"elements": []interface{}{
				map[string]interface{}{
					"tag": "div",
					"text": map[string]interface{}{
						"content": fmt.Sprintf("**Worker**: %s\nDeclared dead after missing %d probes", notification.WorkerID, notification.MissedProbes),
						"tag":     "lark_md",
					},
				},
				map[string]interface{}{
					"tag": "hr",
				},
				map[string]interface{}{
					"tag": "div",
					"fields": []interface{}{
						map[string]interface{}{
							"is_short": true,
							"text": map[string]interface{}{
								"content": fmt.Sprintf("**Endpoint**\n%s", notification.Endpoint),
								"tag":     "lark_md",
							},
						},
						map[string]interface{}{
							"is_short": true,
							"text": map[string]interface{}{
								"content": fmt.Sprintf("**Detached Sessions**\n%d", notification.DetachedSessions),
								"tag":     "lark_md",
							},
						},
					},
				},
				map[string]interface{}{
					"tag": "div",
					"text": map[string]interface{}{
						"content": fmt.Sprintf("**Lost At**: %s", notification.LostAt.Format("2006-01-02 15:04:05")),
						"tag":     "lark_md",
					},
				},
				map[string]interface{}{
					"tag": "note",
					"elements": []interface{}{
						map[string]interface{}{
							"content": "Detached sessions rebind on their next command; the worker-side model state is gone.",
							"tag":     "plain_text",
						},
					},
				},
			},
		},
	}
}
