package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/voicetel/suitecrm-notifier/internal/config"
	"github.com/voicetel/suitecrm-notifier/internal/models"
)

// Client pushes notification events to the host platform's webhook.
type Client struct {
	webhookURL    string
	httpClient    *http.Client
	retryAttempts int
}

func NewClient(cfg config.WebhookConfig) *Client {
	return &Client{
		webhookURL: cfg.URL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retryAttempts: cfg.RetryAttempts,
	}
}

// NewEvent builds a dispatchable event for a user.
func NewEvent(userID, subject string, params map[string]any) models.NotificationEvent {
	return models.NotificationEvent{
		ID:        uuid.NewString(),
		UserID:    userID,
		App:       models.AppID,
		Subject:   subject,
		Params:    params,
		Timestamp: time.Now(),
	}
}

func (c *Client) Notify(ev models.NotificationEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			time.Sleep(time.Duration(attempt*attempt) * time.Second)
		}

		req, err := http.NewRequest("POST", c.webhookURL, bytes.NewBuffer(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return fmt.Errorf("failed after %d attempts: %w", c.retryAttempts, lastErr)
}

// Test sends a probe event, used by -check-connections.
func Test(webhookURL string) error {
	client := NewClient(config.WebhookConfig{
		URL:           webhookURL,
		Timeout:       10 * time.Second,
		RetryAttempts: 1,
	})

	return client.Notify(NewEvent("", "connection_test", map[string]any{
		"message": "suitecrm-notifier test event",
	}))
}
