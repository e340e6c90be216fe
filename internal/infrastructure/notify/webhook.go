package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/listing-sniper/internal/domain"
)

// WebhookChannel POSTs JSON payloads to a paging/incident endpoint. The
// recipient string is appended as the routing key.
type WebhookChannel struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

func NewWebhookChannel(endpoint string, timeout time.Duration, logger *zap.Logger) *WebhookChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookChannel{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (c *WebhookChannel) Type() domain.ChannelType { return domain.ChannelWebhook }

func (c *WebhookChannel) Send(ctx context.Context, message, recipient string, urgency domain.Urgency) error {
	payload, err := json.Marshal(map[string]string{
		"routing_key": recipient,
		"message":     message,
		"urgency":     string(urgency),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook send: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *WebhookChannel) IsAvailable() bool {
	return c.endpoint != ""
}
