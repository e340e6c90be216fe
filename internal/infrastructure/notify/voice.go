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

// ErrBelowCallUrgency is returned when a voice call is requested for a
// non-critical message. Waking someone by phone is reserved for critical
// urgency; callers must not rely on this and should simply check the error.
var ErrBelowCallUrgency = fmt.Errorf("voice channel only accepts critical urgency")

// VoiceChannel places calls through an external text-to-speech call gateway.
// The recipient string is a phone number.
type VoiceChannel struct {
	gatewayURL string
	client     *http.Client
	logger     *zap.Logger
}

func NewVoiceChannel(gatewayURL string, timeout time.Duration, logger *zap.Logger) *VoiceChannel {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &VoiceChannel{
		gatewayURL: gatewayURL,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *VoiceChannel) Type() domain.ChannelType { return domain.ChannelVoice }

func (c *VoiceChannel) Send(ctx context.Context, message, recipient string, urgency domain.Urgency) error {
	if urgency != domain.UrgencyCritical {
		return ErrBelowCallUrgency
	}

	payload, err := json.Marshal(map[string]string{
		"to":     recipient,
		"speech": message,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL+"/calls", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("voice call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("voice call: unexpected status %d", resp.StatusCode)
	}
	c.logger.Info("voice call placed", zap.String("to", recipient))
	return nil
}

func (c *VoiceChannel) IsAvailable() bool {
	return c.gatewayURL != ""
}
