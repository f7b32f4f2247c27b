package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/calebmills/signalwatch/internal/model"
)

// Channel names as they appear in configuration.
const (
	ChannelLog     = "log"
	ChannelWebhook = "webhook"
)

// LogChannel writes alerts to the structured log. It never fails.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel creates a log-backed channel.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string { return ChannelLog }

func (c *LogChannel) Send(ctx context.Context, ev model.AlertEvent) error {
	c.logger.Info("ALERT",
		"alert_id", ev.ID,
		"signal", ev.Signal.Type.String(),
		"symbol", ev.Signal.Symbol,
		"price", ev.Signal.Price,
		"strategy", ev.Signal.Strategy,
		"signal_time", ev.Signal.Time,
	)
	return nil
}

// webhookPayload is the wire form of an alert notification.
type webhookPayload struct {
	SignalType string             `json:"signal_type"`
	Symbol     string             `json:"symbol"`
	Price      float64            `json:"price"`
	Timestamp  time.Time          `json:"timestamp"`
	Strategy   string             `json:"strategy"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// WebhookChannel POSTs alerts as JSON to a configured URL. Sends are
// detached so a slow endpoint cannot stall the scan loop.
type WebhookChannel struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookChannel creates a webhook channel. timeout bounds each POST.
func NewWebhookChannel(url string, timeout time.Duration, logger *slog.Logger) *WebhookChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (c *WebhookChannel) Name() string { return ChannelWebhook }

// Detached marks webhook sends as non-blocking for the dispatcher.
func (c *WebhookChannel) Detached() bool { return true }

func (c *WebhookChannel) Send(ctx context.Context, ev model.AlertEvent) error {
	payload := webhookPayload{
		SignalType: ev.Signal.Type.String(),
		Symbol:     ev.Signal.Symbol,
		Price:      ev.Signal.Price,
		Timestamp:  ev.Signal.Time,
		Strategy:   ev.Signal.Strategy,
		Indicators: ev.Signal.Indicators,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode alert payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
