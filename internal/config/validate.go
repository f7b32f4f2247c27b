package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *WatcherConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if len(c.Feed.Symbols) == 0 {
		return errors.New("feed.symbols must list at least one symbol")
	}
	if c.Feed.BarInterval <= 0 {
		return errors.New("feed.bar_interval must be positive")
	}
	if c.Feed.ReconnectBaseDelay > c.Feed.ReconnectMaxDelay {
		return fmt.Errorf("feed.reconnect_base_delay (%v) cannot exceed reconnect_max_delay (%v)",
			c.Feed.ReconnectBaseDelay, c.Feed.ReconnectMaxDelay)
	}
	if c.Feed.EventBufferSize < 1 {
		return errors.New("feed.event_buffer_size must be >= 1")
	}

	if c.Scan.Interval <= 0 {
		return errors.New("scan.interval must be positive")
	}
	if c.Scan.LookbackBars < 2 {
		return errors.New("scan.lookback_bars must be >= 2")
	}

	for _, ch := range c.Alerts.Channels {
		switch ch {
		case "log", "webhook":
		default:
			return fmt.Errorf("alerts.channels: unknown channel %q", ch)
		}
	}
	if containsChannel(c.Alerts.Channels, "webhook") && c.Alerts.WebhookURL == "" {
		return errors.New("alerts.webhook_url is required when the webhook channel is enabled")
	}

	switch c.Sink.Driver {
	case "memory":
	case "postgres":
		if err := c.Sink.Postgres.validate("sink.postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("sink.driver: unknown driver %q", c.Sink.Driver)
	}
	if c.Sink.RetryAttempts < 1 {
		return errors.New("sink.retry_attempts must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func containsChannel(channels []string, name string) bool {
	for _, ch := range channels {
		if ch == name {
			return true
		}
	}
	return false
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
