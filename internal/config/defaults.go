package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBarInterval          = time.Minute
	DefaultPingInterval         = 15 * time.Second
	DefaultReadTimeout          = 30 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultEventBufferSize      = 1024
	DefaultSendTimeout          = 5 * time.Second
	DefaultScanInterval         = 30 * time.Second
	DefaultLookbackBars         = 50
	DefaultStrategy             = "momentum"
	DefaultThreshold            = 0.02
	DefaultDedupWindow          = 5 * time.Minute
	DefaultAlertHistorySize     = 100
	DefaultWebhookTimeout       = 10 * time.Second
	DefaultSinkDriver           = "memory"
	DefaultRetryAttempts        = 3
	DefaultRetryDelay           = 500 * time.Millisecond
	DefaultInjectTimeout        = 5 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
	DefaultLogLevel             = "info"
)

func (c *WatcherConfig) applyDefaults() {
	// Feed defaults
	if c.Feed.BarInterval == 0 {
		c.Feed.BarInterval = DefaultBarInterval
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultPingInterval
	}
	if c.Feed.ReadTimeout == 0 {
		c.Feed.ReadTimeout = DefaultReadTimeout
	}
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.ReconnectMaxDelay == 0 {
		c.Feed.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	// 0 (unset) takes the default; -1 is the explicit retry-forever choice.
	if c.Feed.MaxReconnectAttempts == 0 {
		c.Feed.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Feed.EventBufferSize == 0 {
		c.Feed.EventBufferSize = DefaultEventBufferSize
	}
	if c.Feed.SendTimeout == 0 {
		c.Feed.SendTimeout = DefaultSendTimeout
	}

	// Scan defaults
	if c.Scan.Interval == 0 {
		c.Scan.Interval = DefaultScanInterval
	}
	if c.Scan.LookbackBars == 0 {
		c.Scan.LookbackBars = DefaultLookbackBars
	}
	if c.Scan.Strategy == "" {
		c.Scan.Strategy = DefaultStrategy
	}
	if c.Scan.Threshold == 0 {
		c.Scan.Threshold = DefaultThreshold
	}

	// Alerts defaults
	if c.Alerts.DedupWindow == 0 {
		c.Alerts.DedupWindow = DefaultDedupWindow
	}
	if c.Alerts.HistorySize == 0 {
		c.Alerts.HistorySize = DefaultAlertHistorySize
	}
	if len(c.Alerts.Channels) == 0 {
		c.Alerts.Channels = []string{"log"}
	}
	if c.Alerts.WebhookTimeout == 0 {
		c.Alerts.WebhookTimeout = DefaultWebhookTimeout
	}

	// Sink defaults
	if c.Sink.Driver == "" {
		c.Sink.Driver = DefaultSinkDriver
	}
	if c.Sink.RetryAttempts == 0 {
		c.Sink.RetryAttempts = DefaultRetryAttempts
	}
	if c.Sink.RetryDelay == 0 {
		c.Sink.RetryDelay = DefaultRetryDelay
	}
	if c.Sink.InjectTimeout == 0 {
		c.Sink.InjectTimeout = DefaultInjectTimeout
	}
	applyDBDefaults(&c.Sink.Postgres)

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
