package config

import "time"

// WatcherConfig is the root configuration for a watcher instance.
type WatcherConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Feed     FeedConfig     `yaml:"feed"`
	Scan     ScanConfig     `yaml:"scan"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Sink     SinkConfig     `yaml:"sink"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this watcher.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// FeedConfig holds streaming feed adapter settings.
type FeedConfig struct {
	WSURL                string        `yaml:"ws_url"`
	HistoryURL           string        `yaml:"history_url"`
	Symbols              []string      `yaml:"symbols"`
	BarInterval          time.Duration `yaml:"bar_interval"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // -1 = retry forever
	EventBufferSize      int           `yaml:"event_buffer_size"`
	SendTimeout          time.Duration `yaml:"send_timeout"`
}

// ScanConfig holds signal scanner settings.
type ScanConfig struct {
	Interval     time.Duration `yaml:"interval"`
	LookbackBars int           `yaml:"lookback_bars"`
	Strategy     string        `yaml:"strategy"`
	Threshold    float64       `yaml:"threshold"`
	BackfillOnly bool          `yaml:"backfill_only"`
}

// AlertsConfig holds alert dispatcher settings.
type AlertsConfig struct {
	DedupWindow    time.Duration `yaml:"dedup_window"`
	HistorySize    int           `yaml:"history_size"`
	Channels       []string      `yaml:"channels"`
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
}

// SinkConfig holds injection sink settings.
type SinkConfig struct {
	Driver        string        `yaml:"driver"` // "memory" or "postgres"
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	InjectTimeout time.Duration `yaml:"inject_timeout"`
	Postgres      DBConfig      `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}
