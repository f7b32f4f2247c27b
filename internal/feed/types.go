package feed

import (
	"errors"
	"time"

	"github.com/calebmills/signalwatch/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrStreamClosed    = errors.New("stream closed")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrMaxReconnects   = errors.New("max reconnect attempts exhausted")
)

// ConnState is the adapter's connection state machine position.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateStreaming
	StateDisconnected
	StateBackoff
)

// String returns the state name for logging.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDisconnected:
		return "disconnected"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// TimestampedMessage wraps raw message data with a receive timestamp.
type TimestampedMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// FrameKind identifies what a decoded frame carries.
type FrameKind int

const (
	FrameTick FrameKind = iota
	FrameBar
	FrameStatus
)

// Frame is a decoded upstream message. Exactly one of the payload fields is
// meaningful, selected by Kind.
type Frame struct {
	Kind   FrameKind
	Tick   model.Tick
	Bar    model.Bar
	Status model.FeedStatus
}

// EventKind identifies what an adapter event carries.
type EventKind int

const (
	EventBar EventKind = iota
	EventStatus
)

// Event is what the adapter publishes to the orchestrator: either a
// completed bar or a connectivity status change.
type Event struct {
	Kind   EventKind
	Bar    model.Bar
	Status model.FeedStatus
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string
	PingInterval time.Duration // Keepalive ping cadence
	PingTimeout  time.Duration // Max time without ping/pong before the connection is stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 15 * time.Second,
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   4096,
	}
}

// Config configures the streaming feed adapter.
type Config struct {
	WSURL                string
	HistoryURL           string
	Symbols              []string
	BarInterval          time.Duration
	PingInterval         time.Duration
	ReadTimeout          time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int // 0 = retry forever
	EventBufferSize      int
	SendTimeout          time.Duration // How long a publish may block on a full channel
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BarInterval:          time.Minute,
		PingInterval:         15 * time.Second,
		ReadTimeout:          30 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    60 * time.Second,
		MaxReconnectAttempts: 10,
		EventBufferSize:      1024,
		SendTimeout:          5 * time.Second,
	}
}

// Stats is a snapshot of adapter counters.
type Stats struct {
	State             ConnState
	Connected         bool
	FramesDecoded     int64
	DecodeErrors      int64
	BarsPublished     int64
	DuplicatesDropped int64
	SendTimeouts      int64
	Reconnects        int64
	StaleTicks        int64
}
