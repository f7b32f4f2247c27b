package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calebmills/signalwatch/internal/model"
)

// Channel delivers an alert to one notification target.
type Channel interface {
	Name() string
	Send(ctx context.Context, ev model.AlertEvent) error
}

// detacher is implemented by channels whose sends must not block the
// caller (outbound network calls).
type detacher interface {
	Detached() bool
}

// Config holds dispatcher configuration.
type Config struct {
	// DedupWindow suppresses repeat (signal type, symbol) alerts. An entry
	// aged exactly the window is expired.
	DedupWindow time.Duration
	// HistorySize bounds the retained alert history.
	HistorySize int
	// SendTimeout bounds each detached channel send.
	SendTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DedupWindow: 5 * time.Minute,
		HistorySize: 100,
		SendTimeout: 10 * time.Second,
	}
}

type dedupKey struct {
	sigType model.SignalType
	symbol  string
}

type dedupEntry struct {
	key dedupKey
	at  time.Time
}

// Dispatcher deduplicates signals and fans them out to channels. The
// dedup list and history are mutated only under the dispatcher's own
// lock; callers interact purely through Dispatch and snapshots.
type Dispatcher struct {
	cfg      Config
	channels []Channel
	logger   *slog.Logger

	mu      sync.Mutex
	recent  []dedupEntry // time-ordered, lazily pruned
	history []model.AlertEvent

	suppressed int64
	dispatched int64

	wg  sync.WaitGroup
	now func() time.Time
}

// NewDispatcher creates a dispatcher over a fixed channel set resolved at
// configuration time.
func NewDispatcher(cfg Config, channels []Channel, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 100
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		cfg:      cfg,
		channels: channels,
		logger:   logger,
		now:      time.Now,
	}
}

// Dispatch routes one signal. Returns false when the signal was
// deduplicated; true once fan-out started, regardless of individual
// channel outcomes.
func (d *Dispatcher) Dispatch(ctx context.Context, sig model.SignalEvent) bool {
	now := d.now()
	key := dedupKey{sigType: sig.Type, symbol: sig.Symbol}

	d.mu.Lock()
	d.prune(now)
	for _, e := range d.recent {
		if e.key == key {
			d.suppressed++
			d.mu.Unlock()
			d.logger.Debug("alert suppressed by dedup window",
				"signal", sig.Type.String(),
				"symbol", sig.Symbol,
			)
			return false
		}
	}
	d.recent = append(d.recent, dedupEntry{key: key, at: now})

	ev := model.AlertEvent{
		ID:           uuid.New(),
		Signal:       sig,
		DispatchedAt: now,
		Channels:     d.channelNames(),
	}
	d.history = append(d.history, ev)
	if len(d.history) > d.cfg.HistorySize {
		d.history = d.history[len(d.history)-d.cfg.HistorySize:]
	}
	d.dispatched++
	d.mu.Unlock()

	d.fanOut(ctx, ev)
	return true
}

// fanOut invokes every channel, isolating failures per channel. Detached
// channels run on their own goroutine with a bounded context.
func (d *Dispatcher) fanOut(ctx context.Context, ev model.AlertEvent) {
	for _, ch := range d.channels {
		if det, ok := ch.(detacher); ok && det.Detached() {
			d.wg.Add(1)
			go func(ch Channel) {
				defer d.wg.Done()
				sendCtx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
				defer cancel()
				d.send(sendCtx, ch, ev)
			}(ch)
			continue
		}
		d.send(ctx, ch, ev)
	}
}

// send runs one channel delivery, absorbing errors and panics so a broken
// channel cannot take the dispatcher down.
func (d *Dispatcher) send(ctx context.Context, ch Channel, ev model.AlertEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("alert channel panicked",
				"channel", ch.Name(),
				"panic", r,
			)
		}
	}()

	if err := ch.Send(ctx, ev); err != nil {
		d.logger.Warn("alert channel failed",
			"channel", ch.Name(),
			"alert_id", ev.ID,
			"error", err,
		)
	}
}

// Drain waits for in-flight detached sends, bounded by ctx. Called at
// shutdown.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// History returns a copy of the bounded alert history, oldest first.
func (d *Dispatcher) History() []model.AlertEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]model.AlertEvent, len(d.history))
	copy(out, d.history)
	return out
}

// Counts returns cumulative dispatched/suppressed counters.
func (d *Dispatcher) Counts() (dispatched, suppressed int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dispatched, d.suppressed
}

// prune drops dedup entries at or past the window age. Pruning is lazy:
// it only runs inside Dispatch, so state size tracks call frequency.
func (d *Dispatcher) prune(now time.Time) {
	cutoff := now.Add(-d.cfg.DedupWindow)
	idx := 0
	for idx < len(d.recent) && !d.recent[idx].at.After(cutoff) {
		idx++
	}
	if idx > 0 {
		d.recent = append(d.recent[:0], d.recent[idx:]...)
	}
}

func (d *Dispatcher) channelNames() []string {
	names := make([]string, len(d.channels))
	for i, ch := range d.channels {
		names[i] = ch.Name()
	}
	return names
}
