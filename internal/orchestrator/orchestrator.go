package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calebmills/signalwatch/internal/alert"
	"github.com/calebmills/signalwatch/internal/feed"
	"github.com/calebmills/signalwatch/internal/metrics"
	"github.com/calebmills/signalwatch/internal/model"
	"github.com/calebmills/signalwatch/internal/scan"
	"github.com/calebmills/signalwatch/internal/sink"
)

// Phase is the orchestrator lifecycle state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseRunning
	PhaseStopping
	PhaseStopped
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseStopping:
		return "stopping"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// EventType labels a status callback emission.
type EventType string

const (
	EventBarInjected  EventType = "bar_injected"
	EventScanComplete EventType = "scan_complete"
	EventAlert        EventType = "alert"
	EventFeedStatus   EventType = "feed_status"
	EventError        EventType = "error"
	EventStopped      EventType = "stopped"
)

// Feed is the upstream event source the orchestrator consumes. Satisfied
// by *feed.Adapter.
type Feed interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Events() <-chan feed.Event
	Done() <-chan struct{}
	Err() error
	Flush() []model.Bar
	Stats() feed.Stats
}

// Dispatcher routes signals to alert channels. Satisfied by
// *alert.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, sig model.SignalEvent) bool
	Drain(ctx context.Context) error
}

// BarObserver is fed every injected bar so strategy state stays current.
type BarObserver interface {
	Observe(b model.Bar)
}

// Config holds orchestrator settings.
type Config struct {
	// TickInterval is the loop cadence.
	TickInterval time.Duration
	// ScanInterval is how often the scanner runs. Zero disables scanning.
	ScanInterval time.Duration
	// BackfillOnly stops the loop once the first non-empty drain cycle has
	// injected bars, instead of continuing into live scanning.
	BackfillOnly bool
	// RestartFeed, when set, builds a replacement feed if the current one
	// dies without a terminal error while the pipeline is still running.
	RestartFeed func() Feed
	// ScanTimeout bounds a single scanner pass.
	ScanTimeout time.Duration
	// StopTimeout bounds each shutdown step.
	StopTimeout time.Duration
	// OnEvent, when set, receives status callbacks. Invoked from the
	// orchestrator goroutine; must not block.
	OnEvent func(EventType, map[string]any)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval: 500 * time.Millisecond,
		ScanInterval: 30 * time.Second,
		ScanTimeout:  30 * time.Second,
		StopTimeout:  10 * time.Second,
	}
}

// State is a point-in-time snapshot of pipeline progress.
type State struct {
	Phase            Phase
	StartedAt        time.Time
	BarsInjected     int64
	BarsDropped      int64
	ScansRun         int64
	ScanFailures     int64
	FeedRestarts     int64
	AlertsDispatched int64
	AlertsSuppressed int64
	LastScanTime     time.Time
	Err              error
}

// Orchestrator wires the feed, sink, scanner and dispatcher together.
type Orchestrator struct {
	cfg        Config
	feed       Feed
	sink       sink.Sink
	scanner    scan.Scanner
	dispatcher Dispatcher
	observer   BarObserver
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	mu    sync.RWMutex
	state State

	lastScan time.Time
}

// New creates an orchestrator. observer may be nil when the strategy
// needs no bar stream.
func New(cfg Config, f Feed, s sink.Sink, sc scan.Scanner, d Dispatcher, obs BarObserver, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 500 * time.Millisecond
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 30 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	return &Orchestrator{
		cfg:        cfg,
		feed:       f,
		sink:       s,
		scanner:    sc,
		dispatcher: d,
		observer:   obs,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Start brings the pipeline up and launches the loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.setPhase(PhaseStarting)
	o.ctx, o.cancel = context.WithCancel(ctx)

	if err := o.feed.Start(o.ctx); err != nil {
		o.setPhase(PhaseStopped)
		return fmt.Errorf("failed to start feed: %w", err)
	}

	o.mu.Lock()
	o.state.StartedAt = time.Now().UTC()
	o.state.Phase = PhaseRunning
	o.mu.Unlock()

	o.wg.Add(1)
	go o.run()

	o.logger.Info("orchestrator started",
		"scan_interval", o.cfg.ScanInterval,
		"backfill_only", o.cfg.BackfillOnly,
	)
	return nil
}

// Stop cancels the loop and waits for shutdown, bounded by ctx.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.cancel != nil {
		o.cancel()
	}

	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		o.logger.Warn("orchestrator stop timed out")
		return ctx.Err()
	}
}

// Done is closed once shutdown completes, whether triggered by Stop, a
// terminal feed failure, or backfill-only completion.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// State returns a snapshot of pipeline progress.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// run is the pipeline loop. Any panic is captured into the state error
// rather than taking the process down.
func (o *Orchestrator) run() {
	defer o.wg.Done()
	defer close(o.done)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("orchestrator panic: %v", r)
			o.logger.Error("orchestrator loop panicked", "panic", r)
			o.mu.Lock()
			o.state.Err = err
			o.state.Phase = PhaseStopped
			o.mu.Unlock()
			o.emit(EventError, map[string]any{"error": err.Error()})
		}
	}()

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	o.lastScan = time.Now()
	seenBars := false

	for {
		select {
		case <-o.ctx.Done():
			o.finalize(nil)
			return

		case <-o.feed.Done():
			// The adapter reconnects on its own; its goroutine only exits
			// on cancellation or after exhausting reconnect attempts. Any
			// other death gets a fresh feed.
			err := o.feed.Err()
			if err == nil && o.ctx.Err() == nil && o.cfg.RestartFeed != nil {
				if o.restartFeed() {
					continue
				}
				return
			}
			if err != nil {
				o.logger.Error("feed failed permanently", "error", err)
				o.emit(EventError, map[string]any{"error": err.Error()})
			}
			o.finalize(err)
			return

		case <-ticker.C:
			if o.drain() > 0 {
				seenBars = true
			}

			if o.cfg.BackfillOnly {
				if seenBars {
					o.logger.Info("backfill-only run complete")
					o.finalize(nil)
					return
				}
				continue
			}

			if o.cfg.ScanInterval > 0 && seenBars && time.Since(o.lastScan) >= o.cfg.ScanInterval {
				o.scan()
			}
		}
	}
}

// restartFeed swaps in a replacement feed after an unexpected death.
// Returns false when the replacement will not start, which finalizes the
// run.
func (o *Orchestrator) restartFeed() bool {
	o.logger.Warn("feed stopped unexpectedly, restarting")

	replacement := o.cfg.RestartFeed()
	if err := replacement.Start(o.ctx); err != nil {
		o.logger.Error("feed restart failed", "error", err)
		o.finalize(fmt.Errorf("failed to restart feed: %w", err))
		return false
	}

	o.feed = replacement
	o.mu.Lock()
	o.state.FeedRestarts++
	o.mu.Unlock()
	return true
}

// drain consumes all currently-buffered feed events without blocking.
// Returns the number of bars injected.
func (o *Orchestrator) drain() int {
	injected := 0
	for {
		select {
		case ev := <-o.feed.Events():
			switch ev.Kind {
			case feed.EventBar:
				if o.inject(o.ctx, ev.Bar) {
					injected++
				}
			case feed.EventStatus:
				o.onFeedStatus(ev.Status)
			}
		default:
			return injected
		}
	}
}

// inject delivers one bar to the sink and feeds the observer. Retry
// policy lives in the sink wrapper; a returned error means the bar was
// dropped.
func (o *Orchestrator) inject(ctx context.Context, b model.Bar) bool {
	metrics.BarsIngested.WithLabelValues(b.Symbol).Inc()

	if err := o.sink.Inject(ctx, b); err != nil {
		o.mu.Lock()
		o.state.BarsDropped++
		o.mu.Unlock()
		metrics.BarsDropped.WithLabelValues(b.Symbol).Inc()
		return false
	}

	if o.observer != nil {
		o.observer.Observe(b)
	}

	o.mu.Lock()
	o.state.BarsInjected++
	o.mu.Unlock()
	metrics.BarsInjected.WithLabelValues(b.Symbol).Inc()

	o.emit(EventBarInjected, map[string]any{
		"symbol":    b.Symbol,
		"bar_start": b.Start,
		"close":     b.Close,
	})
	return true
}

// scan runs one scanner pass and dispatches whatever it surfaces. A
// failed scan is counted and logged; the pipeline keeps running.
func (o *Orchestrator) scan() {
	o.lastScan = time.Now()

	scanCtx, cancel := context.WithTimeout(o.ctx, o.cfg.ScanTimeout)
	events, err := o.scanner.Scan(scanCtx)
	cancel()

	o.mu.Lock()
	o.state.ScansRun++
	o.state.LastScanTime = o.lastScan
	if err != nil {
		o.state.ScanFailures++
	}
	o.mu.Unlock()

	if err != nil {
		metrics.ScansTotal.WithLabelValues("error").Inc()
		o.logger.Warn("scan failed", "error", err)
		return
	}
	metrics.ScansTotal.WithLabelValues("ok").Inc()

	for _, sig := range events {
		dispatched := o.dispatcher.Dispatch(o.ctx, sig)

		o.mu.Lock()
		if dispatched {
			o.state.AlertsDispatched++
		} else {
			o.state.AlertsSuppressed++
		}
		o.mu.Unlock()

		if dispatched {
			metrics.AlertsTotal.WithLabelValues("dispatched").Inc()
			o.emit(EventAlert, map[string]any{
				"signal": sig.Type.String(),
				"symbol": sig.Symbol,
				"price":  sig.Price,
			})
		} else {
			metrics.AlertsTotal.WithLabelValues("suppressed").Inc()
		}
	}

	o.emit(EventScanComplete, map[string]any{"signals": len(events)})
}

func (o *Orchestrator) onFeedStatus(st model.FeedStatus) {
	if st.Connected {
		o.logger.Info("feed connected", "message", st.Message)
	} else {
		o.logger.Warn("feed disconnected", "message", st.Message)
		metrics.FeedReconnects.Inc()
	}
	o.emit(EventFeedStatus, map[string]any{
		"connected": st.Connected,
		"message":   st.Message,
	})
}

// finalize runs the shutdown sequence: stop the feed, drain remaining
// events, flush partial bars through the sink, refresh downstream, wait
// for in-flight alerts. Steps use fresh bounded contexts because the run
// context is usually already canceled here.
func (o *Orchestrator) finalize(cause error) {
	o.setPhase(PhaseStopping)

	stopCtx, cancel := context.WithTimeout(context.Background(), o.cfg.StopTimeout)
	if err := o.feed.Stop(stopCtx); err != nil {
		o.logger.Warn("feed stop failed", "error", err)
	}
	cancel()

	flushCtx, cancel := context.WithTimeout(context.Background(), o.cfg.StopTimeout)
	defer cancel()

	// Remaining buffered events, then the in-progress bars.
drain:
	for {
		select {
		case ev := <-o.feed.Events():
			if ev.Kind == feed.EventBar {
				o.inject(flushCtx, ev.Bar)
			}
		default:
			break drain
		}
	}
	for _, b := range o.feed.Flush() {
		o.inject(flushCtx, b)
	}

	if err := o.sink.Refresh(flushCtx); err != nil {
		o.logger.Warn("final sink refresh failed", "error", err)
	}

	if err := o.dispatcher.Drain(flushCtx); err != nil {
		o.logger.Warn("alert drain timed out", "error", err)
	}

	o.sink.Close()

	o.mu.Lock()
	if cause != nil && o.state.Err == nil {
		o.state.Err = cause
	}
	o.state.Phase = PhaseStopped
	st := o.state
	o.mu.Unlock()

	o.logger.Info("orchestrator stopped",
		"bars_injected", st.BarsInjected,
		"bars_dropped", st.BarsDropped,
		"scans_run", st.ScansRun,
		"alerts_dispatched", st.AlertsDispatched,
		"alerts_suppressed", st.AlertsSuppressed,
	)
	o.emit(EventStopped, map[string]any{
		"bars_injected":     st.BarsInjected,
		"alerts_dispatched": st.AlertsDispatched,
	})
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.state.Phase = p
	o.mu.Unlock()
}

func (o *Orchestrator) emit(kind EventType, fields map[string]any) {
	if o.cfg.OnEvent != nil {
		o.cfg.OnEvent(kind, fields)
	}
}

var _ Dispatcher = (*alert.Dispatcher)(nil)
