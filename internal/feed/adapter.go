package feed

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/calebmills/signalwatch/internal/bar"
	"github.com/calebmills/signalwatch/internal/model"
)

// Adapter owns the upstream streaming connection. It runs in its own
// goroutine; the bounded events channel is the only primitive crossing
// into the orchestrator's domain.
type Adapter struct {
	cfg     Config
	decoder Decoder
	history HistorySource
	logger  *slog.Logger

	// newClient is swapped out by tests to avoid a real dial.
	newClient func(ClientConfig, *slog.Logger) Client

	aggs   *bar.Set
	events chan Event
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	state     ConnState
	client    Client
	err       error
	delivered map[string]time.Time // symbol -> last delivered bar start
	stats     Stats
}

// NewAdapter creates a streaming feed adapter. decoder must not be nil;
// history may be nil to disable backfill.
func NewAdapter(cfg Config, decoder Decoder, history HistorySource, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		decoder:   decoder,
		history:   history,
		logger:    logger,
		newClient: NewClient,
		aggs:      bar.NewSet(cfg.BarInterval),
		events:    make(chan Event, cfg.EventBufferSize),
		done:      make(chan struct{}),
		delivered: make(map[string]time.Time),
	}
}

// Start launches the adapter's connection loop.
func (a *Adapter) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)
	go a.run()

	a.logger.Info("feed adapter started",
		"url", a.cfg.WSURL,
		"symbols", a.cfg.Symbols,
		"bar_interval", a.cfg.BarInterval,
	)

	return nil
}

// Stop shuts down the adapter, flushing any in-progress bars onto the
// events channel before the done signal fires. The wait is bounded by ctx.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	finished := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		a.logger.Info("feed adapter stopped")
		return nil
	case <-ctx.Done():
		a.logger.Warn("feed adapter stop timed out")
		return ctx.Err()
	}
}

// Events returns the bounded output channel of bar/status events.
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// Done is closed when the adapter's goroutine exits, whether by Stop or by
// a terminal failure. The orchestrator watches it to self-heal.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

// Err returns the terminal error, if the adapter gave up.
func (a *Adapter) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.err
}

// Stats returns a snapshot of adapter counters.
func (a *Adapter) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.stats
	s.State = a.state
	if a.client != nil {
		s.Connected = a.client.IsConnected()
	}
	s.StaleTicks = a.aggs.StaleTicks()
	return s
}

// Flush force-closes all in-progress bars and returns them. Called by the
// orchestrator during shutdown, after the adapter goroutine has stopped,
// so the final partial bars are not lost.
func (a *Adapter) Flush() []model.Bar {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.aggs.Flush()
}

// run drives the connection state machine until the context is canceled
// or reconnect attempts are exhausted.
func (a *Adapter) run() {
	defer a.wg.Done()
	defer close(a.done)

	attempt := 0

	for {
		if a.ctx.Err() != nil {
			return
		}

		a.setState(StateConnecting)
		client := a.newClient(ClientConfig{
			URL:          a.cfg.WSURL,
			PingInterval: a.cfg.PingInterval,
			PingTimeout:  a.cfg.ReadTimeout,
			WriteTimeout: 5 * time.Second,
			BufferSize:   a.cfg.EventBufferSize,
		}, a.logger)

		if err := client.Connect(a.ctx); err != nil {
			if a.ctx.Err() != nil {
				return
			}
			attempt++
			if a.giveUp(attempt, err) {
				return
			}
			a.setState(StateBackoff)
			if !a.sleepBackoff(attempt) {
				return
			}
			continue
		}

		// Streaming: reset backoff, announce, close the gap.
		attempt = 0
		a.mu.Lock()
		a.client = client
		a.mu.Unlock()
		a.setState(StateStreaming)
		a.publishStatus(true, "connected")
		a.backfill()

		err := a.consume(client)
		client.Close()
		if a.ctx.Err() != nil {
			return
		}

		a.setState(StateDisconnected)
		a.publishStatus(false, err.Error())
		a.mu.Lock()
		a.stats.Reconnects++
		a.mu.Unlock()
		a.logger.Warn("feed disconnected, reconnecting", "error", err)

		attempt++
		a.setState(StateBackoff)
		if !a.sleepBackoff(attempt) {
			return
		}
	}
}

// consume reads and decodes frames until the connection fails.
func (a *Adapter) consume(client Client) error {
	for {
		select {
		case <-a.ctx.Done():
			return a.ctx.Err()

		case err := <-client.Errors():
			return err

		case msg, ok := <-client.Messages():
			if !ok {
				return ErrStreamClosed
			}

			frame, err := a.decoder.Decode(msg.Data)
			if err != nil {
				a.mu.Lock()
				a.stats.DecodeErrors++
				a.mu.Unlock()
				a.logger.Debug("skipping malformed frame", "error", err)
				continue
			}

			a.mu.Lock()
			a.stats.FramesDecoded++
			a.mu.Unlock()

			switch frame.Kind {
			case FrameTick:
				a.mu.Lock()
				b, completed := a.aggs.OnTick(frame.Tick)
				a.mu.Unlock()
				if completed {
					a.publishBar(b)
				}
			case FrameBar:
				a.publishBar(frame.Bar)
			case FrameStatus:
				a.publish(Event{Kind: EventStatus, Status: frame.Status})
			}
		}
	}
}

// backfill requests bars missed while disconnected, sorts them by open
// time so delivery stays monotonic, and publishes the ones not already
// delivered.
func (a *Adapter) backfill() {
	if a.history == nil {
		return
	}

	var bars []model.Bar
	for _, symbol := range a.cfg.Symbols {
		a.mu.RLock()
		since := a.delivered[symbol]
		a.mu.RUnlock()

		got, err := a.history.Bars(a.ctx, symbol, since)
		if err != nil {
			a.logger.Warn("backfill failed", "symbol", symbol, "error", err)
			continue
		}
		bars = append(bars, got...)
	}

	if len(bars) == 0 {
		return
	}

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Start.Before(bars[j].Start)
	})

	published := 0
	for _, b := range bars {
		if a.publishBar(b) {
			published++
		}
	}

	a.logger.Info("backfill complete",
		"fetched", len(bars),
		"published", published,
	)
}

// publishBar publishes a bar unless it was already delivered. Returns true
// if the bar went out.
func (a *Adapter) publishBar(b model.Bar) bool {
	a.mu.Lock()
	last, seen := a.delivered[b.Symbol]
	if seen && !b.Start.After(last) {
		a.stats.DuplicatesDropped++
		a.mu.Unlock()
		return false
	}
	a.delivered[b.Symbol] = b.Start
	a.stats.BarsPublished++
	a.mu.Unlock()

	a.publish(Event{Kind: EventBar, Bar: b})
	return true
}

// publish sends an event on the bounded channel. A full channel blocks the
// producer up to SendTimeout; expiry is counted, never silent.
func (a *Adapter) publish(ev Event) {
	select {
	case a.events <- ev:
		return
	default:
	}

	timer := time.NewTimer(a.cfg.SendTimeout)
	defer timer.Stop()

	select {
	case a.events <- ev:
	case <-timer.C:
		a.mu.Lock()
		a.stats.SendTimeouts++
		a.mu.Unlock()
		a.logger.Warn("event channel full, send timed out")
	case <-a.ctx.Done():
	}
}

func (a *Adapter) publishStatus(connected bool, message string) {
	a.publish(Event{
		Kind: EventStatus,
		Status: model.FeedStatus{
			Connected: connected,
			Message:   message,
			Time:      time.Now().UTC(),
		},
	})
}

// giveUp records the terminal error once attempts are exhausted.
func (a *Adapter) giveUp(attempt int, cause error) bool {
	if a.cfg.MaxReconnectAttempts <= 0 || attempt < a.cfg.MaxReconnectAttempts {
		return false
	}

	err := errors.Join(ErrMaxReconnects, cause)
	a.mu.Lock()
	a.err = err
	a.state = StateDisconnected
	a.mu.Unlock()

	a.publishStatus(false, err.Error())
	a.logger.Error("feed adapter giving up",
		"attempts", attempt,
		"error", cause,
	)
	return true
}

// sleepBackoff waits min(base << (attempt-1), cap). Returns false when the
// context was canceled during the wait.
func (a *Adapter) sleepBackoff(attempt int) bool {
	delay := backoffDelay(a.cfg.ReconnectBaseDelay, a.cfg.ReconnectMaxDelay, attempt)
	a.logger.Info("reconnect backoff", "attempt", attempt, "delay", delay)

	select {
	case <-a.ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// backoffDelay computes the exponential delay for the given attempt
// (1-based): min(base * 2^(attempt-1), limit).
func backoffDelay(base, limit time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	if delay > limit {
		return limit
	}
	return delay
}

func (a *Adapter) setState(s ConnState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}
