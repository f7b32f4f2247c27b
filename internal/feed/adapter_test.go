package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/calebmills/signalwatch/internal/model"
)

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	limit := 30 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // capped
		{10, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := backoffDelay(base, limit, tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

// fakeClient is a scriptable Client for adapter tests.
type fakeClient struct {
	mu        sync.Mutex
	messages  chan TimestampedMessage
	errors    chan error
	connected bool
	connectFn func() error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		messages: make(chan TimestampedMessage, 64),
		errors:   make(chan error, 1),
	}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	if f.connectFn != nil {
		if err := f.connectFn(); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Messages() <-chan TimestampedMessage { return f.messages }
func (f *fakeClient) Errors() <-chan error                { return f.errors }

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) push(data string) {
	f.messages <- TimestampedMessage{Data: []byte(data), ReceivedAt: time.Now()}
}

func (f *fakeClient) fail(err error) {
	f.errors <- err
}

// scriptedFactory hands out one fake client per connection attempt.
type scriptedFactory struct {
	mu      sync.Mutex
	clients []*fakeClient
	next    int
}

func (s *scriptedFactory) factory(cfg ClientConfig, logger *slog.Logger) Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.clients) {
		c := newFakeClient()
		s.clients = append(s.clients, c)
		s.next++
		return c
	}
	c := s.clients[s.next]
	s.next++
	return c
}

func testAdapterConfig() Config {
	cfg := DefaultConfig()
	cfg.WSURL = "ws://test.invalid/stream"
	cfg.Symbols = []string{"BTCUSD"}
	cfg.BarInterval = time.Minute
	cfg.ReconnectBaseDelay = time.Millisecond
	cfg.ReconnectMaxDelay = 5 * time.Millisecond
	cfg.SendTimeout = 100 * time.Millisecond
	return cfg
}

func collectBars(events <-chan Event, n int, timeout time.Duration) ([]model.Bar, error) {
	var bars []model.Bar
	deadline := time.After(timeout)
	for len(bars) < n {
		select {
		case ev := <-events:
			if ev.Kind == EventBar {
				bars = append(bars, ev.Bar)
			}
		case <-deadline:
			return bars, fmt.Errorf("timed out with %d of %d bars", len(bars), n)
		}
	}
	return bars, nil
}

func TestAdapter_TicksBecomeBars(t *testing.T) {
	fc := newFakeClient()
	sf := &scriptedFactory{clients: []*fakeClient{fc}}

	a := NewAdapter(testAdapterConfig(), &JSONDecoder{Interval: time.Minute}, nil, slog.Default())
	a.newClient = sf.factory

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		a.Stop(stopCtx)
	}()

	base := time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC)
	push := func(price float64, off time.Duration) {
		fc.push(fmt.Sprintf(`{"type":"tick","symbol":"BTCUSD","ts":%d,"price":%v,"volume":1}`,
			base.Add(off).UnixMilli(), price))
	}

	push(100, 0)
	push(101, 10*time.Second)
	push(99, 20*time.Second)
	push(102, 30*time.Second)
	// Next-minute tick closes the bar.
	push(103, time.Minute)

	bars, err := collectBars(a.Events(), 1, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	b := bars[0]
	if b.Open != 100 || b.High != 102 || b.Low != 99 || b.Close != 102 {
		t.Errorf("OHLC = %v/%v/%v/%v, want 100/102/99/102", b.Open, b.High, b.Low, b.Close)
	}
	if !b.Start.Equal(base) {
		t.Errorf("Start = %v, want %v", b.Start, base)
	}

	// Stats reflect the live client's connection state while streaming.
	if s := a.Stats(); !s.Connected {
		t.Errorf("Stats().Connected = false while streaming, want true")
	}
}

func TestAdapter_MalformedFramesCountedNotFatal(t *testing.T) {
	fc := newFakeClient()
	sf := &scriptedFactory{clients: []*fakeClient{fc}}

	a := NewAdapter(testAdapterConfig(), &JSONDecoder{Interval: time.Minute}, nil, slog.Default())
	a.newClient = sf.factory

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		a.Stop(stopCtx)
	}()

	fc.push(`{"garbage`)
	fc.push(`{"type":"nope"}`)

	base := time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC)
	fc.push(fmt.Sprintf(`{"type":"tick","symbol":"BTCUSD","ts":%d,"price":100,"volume":1}`, base.UnixMilli()))
	fc.push(fmt.Sprintf(`{"type":"tick","symbol":"BTCUSD","ts":%d,"price":101,"volume":1}`, base.Add(time.Minute).UnixMilli()))

	if _, err := collectBars(a.Events(), 1, 2*time.Second); err != nil {
		t.Fatalf("stream did not survive malformed frames: %v", err)
	}

	stats := a.Stats()
	if stats.DecodeErrors != 2 {
		t.Errorf("DecodeErrors = %d, want 2", stats.DecodeErrors)
	}
}

// historyStub serves canned bars per symbol.
type historyStub struct {
	mu   sync.Mutex
	bars []model.Bar
	gets int
}

func (h *historyStub) Bars(ctx context.Context, symbol string, since time.Time) ([]model.Bar, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gets++
	var out []model.Bar
	for _, b := range h.bars {
		if b.Symbol == symbol && (since.IsZero() || b.Start.After(since)) {
			out = append(out, b)
		}
	}
	return out, nil
}

func TestAdapter_ReconnectBackfillNoDuplicates(t *testing.T) {
	// The feed disconnects after 3 bars, reconnects, and the backfill
	// overlaps already-delivered timestamps. No timestamp may be
	// re-delivered across the reconnect boundary.
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mkBar := func(i int) model.Bar {
		return model.Bar{
			Symbol:   "BTCUSD",
			Start:    base.Add(time.Duration(i) * time.Minute),
			Interval: time.Minute,
			Open:     100, High: 101, Low: 99, Close: 100, Volume: 1,
		}
	}

	// History holds bars 0-4: overlaps the three already streamed live.
	hist := &historyStub{bars: []model.Bar{mkBar(0), mkBar(1), mkBar(2), mkBar(3), mkBar(4)}}

	first := newFakeClient()
	second := newFakeClient()
	sf := &scriptedFactory{clients: []*fakeClient{first, second}}

	a := NewAdapter(testAdapterConfig(), &JSONDecoder{Interval: time.Minute}, hist, slog.Default())
	a.newClient = sf.factory

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		a.Stop(stopCtx)
	}()

	// First connection streams bars 0-2 as bar frames.
	for i := 0; i < 3; i++ {
		b := mkBar(i)
		first.push(fmt.Sprintf(`{"type":"bar","symbol":"BTCUSD","ts":%d,"open":100,"high":101,"low":99,"close":100,"volume":1}`,
			b.Start.UnixMilli()))
	}

	bars, err := collectBars(a.Events(), 3, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	// Kill the connection; the second connection's backfill covers 0-4.
	first.fail(ErrStaleConnection)

	more, err := collectBars(a.Events(), 2, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	bars = append(bars, more...)

	seen := make(map[int64]int)
	for _, b := range bars {
		seen[b.Start.UnixMilli()]++
	}
	for ts, n := range seen {
		if n > 1 {
			t.Errorf("timestamp %d delivered %d times across reconnect", ts, n)
		}
	}
	if len(bars) != 5 {
		t.Errorf("delivered %d bars, want 5", len(bars))
	}

	stats := a.Stats()
	if stats.Reconnects != 1 {
		t.Errorf("Reconnects = %d, want 1", stats.Reconnects)
	}
	if stats.DuplicatesDropped != 3 {
		t.Errorf("DuplicatesDropped = %d, want 3 (backfill overlap)", stats.DuplicatesDropped)
	}
}

func TestAdapter_GivesUpAfterMaxAttempts(t *testing.T) {
	cfg := testAdapterConfig()
	cfg.MaxReconnectAttempts = 3

	fail := func() error { return fmt.Errorf("connection refused") }
	sf := &scriptedFactory{}
	for i := 0; i < 3; i++ {
		c := newFakeClient()
		c.connectFn = fail
		sf.clients = append(sf.clients, c)
	}

	a := NewAdapter(cfg, &JSONDecoder{Interval: time.Minute}, nil, slog.Default())
	a.newClient = sf.factory

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("adapter did not give up after max attempts")
	}

	if a.Err() == nil {
		t.Error("Err() = nil, want terminal error")
	}
}

func TestHTTPHistory_Bars(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/bars" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSD" {
			t.Errorf("symbol query = %q, want BTCUSD", got)
		}
		rows := []map[string]any{
			{"symbol": "BTCUSD", "ts": base.UnixMilli(), "open": 100, "high": 101, "low": 99, "close": 100.5, "volume": 2},
			{"symbol": "BTCUSD", "ts": base.Add(time.Minute).UnixMilli(), "open": 100.5, "high": 102, "low": 100, "close": 101, "volume": 3},
		}
		json.NewEncoder(w).Encode(rows)
	}))
	defer srv.Close()

	h := NewHTTPHistory(srv.URL, time.Minute, WithHistoryRetries(0, time.Millisecond))

	bars, err := h.Bars(context.Background(), "BTCUSD", time.Time{})
	if err != nil {
		t.Fatalf("Bars failed: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	if !bars[0].Start.Equal(base) {
		t.Errorf("bars[0].Start = %v, want %v", bars[0].Start, base)
	}
	if bars[1].Close != 101 {
		t.Errorf("bars[1].Close = %v, want 101", bars[1].Close)
	}
}

func TestHTTPHistory_RetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode([]map[string]any{})
	}))
	defer srv.Close()

	h := NewHTTPHistory(srv.URL, time.Minute, WithHistoryRetries(3, time.Millisecond))

	if _, err := h.Bars(context.Background(), "BTCUSD", time.Time{}); err != nil {
		t.Fatalf("Bars failed after retries: %v", err)
	}
	if calls != 3 {
		t.Errorf("server called %d times, want 3", calls)
	}
}
