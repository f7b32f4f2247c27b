package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/calebmills/signalwatch/internal/bar"
	"github.com/calebmills/signalwatch/internal/model"
)

// HistorySource supplies historical bars for backfill on (re)connect.
type HistorySource interface {
	// Bars returns bars for the symbol with start times strictly after
	// since. A zero since means "whatever recent history the source keeps".
	Bars(ctx context.Context, symbol string, since time.Time) ([]model.Bar, error)
}

// HTTPHistory fetches historical bars from a REST endpoint.
type HTTPHistory struct {
	baseURL    string
	interval   time.Duration
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// HistoryOption configures an HTTPHistory.
type HistoryOption func(*HTTPHistory)

// NewHTTPHistory creates a history source against the given base URL.
func NewHTTPHistory(baseURL string, interval time.Duration, opts ...HistoryOption) *HTTPHistory {
	h := &HTTPHistory{
		baseURL:  baseURL,
		interval: interval,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// WithHistoryTimeout sets the HTTP client timeout.
func WithHistoryTimeout(d time.Duration) HistoryOption {
	return func(h *HTTPHistory) {
		h.httpClient.Timeout = d
	}
}

// WithHistoryRetries sets the retry configuration.
func WithHistoryRetries(max int, backoff time.Duration) HistoryOption {
	return func(h *HTTPHistory) {
		h.maxRetries = max
		h.retryBackoff = backoff
	}
}

// WithHistoryLogger sets the logger.
func WithHistoryLogger(logger *slog.Logger) HistoryOption {
	return func(h *HTTPHistory) {
		h.logger = logger
	}
}

// WithHistoryHTTPClient sets a custom HTTP client.
func WithHistoryHTTPClient(hc *http.Client) HistoryOption {
	return func(h *HTTPHistory) {
		h.httpClient = hc
	}
}

// historyBarWire is the wire format of a history response row.
type historyBarWire struct {
	Symbol string  `json:"symbol"`
	Ts     int64   `json:"ts"` // bar open time, unix ms
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Bars implements HistorySource.
func (h *HTTPHistory) Bars(ctx context.Context, symbol string, since time.Time) ([]model.Bar, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", strconv.FormatInt(int64(h.interval/time.Second), 10))
	if !since.IsZero() {
		query.Set("since", strconv.FormatInt(since.UnixMilli(), 10))
	}

	body, err := h.doWithRetry(ctx, "/v1/bars", query)
	if err != nil {
		return nil, fmt.Errorf("fetch history for %s: %w", symbol, err)
	}

	var rows []historyBarWire
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("parse history response: %w", err)
	}

	bars := make([]model.Bar, 0, len(rows))
	for _, row := range rows {
		if row.Close <= 0 {
			continue
		}
		sym := row.Symbol
		if sym == "" {
			sym = symbol
		}
		bars = append(bars, model.Bar{
			Symbol:   sym,
			Start:    bar.Align(time.UnixMilli(row.Ts).UTC(), h.interval),
			Interval: h.interval,
			Open:     row.Open,
			High:     row.High,
			Low:      row.Low,
			Close:    row.Close,
			Volume:   row.Volume,
		})
	}

	return bars, nil
}

// doWithRetry performs a GET with exponential backoff retry on transient
// failures.
func (h *HTTPHistory) doWithRetry(ctx context.Context, path string, query url.Values) ([]byte, error) {
	var lastErr error
	backoff := h.retryBackoff

	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		if attempt > 0 {
			h.logger.Debug("retrying history request",
				"attempt", attempt,
				"backoff", backoff,
				"path", path,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		body, err := h.doRequest(ctx, path, query)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !isRetryableHistoryErr(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("history request failed after %d attempts: %w", h.maxRetries+1, lastErr)
}

func (h *HTTPHistory) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := h.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &historyError{StatusCode: resp.StatusCode, Body: body}
	}

	return body, nil
}

// historyError represents an HTTP error from the history endpoint.
type historyError struct {
	StatusCode int
	Body       []byte
}

func (e *historyError) Error() string {
	return fmt.Sprintf("history endpoint error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

func isRetryableHistoryErr(err error) bool {
	if he, ok := err.(*historyError); ok {
		return he.StatusCode >= 500 || he.StatusCode == http.StatusTooManyRequests
	}
	// Network-level errors are retryable.
	return true
}
