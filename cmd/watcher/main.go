package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/calebmills/signalwatch/internal/alert"
	"github.com/calebmills/signalwatch/internal/config"
	"github.com/calebmills/signalwatch/internal/feed"
	"github.com/calebmills/signalwatch/internal/metrics"
	"github.com/calebmills/signalwatch/internal/orchestrator"
	"github.com/calebmills/signalwatch/internal/scan"
	"github.com/calebmills/signalwatch/internal/sink"
	"github.com/calebmills/signalwatch/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/watcher.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Local .env files are optional.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	logger.Info("starting watcher",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"config", *configPath,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Injection sink
	barSink, err := buildSink(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create sink", "error", err)
		os.Exit(1)
	}
	retrying := sink.NewRetrying(barSink,
		cfg.Sink.RetryAttempts, cfg.Sink.RetryDelay, cfg.Sink.InjectTimeout, logger)

	// Strategy and scanner
	if cfg.Scan.Strategy != scan.StrategyMomentum {
		logger.Error("unknown strategy", "strategy", cfg.Scan.Strategy)
		os.Exit(1)
	}
	momentum := scan.NewMomentum(cfg.Scan.Threshold, cfg.Scan.LookbackBars*2)
	scanCfg := scan.DefaultConfig()
	scanCfg.Symbols = cfg.Feed.Symbols
	scanCfg.LookbackBars = cfg.Scan.LookbackBars
	scanner := scan.New(scanCfg, momentum, logger)

	// Alert dispatcher
	dispatcher := alert.NewDispatcher(alert.Config{
		DedupWindow: cfg.Alerts.DedupWindow,
		HistorySize: cfg.Alerts.HistorySize,
		SendTimeout: cfg.Alerts.WebhookTimeout,
	}, buildChannels(cfg, logger), logger)

	// Feed adapter
	var history feed.HistorySource
	if cfg.Feed.HistoryURL != "" {
		history = feed.NewHTTPHistory(cfg.Feed.HistoryURL, cfg.Feed.BarInterval,
			feed.WithHistoryLogger(logger))
	}
	// In config, -1 means retry forever; the feed package expresses that
	// as zero.
	maxReconnects := cfg.Feed.MaxReconnectAttempts
	if maxReconnects < 0 {
		maxReconnects = 0
	}
	buildAdapter := func() *feed.Adapter {
		return feed.NewAdapter(feed.Config{
			WSURL:                cfg.Feed.WSURL,
			HistoryURL:           cfg.Feed.HistoryURL,
			Symbols:              cfg.Feed.Symbols,
			BarInterval:          cfg.Feed.BarInterval,
			PingInterval:         cfg.Feed.PingInterval,
			ReadTimeout:          cfg.Feed.ReadTimeout,
			ReconnectBaseDelay:   cfg.Feed.ReconnectBaseDelay,
			ReconnectMaxDelay:    cfg.Feed.ReconnectMaxDelay,
			MaxReconnectAttempts: maxReconnects,
			EventBufferSize:      cfg.Feed.EventBufferSize,
			SendTimeout:          cfg.Feed.SendTimeout,
		}, &feed.JSONDecoder{Interval: cfg.Feed.BarInterval}, history, logger)
	}
	adapter := buildAdapter()

	var currentAdapter atomic.Pointer[feed.Adapter]
	currentAdapter.Store(adapter)

	// Orchestrator
	orchCfg := orchestrator.DefaultConfig()
	orchCfg.ScanInterval = cfg.Scan.Interval
	orchCfg.BackfillOnly = cfg.Scan.BackfillOnly
	orchCfg.RestartFeed = func() orchestrator.Feed {
		a := buildAdapter()
		currentAdapter.Store(a)
		return a
	}
	orch := orchestrator.New(orchCfg, adapter, retrying, scanner, dispatcher, momentum, logger)

	// Metrics endpoint
	metricsSrv := metrics.Serve(fmt.Sprintf(":%d", cfg.Metrics.Port), cfg.Metrics.Path)
	logger.Info("metrics server started", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)

	// Health server
	healthPort := 8080
	healthSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", healthPort),
		Handler: createHealthHandler(orch, func() feed.Stats { return currentAdapter.Load().Stats() }, dispatcher),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("health server started", "port", healthPort)
		if err := healthSrv.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		healthSrv.Shutdown(shutdownCtx)
		metricsSrv.Shutdown(shutdownCtx)
		return nil
	})

	// Start the pipeline
	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	logger.Info("watcher running",
		"instance_id", cfg.Instance.ID,
		"symbols", cfg.Feed.Symbols,
		"health_url", fmt.Sprintf("http://localhost:%d/health", healthPort),
	)

	// Wait for a signal or for the pipeline to finish on its own
	// (backfill-only runs and terminal feed failures stop it).
	select {
	case <-ctx.Done():
	case <-orch.Done():
	}

	logger.Info("shutting down...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := orch.Stop(stopCtx); err != nil {
		logger.Error("orchestrator stop failed", "error", err)
	}

	cancel()
	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
	}

	if err := orch.State().Err; err != nil {
		logger.Error("watcher stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("watcher stopped")
}

// buildSink creates the configured injection sink.
func buildSink(ctx context.Context, cfg *config.WatcherConfig, logger *slog.Logger) (sink.Sink, error) {
	switch cfg.Sink.Driver {
	case "postgres":
		logger.Info("connecting to database",
			"host", cfg.Sink.Postgres.Host,
			"port", cfg.Sink.Postgres.Port,
			"database", cfg.Sink.Postgres.Name,
		)
		return sink.NewPostgres(ctx, cfg.Sink.Postgres, logger)
	case "memory":
		return sink.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown sink driver %q", cfg.Sink.Driver)
	}
}

// buildChannels creates alert channels from config.
func buildChannels(cfg *config.WatcherConfig, logger *slog.Logger) []alert.Channel {
	var channels []alert.Channel
	for _, name := range cfg.Alerts.Channels {
		switch name {
		case alert.ChannelLog:
			channels = append(channels, alert.NewLogChannel(logger))
		case alert.ChannelWebhook:
			channels = append(channels,
				alert.NewWebhookChannel(cfg.Alerts.WebhookURL, cfg.Alerts.WebhookTimeout, logger))
		}
	}
	return channels
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(orch *orchestrator.Orchestrator, feedStats func() feed.Stats, dispatcher *alert.Dispatcher) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		st := orch.State()
		fs := feedStats()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		health.Components["pipeline"] = map[string]interface{}{
			"phase":             st.Phase.String(),
			"bars_injected":     st.BarsInjected,
			"bars_dropped":      st.BarsDropped,
			"scans_run":         st.ScansRun,
			"alerts_dispatched": st.AlertsDispatched,
		}
		health.Components["feed"] = map[string]interface{}{
			"state":              fs.State.String(),
			"connected":          fs.Connected,
			"frames_decoded":     fs.FramesDecoded,
			"bars_published":     fs.BarsPublished,
			"reconnects":         fs.Reconnects,
			"duplicates_dropped": fs.DuplicatesDropped,
		}

		if fs.State != feed.StateStreaming {
			health.Status = "degraded"
		}
		if st.Phase == orchestrator.PhaseStopped && st.Err != nil {
			health.Status = "unhealthy"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/alerts", func(w http.ResponseWriter, r *http.Request) {
		history := dispatcher.History()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"count":  len(history),
			"alerts": history,
		})
	})

	return mux
}
