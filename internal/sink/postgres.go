package sink

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calebmills/signalwatch/internal/config"
	"github.com/calebmills/signalwatch/internal/model"
)

// Postgres injects bars into a bars table. Idempotency comes from the
// primary key (symbol, bar_start) plus ON CONFLICT DO NOTHING, so a
// re-injected bar affects zero rows instead of failing.
type Postgres struct {
	db     *pgxpool.Pool
	logger *slog.Logger

	mu        sync.Mutex
	inserts   int64
	conflicts int64
}

// NewPostgres connects a pool and verifies it with a ping.
func NewPostgres(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Postgres{db: pool, logger: logger}, nil
}

// Inject implements Sink.
func (p *Postgres) Inject(ctx context.Context, b model.Bar) error {
	ct, err := p.db.Exec(ctx, `
		INSERT INTO bars (symbol, bar_start, interval_secs, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, bar_start) DO NOTHING
	`, b.Symbol, b.Start.UTC(), int64(b.Interval.Seconds()), b.Open, b.High, b.Low, b.Close, b.Volume)
	if err != nil {
		return fmt.Errorf("insert bar: %w", err)
	}

	p.mu.Lock()
	if ct.RowsAffected() == 0 {
		p.conflicts++
	} else {
		p.inserts++
	}
	p.mu.Unlock()

	return nil
}

// Refresh implements Sink by verifying the pool is healthy.
func (p *Postgres) Refresh(ctx context.Context) error {
	if err := p.db.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close implements Sink.
func (p *Postgres) Close() {
	p.db.Close()
}

// Stats returns insert/conflict counters.
func (p *Postgres) Stats() (inserts, conflicts int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inserts, p.conflicts
}

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg config.DBConfig) string {
	// URL-encode password to handle special characters
	escapedPassword := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		escapedPassword,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}
