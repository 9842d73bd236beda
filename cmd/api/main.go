package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"reviewescrow/app"
	"reviewescrow/config"
	"reviewescrow/db"
	"reviewescrow/logging"
	"reviewescrow/memstore"
	"reviewescrow/metrics"
	"reviewescrow/migrations"
	"reviewescrow/timeline"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("escrow api: %v", err)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("ESCROW_CONFIG"))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := logging.Setup("escrow-api", cfg.Env, logging.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, repos, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.Escrow()
	a := app.New(pool, repos, app.Options{
		Logger:    logger,
		Observer:  m,
		JWTSecret: cfg.JWTSecret,
	})
	current, err := a.Params.Bootstrap(ctx, cfg.Params)
	if err != nil {
		return fmt.Errorf("bootstrap params: %w", err)
	}
	logger.Info("escrow parameters loaded", "owner", current.Owner.Hex(), "fee_bps", current.FeeBps)

	pub, closePub, err := openPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePub()
	relay := a.Relay(pub, timeline.RelayConfig{
		Interval:    cfg.Relay.Interval,
		BatchSize:   cfg.Relay.BatchSize,
		MaxAttempts: cfg.Relay.MaxAttempts,
		Lease:       cfg.Relay.Lease,
	}).WithObserver(m)

	server := NewServer(a, logger, metrics.Handler()).
		WithAuthRateLimit(cfg.RateLimit.AuthPerMinute, cfg.RateLimit.AuthBurst)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.Listen, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		return reportCustody(gctx, a, m, cfg.Relay.Interval, logger)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("escrow api stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (db.TxBeginner, app.Repositories, func(), error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory store; state is lost on exit")
		store := memstore.New()
		return store, app.MemoryRepositories(store), func() {}, nil
	}

	pool, err := db.NewPool(ctx, cfg.Database.URL, db.PoolOptions{
		MaxConns:        cfg.Database.MaxConns,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, app.Repositories{}, nil, fmt.Errorf("bootstrap database pool: %w", err)
	}
	if cfg.Database.Migrate {
		if err := migrations.Apply(ctx, pool); err != nil {
			pool.Close()
			return nil, app.Repositories{}, nil, err
		}
	}
	return pool, app.PostgresRepositories(pool), pool.Close, nil
}

func openPublisher(ctx context.Context, cfg config.Config, logger *slog.Logger) (timeline.Publisher, func(), error) {
	if cfg.Redis.Addr == "" {
		return timeline.NewLogPublisher(logger), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}
	logger.Info("publishing outbox to redis stream", "addr", cfg.Redis.Addr, "stream", cfg.Redis.Stream)
	return timeline.NewRedisPublisher(rdb, cfg.Redis.Stream, cfg.Redis.MaxLen), func() { _ = rdb.Close() }, nil
}

// reportCustody keeps the custody gauge current.
func reportCustody(ctx context.Context, a *app.App, m *metrics.EscrowMetrics, every time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		total, err := a.Ledger.Custody(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("read custody total", "error", err)
			}
			continue
		}
		f, _ := new(big.Float).SetInt(total.ToBig()).Float64()
		m.SetCustody(f)
	}
}
