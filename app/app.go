// Package app wires the escrow services onto one transactional backend.
package app

import (
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"reviewescrow/auth"
	"reviewescrow/db"
	"reviewescrow/dispute"
	"reviewescrow/escrow"
	"reviewescrow/ledger"
	"reviewescrow/memstore"
	"reviewescrow/params"
	"reviewescrow/registry"
	"reviewescrow/timeline"
)

// Repositories is the storage surface the services run on. Every field
// must share the transaction semantics of the pool passed to New.
type Repositories struct {
	Jobs        escrow.Repository
	Disputes    dispute.Repository
	Ledger      ledger.Repository
	Registry    registry.Repository
	Params      params.Repository
	Timeline    timeline.Repository
	Credentials auth.Repository
}

// PostgresRepositories returns the SQL implementations.
func PostgresRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Jobs:        escrow.NewRepository(),
		Disputes:    dispute.NewRepository(),
		Ledger:      ledger.NewRepository(),
		Registry:    registry.NewRepository(),
		Params:      params.NewRepository(),
		Timeline:    timeline.NewRepository(),
		Credentials: auth.NewRepository(pool),
	}
}

// MemoryRepositories returns repositories backed by store.
func MemoryRepositories(store *memstore.Store) Repositories {
	r := store.Repositories()
	return Repositories{
		Jobs:        r.Jobs,
		Disputes:    r.Disputes,
		Ledger:      r.Ledger,
		Registry:    r.Registry,
		Params:      r.Params,
		Timeline:    r.Timeline,
		Credentials: r.Credentials,
	}
}

// Options tune New. Zero values pick production defaults.
type Options struct {
	Clock     func() time.Time
	Logger    *slog.Logger
	Observer  escrow.Observer
	Transfer  ledger.Transferer
	JWTSecret string
}

// App holds one instance of every service.
type App struct {
	Escrow   *escrow.Service
	Ledger   *ledger.Service
	Registry *registry.Service
	Params   *params.Service
	Disputes *dispute.Service
	Timeline *timeline.Service
	Auth     *auth.Service
	Events   *timeline.Writer

	pool   db.TxBeginner
	repos  Repositories
	logger *slog.Logger
}

func New(pool db.TxBeginner, repos Repositories, opts Options) *App {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Transfer == nil {
		opts.Transfer = ledger.NewOutboxTransferer(repos.Timeline)
	}

	events := timeline.NewWriter(repos.Timeline).WithClock(opts.Clock)
	ledgerSvc := ledger.NewService(pool, repos.Ledger, events, opts.Transfer).
		WithClock(opts.Clock).
		WithLogger(opts.Logger)

	a := &App{
		Ledger: ledgerSvc,
		Registry: registry.NewService(pool, repos.Registry, repos.Params, events).
			WithLogger(opts.Logger),
		Params: params.NewService(pool, repos.Params, repos.Registry, events).
			WithClock(opts.Clock).
			WithLogger(opts.Logger),
		Disputes: dispute.NewService(pool, repos.Disputes),
		Timeline: timeline.NewService(pool, repos.Timeline),
		Auth:     auth.NewService(repos.Credentials, opts.JWTSecret).WithClock(opts.Clock),
		Events:   events,
		pool:     pool,
		repos:    repos,
		logger:   opts.Logger,
	}
	a.Escrow = escrow.NewService(escrow.Deps{
		Pool:      pool,
		Jobs:      repos.Jobs,
		Disputes:  repos.Disputes,
		Allowlist: repos.Registry,
		Params:    repos.Params,
		Ledger:    ledgerSvc,
		Events:    events,
		Observer:  opts.Observer,
		Logger:    opts.Logger,
	}).WithClock(opts.Clock)
	return a
}

// Relay returns an outbox relay publishing to pub.
func (a *App) Relay(pub timeline.Publisher, cfg timeline.RelayConfig) *timeline.Relay {
	return timeline.NewRelay(a.pool, a.repos.Timeline, pub, cfg, a.logger)
}
