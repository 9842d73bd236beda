package params

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"reviewescrow/db"
	"reviewescrow/timeline"
)

// ErrOwnerIsArbitrator blocks handing ownership to an allowlisted arbitrator.
var ErrOwnerIsArbitrator = errors.New("params: new owner is an arbitrator")

// ArbitratorChecker is the registry lookup used by ownership transfer.
type ArbitratorChecker interface {
	IsArbitrator(ctx context.Context, tx pgx.Tx, account common.Address) (bool, error)
}

type Service struct {
	pool        db.TxBeginner
	repo        Repository
	arbitrators ArbitratorChecker
	events      timeline.Emitter
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(pool db.TxBeginner, repo Repository, arbitrators ArbitratorChecker, events timeline.Emitter) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		arbitrators: arbitrators,
		events:      events,
		logger:      slog.Default(),
		now:         time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Bootstrap seeds the parameters on first start. An existing row wins and
// is returned unchanged.
func (s *Service) Bootstrap(ctx context.Context, p Params) (Params, error) {
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	p.DisputeDeposit = p.Deposit()
	p.UpdatedAt = s.now().UTC().Truncate(time.Second)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Params{}, fmt.Errorf("params: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Insert(ctx, tx, p)
	if err != nil {
		return Params{}, err
	}
	if created && s.events != nil {
		if _, err := s.events.Emit(ctx, tx, timeline.AdminStream, timeline.ParamsUpdated, p.Owner, payloadOf(p)); err != nil {
			return Params{}, fmt.Errorf("params: emit bootstrap: %w", err)
		}
	}
	current, err := s.repo.Get(ctx, tx)
	if err != nil {
		return Params{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Params{}, fmt.Errorf("params: commit tx: %w", err)
	}
	if created {
		s.logger.InfoContext(ctx, "escrow parameters bootstrapped", "owner", p.Owner.Hex(), "fee_bps", p.FeeBps)
	}
	return current, nil
}

// Get returns the current parameters.
func (s *Service) Get(ctx context.Context) (Params, error) {
	var p Params
	err := db.InReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		p, err = s.repo.Get(ctx, tx)
		return err
	})
	return p, err
}

// Update replaces fee, windows and deposit. The owner field of next is
// ignored; use TransferOwnership.
func (s *Service) Update(ctx context.Context, caller common.Address, next Params) (Params, error) {
	return s.mutate(ctx, caller, timeline.ParamsUpdated, func(tx pgx.Tx, current Params) (Params, error) {
		next.Owner = current.Owner
		next.DisputeDeposit = next.Deposit()
		return next, next.Validate()
	})
}

// TransferOwnership hands the owner role to newOwner.
func (s *Service) TransferOwnership(ctx context.Context, caller, newOwner common.Address) (Params, error) {
	return s.mutate(ctx, caller, timeline.OwnershipTransferred, func(tx pgx.Tx, current Params) (Params, error) {
		if newOwner == (common.Address{}) {
			return Params{}, fmt.Errorf("%w: new owner is zero", ErrInvalid)
		}
		if s.arbitrators != nil {
			isArb, err := s.arbitrators.IsArbitrator(ctx, tx, newOwner)
			if err != nil {
				return Params{}, err
			}
			if isArb {
				return Params{}, ErrOwnerIsArbitrator
			}
		}
		next := current
		next.Owner = newOwner
		return next, nil
	})
}

func (s *Service) mutate(ctx context.Context, caller common.Address, typ timeline.EventType, apply func(pgx.Tx, Params) (Params, error)) (Params, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Params{}, fmt.Errorf("params: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx)
	if err != nil {
		return Params{}, err
	}
	if caller != current.Owner {
		return Params{}, ErrUnauthorized
	}
	next, err := apply(tx, current)
	if err != nil {
		return Params{}, err
	}
	next.UpdatedAt = s.now().UTC().Truncate(time.Second)
	if err := s.repo.Put(ctx, tx, next); err != nil {
		return Params{}, err
	}
	if s.events != nil {
		payload := payloadOf(next)
		if typ == timeline.OwnershipTransferred {
			payload["previous_owner"] = current.Owner.Hex()
		}
		if _, err := s.events.Emit(ctx, tx, timeline.AdminStream, typ, caller, payload); err != nil {
			return Params{}, fmt.Errorf("params: emit %s: %w", typ, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Params{}, fmt.Errorf("params: commit tx: %w", err)
	}
	s.logger.InfoContext(ctx, "escrow parameters changed", "event", string(typ), "owner", next.Owner.Hex())
	return next, nil
}

func payloadOf(p Params) map[string]any {
	return map[string]any{
		"owner":                 p.Owner.Hex(),
		"fee_bps":               p.FeeBps,
		"accept_window_seconds": db.Seconds(p.AcceptWindow),
		"submit_window_seconds": db.Seconds(p.SubmitWindow),
		"vote_window_seconds":   db.Seconds(p.VoteWindow),
		"dispute_deposit":       p.Deposit().Dec(),
	}
}
