package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"reviewescrow/db"
	"reviewescrow/timeline"
)

// OwnerReader resolves the administrative owner inside a transaction.
type OwnerReader interface {
	Owner(ctx context.Context, tx pgx.Tx) (common.Address, error)
}

// Service administers the reviewer and arbitrator allowlists.
type Service struct {
	pool   db.TxBeginner
	repo   Repository
	owner  OwnerReader
	events timeline.Emitter
	logger *slog.Logger
}

func NewService(pool db.TxBeginner, repo Repository, owner OwnerReader, events timeline.Emitter) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{pool: pool, repo: repo, owner: owner, events: events, logger: slog.Default()}
}

func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// SetReviewer toggles reviewer membership. Repeating a call is a no-op.
func (s *Service) SetReviewer(ctx context.Context, caller, account common.Address, allowed bool) error {
	return s.mutate(ctx, caller, account, "reviewer", allowed, func(tx pgx.Tx, owner common.Address) (bool, error) {
		return s.repo.SetReviewer(ctx, tx, account, allowed)
	})
}

// SetArbitrator toggles arbitrator membership. The owner can never be added.
func (s *Service) SetArbitrator(ctx context.Context, caller, account common.Address, allowed bool) error {
	return s.mutate(ctx, caller, account, "arbitrator", allowed, func(tx pgx.Tx, owner common.Address) (bool, error) {
		if !allowed {
			return s.repo.RemoveArbitrator(ctx, tx, account)
		}
		if account == owner {
			return false, ErrOwnerArbitrator
		}
		return s.repo.AddArbitrator(ctx, tx, account)
	})
}

func (s *Service) mutate(ctx context.Context, caller, account common.Address, role string, allowed bool, apply func(pgx.Tx, common.Address) (bool, error)) error {
	if account == (common.Address{}) {
		return ErrZeroAccount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("registry: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	owner, err := s.owner.Owner(ctx, tx)
	if err != nil {
		return err
	}
	if caller != owner {
		return ErrUnauthorized
	}

	changed, err := apply(tx, owner)
	if err != nil {
		return err
	}
	if changed && s.events != nil {
		typ := timeline.ReviewerSet
		if role == "arbitrator" {
			typ = timeline.ArbitratorSet
		}
		payload := map[string]any{
			"account": account.Hex(),
			"allowed": allowed,
		}
		if _, err := s.events.Emit(ctx, tx, timeline.AdminStream, typ, caller, payload); err != nil {
			return fmt.Errorf("registry: emit %s change: %w", role, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("registry: commit tx: %w", err)
	}
	if changed {
		s.logger.InfoContext(ctx, "allowlist updated", "role", role, "account", account.Hex(), "allowed", allowed)
	}
	return nil
}

// Membership returns both flags for an account.
func (s *Service) Membership(ctx context.Context, account common.Address) (Membership, error) {
	m := Membership{Account: account}
	err := db.InReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		if m.Reviewer, err = s.repo.IsReviewer(ctx, tx, account); err != nil {
			return err
		}
		m.Arbitrator, err = s.repo.IsArbitrator(ctx, tx, account)
		return err
	})
	return m, err
}

func (s *Service) IsReviewer(ctx context.Context, account common.Address) (bool, error) {
	m, err := s.Membership(ctx, account)
	return m.Reviewer, err
}

func (s *Service) IsArbitrator(ctx context.Context, account common.Address) (bool, error) {
	m, err := s.Membership(ctx, account)
	return m.Arbitrator, err
}

// Arbitrators enumerates the arbitrator list.
func (s *Service) Arbitrators(ctx context.Context) ([]common.Address, error) {
	var out []common.Address
	err := db.InReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		out, err = s.repo.Arbitrators(ctx, tx)
		return err
	})
	return out, err
}
