package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"

	"reviewescrow/db"
	"reviewescrow/timeline"
)

// Service is the custody ledger. Credit and Collect join the caller's
// transaction; Withdraw and the reads open their own.
type Service struct {
	pool     db.TxBeginner
	repo     Repository
	events   timeline.Emitter
	transfer Transferer
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(pool db.TxBeginner, repo Repository, events timeline.Emitter, transfer Transferer) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:     pool,
		repo:     repo,
		events:   events,
		transfer: transfer,
		logger:   slog.Default(),
		now:      time.Now,
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

// Collect books inbound value (a job amount or a dispute deposit) into custody.
func (s *Service) Collect(ctx context.Context, tx pgx.Tx, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	return s.repo.AddCustody(ctx, tx, amount)
}

// Credit adds amount to the account's withdrawable balance and journals it
// against the job. Zero amounts are skipped.
func (s *Service) Credit(ctx context.Context, tx pgx.Tx, jobID common.Hash, account common.Address, amount *uint256.Int, reason Reason) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if account == (common.Address{}) {
		return ErrZeroAccount
	}
	c := Credit{
		JobID:     jobID,
		Account:   account,
		Amount:    new(uint256.Int).Set(amount),
		Reason:    reason,
		CreatedAt: s.now().UTC().Truncate(time.Second),
	}
	if err := s.repo.Credit(ctx, tx, c); err != nil {
		return err
	}
	if s.events != nil {
		payload := map[string]any{
			"job_id":  jobID.Hex(),
			"account": account.Hex(),
			"amount":  amount.Dec(),
			"reason":  string(reason),
		}
		if _, err := s.events.Emit(ctx, tx, timeline.JobStream(jobID), timeline.FundsCredited, account, payload); err != nil {
			return fmt.Errorf("ledger: emit credit: %w", err)
		}
	}
	return nil
}

// Withdraw pays out the caller's whole balance. The balance is zeroed before
// the transfer runs; a transfer error aborts the transaction so the credit is
// never lost.
func (s *Service) Withdraw(ctx context.Context, caller common.Address) (*uint256.Int, error) {
	if caller == (common.Address{}) {
		return nil, ErrZeroAccount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	amount, err := s.repo.TakeBalance(ctx, tx, caller)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, ErrNothingToWithdraw
	}
	if err := s.repo.SubCustody(ctx, tx, amount); err != nil {
		return nil, err
	}
	if s.events != nil {
		payload := map[string]any{
			"account": caller.Hex(),
			"amount":  amount.Dec(),
		}
		if _, err := s.events.Emit(ctx, tx, timeline.AccountStream(caller), timeline.FundsWithdrawn, caller, payload); err != nil {
			return nil, fmt.Errorf("ledger: emit withdrawal: %w", err)
		}
	}
	if s.transfer != nil {
		if err := s.transfer.Transfer(ctx, tx, caller, amount); err != nil {
			s.logger.ErrorContext(ctx, "withdrawal transfer rejected", "account", caller.Hex(), "amount", amount.Dec(), "error", err)
			return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ledger: commit withdrawal: %w", err)
	}
	s.logger.InfoContext(ctx, "withdrawal committed", "account", caller.Hex(), "amount", amount.Dec())
	return amount, nil
}

// Balance returns the withdrawable balance of an account.
func (s *Service) Balance(ctx context.Context, account common.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := db.InReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		out, err = s.repo.Balance(ctx, tx, account)
		return err
	})
	return out, err
}

// Custody returns the total value held.
func (s *Service) Custody(ctx context.Context) (*uint256.Int, error) {
	var out *uint256.Int
	err := db.InReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		out, err = s.repo.Custody(ctx, tx)
		return err
	})
	return out, err
}

// CreditsForJob returns the journal lines issued for a job.
func (s *Service) CreditsForJob(ctx context.Context, jobID common.Hash) ([]Credit, error) {
	var out []Credit
	err := db.InReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		out, err = s.repo.CreditsForJob(ctx, tx, jobID)
		return err
	})
	return out, err
}
