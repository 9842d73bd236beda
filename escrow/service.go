package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"

	"reviewescrow/db"
	"reviewescrow/dispute"
	"reviewescrow/ledger"
	"reviewescrow/params"
	"reviewescrow/timeline"
)

// Allowlist answers registry membership inside a transaction.
type Allowlist interface {
	IsReviewer(ctx context.Context, tx pgx.Tx, account common.Address) (bool, error)
	IsArbitrator(ctx context.Context, tx pgx.Tx, account common.Address) (bool, error)
}

// ParamsReader loads the administrative parameters inside a transaction.
type ParamsReader interface {
	Get(ctx context.Context, tx pgx.Tx) (params.Params, error)
}

// Ledger books custody inflows and account credits inside a transaction.
type Ledger interface {
	Collect(ctx context.Context, tx pgx.Tx, amount *uint256.Int) error
	Credit(ctx context.Context, tx pgx.Tx, jobID common.Hash, account common.Address, amount *uint256.Int, reason ledger.Reason) error
}

// Observer receives one sample per operation.
type Observer interface {
	ObserveOperation(operation, result string, took time.Duration)
}

// Deps wires the service. Jobs and Disputes default to the Postgres
// repositories when nil.
type Deps struct {
	Pool      db.TxBeginner
	Jobs      Repository
	Disputes  dispute.Repository
	Allowlist Allowlist
	Params    ParamsReader
	Ledger    Ledger
	Events    timeline.Emitter
	Observer  Observer
	Logger    *slog.Logger
}

// Service runs the job lifecycle and the dispute protocol. Every mutating
// call is one transaction that locks the job row first, so concurrent calls
// on a job serialise and a failed guard leaves nothing behind.
type Service struct {
	pool      db.TxBeginner
	jobs      Repository
	disputes  dispute.Repository
	allowlist Allowlist
	params    ParamsReader
	ledger    Ledger
	events    timeline.Emitter
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(deps Deps) *Service {
	s := &Service{
		pool:      deps.Pool,
		jobs:      deps.Jobs,
		disputes:  deps.Disputes,
		allowlist: deps.Allowlist,
		params:    deps.Params,
		ledger:    deps.Ledger,
		events:    deps.Events,
		observer:  deps.Observer,
		logger:    deps.Logger,
		now:       time.Now,
	}
	if s.jobs == nil {
		s.jobs = NewRepository()
	}
	if s.disputes == nil {
		s.disputes = dispute.NewRepository()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// clock returns the current time at the second granularity deadlines use.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// run executes fn inside one transaction and commits only if fn succeeds.
func (s *Service) run(ctx context.Context, op string, fn func(tx pgx.Tx) error) (err error) {
	start := time.Now()
	defer func() { s.observe(ctx, op, start, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("escrow: %s: begin tx: %w", op, err)
	}
	defer tx.Rollback(ctx)

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: %s: commit tx: %w", op, err)
	}
	return nil
}

func (s *Service) observe(ctx context.Context, op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		kind := KindOf(err)
		result = kind.String()
		if kind == KindInternal || kind == KindTransfer {
			s.logger.ErrorContext(ctx, "escrow operation failed", "operation", op, "error", err)
		}
	}
	if s.observer != nil {
		s.observer.ObserveOperation(op, result, time.Since(start))
	}
}

// lockJob loads the job row for update.
func (s *Service) lockJob(ctx context.Context, tx pgx.Tx, id common.Hash) (*Job, error) {
	job, err := s.jobs.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func requireStatus(job *Job, allowed ...Status) error {
	for _, st := range allowed {
		if job.Status == st {
			return nil
		}
	}
	return fmt.Errorf("%w: job %s is %s", ErrInvalidStatus, job.ID.Hex(), job.Status)
}

func (s *Service) emit(ctx context.Context, tx pgx.Tx, job *Job, typ timeline.EventType, actor common.Address, payload map[string]any) error {
	if s.events == nil {
		return nil
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["job_id"] = job.ID.Hex()
	payload["status"] = string(job.Status)
	if _, err := s.events.Emit(ctx, tx, timeline.JobStream(job.ID), typ, actor, payload); err != nil {
		return fmt.Errorf("escrow: emit %s: %w", typ, err)
	}
	return nil
}

// settle books every planned credit and moves the job to its terminal status.
func (s *Service) settle(ctx context.Context, tx pgx.Tx, job *Job, plan Settlement) error {
	if err := job.transition(plan.Status); err != nil {
		return err
	}
	for _, p := range plan.Payouts {
		if err := s.ledger.Credit(ctx, tx, job.ID, p.Account, p.Amount, p.Reason); err != nil {
			return err
		}
	}
	return s.jobs.Update(ctx, tx, job)
}

func (s *Service) owner(ctx context.Context, tx pgx.Tx) (common.Address, error) {
	p, err := s.params.Get(ctx, tx)
	if err != nil {
		return common.Address{}, err
	}
	return p.Owner, nil
}

func payoutPayload(plan Settlement) []map[string]string {
	out := make([]map[string]string, 0, len(plan.Payouts))
	for _, p := range plan.Payouts {
		if p.Amount.IsZero() {
			continue
		}
		out = append(out, map[string]string{
			"account": p.Account.Hex(),
			"amount":  p.Amount.Dec(),
			"reason":  string(p.Reason),
		})
	}
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, dispute.ErrNotFound)
}
