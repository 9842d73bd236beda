package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"reviewescrow/db"
)

// Repository persists dispute cores and ballots. Callers hold the job row lock.
type Repository interface {
	Get(ctx context.Context, tx pgx.Tx, jobID common.Hash) (*Core, error)
	Insert(ctx context.Context, tx pgx.Tx, core *Core) error
	Update(ctx context.Context, tx pgx.Tx, core *Core) error
	InsertVote(ctx context.Context, tx pgx.Tx, vote Vote) error
	GetVote(ctx context.Context, tx pgx.Tx, jobID common.Hash, arbitrator common.Address) (Vote, error)
	Votes(ctx context.Context, tx pgx.Tx, jobID common.Hash) ([]Vote, error)
	SplitCount(ctx context.Context, tx pgx.Tx, jobID common.Hash, reviewerBps uint16) (int, error)
}

// PGRepository is the Postgres implementation of Repository.
type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const coreColumns = `job_id, opened_at, vote_deadline, arbitrator_1, arbitrator_2, arbitrator_3,
       client_deposited, reviewer_deposited, client_deposit::text, reviewer_deposit::text,
       deposit_amount::text, resolved, outcome, reviewer_bps`

func (r *PGRepository) Get(ctx context.Context, tx pgx.Tx, jobID common.Hash) (*Core, error) {
	var (
		core                           Core
		id, a1, a2, a3                 []byte
		clientDep, reviewerDep, needed string
		outcome                        int16
		bps                            int32
	)
	err := tx.QueryRow(ctx, `SELECT `+coreColumns+` FROM disputes WHERE job_id = $1`, jobID.Bytes()).Scan(
		&id, &core.OpenedAt, &core.VoteDeadline, &a1, &a2, &a3,
		&core.ClientDeposited, &core.ReviewerDeposited, &clientDep, &reviewerDep,
		&needed, &core.Resolved, &outcome, &bps,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("dispute: load: %w", err)
	}
	core.JobID = db.Hash(id)
	core.Arbitrators = Panel{db.Address(a1), db.Address(a2), db.Address(a3)}
	core.Outcome = Outcome(outcome)
	core.ReviewerBps = uint16(bps)
	core.OpenedAt = core.OpenedAt.UTC()
	core.VoteDeadline = core.VoteDeadline.UTC()
	if core.ClientDeposit, err = db.ParseNumeric(clientDep); err != nil {
		return nil, err
	}
	if core.ReviewerDeposit, err = db.ParseNumeric(reviewerDep); err != nil {
		return nil, err
	}
	if core.DepositAmount, err = db.ParseNumeric(needed); err != nil {
		return nil, err
	}
	return &core, nil
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, core *Core) error {
	const q = `
INSERT INTO disputes (job_id, opened_at, vote_deadline, arbitrator_1, arbitrator_2, arbitrator_3,
                      client_deposited, reviewer_deposited, client_deposit, reviewer_deposit,
                      deposit_amount, resolved, outcome, reviewer_bps)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11::numeric, $12, $13, $14)
`
	_, err := tx.Exec(ctx, q,
		core.JobID.Bytes(), core.OpenedAt, core.VoteDeadline,
		core.Arbitrators[0].Bytes(), core.Arbitrators[1].Bytes(), core.Arbitrators[2].Bytes(),
		core.ClientDeposited, core.ReviewerDeposited,
		db.Numeric(core.ClientDeposit), db.Numeric(core.ReviewerDeposit), db.Numeric(core.DepositAmount),
		core.Resolved, int16(core.Outcome), int32(core.ReviewerBps),
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrAlreadyOpen
		}
		return fmt.Errorf("dispute: insert: %w", err)
	}
	return nil
}

// Update writes the mutable columns. Panel, deadline and deposit amount are fixed at open.
func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, core *Core) error {
	const q = `
UPDATE disputes
SET client_deposited = $2,
    reviewer_deposited = $3,
    client_deposit = $4::numeric,
    reviewer_deposit = $5::numeric,
    resolved = $6,
    outcome = $7,
    reviewer_bps = $8
WHERE job_id = $1
`
	tag, err := tx.Exec(ctx, q,
		core.JobID.Bytes(), core.ClientDeposited, core.ReviewerDeposited,
		db.Numeric(core.ClientDeposit), db.Numeric(core.ReviewerDeposit),
		core.Resolved, int16(core.Outcome), int32(core.ReviewerBps),
	)
	if err != nil {
		return fmt.Errorf("dispute: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) InsertVote(ctx context.Context, tx pgx.Tx, vote Vote) error {
	const q = `
INSERT INTO dispute_votes (job_id, arbitrator, outcome, reviewer_bps, cast_at)
VALUES ($1, $2, $3, $4, $5)
`
	_, err := tx.Exec(ctx, q, vote.JobID.Bytes(), vote.Arbitrator.Bytes(), int16(vote.Outcome), int32(vote.ReviewerBps), vote.CastAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrAlreadyVoted
		}
		return fmt.Errorf("dispute: insert vote: %w", err)
	}
	return nil
}

func (r *PGRepository) GetVote(ctx context.Context, tx pgx.Tx, jobID common.Hash, arbitrator common.Address) (Vote, error) {
	const q = `
SELECT outcome, reviewer_bps, cast_at
FROM dispute_votes
WHERE job_id = $1 AND arbitrator = $2
`
	var (
		outcome int16
		bps     int32
		vote    = Vote{JobID: jobID, Arbitrator: arbitrator}
	)
	if err := tx.QueryRow(ctx, q, jobID.Bytes(), arbitrator.Bytes()).Scan(&outcome, &bps, &vote.CastAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Vote{}, ErrNotFound
		}
		return Vote{}, fmt.Errorf("dispute: load vote: %w", err)
	}
	vote.Outcome = Outcome(outcome)
	vote.ReviewerBps = uint16(bps)
	vote.CastAt = vote.CastAt.UTC()
	return vote, nil
}

func (r *PGRepository) Votes(ctx context.Context, tx pgx.Tx, jobID common.Hash) ([]Vote, error) {
	const q = `
SELECT arbitrator, outcome, reviewer_bps, cast_at
FROM dispute_votes
WHERE job_id = $1
ORDER BY cast_at, arbitrator
`
	rows, err := tx.Query(ctx, q, jobID.Bytes())
	if err != nil {
		return nil, fmt.Errorf("dispute: list votes: %w", err)
	}
	defer rows.Close()

	out := make([]Vote, 0, 3)
	for rows.Next() {
		var (
			arb     []byte
			outcome int16
			bps     int32
			vote    = Vote{JobID: jobID}
		)
		if err := rows.Scan(&arb, &outcome, &bps, &vote.CastAt); err != nil {
			return nil, fmt.Errorf("dispute: scan vote: %w", err)
		}
		vote.Arbitrator = db.Address(arb)
		vote.Outcome = Outcome(outcome)
		vote.ReviewerBps = uint16(bps)
		vote.CastAt = vote.CastAt.UTC()
		out = append(out, vote)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate votes: %w", err)
	}
	return out, nil
}

func (r *PGRepository) SplitCount(ctx context.Context, tx pgx.Tx, jobID common.Hash, reviewerBps uint16) (int, error) {
	const q = `
SELECT count(*)
FROM dispute_votes
WHERE job_id = $1 AND outcome = $2 AND reviewer_bps = $3
`
	var n int
	if err := tx.QueryRow(ctx, q, jobID.Bytes(), int16(OutcomeSplit), int32(reviewerBps)).Scan(&n); err != nil {
		return 0, fmt.Errorf("dispute: split count: %w", err)
	}
	return n, nil
}
