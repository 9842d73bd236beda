package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"reviewescrow/db"
)

// Repository persists jobs and per-client nonces.
type Repository interface {
	NextNonce(ctx context.Context, tx pgx.Tx, client common.Address) (uint64, error)
	PeekNonce(ctx context.Context, tx pgx.Tx, client common.Address) (uint64, error)
	Insert(ctx context.Context, tx pgx.Tx, job *Job) error
	Get(ctx context.Context, tx pgx.Tx, id common.Hash) (*Job, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id common.Hash) (*Job, error)
	Update(ctx context.Context, tx pgx.Tx, job *Job) error
	List(ctx context.Context, tx pgx.Tx, filter Filter) ([]Job, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

// NextNonce returns the client's current counter and advances it.
func (r *PGRepository) NextNonce(ctx context.Context, tx pgx.Tx, client common.Address) (uint64, error) {
	const q = `
INSERT INTO client_nonces (client, next_nonce)
VALUES ($1, 1)
ON CONFLICT (client) DO UPDATE
SET next_nonce = client_nonces.next_nonce + 1
RETURNING next_nonce - 1
`
	var n int64
	if err := tx.QueryRow(ctx, q, client.Bytes()).Scan(&n); err != nil {
		return 0, fmt.Errorf("escrow: advance nonce: %w", err)
	}
	return uint64(n), nil
}

// PeekNonce returns the nonce the client's next job will use.
func (r *PGRepository) PeekNonce(ctx context.Context, tx pgx.Tx, client common.Address) (uint64, error) {
	var n int64
	err := tx.QueryRow(ctx, `SELECT next_nonce FROM client_nonces WHERE client = $1`, client.Bytes()).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("escrow: load nonce: %w", err)
	}
	return uint64(n), nil
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, job *Job) error {
	const q = `
INSERT INTO jobs (id, client, nonce, reviewer, amount, fee_bps, created_at, accept_window_seconds,
                  accept_deadline, submit_deadline, report_hash, status, updated_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $7)
`
	_, err := tx.Exec(ctx, q,
		job.ID.Bytes(), job.Client.Bytes(), int64(job.Nonce), db.NullableAddress(job.Reviewer),
		db.Numeric(job.Amount), int32(job.FeeBps), job.CreatedAt, db.Seconds(job.AcceptWindow),
		job.AcceptDeadline, job.SubmitDeadline, db.NullableHash(job.ReportHash), string(job.Status),
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("escrow: job %s already exists: %w", job.ID.Hex(), ErrInvalidInput)
		}
		return fmt.Errorf("escrow: insert job: %w", err)
	}
	return nil
}

const jobColumns = `id, client, nonce, reviewer, amount::text, fee_bps, created_at, accept_window_seconds,
       accept_deadline, submit_deadline, report_hash, status`

func (r *PGRepository) Get(ctx context.Context, tx pgx.Tx, id common.Hash) (*Job, error) {
	return scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id.Bytes()))
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id common.Hash) (*Job, error) {
	return scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id.Bytes()))
}

// Update writes the mutable columns of a job.
func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, job *Job) error {
	const q = `
UPDATE jobs
SET reviewer = $2,
    accept_deadline = $3,
    report_hash = $4,
    status = $5,
    updated_at = now()
WHERE id = $1
`
	tag, err := tx.Exec(ctx, q, job.ID.Bytes(), db.NullableAddress(job.Reviewer), job.AcceptDeadline,
		db.NullableHash(job.ReportHash), string(job.Status))
	if err != nil {
		return fmt.Errorf("escrow: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) List(ctx context.Context, tx pgx.Tx, filter Filter) ([]Job, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	where := []string{"1=1"}
	args := []any{}
	if filter.Client != (common.Address{}) {
		args = append(args, filter.Client.Bytes())
		where = append(where, fmt.Sprintf("client = $%d", len(args)))
	}
	if filter.Reviewer != (common.Address{}) {
		args = append(args, filter.Reviewer.Bytes())
		where = append(where, fmt.Sprintf("reviewer = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	args = append(args, filter.Limit)
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d", len(args))

	rows, err := tx.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("escrow: list jobs: %w", err)
	}
	defer rows.Close()

	out := make([]Job, 0, filter.Limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escrow: iterate jobs: %w", err)
	}
	return out, nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var (
		job                          Job
		id, client, reviewer, report []byte
		nonce, acceptWindow          int64
		fee                          int32
		amount, status               string
		acceptDeadline               *time.Time
	)
	err := row.Scan(&id, &client, &nonce, &reviewer, &amount, &fee, &job.CreatedAt, &acceptWindow,
		&acceptDeadline, &job.SubmitDeadline, &report, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("escrow: scan job: %w", err)
	}
	job.ID = db.Hash(id)
	job.Client = db.Address(client)
	job.Nonce = uint64(nonce)
	job.Reviewer = db.Address(reviewer)
	job.FeeBps = uint16(fee)
	job.CreatedAt = job.CreatedAt.UTC()
	job.AcceptWindow = db.FromSeconds(acceptWindow)
	job.SubmitDeadline = job.SubmitDeadline.UTC()
	job.ReportHash = db.Hash(report)
	if acceptDeadline != nil {
		d := acceptDeadline.UTC()
		job.AcceptDeadline = &d
	}
	if job.Status, err = ParseStatus(status); err != nil {
		return nil, err
	}
	if job.Amount, err = db.ParseNumeric(amount); err != nil {
		return nil, err
	}
	return &job, nil
}
