package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"

	"reviewescrow/db"
)

// Repository stores balances, the credit journal and the custody total.
type Repository interface {
	Credit(ctx context.Context, tx pgx.Tx, c Credit) error
	Balance(ctx context.Context, tx pgx.Tx, account common.Address) (*uint256.Int, error)
	TakeBalance(ctx context.Context, tx pgx.Tx, account common.Address) (*uint256.Int, error)
	AddCustody(ctx context.Context, tx pgx.Tx, amount *uint256.Int) error
	SubCustody(ctx context.Context, tx pgx.Tx, amount *uint256.Int) error
	Custody(ctx context.Context, tx pgx.Tx) (*uint256.Int, error)
	CreditsForJob(ctx context.Context, tx pgx.Tx, jobID common.Hash) ([]Credit, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

func (r *PGRepository) Credit(ctx context.Context, tx pgx.Tx, c Credit) error {
	const upsert = `
INSERT INTO balances (account, amount, updated_at)
VALUES ($1, $2::numeric, $3)
ON CONFLICT (account) DO UPDATE
SET amount = balances.amount + EXCLUDED.amount,
    updated_at = EXCLUDED.updated_at
`
	if _, err := tx.Exec(ctx, upsert, c.Account.Bytes(), db.Numeric(c.Amount), c.CreatedAt); err != nil {
		return fmt.Errorf("ledger: credit balance: %w", err)
	}
	const journal = `
INSERT INTO ledger_credits (job_id, account, amount, reason, created_at)
VALUES ($1, $2, $3::numeric, $4, $5)
`
	if _, err := tx.Exec(ctx, journal, db.NullableHash(c.JobID), c.Account.Bytes(), db.Numeric(c.Amount), string(c.Reason), c.CreatedAt); err != nil {
		return fmt.Errorf("ledger: journal credit: %w", err)
	}
	return nil
}

func (r *PGRepository) Balance(ctx context.Context, tx pgx.Tx, account common.Address) (*uint256.Int, error) {
	var raw string
	err := tx.QueryRow(ctx, `SELECT amount::text FROM balances WHERE account = $1`, account.Bytes()).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return new(uint256.Int), nil
		}
		return nil, fmt.Errorf("ledger: load balance: %w", err)
	}
	return db.ParseNumeric(raw)
}

// TakeBalance locks the balance row, zeroes it and returns the prior amount.
func (r *PGRepository) TakeBalance(ctx context.Context, tx pgx.Tx, account common.Address) (*uint256.Int, error) {
	var raw string
	err := tx.QueryRow(ctx, `SELECT amount::text FROM balances WHERE account = $1 FOR UPDATE`, account.Bytes()).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return new(uint256.Int), nil
		}
		return nil, fmt.Errorf("ledger: lock balance: %w", err)
	}
	amount, err := db.ParseNumeric(raw)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return amount, nil
	}
	if _, err := tx.Exec(ctx, `UPDATE balances SET amount = 0, updated_at = now() WHERE account = $1`, account.Bytes()); err != nil {
		return nil, fmt.Errorf("ledger: zero balance: %w", err)
	}
	return amount, nil
}

func (r *PGRepository) AddCustody(ctx context.Context, tx pgx.Tx, amount *uint256.Int) error {
	if _, err := tx.Exec(ctx, `UPDATE custody SET total = total + $1::numeric WHERE id`, db.Numeric(amount)); err != nil {
		return fmt.Errorf("ledger: add custody: %w", err)
	}
	return nil
}

func (r *PGRepository) SubCustody(ctx context.Context, tx pgx.Tx, amount *uint256.Int) error {
	tag, err := tx.Exec(ctx, `UPDATE custody SET total = total - $1::numeric WHERE id AND total >= $1::numeric`, db.Numeric(amount))
	if err != nil {
		return fmt.Errorf("ledger: sub custody: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCustodyShortfall
	}
	return nil
}

func (r *PGRepository) Custody(ctx context.Context, tx pgx.Tx) (*uint256.Int, error) {
	var raw string
	if err := tx.QueryRow(ctx, `SELECT total::text FROM custody WHERE id`).Scan(&raw); err != nil {
		return nil, fmt.Errorf("ledger: load custody: %w", err)
	}
	return db.ParseNumeric(raw)
}

func (r *PGRepository) CreditsForJob(ctx context.Context, tx pgx.Tx, jobID common.Hash) ([]Credit, error) {
	const q = `
SELECT id, account, amount::text, reason, created_at
FROM ledger_credits
WHERE job_id = $1
ORDER BY id
`
	rows, err := tx.Query(ctx, q, jobID.Bytes())
	if err != nil {
		return nil, fmt.Errorf("ledger: list credits: %w", err)
	}
	defer rows.Close()

	out := make([]Credit, 0, 4)
	for rows.Next() {
		var (
			c       = Credit{JobID: jobID}
			account []byte
			raw     string
			reason  string
		)
		if err := rows.Scan(&c.ID, &account, &raw, &reason, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan credit: %w", err)
		}
		c.Account = db.Address(account)
		c.Reason = Reason(reason)
		c.CreatedAt = c.CreatedAt.UTC()
		if c.Amount, err = db.ParseNumeric(raw); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate credits: %w", err)
	}
	return out, nil
}
