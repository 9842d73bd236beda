package params

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"reviewescrow/db"
)

// Repository stores the singleton parameter row.
type Repository interface {
	Get(ctx context.Context, tx pgx.Tx) (Params, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx) (Params, error)
	Insert(ctx context.Context, tx pgx.Tx, p Params) (bool, error)
	Put(ctx context.Context, tx pgx.Tx, p Params) error
	Owner(ctx context.Context, tx pgx.Tx) (common.Address, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

const selectParams = `
SELECT owner, fee_bps, accept_window_seconds, submit_window_seconds, vote_window_seconds,
       dispute_deposit::text, updated_at
FROM escrow_params
WHERE id
`

func (r *PGRepository) Get(ctx context.Context, tx pgx.Tx) (Params, error) {
	return r.load(ctx, tx, selectParams)
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx) (Params, error) {
	return r.load(ctx, tx, selectParams+" FOR UPDATE")
}

func (r *PGRepository) load(ctx context.Context, tx pgx.Tx, q string) (Params, error) {
	var (
		p                    Params
		owner                []byte
		fee                  int32
		accept, submit, vote int64
		deposit              string
	)
	if err := tx.QueryRow(ctx, q).Scan(&owner, &fee, &accept, &submit, &vote, &deposit, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Params{}, ErrNotBootstrapped
		}
		return Params{}, fmt.Errorf("params: load: %w", err)
	}
	p.Owner = db.Address(owner)
	p.FeeBps = uint16(fee)
	p.AcceptWindow = db.FromSeconds(accept)
	p.SubmitWindow = db.FromSeconds(submit)
	p.VoteWindow = db.FromSeconds(vote)
	p.UpdatedAt = p.UpdatedAt.UTC()
	var err error
	if p.DisputeDeposit, err = db.ParseNumeric(deposit); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Insert writes the row only when none exists and reports whether it did.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, p Params) (bool, error) {
	const q = `
INSERT INTO escrow_params (id, owner, fee_bps, accept_window_seconds, submit_window_seconds,
                           vote_window_seconds, dispute_deposit, updated_at)
VALUES (TRUE, $1, $2, $3, $4, $5, $6::numeric, $7)
ON CONFLICT (id) DO NOTHING
`
	tag, err := tx.Exec(ctx, q, p.Owner.Bytes(), int32(p.FeeBps),
		db.Seconds(p.AcceptWindow), db.Seconds(p.SubmitWindow), db.Seconds(p.VoteWindow),
		db.Numeric(p.DisputeDeposit), p.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("params: insert: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PGRepository) Put(ctx context.Context, tx pgx.Tx, p Params) error {
	const q = `
UPDATE escrow_params
SET owner = $1,
    fee_bps = $2,
    accept_window_seconds = $3,
    submit_window_seconds = $4,
    vote_window_seconds = $5,
    dispute_deposit = $6::numeric,
    updated_at = $7
WHERE id
`
	tag, err := tx.Exec(ctx, q, p.Owner.Bytes(), int32(p.FeeBps),
		db.Seconds(p.AcceptWindow), db.Seconds(p.SubmitWindow), db.Seconds(p.VoteWindow),
		db.Numeric(p.DisputeDeposit), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("params: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotBootstrapped
	}
	return nil
}

func (r *PGRepository) Owner(ctx context.Context, tx pgx.Tx) (common.Address, error) {
	var owner []byte
	if err := tx.QueryRow(ctx, `SELECT owner FROM escrow_params WHERE id`).Scan(&owner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.Address{}, ErrNotBootstrapped
		}
		return common.Address{}, fmt.Errorf("params: load owner: %w", err)
	}
	return db.Address(owner), nil
}
