package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"reviewescrow/db"
)

// Repository stores both allowlists. Mutations report whether anything changed.
type Repository interface {
	IsReviewer(ctx context.Context, tx pgx.Tx, account common.Address) (bool, error)
	SetReviewer(ctx context.Context, tx pgx.Tx, account common.Address, allowed bool) (bool, error)
	IsArbitrator(ctx context.Context, tx pgx.Tx, account common.Address) (bool, error)
	AddArbitrator(ctx context.Context, tx pgx.Tx, account common.Address) (bool, error)
	RemoveArbitrator(ctx context.Context, tx pgx.Tx, account common.Address) (bool, error)
	Arbitrators(ctx context.Context, tx pgx.Tx) ([]common.Address, error)
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

func (r *PGRepository) IsReviewer(ctx context.Context, tx pgx.Tx, account common.Address) (bool, error) {
	var ok bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM reviewers WHERE account = $1)`, account.Bytes()).Scan(&ok); err != nil {
		return false, fmt.Errorf("registry: check reviewer: %w", err)
	}
	return ok, nil
}

func (r *PGRepository) SetReviewer(ctx context.Context, tx pgx.Tx, account common.Address, allowed bool) (bool, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if allowed {
		tag, err = tx.Exec(ctx, `INSERT INTO reviewers (account) VALUES ($1) ON CONFLICT DO NOTHING`, account.Bytes())
	} else {
		tag, err = tx.Exec(ctx, `DELETE FROM reviewers WHERE account = $1`, account.Bytes())
	}
	if err != nil {
		return false, fmt.Errorf("registry: set reviewer: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PGRepository) IsArbitrator(ctx context.Context, tx pgx.Tx, account common.Address) (bool, error) {
	var ok bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM arbitrators WHERE account = $1)`, account.Bytes()).Scan(&ok); err != nil {
		return false, fmt.Errorf("registry: check arbitrator: %w", err)
	}
	return ok, nil
}

func (r *PGRepository) lockArbitrators(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('registry.arbitrators'))`); err != nil {
		return fmt.Errorf("registry: lock arbitrators: %w", err)
	}
	return nil
}

func (r *PGRepository) AddArbitrator(ctx context.Context, tx pgx.Tx, account common.Address) (bool, error) {
	if err := r.lockArbitrators(ctx, tx); err != nil {
		return false, err
	}
	const q = `
INSERT INTO arbitrators (account, position)
SELECT $1, count(*) FROM arbitrators
ON CONFLICT (account) DO NOTHING
`
	tag, err := tx.Exec(ctx, q, account.Bytes())
	if err != nil {
		return false, fmt.Errorf("registry: add arbitrator: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RemoveArbitrator deletes the entry and moves the last entry into its slot.
func (r *PGRepository) RemoveArbitrator(ctx context.Context, tx pgx.Tx, account common.Address) (bool, error) {
	if err := r.lockArbitrators(ctx, tx); err != nil {
		return false, err
	}
	var pos int
	err := tx.QueryRow(ctx, `DELETE FROM arbitrators WHERE account = $1 RETURNING position`, account.Bytes()).Scan(&pos)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("registry: remove arbitrator: %w", err)
	}
	const compact = `
UPDATE arbitrators
SET position = $1
WHERE position = (SELECT max(position) FROM arbitrators)
  AND position > $1
`
	if _, err := tx.Exec(ctx, compact, pos); err != nil {
		return false, fmt.Errorf("registry: compact arbitrators: %w", err)
	}
	return true, nil
}

func (r *PGRepository) Arbitrators(ctx context.Context, tx pgx.Tx) ([]common.Address, error) {
	rows, err := tx.Query(ctx, `SELECT account FROM arbitrators ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("registry: list arbitrators: %w", err)
	}
	defer rows.Close()

	out := make([]common.Address, 0, 8)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("registry: scan arbitrator: %w", err)
		}
		out = append(out, db.Address(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: iterate arbitrators: %w", err)
	}
	return out, nil
}
