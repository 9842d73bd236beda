package memstore

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
)

// Registry implements registry.Repository.
type Registry struct {
	store *Store
}

func (r *Registry) IsReviewer(ctx context.Context, tx pgx.Tx, account common.Address) (bool, error) {
	return r.store.live(tx).reviewers[account], nil
}

func (r *Registry) SetReviewer(ctx context.Context, tx pgx.Tx, account common.Address, allowed bool) (bool, error) {
	st, t := r.store.write(tx)
	if st.reviewers[account] == allowed {
		return false, nil
	}
	t.onRollback(undoKey(st.reviewers, account))
	if allowed {
		st.reviewers[account] = true
	} else {
		delete(st.reviewers, account)
	}
	return true, nil
}

func (r *Registry) IsArbitrator(ctx context.Context, tx pgx.Tx, account common.Address) (bool, error) {
	_, ok := r.store.live(tx).arbitrators.Position(account)
	return ok, nil
}

func (r *Registry) AddArbitrator(ctx context.Context, tx pgx.Tx, account common.Address) (bool, error) {
	st, t := r.store.write(tx)
	t.onRollback(restoreArbitrators(st))
	return st.arbitrators.Add(account), nil
}

func (r *Registry) RemoveArbitrator(ctx context.Context, tx pgx.Tx, account common.Address) (bool, error) {
	st, t := r.store.write(tx)
	t.onRollback(restoreArbitrators(st))
	_, _, ok := st.arbitrators.Remove(account)
	return ok, nil
}

func restoreArbitrators(st *state) func() {
	prev := st.arbitrators.Clone()
	return func() { st.arbitrators = prev }
}

func (r *Registry) Arbitrators(ctx context.Context, tx pgx.Tx) ([]common.Address, error) {
	return r.store.live(tx).arbitrators.Items(), nil
}
