package memstore

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"reviewescrow/params"
)

// Params implements params.Repository.
type Params struct {
	store *Store
}

func (r *Params) Get(ctx context.Context, tx pgx.Tx) (params.Params, error) {
	st := r.store.live(tx)
	if st.params == nil {
		return params.Params{}, params.ErrNotBootstrapped
	}
	p := *st.params
	p.DisputeDeposit = p.Deposit()
	return p, nil
}

func (r *Params) GetForUpdate(ctx context.Context, tx pgx.Tx) (params.Params, error) {
	return r.Get(ctx, tx)
}

func (r *Params) Insert(ctx context.Context, tx pgx.Tx, p params.Params) (bool, error) {
	st, t := r.store.write(tx)
	if st.params != nil {
		return false, nil
	}
	t.onRollback(func() { st.params = nil })
	p.DisputeDeposit = p.Deposit()
	st.params = &p
	return true, nil
}

func (r *Params) Put(ctx context.Context, tx pgx.Tx, p params.Params) error {
	st, t := r.store.write(tx)
	if st.params == nil {
		return params.ErrNotBootstrapped
	}
	prev := st.params
	t.onRollback(func() { st.params = prev })
	p.DisputeDeposit = p.Deposit()
	st.params = &p
	return nil
}

func (r *Params) Owner(ctx context.Context, tx pgx.Tx) (common.Address, error) {
	st := r.store.live(tx)
	if st.params == nil {
		return common.Address{}, params.ErrNotBootstrapped
	}
	return st.params.Owner, nil
}
