package memstore

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"

	"reviewescrow/ledger"
)

// Ledger implements ledger.Repository.
type Ledger struct {
	store *Store
}

func (r *Ledger) Credit(ctx context.Context, tx pgx.Tx, c ledger.Credit) error {
	st, t := r.store.write(tx)
	n := len(st.credits)
	t.onRollback(undoKey(st.balances, c.Account))
	t.onRollback(func() { st.credits = st.credits[:n] })
	st.balances[c.Account] = new(uint256.Int).Add(cloneAmount(st.balances[c.Account]), c.Amount)
	c.ID = int64(n + 1)
	c.Amount = cloneAmount(c.Amount)
	st.credits = append(st.credits, c)
	return nil
}

func (r *Ledger) Balance(ctx context.Context, tx pgx.Tx, account common.Address) (*uint256.Int, error) {
	return cloneAmount(r.store.live(tx).balances[account]), nil
}

func (r *Ledger) TakeBalance(ctx context.Context, tx pgx.Tx, account common.Address) (*uint256.Int, error) {
	st, t := r.store.write(tx)
	amount := cloneAmount(st.balances[account])
	if !amount.IsZero() {
		t.onRollback(undoKey(st.balances, account))
		st.balances[account] = new(uint256.Int)
	}
	return amount, nil
}

func (r *Ledger) AddCustody(ctx context.Context, tx pgx.Tx, amount *uint256.Int) error {
	st, t := r.store.write(tx)
	t.onRollback(restoreCustody(st))
	st.custody = new(uint256.Int).Add(st.custody, amount)
	return nil
}

func (r *Ledger) SubCustody(ctx context.Context, tx pgx.Tx, amount *uint256.Int) error {
	st, t := r.store.write(tx)
	if st.custody.Lt(amount) {
		return ledger.ErrCustodyShortfall
	}
	t.onRollback(restoreCustody(st))
	st.custody = new(uint256.Int).Sub(st.custody, amount)
	return nil
}

func (r *Ledger) Custody(ctx context.Context, tx pgx.Tx) (*uint256.Int, error) {
	return cloneAmount(r.store.live(tx).custody), nil
}

func (r *Ledger) CreditsForJob(ctx context.Context, tx pgx.Tx, jobID common.Hash) ([]ledger.Credit, error) {
	var out []ledger.Credit
	for _, c := range r.store.live(tx).credits {
		if c.JobID == jobID {
			c.Amount = cloneAmount(c.Amount)
			out = append(out, c)
		}
	}
	return out, nil
}

func restoreCustody(st *state) func() {
	prev := st.custody
	return func() { st.custody = prev }
}
