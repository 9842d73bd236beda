package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"reviewescrow/escrow"
)

// Jobs implements escrow.Repository.
type Jobs struct {
	store *Store
}

func (r *Jobs) NextNonce(ctx context.Context, tx pgx.Tx, client common.Address) (uint64, error) {
	st, t := r.store.write(tx)
	n := st.nonces[client]
	t.onRollback(undoKey(st.nonces, client))
	st.nonces[client] = n + 1
	return n, nil
}

func (r *Jobs) PeekNonce(ctx context.Context, tx pgx.Tx, client common.Address) (uint64, error) {
	return r.store.live(tx).nonces[client], nil
}

func (r *Jobs) Insert(ctx context.Context, tx pgx.Tx, job *escrow.Job) error {
	st, t := r.store.write(tx)
	if _, exists := st.jobs[job.ID]; exists {
		return fmt.Errorf("escrow: job %s already exists: %w", job.ID.Hex(), escrow.ErrInvalidInput)
	}
	n := len(st.jobOrder)
	t.onRollback(undoKey(st.jobs, job.ID))
	t.onRollback(func() { st.jobOrder = st.jobOrder[:n] })
	st.jobs[job.ID] = job.Clone()
	st.jobOrder = append(st.jobOrder, job.ID)
	return nil
}

func (r *Jobs) Get(ctx context.Context, tx pgx.Tx, id common.Hash) (*escrow.Job, error) {
	job, ok := r.store.live(tx).jobs[id]
	if !ok {
		return nil, escrow.ErrNotFound
	}
	return job.Clone(), nil
}

// GetForUpdate is Get; the store lock already serialises transactions.
func (r *Jobs) GetForUpdate(ctx context.Context, tx pgx.Tx, id common.Hash) (*escrow.Job, error) {
	return r.Get(ctx, tx, id)
}

func (r *Jobs) Update(ctx context.Context, tx pgx.Tx, job *escrow.Job) error {
	st, t := r.store.write(tx)
	current, ok := st.jobs[job.ID]
	if !ok {
		return escrow.ErrNotFound
	}
	t.onRollback(undoKey(st.jobs, job.ID))
	next := current.Clone()
	next.Reviewer = job.Reviewer
	next.ReportHash = job.ReportHash
	next.Status = job.Status
	if job.AcceptDeadline != nil {
		d := *job.AcceptDeadline
		next.AcceptDeadline = &d
	}
	st.jobs[job.ID] = next
	return nil
}

func (r *Jobs) List(ctx context.Context, tx pgx.Tx, filter escrow.Filter) ([]escrow.Job, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	st := r.store.live(tx)
	out := make([]escrow.Job, 0, len(st.jobOrder))
	for _, id := range st.jobOrder {
		job := st.jobs[id]
		if filter.Client != (common.Address{}) && job.Client != filter.Client {
			continue
		}
		if filter.Reviewer != (common.Address{}) && job.Reviewer != filter.Reviewer {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, *job.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
