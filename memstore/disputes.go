package memstore

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"reviewescrow/dispute"
)

// Disputes implements dispute.Repository.
type Disputes struct {
	store *Store
}

func (r *Disputes) Get(ctx context.Context, tx pgx.Tx, jobID common.Hash) (*dispute.Core, error) {
	core, ok := r.store.live(tx).disputes[jobID]
	if !ok {
		return nil, dispute.ErrNotFound
	}
	return core.Clone(), nil
}

func (r *Disputes) Insert(ctx context.Context, tx pgx.Tx, core *dispute.Core) error {
	st, t := r.store.write(tx)
	if _, exists := st.disputes[core.JobID]; exists {
		return dispute.ErrAlreadyOpen
	}
	t.onRollback(undoKey(st.disputes, core.JobID))
	st.disputes[core.JobID] = core.Clone()
	return nil
}

func (r *Disputes) Update(ctx context.Context, tx pgx.Tx, core *dispute.Core) error {
	st, t := r.store.write(tx)
	current, ok := st.disputes[core.JobID]
	if !ok {
		return dispute.ErrNotFound
	}
	t.onRollback(undoKey(st.disputes, core.JobID))
	next := current.Clone()
	next.ClientDeposited = core.ClientDeposited
	next.ReviewerDeposited = core.ReviewerDeposited
	next.ClientDeposit = cloneAmount(core.ClientDeposit)
	next.ReviewerDeposit = cloneAmount(core.ReviewerDeposit)
	next.Resolved = core.Resolved
	next.Outcome = core.Outcome
	next.ReviewerBps = core.ReviewerBps
	st.disputes[core.JobID] = next
	return nil
}

func (r *Disputes) InsertVote(ctx context.Context, tx pgx.Tx, vote dispute.Vote) error {
	st, t := r.store.write(tx)
	if _, ok := st.disputes[vote.JobID]; !ok {
		return dispute.ErrNotFound
	}
	for _, v := range st.votes[vote.JobID] {
		if v.Arbitrator == vote.Arbitrator {
			return dispute.ErrAlreadyVoted
		}
	}
	t.onRollback(undoKey(st.votes, vote.JobID))
	st.votes[vote.JobID] = append(st.votes[vote.JobID], vote)
	return nil
}

func (r *Disputes) GetVote(ctx context.Context, tx pgx.Tx, jobID common.Hash, arbitrator common.Address) (dispute.Vote, error) {
	for _, v := range r.store.live(tx).votes[jobID] {
		if v.Arbitrator == arbitrator {
			return v, nil
		}
	}
	return dispute.Vote{}, dispute.ErrNotFound
}

func (r *Disputes) Votes(ctx context.Context, tx pgx.Tx, jobID common.Hash) ([]dispute.Vote, error) {
	return append([]dispute.Vote(nil), r.store.live(tx).votes[jobID]...), nil
}

func (r *Disputes) SplitCount(ctx context.Context, tx pgx.Tx, jobID common.Hash, reviewerBps uint16) (int, error) {
	n := 0
	for _, v := range r.store.live(tx).votes[jobID] {
		if v.Outcome == dispute.OutcomeSplit && v.ReviewerBps == reviewerBps {
			n++
		}
	}
	return n, nil
}
