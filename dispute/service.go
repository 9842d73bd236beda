package dispute

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"reviewescrow/db"
)

// Service exposes the read side of disputes. Mutations live in the escrow
// service because they move job status and ledger funds together.
type Service struct {
	pool db.TxBeginner
	repo Repository
}

func NewService(pool db.TxBeginner, repo Repository) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{pool: pool, repo: repo}
}

// Get returns the dispute record for a job.
func (s *Service) Get(ctx context.Context, jobID common.Hash) (*Core, error) {
	var core *Core
	err := db.InReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		core, err = s.repo.Get(ctx, tx, jobID)
		return err
	})
	return core, err
}

// Vote returns one arbitrator's ballot on a job.
func (s *Service) Vote(ctx context.Context, jobID common.Hash, arbitrator common.Address) (Vote, error) {
	var vote Vote
	err := db.InReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		vote, err = s.repo.GetVote(ctx, tx, jobID, arbitrator)
		return err
	})
	return vote, err
}

// SplitCount returns how many split ballots named exactly reviewerBps.
func (s *Service) SplitCount(ctx context.Context, jobID common.Hash, reviewerBps uint16) (int, error) {
	var n int
	err := db.InReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		n, err = s.repo.SplitCount(ctx, tx, jobID, reviewerBps)
		return err
	})
	return n, err
}

// Tally returns the current counters for a job.
func (s *Service) Tally(ctx context.Context, jobID common.Hash) (Tally, error) {
	var tally Tally
	err := db.InReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := s.repo.Get(ctx, tx, jobID); err != nil {
			return err
		}
		votes, err := s.repo.Votes(ctx, tx, jobID)
		if err != nil {
			return err
		}
		tally = TallyVotes(votes)
		return nil
	})
	return tally, err
}
