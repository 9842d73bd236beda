package escrow

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"reviewescrow/db"
)

// Job returns a job by id.
func (s *Service) Job(ctx context.Context, id common.Hash) (*Job, error) {
	var job *Job
	err := db.InReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		job, err = s.jobs.Get(ctx, tx, id)
		return err
	})
	return job, err
}

// Jobs lists jobs newest first.
func (s *Service) Jobs(ctx context.Context, filter Filter) ([]Job, error) {
	var jobs []Job
	err := db.InReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		jobs, err = s.jobs.List(ctx, tx, filter)
		return err
	})
	return jobs, err
}

// PredictJobID returns the id the client's next CreateJob will produce,
// assuming no other creation by the same client lands first.
func (s *Service) PredictJobID(ctx context.Context, client common.Address) (common.Hash, uint64, error) {
	var nonce uint64
	err := db.InReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		nonce, err = s.jobs.PeekNonce(ctx, tx, client)
		return err
	})
	if err != nil {
		return common.Hash{}, 0, err
	}
	return JobID(client, nonce), nonce, nil
}
