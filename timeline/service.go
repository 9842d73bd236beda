package timeline

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"reviewescrow/db"
)

// Service is the read side used for timeline reconstruction.
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

// List returns events of a stream with seq > afterSeq in order.
func (s *Service) List(ctx context.Context, stream string, afterSeq int64, limit int) ([]Event, error) {
	var out []Event
	err := db.InReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		out, err = s.repo.List(ctx, tx, stream, afterSeq, limit)
		return err
	})
	return out, err
}

// Job returns the events of a job and its dispute.
func (s *Service) Job(ctx context.Context, id common.Hash, afterSeq int64, limit int) ([]Event, error) {
	return s.List(ctx, JobStream(id), afterSeq, limit)
}
