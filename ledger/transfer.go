package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
)

// Transferer moves withdrawn funds out of custody. It runs inside the
// withdrawal transaction; an error rolls the balance back.
type Transferer interface {
	Transfer(ctx context.Context, tx pgx.Tx, to common.Address, amount *uint256.Int) error
}

// OutboxEnqueuer is the slice of the timeline repository the outbox
// transferer needs.
type OutboxEnqueuer interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload []byte) error
}

// TopicWithdrawal is consumed by the payout worker.
const TopicWithdrawal = "ledger.withdrawal"

// OutboxTransferer records the payout instruction in the outbox so it
// commits or rolls back together with the balance change.
type OutboxTransferer struct {
	outbox OutboxEnqueuer
}

func NewOutboxTransferer(outbox OutboxEnqueuer) *OutboxTransferer {
	return &OutboxTransferer{outbox: outbox}
}

func (t *OutboxTransferer) Transfer(ctx context.Context, tx pgx.Tx, to common.Address, amount *uint256.Int) error {
	body, err := json.Marshal(map[string]string{
		"to":     to.Hex(),
		"amount": amount.Dec(),
	})
	if err != nil {
		return fmt.Errorf("ledger: marshal withdrawal: %w", err)
	}
	return t.outbox.Enqueue(ctx, tx, TopicWithdrawal, body)
}

// TransferFunc adapts a function to Transferer.
type TransferFunc func(ctx context.Context, tx pgx.Tx, to common.Address, amount *uint256.Int) error

func (f TransferFunc) Transfer(ctx context.Context, tx pgx.Tx, to common.Address, amount *uint256.Int) error {
	return f(ctx, tx, to, amount)
}
