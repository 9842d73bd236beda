package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"reviewescrow/ledger"
	"reviewescrow/memstore"
	"reviewescrow/timeline"
)

var (
	jobID   = common.HexToHash("0x01")
	account = common.HexToAddress("0x0e")
)

func newLedger(t *testing.T, transfer ledger.Transferer) (*memstore.Store, memstore.Repositories, *ledger.Service) {
	t.Helper()
	store := memstore.New()
	repos := store.Repositories()
	events := timeline.NewWriter(repos.Timeline)
	if transfer == nil {
		transfer = ledger.NewOutboxTransferer(repos.Timeline)
	}
	return store, repos, ledger.NewService(store, repos.Ledger, events, transfer)
}

func fund(t *testing.T, store *memstore.Store, svc *ledger.Service, amount uint64) {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Collect(ctx, tx, uint256.NewInt(amount)))
	require.NoError(t, svc.Credit(ctx, tx, jobID, account, uint256.NewInt(amount), ledger.ReasonPayout))
	require.NoError(t, svc.Credit(ctx, tx, jobID, account, new(uint256.Int), ledger.ReasonFee))
	require.NoError(t, tx.Commit(ctx))
}

func TestWithdrawPaysWholeBalance(t *testing.T) {
	store, repos, svc := newLedger(t, nil)
	fund(t, store, svc, 950)
	ctx := context.Background()

	credits, err := svc.CreditsForJob(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, credits, 1, "zero credits are skipped")

	paid, err := svc.Withdraw(ctx, account)
	require.NoError(t, err)
	require.Equal(t, uint64(950), paid.Uint64())

	bal, err := svc.Balance(ctx, account)
	require.NoError(t, err)
	require.True(t, bal.IsZero())
	custody, err := svc.Custody(ctx)
	require.NoError(t, err)
	require.True(t, custody.IsZero())

	var withdrawals int
	for _, m := range repos.Timeline.Outbox() {
		if m.Topic == ledger.TopicWithdrawal {
			withdrawals++
		}
	}
	require.Equal(t, 1, withdrawals)

	events, err := timeline.NewService(store, repos.Timeline).List(ctx, timeline.AccountStream(account), 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, timeline.FundsWithdrawn, events[0].Type)

	_, err = svc.Withdraw(ctx, account)
	require.ErrorIs(t, err, ledger.ErrNothingToWithdraw)
}

func TestWithdrawTransferFailureKeepsBalance(t *testing.T) {
	failing := ledger.TransferFunc(func(ctx context.Context, tx pgx.Tx, to common.Address, amount *uint256.Int) error {
		return errors.New("recipient rejected")
	})
	store, repos, svc := newLedger(t, failing)
	fund(t, store, svc, 500)
	ctx := context.Background()

	_, err := svc.Withdraw(ctx, account)
	require.ErrorIs(t, err, ledger.ErrTransferFailed)

	bal, err := svc.Balance(ctx, account)
	require.NoError(t, err)
	require.Equal(t, uint64(500), bal.Uint64())
	custody, err := svc.Custody(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(500), custody.Uint64())

	events, err := timeline.NewService(store, repos.Timeline).List(ctx, timeline.AccountStream(account), 0, 10)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestWithdrawZeroAccount(t *testing.T) {
	_, _, svc := newLedger(t, nil)
	_, err := svc.Withdraw(context.Background(), common.Address{})
	require.ErrorIs(t, err, ledger.ErrZeroAccount)
}

func TestCreditRejectsZeroAccount(t *testing.T) {
	store, _, svc := newLedger(t, nil)
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	err = svc.Credit(ctx, tx, jobID, common.Address{}, uint256.NewInt(1), ledger.ReasonRefund)
	require.ErrorIs(t, err, ledger.ErrZeroAccount)
}
