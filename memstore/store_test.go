package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"reviewescrow/dispute"
	"reviewescrow/escrow"
	"reviewescrow/ledger"
	"reviewescrow/params"
	"reviewescrow/timeline"
)

func TestRollbackRestoresSnapshot(t *testing.T) {
	s := New()
	repos := s.Repositories()
	ctx := context.Background()
	account := common.HexToAddress("0x0e")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, repos.Ledger.AddCustody(ctx, tx, uint256.NewInt(10)))
	require.NoError(t, repos.Ledger.Credit(ctx, tx, ledger.Credit{Account: account, Amount: uint256.NewInt(10)}))
	require.NoError(t, tx.Commit(ctx))

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	taken, err := repos.Ledger.TakeBalance(ctx, tx, account)
	require.NoError(t, err)
	require.Equal(t, uint64(10), taken.Uint64())
	require.NoError(t, repos.Ledger.SubCustody(ctx, tx, taken))
	require.ErrorIs(t, repos.Ledger.SubCustody(ctx, tx, uint256.NewInt(1)), ledger.ErrCustodyShortfall)
	require.NoError(t, tx.Rollback(ctx))
	require.ErrorIs(t, tx.Commit(ctx), pgx.ErrTxClosed)

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	bal, err := repos.Ledger.Balance(ctx, tx, account)
	require.NoError(t, err)
	require.Equal(t, uint64(10), bal.Uint64())
	custody, err := repos.Ledger.Custody(ctx, tx)
	require.NoError(t, err)
	require.Equal(t, uint64(10), custody.Uint64())
}

func TestFinishedTxPanics(t *testing.T) {
	s := New()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	require.Panics(t, func() {
		_, _ = s.Repositories().Jobs.PeekNonce(ctx, tx, common.Address{})
	})
}

func TestJobsNonceAndList(t *testing.T) {
	s := New()
	jobs := s.Repositories().Jobs
	ctx := context.Background()
	client := common.HexToAddress("0x0c")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	for i := uint64(0); i < 3; i++ {
		n, err := jobs.NextNonce(ctx, tx, client)
		require.NoError(t, err)
		require.Equal(t, i, n)
		require.NoError(t, jobs.Insert(ctx, tx, &escrow.Job{
			ID:     escrow.JobID(client, n),
			Client: client,
			Nonce:  n,
			Amount: uint256.NewInt(1),
			Status: escrow.StatusOpen,
		}))
	}
	peek, err := jobs.PeekNonce(ctx, tx, client)
	require.NoError(t, err)
	require.Equal(t, uint64(3), peek)

	listed, err := jobs.List(ctx, tx, escrow.Filter{Client: client, Limit: 2})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	none, err := jobs.List(ctx, tx, escrow.Filter{Status: escrow.StatusReleased})
	require.NoError(t, err)
	require.Empty(t, none)
	require.NoError(t, tx.Commit(ctx))
}

func TestTimelineSeqPerStream(t *testing.T) {
	s := New()
	tl := s.Repositories().Timeline
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	for _, stream := range []string{"a", "b", "a"} {
		ev := &timeline.Event{Stream: stream, Type: timeline.JobCreated, Payload: map[string]any{"n": 1}}
		require.NoError(t, tl.Append(ctx, tx, ev))
	}
	events, err := tl.List(ctx, tx, "a", 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, int64(2), events[1].Seq)
	require.Equal(t, int64(3), events[1].ID)
	require.ErrorIs(t, tl.Append(ctx, tx, &timeline.Event{Type: timeline.JobCreated}), timeline.ErrInvalidEvent)
	require.NoError(t, tx.Commit(ctx))
}

func TestRollbackUndoesEveryMutation(t *testing.T) {
	s := New()
	repos := s.Repositories()
	ctx := context.Background()
	client := common.HexToAddress("0x0c")
	reviewer := common.HexToAddress("0x0e")
	arb := common.HexToAddress("0xa1")
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, repos.Timeline.Append(ctx, tx, &timeline.Event{Stream: "a", Type: timeline.JobCreated}))
	require.NoError(t, repos.Timeline.Enqueue(ctx, tx, "kept", []byte(`{}`)))
	_, err = repos.Registry.AddArbitrator(ctx, tx, arb)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	n, err := repos.Jobs.NextNonce(ctx, tx, client)
	require.NoError(t, err)
	id := escrow.JobID(client, n)
	require.NoError(t, repos.Jobs.Insert(ctx, tx, &escrow.Job{ID: id, Client: client, Amount: uint256.NewInt(5), Status: escrow.StatusOpen}))
	require.NoError(t, repos.Disputes.Insert(ctx, tx, &dispute.Core{JobID: id}))
	require.NoError(t, repos.Ledger.Credit(ctx, tx, ledger.Credit{JobID: id, Account: reviewer, Amount: uint256.NewInt(5)}))
	require.NoError(t, repos.Ledger.AddCustody(ctx, tx, uint256.NewInt(5)))
	_, err = repos.Registry.SetReviewer(ctx, tx, reviewer, true)
	require.NoError(t, err)
	_, err = repos.Registry.RemoveArbitrator(ctx, tx, arb)
	require.NoError(t, err)
	_, err = repos.Params.Insert(ctx, tx, params.Params{Owner: client, DisputeDeposit: uint256.NewInt(1)})
	require.NoError(t, err)
	require.NoError(t, repos.Timeline.Append(ctx, tx, &timeline.Event{Stream: "a", Type: timeline.JobAccepted}))
	require.NoError(t, repos.Timeline.Append(ctx, tx, &timeline.Event{Stream: "b", Type: timeline.JobCreated}))
	claimed, err := repos.Timeline.ClaimPending(ctx, tx, 10, now, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, repos.Timeline.MarkProcessed(ctx, tx, claimed[0].ID, now))
	require.NoError(t, repos.Timeline.Enqueue(ctx, tx, "dropped", []byte(`{}`)))
	require.NoError(t, tx.Rollback(ctx))

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	peek, err := repos.Jobs.PeekNonce(ctx, tx, client)
	require.NoError(t, err)
	require.Zero(t, peek)
	_, err = repos.Jobs.Get(ctx, tx, id)
	require.ErrorIs(t, err, escrow.ErrNotFound)
	listed, err := repos.Jobs.List(ctx, tx, escrow.Filter{})
	require.NoError(t, err)
	require.Empty(t, listed)
	_, err = repos.Disputes.Get(ctx, tx, id)
	require.ErrorIs(t, err, dispute.ErrNotFound)
	credits, err := repos.Ledger.CreditsForJob(ctx, tx, id)
	require.NoError(t, err)
	require.Empty(t, credits)
	bal, err := repos.Ledger.Balance(ctx, tx, reviewer)
	require.NoError(t, err)
	require.True(t, bal.IsZero())
	custody, err := repos.Ledger.Custody(ctx, tx)
	require.NoError(t, err)
	require.True(t, custody.IsZero())
	ok, err := repos.Registry.IsReviewer(ctx, tx, reviewer)
	require.NoError(t, err)
	require.False(t, ok)
	arbs, err := repos.Registry.Arbitrators(ctx, tx)
	require.NoError(t, err)
	require.Equal(t, []common.Address{arb}, arbs)
	_, err = repos.Params.Get(ctx, tx)
	require.ErrorIs(t, err, params.ErrNotBootstrapped)

	events, err := repos.Timeline.List(ctx, tx, "a", 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	events, err = repos.Timeline.List(ctx, tx, "b", 0, 10)
	require.NoError(t, err)
	require.Empty(t, events)
	ev := &timeline.Event{Stream: "c", Type: timeline.JobCreated}
	require.NoError(t, repos.Timeline.Append(ctx, tx, ev))
	require.Equal(t, int64(2), ev.ID)
	require.NoError(t, tx.Rollback(ctx))

	out := repos.Timeline.Outbox()
	require.Len(t, out, 1)
	require.Equal(t, "kept", out[0].Topic)
	require.Equal(t, timeline.MessagePending, out[0].Status)
	require.Zero(t, out[0].Attempts)
	require.Nil(t, out[0].ClaimedUntil)
}

func TestDisputeInsertRejectsDuplicate(t *testing.T) {
	s := New()
	disputes := s.Repositories().Disputes
	ctx := context.Background()
	id := common.HexToHash("0x01")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	require.NoError(t, disputes.Insert(ctx, tx, &dispute.Core{JobID: id}))

	err = disputes.Insert(ctx, tx, &dispute.Core{JobID: id})
	require.ErrorIs(t, err, dispute.ErrAlreadyOpen)
	require.Equal(t, escrow.KindInvalidStatus, escrow.KindOf(err))
}
