package params_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"reviewescrow/memstore"
	"reviewescrow/params"
	"reviewescrow/registry"
	"reviewescrow/timeline"
)

var (
	owner = common.HexToAddress("0x0a")
	next  = common.HexToAddress("0x0b")
	arb   = common.HexToAddress("0xb1")
)

func bootstrap(t *testing.T) (*params.Service, *registry.Service) {
	t.Helper()
	store := memstore.New()
	repos := store.Repositories()
	events := timeline.NewWriter(repos.Timeline)
	svc := params.NewService(store, repos.Params, repos.Registry, events)
	_, err := svc.Bootstrap(context.Background(), params.Params{
		Owner:          owner,
		FeeBps:         250,
		AcceptWindow:   time.Hour,
		SubmitWindow:   2 * time.Hour,
		VoteWindow:     3 * time.Hour,
		DisputeDeposit: uint256.NewInt(10),
	})
	require.NoError(t, err)
	return svc, registry.NewService(store, repos.Registry, repos.Params, events)
}

func TestBootstrapKeepsExistingRow(t *testing.T) {
	svc, _ := bootstrap(t)
	got, err := svc.Bootstrap(context.Background(), params.Params{
		Owner:        next,
		FeeBps:       900,
		AcceptWindow: time.Hour,
		SubmitWindow: time.Hour,
		VoteWindow:   time.Hour,
	})
	require.NoError(t, err)
	require.Equal(t, owner, got.Owner)
	require.Equal(t, uint16(250), got.FeeBps)
}

func TestUpdateIsOwnerOnly(t *testing.T) {
	svc, _ := bootstrap(t)
	ctx := context.Background()
	current, err := svc.Get(ctx)
	require.NoError(t, err)

	current.FeeBps = 1001
	_, err = svc.Update(ctx, owner, current)
	require.ErrorIs(t, err, params.ErrInvalid)

	current.FeeBps = 1000
	_, err = svc.Update(ctx, next, current)
	require.ErrorIs(t, err, params.ErrUnauthorized)

	current.Owner = next
	updated, err := svc.Update(ctx, owner, current)
	require.NoError(t, err)
	require.Equal(t, owner, updated.Owner)
	require.Equal(t, uint16(1000), updated.FeeBps)
}

func TestTransferOwnership(t *testing.T) {
	svc, reg := bootstrap(t)
	ctx := context.Background()
	require.NoError(t, reg.SetArbitrator(ctx, owner, arb, true))

	_, err := svc.TransferOwnership(ctx, owner, arb)
	require.ErrorIs(t, err, params.ErrOwnerIsArbitrator)
	_, err = svc.TransferOwnership(ctx, owner, common.Address{})
	require.ErrorIs(t, err, params.ErrInvalid)

	p, err := svc.TransferOwnership(ctx, owner, next)
	require.NoError(t, err)
	require.Equal(t, next, p.Owner)

	require.ErrorIs(t, reg.SetReviewer(ctx, owner, arb, true), registry.ErrUnauthorized)
	require.NoError(t, reg.SetReviewer(ctx, next, arb, true))
}
