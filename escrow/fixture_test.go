package escrow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"reviewescrow/app"
	"reviewescrow/dispute"
	"reviewescrow/escrow"
	"reviewescrow/ledger"
	"reviewescrow/logging"
	"reviewescrow/memstore"
	"reviewescrow/params"
)

const (
	acceptWindow = 72 * time.Hour
	submitWindow = 7 * 24 * time.Hour
	voteWindow   = 48 * time.Hour
)

var (
	ownerAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	clientAddr   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	reviewerAddr = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	otherRevAddr = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	outsider     = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	arbAddrs     = [4]common.Address{
		common.HexToAddress("0x00000000000000000000000000000000000000b1"),
		common.HexToAddress("0x00000000000000000000000000000000000000b2"),
		common.HexToAddress("0x00000000000000000000000000000000000000b3"),
		common.HexToAddress("0x00000000000000000000000000000000000000b4"),
	}
)

func wei(s string) *uint256.Int {
	return uint256.MustFromDecimal(s)
}

// Amounts in 1e18 units.
var (
	oneUnit = wei("1000000000000000000")
	deposit = wei("100000000000000000")
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *memstore.Store
	app   *app.App
	svc   *escrow.Service
	clock *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, app.Options{})
}

func newFixtureWith(t *testing.T, opts app.Options) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := memstore.New()
	opts.Clock = clock.Now
	opts.Logger = logging.Discard()
	if opts.JWTSecret == "" {
		opts.JWTSecret = "test-secret"
	}
	a := app.New(store, app.MemoryRepositories(store), opts)

	ctx := context.Background()
	_, err := a.Params.Bootstrap(ctx, params.Params{
		Owner:          ownerAddr,
		FeeBps:         500,
		AcceptWindow:   acceptWindow,
		SubmitWindow:   submitWindow,
		VoteWindow:     voteWindow,
		DisputeDeposit: deposit,
	})
	require.NoError(t, err)
	require.NoError(t, a.Registry.SetReviewer(ctx, ownerAddr, reviewerAddr, true))
	require.NoError(t, a.Registry.SetReviewer(ctx, ownerAddr, otherRevAddr, true))
	for _, arb := range arbAddrs {
		require.NoError(t, a.Registry.SetArbitrator(ctx, ownerAddr, arb, true))
	}

	return &fixture{t: t, ctx: ctx, store: store, app: a, svc: a.Escrow, clock: clock}
}

func (f *fixture) createJob(reviewer common.Address) *escrow.Job {
	f.t.Helper()
	job, err := f.svc.CreateJob(f.ctx, escrow.CreateJobParams{
		Client:   clientAddr,
		Reviewer: reviewer,
		Amount:   oneUnit,
	})
	require.NoError(f.t, err)
	return job
}

// submittedJob returns a job accepted by reviewerAddr with a report in.
func (f *fixture) submittedJob() *escrow.Job {
	f.t.Helper()
	job := f.createJob(common.Address{})
	_, err := f.svc.Accept(f.ctx, job.ID, reviewerAddr)
	require.NoError(f.t, err)
	f.clock.Advance(time.Hour)
	job, err = f.svc.SubmitReport(f.ctx, job.ID, reviewerAddr, escrow.ReportHash([]byte("report v1")))
	require.NoError(f.t, err)
	return job
}

func (f *fixture) panel() dispute.Panel {
	return dispute.Panel{arbAddrs[0], arbAddrs[1], arbAddrs[2]}
}

// disputedJob opens a dispute on a fresh submitted job.
func (f *fixture) disputedJob() (*escrow.Job, *dispute.Core) {
	f.t.Helper()
	job := f.submittedJob()
	core, err := f.svc.OpenDispute(f.ctx, escrow.OpenDisputeParams{
		JobID:       job.ID,
		Caller:      clientAddr,
		Arbitrators: f.panel(),
		Deposit:     deposit,
	})
	require.NoError(f.t, err)
	return job, core
}

func (f *fixture) vote(id common.Hash, arb common.Address, outcome dispute.Outcome, bps uint16) error {
	_, err := f.svc.Vote(f.ctx, escrow.VoteParams{JobID: id, Caller: arb, Outcome: outcome, ReviewerBps: bps})
	return err
}

func (f *fixture) balance(account common.Address) *uint256.Int {
	f.t.Helper()
	bal, err := f.app.Ledger.Balance(f.ctx, account)
	require.NoError(f.t, err)
	return bal
}

func (f *fixture) requireBalance(account common.Address, want string) {
	f.t.Helper()
	require.Equal(f.t, want, f.balance(account).Dec(), "balance of %s", account.Hex())
}

// requireConserved checks that everything credited for the job equals the
// amount plus every deposit collected for it.
func (f *fixture) requireConserved(id common.Hash, want *uint256.Int) {
	f.t.Helper()
	credits, err := f.app.Ledger.CreditsForJob(f.ctx, id)
	require.NoError(f.t, err)
	require.Equal(f.t, want.Dec(), ledger.Sum(credits).Dec())
}

func requireKind(t *testing.T, err error, kind escrow.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, escrow.KindOf(err), "error: %v", err)
}
