// Package memstore is an in-memory backend for every repository. A
// transaction holds the store lock from Begin until Commit or Rollback and
// works on the live state. Every mutation logs an undo step on the tx, and
// Rollback replays the log backwards.
package memstore

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"reviewescrow/auth"
	"reviewescrow/dispute"
	"reviewescrow/escrow"
	"reviewescrow/ledger"
	"reviewescrow/params"
	"reviewescrow/registry"
	"reviewescrow/timeline"
)

var errForeignTx = errors.New("memstore: transaction does not belong to this store")

type state struct {
	params      *params.Params
	reviewers   map[common.Address]bool
	arbitrators *registry.ArbitratorList
	nonces      map[common.Address]uint64
	jobs        map[common.Hash]*escrow.Job
	jobOrder    []common.Hash
	disputes    map[common.Hash]*dispute.Core
	votes       map[common.Hash][]dispute.Vote
	balances    map[common.Address]*uint256.Int
	credits     []ledger.Credit
	custody     *uint256.Int
	events      map[string][]timeline.Event
	eventSeq    int64
	outbox      []timeline.Message
	outboxIdx   map[string]int
	outboxHead  int
	credentials map[common.Address]auth.Credential
}

func newState() *state {
	return &state{
		reviewers:   make(map[common.Address]bool),
		arbitrators: registry.NewArbitratorList(),
		nonces:      make(map[common.Address]uint64),
		jobs:        make(map[common.Hash]*escrow.Job),
		disputes:    make(map[common.Hash]*dispute.Core),
		votes:       make(map[common.Hash][]dispute.Vote),
		balances:    make(map[common.Address]*uint256.Int),
		custody:     new(uint256.Int),
		events:      make(map[string][]timeline.Event),
		outboxIdx:   make(map[string]int),
		credentials: make(map[common.Address]auth.Credential),
	}
}

// undoKey records how to restore m[k] to its current value, including
// its absence.
func undoKey[K comparable, V any](m map[K]V, k K) func() {
	prev, had := m[k]
	return func() {
		if had {
			m[k] = prev
		} else {
			delete(m, k)
		}
	}
}

// Store is the in-memory database. Use it wherever a db.TxBeginner is
// expected and pass its repositories to the services.
type Store struct {
	mu    sync.Mutex
	state *state
}

func New() *Store {
	return &Store{state: newState()}
}

// Begin takes the store lock. The returned tx must be committed or rolled
// back to release it.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return &Tx{store: s}, nil
}

// view runs fn under the store lock without a transaction.
func (s *Store) view(fn func(*state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// live returns the state a repository call may read.
func (s *Store) live(tx pgx.Tx) *state {
	st, _ := s.write(tx)
	return st
}

// write returns the state together with the owning tx, on which the caller
// logs an undo step before each mutation.
func (s *Store) write(tx pgx.Tx) (*state, *Tx) {
	t, ok := tx.(*Tx)
	if !ok || t.store != s || t.done {
		panic(errForeignTx)
	}
	return s.state, t
}

// Tx implements pgx.Tx for the in-memory store. Only Commit and Rollback
// are meaningful; SQL methods panic.
type Tx struct {
	store *Store
	undo  []func()
	done  bool
}

func (t *Tx) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("memstore: nested transactions are not supported")
}

func (t *Tx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.undo = nil
	t.store.mu.Unlock()
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.store.mu.Unlock()
	return nil
}

func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("memstore: CopyFrom not supported")
}

func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("memstore: SendBatch not supported")
}

func (t *Tx) LargeObjects() pgx.LargeObjects {
	panic("memstore: LargeObjects not supported")
}

func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("memstore: Prepare not supported")
}

func (t *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("memstore: Exec not supported")
}

func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("memstore: Query not supported")
}

func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("memstore: QueryRow not supported")
}

func (t *Tx) Conn() *pgx.Conn {
	return nil
}

// Repositories bundles one repository per domain package, all backed by the
// same store.
type Repositories struct {
	Jobs        *Jobs
	Disputes    *Disputes
	Ledger      *Ledger
	Registry    *Registry
	Params      *Params
	Timeline    *Timeline
	Credentials *Credentials
}

// Repositories returns the repository set for s.
func (s *Store) Repositories() Repositories {
	return Repositories{
		Jobs:        &Jobs{store: s},
		Disputes:    &Disputes{store: s},
		Ledger:      &Ledger{store: s},
		Registry:    &Registry{store: s},
		Params:      &Params{store: s},
		Timeline:    &Timeline{store: s},
		Credentials: &Credentials{store: s},
	}
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
