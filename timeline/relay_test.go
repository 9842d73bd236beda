package timeline_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"reviewescrow/logging"
	"reviewescrow/memstore"
	"reviewescrow/timeline"
)

type flakyPublisher struct {
	published []string
}

func (p *flakyPublisher) Publish(_ context.Context, msg timeline.Message) error {
	if msg.Topic == "broken" {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, msg.Topic)
	return nil
}

type countingObserver map[string]int

func (o countingObserver) ObserveOutbox(result string) { o[result]++ }

func enqueue(t *testing.T, store *memstore.Store, repo timeline.Repository, topics ...string) {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	for _, topic := range topics {
		require.NoError(t, repo.Enqueue(ctx, tx, topic, []byte(`{"n":1}`)))
	}
	require.NoError(t, tx.Commit(ctx))
}

func TestRelayMarksDeadAfterMaxAttempts(t *testing.T) {
	store := memstore.New()
	repo := store.Repositories().Timeline
	enqueue(t, store, repo, "ledger.withdrawal", "broken")

	pub := &flakyPublisher{}
	obs := countingObserver{}
	relay := timeline.NewRelay(store, repo, pub, timeline.RelayConfig{BatchSize: 10, MaxAttempts: 2}, logging.Discard()).
		WithObserver(obs)

	ctx := context.Background()
	n, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	require.Equal(t, []string{"ledger.withdrawal"}, pub.published)
	require.Equal(t, countingObserver{"published": 1, "failed": 1, "dead": 1}, obs)

	status := map[string]timeline.MessageStatus{}
	for _, m := range repo.Outbox() {
		status[m.Topic] = m.Status
	}
	require.Equal(t, timeline.MessageProcessed, status["ledger.withdrawal"])
	require.Equal(t, timeline.MessageDead, status["broken"])
}

type blockingPublisher struct {
	started chan struct{}
	release chan struct{}
}

func (p *blockingPublisher) Publish(ctx context.Context, _ timeline.Message) error {
	close(p.started)
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestRelayPublishesOutsideTransaction(t *testing.T) {
	store := memstore.New()
	repo := store.Repositories().Timeline
	enqueue(t, store, repo, "ledger.withdrawal")

	pub := &blockingPublisher{started: make(chan struct{}), release: make(chan struct{})}
	release := sync.OnceFunc(func() { close(pub.release) })
	t.Cleanup(release)
	relay := timeline.NewRelay(store, repo, pub, timeline.RelayConfig{BatchSize: 10}, logging.Discard())

	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		_, err := relay.RunOnce(ctx)
		done <- err
	}()
	<-pub.started

	began := make(chan error, 1)
	go func() {
		tx, err := store.Begin(ctx)
		if err == nil {
			err = tx.Rollback(ctx)
		}
		began <- err
	}()
	select {
	case err := <-began:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("store stayed locked while the relay was publishing")
	}

	release()
	require.NoError(t, <-done)
	out := repo.Outbox()
	require.Len(t, out, 1)
	require.Equal(t, timeline.MessageProcessed, out[0].Status)
	require.Nil(t, out[0].ClaimedUntil)
}

func TestRelaySkipsLeasedMessagesUntilExpiry(t *testing.T) {
	store := memstore.New()
	repo := store.Repositories().Timeline
	enqueue(t, store, repo, "ledger.withdrawal")

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// A relay that claimed the batch and never recorded the outcome.
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	claimed, err := repo.ClaimPending(ctx, tx, 10, now, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, tx.Commit(ctx))

	pub := &flakyPublisher{}
	clock := now
	relay := timeline.NewRelay(store, repo, pub, timeline.RelayConfig{BatchSize: 10, Lease: time.Minute}, logging.Discard()).
		WithClock(func() time.Time { return clock })

	n, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, pub.published)

	clock = now.Add(time.Minute + time.Second)
	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"ledger.withdrawal"}, pub.published)
}

func TestRedisPublisher(t *testing.T) {
	addr := os.Getenv("ESCROW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ESCROW_TEST_REDIS_ADDR is empty; set it to a live Redis to run this test")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	stream := "escrow.test." + t.Name()
	t.Cleanup(func() { rdb.Del(context.Background(), stream) })

	pub := timeline.NewRedisPublisher(rdb, stream, 10)
	require.NoError(t, pub.Publish(ctx, timeline.Message{ID: "m-1", Topic: "ledger.withdrawal", Payload: []byte(`{"amount":"5"}`)}))

	entries, err := rdb.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "ledger.withdrawal", entries[0].Values["topic"])
	require.Equal(t, `{"amount":"5"}`, entries[0].Values["payload"])
}
