package memstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"reviewescrow/timeline"
)

// Timeline implements timeline.Repository.
type Timeline struct {
	store *Store
}

func (r *Timeline) Append(ctx context.Context, tx pgx.Tx, ev *timeline.Event) error {
	if ev.Stream == "" || ev.Type == "" {
		return timeline.ErrInvalidEvent
	}
	st, t := r.store.write(tx)
	body, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	stored := *ev
	if err := json.Unmarshal(body, &stored.Payload); err != nil {
		return err
	}
	prevSeq := st.eventSeq
	t.onRollback(undoKey(st.events, ev.Stream))
	t.onRollback(func() { st.eventSeq = prevSeq })
	st.eventSeq++
	stored.ID = st.eventSeq
	stored.Seq = int64(len(st.events[ev.Stream]) + 1)
	st.events[ev.Stream] = append(st.events[ev.Stream], stored)
	ev.ID, ev.Seq = stored.ID, stored.Seq
	return nil
}

func (r *Timeline) List(ctx context.Context, tx pgx.Tx, stream string, afterSeq int64, limit int) ([]timeline.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	out := make([]timeline.Event, 0, 16)
	for _, ev := range r.store.live(tx).events[stream] {
		if ev.Seq <= afterSeq {
			continue
		}
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *Timeline) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload []byte) error {
	st, t := r.store.write(tx)
	n := len(st.outbox)
	id := uuid.NewString()
	t.onRollback(func() { st.outbox = st.outbox[:n] })
	t.onRollback(undoKey(st.outboxIdx, id))
	st.outboxIdx[id] = n
	st.outbox = append(st.outbox, timeline.Message{
		ID:        id,
		Topic:     topic,
		Payload:   append(json.RawMessage(nil), payload...),
		Status:    timeline.MessagePending,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (r *Timeline) ClaimPending(ctx context.Context, tx pgx.Tx, limit int, now, until time.Time) ([]timeline.Message, error) {
	st, t := r.store.write(tx)
	prevHead := st.outboxHead
	t.onRollback(func() { st.outboxHead = prevHead })
	for st.outboxHead < len(st.outbox) && st.outbox[st.outboxHead].Status != timeline.MessagePending {
		st.outboxHead++
	}
	var out []timeline.Message
	for i := st.outboxHead; i < len(st.outbox); i++ {
		m := &st.outbox[i]
		if m.Status != timeline.MessagePending {
			continue
		}
		if m.ClaimedUntil != nil && m.ClaimedUntil.After(now) {
			continue
		}
		t.onRollback(restoreMessage(st, i))
		lease := until
		m.ClaimedUntil = &lease
		out = append(out, *m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *Timeline) MarkProcessed(ctx context.Context, tx pgx.Tx, id string, at time.Time) error {
	r.update(tx, id, func(m *timeline.Message) {
		m.Attempts++
		m.Status = timeline.MessageProcessed
		m.ClaimedUntil = nil
	})
	return nil
}

func (r *Timeline) MarkFailed(ctx context.Context, tx pgx.Tx, id string, at time.Time, dead bool) error {
	r.update(tx, id, func(m *timeline.Message) {
		m.Attempts++
		m.ClaimedUntil = nil
		if dead {
			m.Status = timeline.MessageDead
		}
	})
	return nil
}

func (r *Timeline) update(tx pgx.Tx, id string, fn func(*timeline.Message)) {
	st, t := r.store.write(tx)
	i, ok := st.outboxIdx[id]
	if !ok {
		return
	}
	t.onRollback(restoreMessage(st, i))
	fn(&st.outbox[i])
}

func restoreMessage(st *state, i int) func() {
	prev := st.outbox[i]
	return func() { st.outbox[i] = prev }
}

// Outbox returns a copy of every outbox message, for tests and tooling.
func (r *Timeline) Outbox() []timeline.Message {
	var out []timeline.Message
	r.store.view(func(st *state) {
		out = append(out, st.outbox...)
	})
	return out
}
