package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
)

// Emitter appends an event and its outbox message inside the caller's
// transaction.
type Emitter interface {
	Emit(ctx context.Context, tx pgx.Tx, stream string, typ EventType, actor common.Address, payload map[string]any) (Event, error)
}

// Writer is the default Emitter.
type Writer struct {
	repo Repository
	now  func() time.Time
}

func NewWriter(repo Repository) *Writer {
	if repo == nil {
		repo = NewRepository()
	}
	return &Writer{repo: repo, now: time.Now}
}

func (w *Writer) WithClock(now func() time.Time) *Writer {
	w.now = now
	return w
}

func (w *Writer) Emit(ctx context.Context, tx pgx.Tx, stream string, typ EventType, actor common.Address, payload map[string]any) (Event, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	ev := Event{
		Stream:    stream,
		Type:      typ,
		Actor:     actor,
		Payload:   payload,
		CreatedAt: w.now().UTC().Truncate(time.Second),
	}
	if err := w.repo.Append(ctx, tx, &ev); err != nil {
		return Event{}, err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return Event{}, fmt.Errorf("timeline: marshal outbox payload: %w", err)
	}
	if err := w.repo.Enqueue(ctx, tx, typ.Topic(), body); err != nil {
		return Event{}, err
	}
	return ev, nil
}
