package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"reviewescrow/db"
)

// Repository stores the event log and the outbox.
type Repository interface {
	Append(ctx context.Context, tx pgx.Tx, ev *Event) error
	List(ctx context.Context, tx pgx.Tx, stream string, afterSeq int64, limit int) ([]Event, error)
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload []byte) error
	ClaimPending(ctx context.Context, tx pgx.Tx, limit int, now, until time.Time) ([]Message, error)
	MarkProcessed(ctx context.Context, tx pgx.Tx, id string, at time.Time) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id string, at time.Time, dead bool) error
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

// Append assigns the next seq in the stream. The advisory lock serialises
// writers on the same stream so seq never collides.
func (r *PGRepository) Append(ctx context.Context, tx pgx.Tx, ev *Event) error {
	if ev.Stream == "" || ev.Type == "" {
		return ErrInvalidEvent
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ev.Stream); err != nil {
		return fmt.Errorf("timeline: lock stream: %w", err)
	}
	body, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("timeline: marshal payload: %w", err)
	}
	const q = `
INSERT INTO escrow_events (stream, seq, type, actor, payload, created_at)
SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4::jsonb, $5
FROM escrow_events
WHERE stream = $1
RETURNING id, seq
`
	if err := tx.QueryRow(ctx, q, ev.Stream, string(ev.Type), db.NullableAddress(ev.Actor), body, ev.CreatedAt).
		Scan(&ev.ID, &ev.Seq); err != nil {
		return fmt.Errorf("timeline: insert event: %w", err)
	}
	return nil
}

func (r *PGRepository) List(ctx context.Context, tx pgx.Tx, stream string, afterSeq int64, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const q = `
SELECT id, stream, seq, type, actor, payload, created_at
FROM escrow_events
WHERE stream = $1 AND seq > $2
ORDER BY seq
LIMIT $3
`
	rows, err := tx.Query(ctx, q, stream, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("timeline: list: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, 16)
	for rows.Next() {
		var (
			ev    Event
			typ   string
			actor []byte
			body  []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Stream, &ev.Seq, &typ, &actor, &body, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("timeline: scan: %w", err)
		}
		ev.Type = EventType(typ)
		ev.Actor = db.Address(actor)
		ev.CreatedAt = ev.CreatedAt.UTC()
		if len(body) > 0 {
			if err := json.Unmarshal(body, &ev.Payload); err != nil {
				return nil, fmt.Errorf("timeline: decode payload: %w", err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("timeline: iterate: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload []byte) error {
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, payload); err != nil {
		return fmt.Errorf("timeline: enqueue outbox: %w", err)
	}
	return nil
}

// ClaimPending leases up to limit pending rows until the given time. Rows
// under an unexpired lease are skipped, so a relay that died mid-batch only
// delays its messages until the lease runs out.
func (r *PGRepository) ClaimPending(ctx context.Context, tx pgx.Tx, limit int, now, until time.Time) ([]Message, error) {
	const q = `
WITH claimable AS (
    SELECT id
    FROM outbox
    WHERE status = 'pending' AND (claimed_until IS NULL OR claimed_until <= $2)
    ORDER BY created_at
    LIMIT $1
    FOR UPDATE SKIP LOCKED
)
UPDATE outbox o
SET claimed_until = $3
FROM claimable
WHERE o.id = claimable.id
RETURNING o.id::text, o.topic, o.payload, o.status, o.attempts, o.created_at, o.claimed_until
`
	rows, err := tx.Query(ctx, q, limit, now, until)
	if err != nil {
		return nil, fmt.Errorf("timeline: claim outbox: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var (
			msg    Message
			status string
		)
		if err := rows.Scan(&msg.ID, &msg.Topic, &msg.Payload, &status, &msg.Attempts, &msg.CreatedAt, &msg.ClaimedUntil); err != nil {
			return nil, fmt.Errorf("timeline: scan outbox: %w", err)
		}
		msg.Status = MessageStatus(status)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("timeline: iterate outbox: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *PGRepository) MarkProcessed(ctx context.Context, tx pgx.Tx, id string, at time.Time) error {
	const q = `
UPDATE outbox
SET status = 'processed', attempts = attempts + 1, last_attempt = $2, claimed_until = NULL
WHERE id = $1::uuid
`
	if _, err := tx.Exec(ctx, q, id, at); err != nil {
		return fmt.Errorf("timeline: mark processed: %w", err)
	}
	return nil
}

func (r *PGRepository) MarkFailed(ctx context.Context, tx pgx.Tx, id string, at time.Time, dead bool) error {
	const q = `
UPDATE outbox
SET attempts = attempts + 1,
    last_attempt = $2,
    claimed_until = NULL,
    status = CASE WHEN $3 THEN 'dead' ELSE status END
WHERE id = $1::uuid
`
	if _, err := tx.Exec(ctx, q, id, at, dead); err != nil {
		return fmt.Errorf("timeline: mark failed: %w", err)
	}
	return nil
}
