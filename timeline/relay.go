package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"reviewescrow/db"
)

// RelayObserver receives one result per delivery attempt.
type RelayObserver interface {
	ObserveOutbox(result string)
}

// RelayConfig tunes the outbox relay.
type RelayConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	// Lease bounds how long a claimed batch is hidden from other relays.
	Lease time.Duration
}

// Relay drains pending outbox rows to a Publisher. Claimed rows carry a
// lease for the batch so several relays can run side by side.
type Relay struct {
	pool     db.TxBeginner
	repo     Repository
	pub      Publisher
	cfg      RelayConfig
	logger   *slog.Logger
	observer RelayObserver
	now      func() time.Time
}

func NewRelay(pool db.TxBeginner, repo Repository, pub Publisher, cfg RelayConfig, logger *slog.Logger) *Relay {
	if repo == nil {
		repo = NewRepository()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{pool: pool, repo: repo, pub: pub, cfg: cfg, logger: logger, now: time.Now}
}

func (r *Relay) WithObserver(o RelayObserver) *Relay {
	r.observer = o
	return r
}

func (r *Relay) WithClock(now func() time.Time) *Relay {
	r.now = now
	return r
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "outbox relay batch failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce publishes one batch and returns how many messages were delivered.
// The batch is leased in one short tx and its results recorded in another;
// no tx is open while the publisher runs.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	msgs, err := r.claim(ctx)
	if err != nil || len(msgs) == 0 {
		return 0, err
	}

	results := make([]delivery, 0, len(msgs))
	for _, msg := range msgs {
		err := r.pub.Publish(ctx, msg)
		results = append(results, delivery{msg: msg, at: r.now().UTC(), err: err})
	}

	// Recorded even when ctx was cancelled mid-batch.
	if err := r.record(context.WithoutCancel(ctx), results); err != nil {
		return 0, err
	}

	delivered := 0
	for _, d := range results {
		if d.err == nil {
			r.observe("published")
			delivered++
			continue
		}
		dead := r.dead(d.msg)
		result := "failed"
		if dead {
			result = "dead"
		}
		r.observe(result)
		r.logger.WarnContext(ctx, "outbox publish failed", "id", d.msg.ID, "topic", d.msg.Topic, "attempts", d.msg.Attempts+1, "dead", dead, "error", d.err)
	}
	return delivered, nil
}

type delivery struct {
	msg Message
	at  time.Time
	err error
}

func (r *Relay) dead(msg Message) bool {
	return msg.Attempts+1 >= r.cfg.MaxAttempts
}

func (r *Relay) claim(ctx context.Context) ([]Message, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("timeline: begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := r.now().UTC()
	msgs, err := r.repo.ClaimPending(ctx, tx, r.cfg.BatchSize, now, now.Add(r.cfg.Lease))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("timeline: commit claim tx: %w", err)
	}
	return msgs, nil
}

func (r *Relay) record(ctx context.Context, results []delivery) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("timeline: begin record tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, d := range results {
		if d.err == nil {
			err = r.repo.MarkProcessed(ctx, tx, d.msg.ID, d.at)
		} else {
			err = r.repo.MarkFailed(ctx, tx, d.msg.ID, d.at, r.dead(d.msg))
		}
		if err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("timeline: commit record tx: %w", err)
	}
	return nil
}

func (r *Relay) observe(result string) {
	if r.observer != nil {
		r.observer.ObserveOutbox(result)
	}
}
