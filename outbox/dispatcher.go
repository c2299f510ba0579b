// Package outbox drains the transactional outbox written by workflow actions
// and hands each message to a publisher. Delivery is at-least-once; rows are
// marked sent only after a successful publish.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Message is one pending outbox row.
type Message struct {
	ID        string
	Topic     string
	Payload   []byte
	Attempts  int
	CreatedAt time.Time
}

// Dispatcher polls pending rows and publishes them in creation order.
type Dispatcher struct {
	pool      *pgxpool.Pool
	publisher Publisher
	log       *slog.Logger
	interval  time.Duration
	batchSize int
}

// NewDispatcher builds a dispatcher polling at the given interval.
func NewDispatcher(pool *pgxpool.Pool, publisher Publisher, log *slog.Logger, interval time.Duration) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Dispatcher{
		pool:      pool,
		publisher: publisher,
		log:       log,
		interval:  interval,
		batchSize: 50,
	}
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := d.DrainOnce(ctx); err != nil {
				d.log.Error("outbox drain failed", "error", err)
			} else if n > 0 {
				d.log.Debug("outbox drained", "messages", n)
			}
		}
	}
}

// DrainOnce publishes one batch of pending messages and returns how many were
// delivered. A publish failure increments the row's attempt counter and stops
// the batch so ordering within the poll is preserved.
func (d *Dispatcher) DrainOnce(ctx context.Context) (int, error) {
	const pendingSQL = `
		SELECT id, topic, payload, attempts, created_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
	`

	rows, err := d.pool.Query(ctx, pendingSQL, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("outbox: select pending: %w", err)
	}

	messages := make([]Message, 0, d.batchSize)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("outbox: scan pending: %w", err)
		}
		messages = append(messages, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("outbox: iterate pending: %w", err)
	}

	sent := 0
	for _, m := range messages {
		if err := d.publisher.Publish(ctx, m.Topic, m.Payload); err != nil {
			if _, uerr := d.pool.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1 WHERE id = $1`, m.ID); uerr != nil {
				d.log.Error("outbox attempt bump failed", "message_id", m.ID, "error", uerr)
			}
			return sent, fmt.Errorf("outbox: publish %s: %w", m.Topic, err)
		}
		if _, err := d.pool.Exec(ctx, `UPDATE outbox SET status = 'sent', attempts = attempts + 1 WHERE id = $1`, m.ID); err != nil {
			return sent, fmt.Errorf("outbox: mark sent: %w", err)
		}
		sent++
	}
	return sent, nil
}
