// Package actors hosts the concurrent workloads the stress run throws at a
// live database. Each actor speaks SQL directly so contention happens at the
// row level, the same place the production repositories contend.
package actors

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomCode(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
	}
	return string(b)
}

// Requester keeps creating fresh pending inspection requests for the user.
func Requester(ctx context.Context, pool *pgxpool.Pool, userID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `INSERT INTO inspection_requests (user_id, customer_name, store_name, status, tracking_id)
                                   VALUES ($1, 'Stress Customer', 'Stress Store', 'pending', $2)`,
			userID, "STZ-"+randomCode(10))
		if err != nil {
			return fmt.Errorf("requester insert: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Assigner claims pending requests for the agent, racing other assigners for
// the same rows.
func Assigner(ctx context.Context, pool *pgxpool.Pool, agentID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var reqID string
		err = tx.QueryRow(ctx, `SELECT id FROM inspection_requests WHERE status='pending' LIMIT 1 FOR UPDATE SKIP LOCKED`).Scan(&reqID)
		if err == nil {
			_, err = tx.Exec(ctx, `UPDATE inspection_requests
                                    SET status='assigned', assigned_agent_id=$2, updated_at=now()
                                    WHERE id=$1 AND status='pending'`, reqID, agentID)
			if err == nil {
				_, _ = tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ('request.assigned', jsonb_build_object('request_id', $1))`, reqID)
			}
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Progressor advances assigned requests to in_progress with the previous
// status in the predicate, the same guarded UPDATE the workflow layer uses.
func Progressor(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `UPDATE inspection_requests
                                   SET status='in_progress', updated_at=now()
                                   WHERE id IN (SELECT id FROM inspection_requests WHERE status='assigned' LIMIT 1)
                                     AND status='assigned'`)
		if err != nil {
			return fmt.Errorf("progressor update: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Collector marks in_progress requests paid, writing the receipt columns and
// the outbox row in one transaction.
func Collector(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var reqID string
		err = tx.QueryRow(ctx, `SELECT id FROM inspection_requests
                                 WHERE status='in_progress' AND payment_received=false
                                 LIMIT 1 FOR UPDATE SKIP LOCKED`).Scan(&reqID)
		if err == nil {
			number := fmt.Sprintf("REC-%d", time.Now().UnixMilli())
			_, err = tx.Exec(ctx, `UPDATE inspection_requests
                                    SET payment_received=true,
                                        receipt_number=$2,
                                        receipt_verification_code=$3,
                                        receipt_issued_at=now(),
                                        receipt_data='{}'::jsonb,
                                        updated_at=now()
                                    WHERE id=$1`, reqID, number, randomCode(8))
			if err == nil {
				_, _ = tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ('request.payment_received', jsonb_build_object('request_id', $1))`, reqID)
			}
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// Completer finishes paid in_progress requests.
func Completer(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `UPDATE inspection_requests
                                   SET status='completed', updated_at=now()
                                   WHERE id IN (SELECT id FROM inspection_requests
                                                WHERE status='in_progress' AND payment_received=true LIMIT 1)
                                     AND status='in_progress'`)
		if err != nil {
			return fmt.Errorf("completer update: %w", err)
		}
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

// Canceller cancels a random non-terminal request.
func Canceller(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `UPDATE inspection_requests
                                   SET status='cancelled', updated_at=now()
                                   WHERE id IN (SELECT id FROM inspection_requests
                                                WHERE status IN ('pending','assigned','in_progress')
                                                ORDER BY random() LIMIT 1)
                                     AND status IN ('pending','assigned','in_progress')`)
		if err != nil {
			return fmt.Errorf("canceller update: %w", err)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks them sent.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			// simulate random failure
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1 WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='sent', attempts=attempts+1 WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}

// Verifier resolves recently issued verification codes the way the public
// lookup does.
func Verifier(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var code *string
		_ = pool.QueryRow(ctx, `SELECT receipt_verification_code FROM inspection_requests
                                 WHERE receipt_verification_code IS NOT NULL
                                 ORDER BY receipt_issued_at DESC LIMIT 1`).Scan(&code)
		if code != nil {
			_, _ = pool.Exec(ctx, `SELECT tracking_id, receipt_number FROM inspection_requests WHERE receipt_verification_code=$1`, *code)
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}
