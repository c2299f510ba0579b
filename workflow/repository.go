package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stazama/receipt"
	"stazama/request"
)

// Mutator is the write contract for workflow actions. Every method is one
// atomic commit: the row update and its outbox message land together or not
// at all.
type Mutator interface {
	SetAssignment(ctx context.Context, requestID string, agentID *string, status request.Status) error
	SetStatus(ctx context.Context, requestID string, from, to request.Status) error
	MarkPaymentReceived(ctx context.Context, requestID string, data receipt.Data) error
	RecordPayment(ctx context.Context, requestID string, amount float64, method, receiptNumber string) error
	SetFees(ctx context.Context, requestID string, serviceFee float64, notes string) error
	ReplaceReceipt(ctx context.Context, requestID string, data receipt.Data) error
}

// PGMutator implements Mutator backed by PostgreSQL with a transactional
// outbox.
type PGMutator struct {
	pool *pgxpool.Pool
}

// NewMutator wires a pgxpool-backed Mutator.
func NewMutator(pool *pgxpool.Pool) *PGMutator {
	return &PGMutator{pool: pool}
}

// SetAssignment writes the agent assignment and derived status.
func (m *PGMutator) SetAssignment(ctx context.Context, requestID string, agentID *string, status request.Status) error {
	return m.update(ctx, requestID, "request.assigned",
		map[string]any{"request_id": requestID, "agent_id": agentID, "status": status},
		`UPDATE inspection_requests
		 SET assigned_agent_id = $2, status = $3, updated_at = now()
		 WHERE id = $1`,
		requestID, agentID, status,
	)
}

// SetStatus moves the request from one status to another. The previous status
// is part of the predicate so a concurrent transition cannot be silently
// overwritten.
func (m *PGMutator) SetStatus(ctx context.Context, requestID string, from, to request.Status) error {
	return m.update(ctx, requestID, "request.status_changed",
		map[string]any{"request_id": requestID, "previous": from, "next": to},
		`UPDATE inspection_requests
		 SET status = $3, updated_at = now()
		 WHERE id = $1 AND status = $2`,
		requestID, from, to,
	)
}

// MarkPaymentReceived stamps the payment flag together with the issued
// receipt so the paid-implies-receipt invariant holds at the row level.
func (m *PGMutator) MarkPaymentReceived(ctx context.Context, requestID string, data receipt.Data) error {
	summary, err := receipt.MarshalSummary(data.Summary)
	if err != nil {
		return err
	}
	return m.update(ctx, requestID, "request.payment_received",
		map[string]any{"request_id": requestID, "receipt_number": data.Number},
		`UPDATE inspection_requests
		 SET payment_received = true,
		     receipt_number = $2,
		     receipt_verification_code = $3,
		     receipt_issued_at = $4,
		     receipt_data = $5,
		     updated_at = now()
		 WHERE id = $1`,
		requestID, data.Number, data.Code, data.IssuedAt, summary,
	)
}

// RecordPayment writes an administratively processed payment.
func (m *PGMutator) RecordPayment(ctx context.Context, requestID string, amount float64, method, receiptNumber string) error {
	return m.update(ctx, requestID, "request.payment_received",
		map[string]any{"request_id": requestID, "amount": amount, "method": method, "receipt_number": receiptNumber},
		`UPDATE inspection_requests
		 SET payment_received = true,
		     payment_method = $2,
		     service_fee = $3,
		     receipt_number = $4,
		     updated_at = now()
		 WHERE id = $1`,
		requestID, method, amount, receiptNumber,
	)
}

// SetFees writes the combined service fee and its notes.
func (m *PGMutator) SetFees(ctx context.Context, requestID string, serviceFee float64, notes string) error {
	return m.update(ctx, requestID, "request.fees_updated",
		map[string]any{"request_id": requestID, "service_fee": serviceFee},
		`UPDATE inspection_requests
		 SET service_fee = $2, fee_notes = $3, updated_at = now()
		 WHERE id = $1`,
		requestID, serviceFee, notes,
	)
}

// ReplaceReceipt overwrites the stored verification code and issuance
// timestamp, invalidating the prior code.
func (m *PGMutator) ReplaceReceipt(ctx context.Context, requestID string, data receipt.Data) error {
	summary, err := receipt.MarshalSummary(data.Summary)
	if err != nil {
		return err
	}
	return m.update(ctx, requestID, "receipt.reissued",
		map[string]any{"request_id": requestID, "receipt_number": data.Number},
		`UPDATE inspection_requests
		 SET receipt_verification_code = $2,
		     receipt_issued_at = $3,
		     receipt_data = $4,
		     updated_at = now()
		 WHERE id = $1`,
		requestID, data.Code, data.IssuedAt, summary,
	)
}

// update runs one guarded UPDATE plus its outbox insert in a single
// transaction. Zero affected rows is surfaced as request.ErrNotFound so the
// service can distinguish a missing row from a backend failure.
func (m *PGMutator) update(ctx context.Context, requestID, topic string, payload map[string]any, sql string, args ...any) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("workflow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("workflow: update request %s: %w", requestID, err)
	}
	if tag.RowsAffected() == 0 {
		return request.ErrNotFound
	}

	if err := enqueueOutbox(ctx, tx, topic, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("workflow: commit update: %w", err)
	}
	return nil
}

func enqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("workflow: marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("workflow: enqueue outbox: %w", err)
	}
	return nil
}
