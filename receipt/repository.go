package receipt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrReceiptNotFound signals no receipt matches the verification code.
var ErrReceiptNotFound = errors.New("receipt: not found")

// Verification is the public view returned for a verification-code lookup.
type Verification struct {
	RequestTrackingID string
	ReceiptNumber     string
	IssuedAt          time.Time
	CustomerName      string
}

// Repository persists issued receipts onto their inspection request rows.
// Saving is an explicit step separate from generation.
type Repository interface {
	SaveReceipt(ctx context.Context, requestID string, data Data) error
	Reissue(ctx context.Context, requestID string, data Data) error
	VerifyCode(ctx context.Context, code string) (Verification, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed receipt repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// SaveReceipt commits the generated receipt to the request row. The code and
// issuance timestamp are written together so the issued-iff-coded invariant
// holds at the row level.
func (r *PGRepository) SaveReceipt(ctx context.Context, requestID string, data Data) error {
	summary, err := MarshalSummary(data.Summary)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE inspection_requests
		SET receipt_number = $1,
		    receipt_verification_code = $2,
		    receipt_issued_at = $3,
		    receipt_data = $4,
		    updated_at = now()
		WHERE id = $5
	`, data.Number, data.Code, data.IssuedAt, summary, requestID)
	if err != nil {
		return fmt.Errorf("receipt: save: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReceiptNotFound
	}
	return nil
}

// Reissue overwrites the stored code and issuance timestamp with the freshly
// minted ones, invalidating the prior code.
func (r *PGRepository) Reissue(ctx context.Context, requestID string, data Data) error {
	return r.SaveReceipt(ctx, requestID, data)
}

// VerifyCode resolves a verification code to its receipt, exposing only the
// public tracking id of the underlying request.
func (r *PGRepository) VerifyCode(ctx context.Context, code string) (Verification, error) {
	const query = `
		SELECT tracking_id, receipt_number, receipt_issued_at, customer_name
		FROM inspection_requests
		WHERE receipt_verification_code = $1
	`

	var v Verification
	err := r.pool.QueryRow(ctx, query, code).Scan(
		&v.RequestTrackingID, &v.ReceiptNumber, &v.IssuedAt, &v.CustomerName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Verification{}, ErrReceiptNotFound
		}
		return Verification{}, fmt.Errorf("receipt: verify code: %w", err)
	}
	return v, nil
}
