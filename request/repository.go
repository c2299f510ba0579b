package request

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stazama/rbac"
)

// ErrNotFound signals the requested inspection request does not exist.
var ErrNotFound = errors.New("request: not found")

// Caller carries the identity and permissions scoping a read.
type Caller struct {
	UserID             string
	Role               rbac.Role
	CanViewAllRequests bool
}

// Repository provides role-scoped read access plus creation.
type Repository interface {
	List(ctx context.Context, caller Caller) ([]InspectionRequest, error)
	GetByID(ctx context.Context, id string) (InspectionRequest, error)
	GetByTrackingID(ctx context.Context, trackingID string) (InspectionRequest, error)
	Create(ctx context.Context, params CreateParams) (InspectionRequest, error)
}

const requestColumns = `
	id, user_id, customer_name, whatsapp, customer_address,
	store_name, store_location, product_details, expected_price,
	service_tier, service_fee, fee_notes,
	status, assigned_agent_id,
	payment_received, payment_method,
	receipt_number, receipt_verification_code, receipt_issued_at, receipt_data,
	tracking_id, created_at, updated_at
`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// List returns the requests visible to the caller, newest first. Users see
// only their own rows; agents and admins with the view-all permission see
// everything; any other combination short-circuits to an empty set without
// touching the backend.
func (r *PGRepository) List(ctx context.Context, caller Caller) ([]InspectionRequest, error) {
	var (
		query string
		args  []any
	)

	switch {
	case caller.Role == rbac.RoleUser:
		query = `SELECT ` + requestColumns + ` FROM inspection_requests WHERE user_id = $1 ORDER BY created_at DESC`
		args = []any{caller.UserID}
	case (caller.Role == rbac.RoleAgent || caller.Role == rbac.RoleAdmin) && caller.CanViewAllRequests:
		query = `SELECT ` + requestColumns + ` FROM inspection_requests ORDER BY created_at DESC`
	default:
		return []InspectionRequest{}, nil
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("request: list: %w", err)
	}
	defer rows.Close()

	requests := make([]InspectionRequest, 0, 16)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("request: scan: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("request: iterate: %w", err)
	}
	return requests, nil
}

// GetByID fetches a single request by its internal id.
func (r *PGRepository) GetByID(ctx context.Context, id string) (InspectionRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM inspection_requests WHERE id = $1`
	req, err := scanRequest(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InspectionRequest{}, ErrNotFound
		}
		return InspectionRequest{}, fmt.Errorf("request: get by id: %w", err)
	}
	return req, nil
}

// GetByTrackingID fetches a single request by its public tracking id. This is
// the only lookup offered to unauthenticated trackers.
func (r *PGRepository) GetByTrackingID(ctx context.Context, trackingID string) (InspectionRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM inspection_requests WHERE tracking_id = $1`
	req, err := scanRequest(r.pool.QueryRow(ctx, query, trackingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InspectionRequest{}, ErrNotFound
		}
		return InspectionRequest{}, fmt.Errorf("request: get by tracking id: %w", err)
	}
	return req, nil
}

// Create inserts a new pending request with a freshly minted tracking id.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (InspectionRequest, error) {
	if params.UserID == "" {
		return InspectionRequest{}, fmt.Errorf("request: missing user id")
	}
	if strings.TrimSpace(params.CustomerName) == "" || strings.TrimSpace(params.StoreName) == "" {
		return InspectionRequest{}, fmt.Errorf("request: customer name and store name are required")
	}

	query := `
		INSERT INTO inspection_requests (
			user_id, customer_name, whatsapp, customer_address,
			store_name, store_location, product_details, expected_price,
			service_tier, status, tracking_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', $10)
		RETURNING ` + requestColumns

	req, err := scanRequest(r.pool.QueryRow(ctx, query,
		params.UserID, params.CustomerName, params.Whatsapp, params.CustomerAddress,
		params.StoreName, params.StoreLocation, params.ProductDetails, params.ExpectedPrice,
		params.ServiceTier, NewTrackingID(),
	))
	if err != nil {
		return InspectionRequest{}, fmt.Errorf("request: create: %w", err)
	}
	return req, nil
}

// NewTrackingID mints the public tracking identifier.
func NewTrackingID() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "STZ-" + raw[:10]
}

func scanRequest(row pgx.Row) (InspectionRequest, error) {
	var req InspectionRequest
	err := row.Scan(
		&req.ID, &req.UserID, &req.CustomerName, &req.Whatsapp, &req.CustomerAddress,
		&req.StoreName, &req.StoreLocation, &req.ProductDetails, &req.ExpectedPrice,
		&req.ServiceTier, &req.ServiceFee, &req.FeeNotes,
		&req.Status, &req.AssignedAgentID,
		&req.PaymentReceived, &req.PaymentMethod,
		&req.ReceiptNumber, &req.ReceiptVerificationCode, &req.ReceiptIssuedAt, &req.ReceiptData,
		&req.TrackingID, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return InspectionRequest{}, err
	}
	return req, nil
}
