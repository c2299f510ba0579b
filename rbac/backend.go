package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRoleNotFound signals that the user has no active role row.
var ErrRoleNotFound = errors.New("rbac: role not found")

// Backend is the narrow contract over the platform's role and permission
// procedures. Callers never see raw backend errors; the Resolver substitutes
// fail-closed defaults.
type Backend interface {
	GetUserRole(ctx context.Context, userID string) (Role, error)
	IsAdmin(ctx context.Context, userID string) (bool, error)
	IsAgent(ctx context.Context, userID string) (bool, error)
	IsUser(ctx context.Context, userID string) (bool, error)
	CanManageUsers(ctx context.Context, userID string) (bool, error)
	CanViewDashboard(ctx context.Context, userID string) (bool, error)
	CanCreateRequest(ctx context.Context, userID string) (bool, error)
	CanManageRequest(ctx context.Context, userID string) (bool, error)
	CanViewAllRequests(ctx context.Context, userID string) (bool, error)
	CanManagePayments(ctx context.Context, userID string) (bool, error)
	UpdateUserRole(ctx context.Context, adminID, targetID string, role Role) error
	GetUsersByRole(ctx context.Context, role Role) ([]RoleAssignment, error)
	CountUsersByRole(ctx context.Context, role Role) (int, error)
}

// RoleAssignment mirrors the active user_roles row.
type RoleAssignment struct {
	UserID     string
	Role       Role
	AssignedAt time.Time
	AssignedBy *string
}

// PGBackend implements Backend over the SQL predicate functions installed by
// the migrations.
type PGBackend struct {
	pool *pgxpool.Pool
}

// NewPGBackend wires a pgxpool-backed Backend implementation.
func NewPGBackend(pool *pgxpool.Pool) *PGBackend {
	return &PGBackend{pool: pool}
}

func (b *PGBackend) GetUserRole(ctx context.Context, userID string) (Role, error) {
	var raw *string
	if err := b.pool.QueryRow(ctx, `SELECT get_user_role($1)`, userID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrRoleNotFound
		}
		return "", fmt.Errorf("rbac: get user role: %w", err)
	}
	if raw == nil || *raw == "" {
		return "", ErrRoleNotFound
	}
	return ParseRole(*raw), nil
}

func (b *PGBackend) scanBool(ctx context.Context, fn, userID string) (bool, error) {
	var ok bool
	query := fmt.Sprintf(`SELECT %s($1)`, fn)
	if err := b.pool.QueryRow(ctx, query, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("rbac: %s: %w", fn, err)
	}
	return ok, nil
}

func (b *PGBackend) IsAdmin(ctx context.Context, userID string) (bool, error) {
	return b.scanBool(ctx, "is_admin", userID)
}

func (b *PGBackend) IsAgent(ctx context.Context, userID string) (bool, error) {
	return b.scanBool(ctx, "is_agent", userID)
}

func (b *PGBackend) IsUser(ctx context.Context, userID string) (bool, error) {
	return b.scanBool(ctx, "is_user", userID)
}

func (b *PGBackend) CanManageUsers(ctx context.Context, userID string) (bool, error) {
	return b.scanBool(ctx, "can_manage_users", userID)
}

func (b *PGBackend) CanViewDashboard(ctx context.Context, userID string) (bool, error) {
	return b.scanBool(ctx, "can_view_dashboard", userID)
}

func (b *PGBackend) CanCreateRequest(ctx context.Context, userID string) (bool, error) {
	return b.scanBool(ctx, "can_create_request", userID)
}

func (b *PGBackend) CanManageRequest(ctx context.Context, userID string) (bool, error) {
	return b.scanBool(ctx, "can_manage_request", userID)
}

func (b *PGBackend) CanViewAllRequests(ctx context.Context, userID string) (bool, error) {
	return b.scanBool(ctx, "can_view_all_requests", userID)
}

func (b *PGBackend) CanManagePayments(ctx context.Context, userID string) (bool, error) {
	return b.scanBool(ctx, "can_manage_payments", userID)
}

// UpdateUserRole invokes the administrative role-change procedure. The
// procedure re-checks that adminID holds the admin role; this call is the
// second half of the defense-in-depth pair.
func (b *PGBackend) UpdateUserRole(ctx context.Context, adminID, targetID string, role Role) error {
	var ok bool
	if err := b.pool.QueryRow(ctx, `SELECT update_user_role($1, $2, $3)`, adminID, targetID, string(role)).Scan(&ok); err != nil {
		return fmt.Errorf("rbac: update user role: %w", err)
	}
	if !ok {
		return fmt.Errorf("rbac: update user role rejected for target %s", targetID)
	}
	return nil
}

func (b *PGBackend) GetUsersByRole(ctx context.Context, role Role) ([]RoleAssignment, error) {
	const query = `
		SELECT user_id, role, assigned_at, assigned_by
		FROM get_users_by_role($1)
	`

	rows, err := b.pool.Query(ctx, query, string(role))
	if err != nil {
		return nil, fmt.Errorf("rbac: get users by role: %w", err)
	}
	defer rows.Close()

	assignments := make([]RoleAssignment, 0, 16)
	for rows.Next() {
		var (
			a   RoleAssignment
			raw string
		)
		if err := rows.Scan(&a.UserID, &raw, &a.AssignedAt, &a.AssignedBy); err != nil {
			return nil, fmt.Errorf("rbac: scan role assignment: %w", err)
		}
		a.Role = ParseRole(raw)
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rbac: iterate role assignments: %w", err)
	}
	return assignments, nil
}

func (b *PGBackend) CountUsersByRole(ctx context.Context, role Role) (int, error) {
	var count int
	if err := b.pool.QueryRow(ctx, `SELECT count_users_by_role($1)`, string(role)).Scan(&count); err != nil {
		return 0, fmt.Errorf("rbac: count users by role: %w", err)
	}
	return count, nil
}
