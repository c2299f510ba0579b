package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// ErrAccessDenied signals the caller's role does not authorize the mutation.
var ErrAccessDenied = errors.New("rbac: access denied")

// Resolver maps a principal id to its role and permission snapshot. Every
// read fails closed: errors and missing rows degrade to the least-privileged
// answer instead of propagating.
type Resolver struct {
	backend Backend
	log     *slog.Logger
}

// NewResolver builds a Resolver over the given backend.
func NewResolver(backend Backend, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{backend: backend, log: log}
}

// ResolveRole returns the active role for the user. Any backend error or a
// missing role row yields RoleUser, never a failure.
func (r *Resolver) ResolveRole(ctx context.Context, userID string) Role {
	role, err := r.backend.GetUserRole(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrRoleNotFound) {
			r.log.Warn("role lookup failed, defaulting to user", "user_id", userID, "error", err)
		}
		return RoleUser
	}
	if !role.IsValid() {
		return RoleUser
	}
	return role
}

// check is a single fail-closed predicate evaluation: the default is
// substituted on error and the error is consumed locally.
type check struct {
	name string
	fn   func(ctx context.Context, userID string) (bool, error)
	dst  *bool
}

// runChecks evaluates the checks concurrently. Each check that errors is
// logged and its destination left false; the combinator itself never fails.
func (r *Resolver) runChecks(ctx context.Context, userID string, checks []check) {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range checks {
		c := c
		g.Go(func() error {
			ok, err := c.fn(ctx, userID)
			if err != nil {
				r.log.Warn("permission check failed, defaulting to false",
					"check", c.name, "user_id", userID, "error", err)
				return nil
			}
			*c.dst = ok
			return nil
		})
	}
	// The goroutines swallow their own errors, so Wait only fans in.
	_ = g.Wait()
}

// ResolvePermissions computes the permission snapshot by evaluating the six
// predicates concurrently with no ordering dependency.
func (r *Resolver) ResolvePermissions(ctx context.Context, userID string) PermissionSnapshot {
	var snap PermissionSnapshot
	r.runChecks(ctx, userID, []check{
		{"can_manage_users", r.backend.CanManageUsers, &snap.CanManageUsers},
		{"can_view_dashboard", r.backend.CanViewDashboard, &snap.CanViewDashboard},
		{"can_create_request", r.backend.CanCreateRequest, &snap.CanCreateRequest},
		{"can_manage_request", r.backend.CanManageRequest, &snap.CanManageRequest},
		{"can_view_all_requests", r.backend.CanViewAllRequests, &snap.CanViewAllRequests},
		{"can_manage_payments", r.backend.CanManagePayments, &snap.CanManagePayments},
	})
	return snap
}

// ResolveRoleFlags evaluates the three role predicates concurrently.
func (r *Resolver) ResolveRoleFlags(ctx context.Context, userID string) RoleFlags {
	var flags RoleFlags
	r.runChecks(ctx, userID, []check{
		{"is_admin", r.backend.IsAdmin, &flags.IsAdmin},
		{"is_agent", r.backend.IsAgent, &flags.IsAgent},
		{"is_user", r.backend.IsUser, &flags.IsUser},
	})
	return flags
}

// UpdateUserRole changes the target's active role. The admin requirement is
// re-validated here before the backend call; the backend enforces it again
// independently.
func (r *Resolver) UpdateUserRole(ctx context.Context, adminID, targetID string, role Role) error {
	if !role.IsValid() {
		return fmt.Errorf("rbac: invalid role %q", role)
	}
	if r.ResolveRole(ctx, adminID) != RoleAdmin {
		return ErrAccessDenied
	}
	if err := r.backend.UpdateUserRole(ctx, adminID, targetID, role); err != nil {
		r.log.Error("update user role failed", "admin_id", adminID, "target_id", targetID, "error", err)
		return err
	}
	return nil
}
