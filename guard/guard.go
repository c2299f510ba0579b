// Package guard gates protected views on the current session and resolved
// role. One Guard instance corresponds to one mount of a protected view.
package guard

import (
	"context"
	"sync"

	"stazama/auth"
	"stazama/notify"
	"stazama/rbac"
)

// State is the guard's position in its lifecycle.
type State string

const (
	StateLoading    State = "loading"
	StateAuthorized State = "authorized"
	StateDenied     State = "denied"
)

// DenyReason distinguishes the two denial classes.
type DenyReason string

const (
	DenyNotAuthenticated DenyReason = "not_authenticated"
	DenyInsufficientRole DenyReason = "insufficient_permission"
)

// Decision is the outcome of one evaluation.
type Decision struct {
	State  State
	Reason DenyReason
	Role   rbac.Role
}

// RoleResolver resolves the active role for a principal.
type RoleResolver interface {
	ResolveRole(ctx context.Context, userID string) rbac.Role
}

// Guard decides render vs. redirect vs. loading for one protected view.
// RequiredRole empty means any authenticated principal may pass; admin
// passes every required-role configuration.
type Guard struct {
	requiredRole rbac.Role
	resolver     RoleResolver
	notifier     notify.Notifier

	mu         sync.Mutex
	lastUserID string
	role       rbac.Role
	roleKnown  bool
	notified   bool
}

// New builds a guard for one mount. requiredRole may be empty.
func New(requiredRole rbac.Role, resolver RoleResolver, notifier notify.Notifier) *Guard {
	return &Guard{
		requiredRole: requiredRole,
		resolver:     resolver,
		notifier:     notifier,
	}
}

// Evaluate maps the session onto a decision. It stays in loading while the
// session is unresolved, or while a role requirement exists and the role has
// not yet been resolved for the authenticated principal. The denial
// notification fires at most once per mount however many times the guard
// re-evaluates while denied.
func (g *Guard) Evaluate(ctx context.Context, session auth.Session) Decision {
	if session.Loading {
		return Decision{State: StateLoading}
	}

	if session.Principal == nil {
		g.deny(DenyNotAuthenticated, "Please sign in to continue.")
		return Decision{State: StateDenied, Reason: DenyNotAuthenticated}
	}

	if g.requiredRole == "" {
		return Decision{State: StateAuthorized}
	}

	role, ok := g.roleFor(ctx, session.Principal.ID)
	if !ok {
		// Torn down while resolving; report loading, apply nothing.
		return Decision{State: StateLoading}
	}

	if role != g.requiredRole && role != rbac.RoleAdmin {
		g.deny(DenyInsufficientRole, "You do not have permission to view this page.")
		return Decision{State: StateDenied, Reason: DenyInsufficientRole, Role: role}
	}

	return Decision{State: StateAuthorized, Role: role}
}

// roleFor resolves and caches the role for the current principal. A principal
// change re-enters the unresolved state first.
func (g *Guard) roleFor(ctx context.Context, userID string) (rbac.Role, bool) {
	g.mu.Lock()
	if g.lastUserID == userID && g.roleKnown {
		role := g.role
		g.mu.Unlock()
		return role, true
	}
	g.lastUserID = userID
	g.roleKnown = false
	g.notified = false
	g.mu.Unlock()

	role := g.resolver.ResolveRole(ctx, userID)

	// Still-mounted check: a cancelled context means the consuming view is
	// gone and the resolved role must not be applied.
	if ctx.Err() != nil {
		return "", false
	}

	g.mu.Lock()
	g.role = role
	g.roleKnown = true
	g.mu.Unlock()
	return role, true
}

func (g *Guard) deny(reason DenyReason, message string) {
	g.mu.Lock()
	already := g.notified
	g.notified = true
	g.mu.Unlock()

	if already || g.notifier == nil {
		return
	}
	g.notifier.Notify(notify.Notification{
		Kind:      notify.KindDenied,
		Operation: "guard",
		Message:   message,
	})
}
