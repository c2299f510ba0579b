package auth

import (
	"context"
	"log/slog"
	"sync"
)

// Session is the point-in-time view of the authenticated principal. Loading
// is true until the first resolution completes; an absent Principal means
// unauthenticated.
type Session struct {
	Principal *Principal
	Loading   bool
}

// SessionSource resolves the current principal, typically from a stored
// token. Errors degrade to the unauthenticated session.
type SessionSource interface {
	CurrentPrincipal(ctx context.Context) (*Principal, error)
}

// SessionProvider holds the current session and fans change events out to
// subscribers. It is constructed explicitly and passed by reference; nothing
// imports it as ambient state. Close drops all subscribers.
type SessionProvider struct {
	source SessionSource
	log    *slog.Logger

	mu      sync.Mutex
	session Session
	subs    map[int]func(Session)
	nextSub int
	closed  bool
}

// NewSessionProvider builds a provider in the loading state. Callers invoke
// Refresh to perform the first resolution.
func NewSessionProvider(source SessionSource, log *slog.Logger) *SessionProvider {
	if log == nil {
		log = slog.Default()
	}
	return &SessionProvider{
		source:  source,
		log:     log,
		session: Session{Loading: true},
		subs:    make(map[int]func(Session)),
	}
}

// Current returns the session as last resolved.
func (p *SessionProvider) Current() Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// Subscribe registers a callback invoked on every session change and returns
// an unsubscribe func. The callback immediately receives the current session
// so late subscribers do not miss state.
func (p *SessionProvider) Subscribe(fn func(Session)) func() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return func() {}
	}
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	current := p.session
	p.mu.Unlock()

	fn(current)

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// Refresh re-resolves the principal from the source. A source failure is
// logged and yields the unauthenticated session (fail-closed), never an
// error to the caller.
func (p *SessionProvider) Refresh(ctx context.Context) Session {
	principal, err := p.source.CurrentPrincipal(ctx)
	if err != nil {
		p.log.Warn("session refresh failed, treating as unauthenticated", "error", err)
		principal = nil
	}
	return p.set(Session{Principal: principal})
}

// SignOut clears the session without touching the underlying account.
func (p *SessionProvider) SignOut() {
	p.set(Session{})
}

// SetPrincipal installs a freshly authenticated principal, e.g. after login.
func (p *SessionProvider) SetPrincipal(principal *Principal) {
	p.set(Session{Principal: principal})
}

// Close tears the provider down: subscribers are dropped and further
// Subscribe calls become no-ops.
func (p *SessionProvider) Close() {
	p.mu.Lock()
	p.closed = true
	p.subs = make(map[int]func(Session))
	p.mu.Unlock()
}

func (p *SessionProvider) set(s Session) Session {
	p.mu.Lock()
	p.session = s
	subs := make([]func(Session), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
	return s
}
