package request

import (
	"context"
	"log/slog"
	"sync"
)

// Store holds the in-memory request collection backing the dashboard views.
// It owns the collection exclusively; all mutation goes through Fetch (full
// replace) or RefreshOne (single-record patch). Concurrent refreshes of the
// same id race last-write-wins, which is accepted rather than serialized.
type Store struct {
	repo Repository
	log  *slog.Logger

	mu       sync.Mutex
	items    []InspectionRequest
	loading  bool
	haveData bool
}

// NewStore builds an empty store over the repository.
func NewStore(repo Repository, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{repo: repo, log: log}
}

// Items returns a copy of the current collection.
func (s *Store) Items() []InspectionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]InspectionRequest, len(s.items))
	copy(out, s.items)
	return out
}

// Loading reports whether a full fetch is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Fetch replaces the collection with the caller-scoped result set. On error
// the previous collection is kept (stale-but-present), the loading flag is
// cleared, and no retry is attempted; retry policy belongs to the caller.
func (s *Store) Fetch(ctx context.Context, caller Caller) error {
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	items, err := s.repo.List(ctx, caller)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.log.Error("request fetch failed", "user_id", caller.UserID, "error", err)
		return err
	}
	s.items = items
	s.haveData = true
	return nil
}

// RefreshOne re-fetches a single record and patches it in place, preserving
// the position and fields of every other record. Ids not present in the
// collection are ignored.
func (s *Store) RefreshOne(ctx context.Context, id string) error {
	fresh, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.log.Error("request refresh failed", "request_id", id, "error", err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i] = fresh
			break
		}
	}
	return nil
}
