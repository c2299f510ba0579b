package request

import (
	"context"
	"errors"
	"testing"
	"time"

	"stazama/rbac"
)

type fakeRepo struct {
	byID    map[string]InspectionRequest
	listed  []InspectionRequest
	listErr error
	getErr  error
	calls   int
}

func (f *fakeRepo) List(ctx context.Context, caller Caller) ([]InspectionRequest, error) {
	f.calls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	// Mirror the production scoping so mixed-ownership seeds behave.
	switch {
	case caller.Role == rbac.RoleUser:
		out := []InspectionRequest{}
		for _, req := range f.listed {
			if req.UserID == caller.UserID {
				out = append(out, req)
			}
		}
		return out, nil
	case (caller.Role == rbac.RoleAgent || caller.Role == rbac.RoleAdmin) && caller.CanViewAllRequests:
		return append([]InspectionRequest{}, f.listed...), nil
	default:
		return []InspectionRequest{}, nil
	}
}

func (f *fakeRepo) GetByID(ctx context.Context, id string) (InspectionRequest, error) {
	if f.getErr != nil {
		return InspectionRequest{}, f.getErr
	}
	req, ok := f.byID[id]
	if !ok {
		return InspectionRequest{}, ErrNotFound
	}
	return req, nil
}

func (f *fakeRepo) GetByTrackingID(ctx context.Context, trackingID string) (InspectionRequest, error) {
	for _, req := range f.byID {
		if req.TrackingID == trackingID {
			return req, nil
		}
	}
	return InspectionRequest{}, ErrNotFound
}

func (f *fakeRepo) Create(ctx context.Context, params CreateParams) (InspectionRequest, error) {
	panic("not used in store tests")
}

func seedRepo() *fakeRepo {
	now := time.Now().UTC()
	listed := []InspectionRequest{
		{ID: "r3", UserID: "u2", Status: StatusPending, CreatedAt: now},
		{ID: "r2", UserID: "u1", Status: StatusAssigned, CreatedAt: now.Add(-time.Hour)},
		{ID: "r1", UserID: "u1", Status: StatusCompleted, CreatedAt: now.Add(-2 * time.Hour)},
	}
	byID := make(map[string]InspectionRequest, len(listed))
	for _, req := range listed {
		byID[req.ID] = req
	}
	return &fakeRepo{byID: byID, listed: listed}
}

func TestStore_FetchScopesToOwnerForUsers(t *testing.T) {
	repo := seedRepo()
	store := NewStore(repo, nil)

	err := store.Fetch(context.Background(), Caller{UserID: "u1", Role: rbac.RoleUser})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	items := store.Items()
	if len(items) != 2 {
		t.Fatalf("expected 2 rows for u1, got %d", len(items))
	}
	for _, item := range items {
		if item.UserID != "u1" {
			t.Fatalf("user-scoped fetch leaked foreign row %s (owner %s)", item.ID, item.UserID)
		}
	}
}

func TestStore_FetchAllForPrivilegedCaller(t *testing.T) {
	repo := seedRepo()
	store := NewStore(repo, nil)

	caller := Caller{UserID: "agent-1", Role: rbac.RoleAgent, CanViewAllRequests: true}
	if err := store.Fetch(context.Background(), caller); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(store.Items()) != 3 {
		t.Fatalf("expected all rows, got %d", len(store.Items()))
	}
}

func TestStore_UnauthorizedCombinationIsEmpty(t *testing.T) {
	repo := seedRepo()
	store := NewStore(repo, nil)

	// Agent without the view-all permission gets nothing.
	caller := Caller{UserID: "agent-1", Role: rbac.RoleAgent}
	if err := store.Fetch(context.Background(), caller); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(store.Items()) != 0 {
		t.Fatalf("expected empty result, got %d rows", len(store.Items()))
	}
}

func TestStore_FetchErrorKeepsStaleCollection(t *testing.T) {
	repo := seedRepo()
	store := NewStore(repo, nil)

	caller := Caller{UserID: "u1", Role: rbac.RoleUser}
	if err := store.Fetch(context.Background(), caller); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	before := store.Items()

	repo.listErr = errors.New("backend unavailable")
	if err := store.Fetch(context.Background(), caller); err == nil {
		t.Fatal("expected fetch error")
	}

	after := store.Items()
	if len(after) != len(before) {
		t.Fatalf("failed fetch must keep stale collection: before %d after %d", len(before), len(after))
	}
	if store.Loading() {
		t.Fatal("loading flag must clear after a failed fetch")
	}
}

func TestStore_RefreshOnePatchesInPlace(t *testing.T) {
	repo := seedRepo()
	store := NewStore(repo, nil)

	caller := Caller{UserID: "admin-1", Role: rbac.RoleAdmin, CanViewAllRequests: true}
	if err := store.Fetch(context.Background(), caller); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	updated := repo.byID["r2"]
	updated.Status = StatusInProgress
	repo.byID["r2"] = updated

	if err := store.RefreshOne(context.Background(), "r2"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	items := store.Items()
	if items[0].ID != "r3" || items[1].ID != "r2" || items[2].ID != "r1" {
		t.Fatalf("refresh must preserve ordering, got %s %s %s", items[0].ID, items[1].ID, items[2].ID)
	}
	if items[1].Status != StatusInProgress {
		t.Fatalf("expected patched status, got %s", items[1].Status)
	}
	if items[0].Status != StatusPending || items[2].Status != StatusCompleted {
		t.Fatal("refresh must not touch sibling records")
	}
}

func TestStore_RefreshOneErrorLeavesCollection(t *testing.T) {
	repo := seedRepo()
	store := NewStore(repo, nil)

	caller := Caller{UserID: "admin-1", Role: rbac.RoleAdmin, CanViewAllRequests: true}
	if err := store.Fetch(context.Background(), caller); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	repo.getErr = errors.New("timeout")
	if err := store.RefreshOne(context.Background(), "r2"); err == nil {
		t.Fatal("expected refresh error")
	}
	if len(store.Items()) != 3 {
		t.Fatal("failed refresh must leave the collection intact")
	}
}
