package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stazama/notify"
	"stazama/rbac"
	"stazama/receipt"
	"stazama/request"
	"stazama/workflow"
)

type fakeVerifier struct {
	tokens map[string]CallerIdentity
}

func (v *fakeVerifier) VerifyToken(token string) (string, rbac.Role, error) {
	id, ok := v.tokens[token]
	if !ok {
		return "", "", fmt.Errorf("unknown token")
	}
	return id.UserID, id.Role, nil
}

type fakeRoleBackend struct {
	roles  map[string]rbac.Role
	grants map[string]map[string]bool
}

func (b *fakeRoleBackend) GetUserRole(_ context.Context, userID string) (rbac.Role, error) {
	role, ok := b.roles[userID]
	if !ok {
		return "", rbac.ErrRoleNotFound
	}
	return role, nil
}

func (b *fakeRoleBackend) grant(_ context.Context, userID, name string) (bool, error) {
	return b.grants[userID][name], nil
}

func (b *fakeRoleBackend) IsAdmin(ctx context.Context, id string) (bool, error) {
	return b.grant(ctx, id, "is_admin")
}
func (b *fakeRoleBackend) IsAgent(ctx context.Context, id string) (bool, error) {
	return b.grant(ctx, id, "is_agent")
}
func (b *fakeRoleBackend) IsUser(ctx context.Context, id string) (bool, error) {
	return b.grant(ctx, id, "is_user")
}
func (b *fakeRoleBackend) CanManageUsers(ctx context.Context, id string) (bool, error) {
	return b.grant(ctx, id, "can_manage_users")
}
func (b *fakeRoleBackend) CanViewDashboard(ctx context.Context, id string) (bool, error) {
	return b.grant(ctx, id, "can_view_dashboard")
}
func (b *fakeRoleBackend) CanCreateRequest(ctx context.Context, id string) (bool, error) {
	return b.grant(ctx, id, "can_create_request")
}
func (b *fakeRoleBackend) CanManageRequest(ctx context.Context, id string) (bool, error) {
	return b.grant(ctx, id, "can_manage_request")
}
func (b *fakeRoleBackend) CanViewAllRequests(ctx context.Context, id string) (bool, error) {
	return b.grant(ctx, id, "can_view_all_requests")
}
func (b *fakeRoleBackend) CanManagePayments(ctx context.Context, id string) (bool, error) {
	return b.grant(ctx, id, "can_manage_payments")
}
func (b *fakeRoleBackend) UpdateUserRole(_ context.Context, _, targetID string, role rbac.Role) error {
	b.roles[targetID] = role
	return nil
}
func (b *fakeRoleBackend) GetUsersByRole(_ context.Context, _ rbac.Role) ([]rbac.RoleAssignment, error) {
	return nil, nil
}
func (b *fakeRoleBackend) CountUsersByRole(_ context.Context, _ rbac.Role) (int, error) {
	return 0, nil
}

type fakeRequestRepo struct {
	items map[string]request.InspectionRequest
}

func (r *fakeRequestRepo) List(_ context.Context, caller request.Caller) ([]request.InspectionRequest, error) {
	out := []request.InspectionRequest{}
	switch {
	case caller.Role == rbac.RoleUser:
		for _, item := range r.items {
			if item.UserID == caller.UserID {
				out = append(out, item)
			}
		}
	case (caller.Role == rbac.RoleAgent || caller.Role == rbac.RoleAdmin) && caller.CanViewAllRequests:
		for _, item := range r.items {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *fakeRequestRepo) GetByID(_ context.Context, id string) (request.InspectionRequest, error) {
	item, ok := r.items[id]
	if !ok {
		return request.InspectionRequest{}, request.ErrNotFound
	}
	return item, nil
}

func (r *fakeRequestRepo) GetByTrackingID(_ context.Context, trackingID string) (request.InspectionRequest, error) {
	for _, item := range r.items {
		if item.TrackingID == trackingID {
			return item, nil
		}
	}
	return request.InspectionRequest{}, request.ErrNotFound
}

func (r *fakeRequestRepo) Create(_ context.Context, params request.CreateParams) (request.InspectionRequest, error) {
	item := request.InspectionRequest{
		ID:           fmt.Sprintf("req-%d", len(r.items)+1),
		UserID:       params.UserID,
		CustomerName: params.CustomerName,
		StoreName:    params.StoreName,
		Status:       request.StatusPending,
		TrackingID:   request.NewTrackingID(),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	r.items[item.ID] = item
	return item, nil
}

type fakeMutator struct {
	repo      *fakeRequestRepo
	mutations int
}

func (m *fakeMutator) SetAssignment(_ context.Context, requestID string, agentID *string, status request.Status) error {
	item := m.repo.items[requestID]
	item.AssignedAgentID = agentID
	item.Status = status
	m.repo.items[requestID] = item
	m.mutations++
	return nil
}

func (m *fakeMutator) SetStatus(_ context.Context, requestID string, _, to request.Status) error {
	item := m.repo.items[requestID]
	item.Status = to
	m.repo.items[requestID] = item
	m.mutations++
	return nil
}

func (m *fakeMutator) MarkPaymentReceived(_ context.Context, requestID string, data receipt.Data) error {
	item := m.repo.items[requestID]
	item.PaymentReceived = true
	item.ReceiptNumber = &data.Number
	item.ReceiptVerificationCode = &data.Code
	item.ReceiptIssuedAt = &data.IssuedAt
	m.repo.items[requestID] = item
	m.mutations++
	return nil
}

func (m *fakeMutator) RecordPayment(_ context.Context, requestID string, _ float64, method, receiptNumber string) error {
	item := m.repo.items[requestID]
	item.PaymentReceived = true
	item.PaymentMethod = &method
	item.ReceiptNumber = &receiptNumber
	m.repo.items[requestID] = item
	m.mutations++
	return nil
}

func (m *fakeMutator) SetFees(_ context.Context, requestID string, serviceFee float64, notes string) error {
	item := m.repo.items[requestID]
	item.ServiceFee = serviceFee
	item.FeeNotes = &notes
	m.repo.items[requestID] = item
	m.mutations++
	return nil
}

func (m *fakeMutator) ReplaceReceipt(_ context.Context, requestID string, data receipt.Data) error {
	item := m.repo.items[requestID]
	item.ReceiptVerificationCode = &data.Code
	item.ReceiptIssuedAt = &data.IssuedAt
	m.repo.items[requestID] = item
	m.mutations++
	return nil
}

type fakeReceiptRepo struct {
	codes map[string]receipt.Verification
}

func (r *fakeReceiptRepo) SaveReceipt(_ context.Context, _ string, _ receipt.Data) error { return nil }
func (r *fakeReceiptRepo) Reissue(_ context.Context, _ string, _ receipt.Data) error    { return nil }
func (r *fakeReceiptRepo) VerifyCode(_ context.Context, code string) (receipt.Verification, error) {
	v, ok := r.codes[code]
	if !ok {
		return receipt.Verification{}, receipt.ErrReceiptNotFound
	}
	return v, nil
}

type testEnv struct {
	handler  http.Handler
	repo     *fakeRequestRepo
	mutator  *fakeMutator
	recorder *notify.Recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	backend := &fakeRoleBackend{
		roles: map[string]rbac.Role{
			"user-1":  rbac.RoleUser,
			"agent-1": rbac.RoleAgent,
			"admin-1": rbac.RoleAdmin,
		},
		grants: map[string]map[string]bool{
			"agent-1": {"is_agent": true, "can_manage_request": true, "can_view_all_requests": true},
			"admin-1": {"is_admin": true, "can_manage_users": true, "can_manage_request": true, "can_view_all_requests": true, "can_manage_payments": true},
		},
	}
	resolver := rbac.NewResolver(backend, nil)

	repo := &fakeRequestRepo{items: map[string]request.InspectionRequest{
		"req-owned": {
			ID: "req-owned", UserID: "user-1", CustomerName: "Dewi",
			StoreName: "Toko Jaya", Status: request.StatusPending,
			TrackingID: "STZ-AAAA111122",
		},
		"req-foreign": {
			ID: "req-foreign", UserID: "user-2", CustomerName: "Rian",
			StoreName: "Toko Lain", Status: request.StatusPending,
			TrackingID: "STZ-BBBB333344",
		},
	}}
	mutator := &fakeMutator{repo: repo}
	recorder := notify.NewRecorder()
	wf := workflow.NewService(repo, mutator, receipt.NewIssuer(), recorder, nil)

	receipts := &fakeReceiptRepo{codes: map[string]receipt.Verification{
		"AB12CD34": {
			RequestTrackingID: "STZ-AAAA111122",
			ReceiptNumber:     "REC-1700000000000",
			IssuedAt:          time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			CustomerName:      "Dewi",
		},
	}}

	server := NewServer(nil, resolver, repo, wf, receipts, nil)
	verifier := &fakeVerifier{tokens: map[string]CallerIdentity{
		"tok-user":  {UserID: "user-1", Role: rbac.RoleUser},
		"tok-agent": {UserID: "agent-1", Role: rbac.RoleAgent},
		"tok-admin": {UserID: "admin-1", Role: rbac.RoleAdmin},
	}}

	return &testEnv{
		handler:  server.Router(verifier),
		repo:     repo,
		mutator:  mutator,
		recorder: recorder,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestRequestListIsRoleScoped(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/requests", "tok-user", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("user list status = %d", rec.Code)
	}
	var body struct {
		Requests []map[string]any `json:"requests"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Requests) != 1 || body.Requests[0]["id"] != "req-owned" {
		t.Fatalf("user sees %v, want only req-owned", body.Requests)
	}

	rec = env.do(t, http.MethodGet, "/requests", "tok-agent", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Requests) != 2 {
		t.Fatalf("privileged agent sees %d rows, want 2", len(body.Requests))
	}
}

func TestForeignRequestReadsAsNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/requests/req-foreign", "tok-user", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign request status = %d, want 404", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/requests/req-foreign", "tok-agent", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("agent read status = %d, want 200", rec.Code)
	}
}

func TestWorkflowEndpointsEnforceRoles(t *testing.T) {
	env := newTestEnv(t)

	// A plain user may not trigger any workflow action.
	rec := env.do(t, http.MethodPost, "/requests/req-owned/assign-self", "tok-user", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("user assign-self status = %d, want 403", rec.Code)
	}
	// Admin does not inherit agent-only actions.
	rec = env.do(t, http.MethodPost, "/requests/req-owned/assign-self", "tok-admin", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("admin assign-self status = %d, want 403", rec.Code)
	}
	if env.mutator.mutations != 0 {
		t.Fatalf("denied actions mutated state %d times", env.mutator.mutations)
	}
	if got := env.recorder.CountKind(notify.KindDenied); got != 2 {
		t.Fatalf("denial notifications = %d, want 2", got)
	}

	rec = env.do(t, http.MethodPost, "/requests/req-owned/assign-self", "tok-agent", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("agent assign-self status = %d, want 200", rec.Code)
	}
	if got := env.repo.items["req-owned"].Status; got != request.StatusAssigned {
		t.Fatalf("status after assign-self = %s, want assigned", got)
	}
}

func TestProcessPaymentRejectsBadAmount(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/requests/req-owned/process-payment", "tok-admin",
		`{"amount": "-5", "method": "cash"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("negative amount status = %d, want 422", rec.Code)
	}
	if env.mutator.mutations != 0 {
		t.Fatalf("rejected payment mutated state")
	}
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/requests", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d, want 401", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/requests", "tok-bogus", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bogus token status = %d, want 401", rec.Code)
	}
}

func TestPublicTrackAndVerifyLookups(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/track/STZ-AAAA111122", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("track status = %d, want 200", rec.Code)
	}
	var tracked map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &tracked); err != nil {
		t.Fatalf("decode track: %v", err)
	}
	if tracked["tracking_id"] != "STZ-AAAA111122" || tracked["status"] != "pending" {
		t.Fatalf("unexpected track payload: %v", tracked)
	}
	if _, leaked := tracked["user_id"]; leaked {
		t.Fatalf("track payload leaks owner identity")
	}

	rec = env.do(t, http.MethodGet, "/track/STZ-ZZZZ999900", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown tracking id status = %d, want 404", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/verify/AB12CD34", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d, want 200", rec.Code)
	}
	var verified map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &verified); err != nil {
		t.Fatalf("decode verify: %v", err)
	}
	if verified["valid"] != true || verified["receipt_number"] != "REC-1700000000000" {
		t.Fatalf("unexpected verify payload: %v", verified)
	}

	rec = env.do(t, http.MethodGet, "/verify/XXXXXXXX", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown code status = %d, want 404", rec.Code)
	}
}
