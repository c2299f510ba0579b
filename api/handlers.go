// Package api exposes the HTTP surface: authentication, role-scoped request
// access, workflow actions, and the public tracking and verification lookups.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"stazama/auth"
	"stazama/rbac"
	"stazama/receipt"
	"stazama/request"
	"stazama/workflow"
)

// Server bundles the services behind the HTTP handlers.
type Server struct {
	auth     *auth.Service
	roles    *rbac.Resolver
	requests request.Repository
	workflow *workflow.Service
	receipts receipt.Repository
	log      *slog.Logger
}

// NewServer wires the HTTP layer over the domain services.
func NewServer(authSvc *auth.Service, roles *rbac.Resolver, requests request.Repository, wf *workflow.Service, receipts receipt.Repository, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		auth:     authSvc,
		roles:    roles,
		requests: requests,
		workflow: wf,
		receipts: receipts,
		log:      log,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// --- auth ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	principal, err := s.auth.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, "an account with this email already exists")
		default:
			s.log.Error("register failed", "error", err)
			writeError(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, principalResponse(*principal))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		s.log.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":     result.Token,
		"role":      result.Role,
		"principal": principalResponse(result.Principal),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	principal, err := s.auth.GetPrincipal(r.Context(), caller.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrPrincipalNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		s.log.Error("principal lookup failed", "user_id", caller.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	role := s.roles.ResolveRole(r.Context(), caller.UserID)
	perms := s.roles.ResolvePermissions(r.Context(), caller.UserID)

	writeJSON(w, http.StatusOK, map[string]any{
		"principal":   principalResponse(*principal),
		"role":        role,
		"permissions": permissionsResponse(perms),
	})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	profile, err := s.auth.GetProfile(r.Context(), caller.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrPrincipalNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		s.log.Error("profile lookup failed", "user_id", caller.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, profileResponse(profile))
}

func (s *Server) handleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body struct {
		ID        string  `json:"id"`
		FullName  string  `json:"full_name"`
		Phone     *string `json:"phone"`
		Address   *string `json:"address"`
		AvatarURL *string `json:"avatar_url"`
		Email     string  `json:"email"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.ID == "" {
		body.ID = caller.UserID
	}

	profile, err := s.auth.UpsertProfile(r.Context(), caller.UserID, auth.Profile{
		ID:        body.ID,
		FullName:  body.FullName,
		Phone:     body.Phone,
		Address:   body.Address,
		AvatarURL: body.AvatarURL,
		Email:     body.Email,
	})
	if err != nil {
		if errors.Is(err, rbac.ErrAccessDenied) {
			writeError(w, http.StatusForbidden, "you may only edit your own profile")
			return
		}
		s.log.Error("profile upsert failed", "user_id", caller.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "profile update failed")
		return
	}

	writeJSON(w, http.StatusOK, profileResponse(profile))
}

func (s *Server) handleUpdateUserRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body struct {
		Role string `json:"role"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	targetID := chi.URLParam(r, "userID")
	if err := s.roles.UpdateUserRole(r.Context(), caller.UserID, targetID, rbac.Role(body.Role)); err != nil {
		if errors.Is(err, rbac.ErrAccessDenied) {
			writeError(w, http.StatusForbidden, "only admins may change roles")
			return
		}
		writeError(w, http.StatusBadRequest, "role update failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"user_id": targetID, "role": body.Role})
}

// --- requests ---

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	perms := s.roles.ResolvePermissions(r.Context(), caller.UserID)
	items, err := s.requests.List(r.Context(), request.Caller{
		UserID:             caller.UserID,
		Role:               caller.Role,
		CanViewAllRequests: perms.CanViewAllRequests,
	})
	if err != nil {
		s.log.Error("request list failed", "user_id", caller.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}

	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, requestResponse(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": out})
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body struct {
		CustomerName    string `json:"customer_name"`
		Whatsapp        string `json:"whatsapp"`
		CustomerAddress string `json:"customer_address"`
		StoreName       string `json:"store_name"`
		StoreLocation   string `json:"store_location"`
		ProductDetails  string `json:"product_details"`
		ExpectedPrice   string `json:"expected_price"`
		ServiceTier     string `json:"service_tier"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	created, err := s.requests.Create(r.Context(), request.CreateParams{
		UserID:          caller.UserID,
		CustomerName:    body.CustomerName,
		Whatsapp:        body.Whatsapp,
		CustomerAddress: body.CustomerAddress,
		StoreName:       body.StoreName,
		StoreLocation:   body.StoreLocation,
		ProductDetails:  body.ProductDetails,
		ExpectedPrice:   body.ExpectedPrice,
		ServiceTier:     body.ServiceTier,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "request could not be created")
		return
	}

	writeJSON(w, http.StatusCreated, requestResponse(created))
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	req, err := s.requests.GetByID(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		if errors.Is(err, request.ErrNotFound) {
			writeError(w, http.StatusNotFound, "request not found")
			return
		}
		s.log.Error("request lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	// Same visibility rule as the list: owners always, others only with
	// the view-all permission.
	if req.UserID != caller.UserID {
		perms := s.roles.ResolvePermissions(r.Context(), caller.UserID)
		privileged := (caller.Role == rbac.RoleAgent || caller.Role == rbac.RoleAdmin) && perms.CanViewAllRequests
		if !privileged {
			writeError(w, http.StatusNotFound, "request not found")
			return
		}
	}

	writeJSON(w, http.StatusOK, requestResponse(req))
}

// --- workflow actions ---

func (s *Server) workflowCaller(r *http.Request) (workflow.Caller, bool) {
	identity, ok := CallerFrom(r.Context())
	if !ok {
		return workflow.Caller{}, false
	}
	return workflow.Caller{
		UserID: identity.UserID,
		Role:   identity.Role,
		Perms:  s.roles.ResolvePermissions(r.Context(), identity.UserID),
	}, true
}

func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflow.ErrAccessDenied):
		writeError(w, http.StatusForbidden, "you are not allowed to perform this action")
	case errors.Is(err, workflow.ErrAuthUnavailable):
		writeError(w, http.StatusUnauthorized, "please sign in to continue")
	case errors.Is(err, workflow.ErrReceiptGeneration):
		writeError(w, http.StatusUnprocessableEntity, "receipt generation failed")
	case errors.Is(err, workflow.ErrUpdateFailed):
		writeError(w, http.StatusUnprocessableEntity, "the update could not be applied")
	default:
		writeError(w, http.StatusInternalServerError, "action failed")
	}
}

func (s *Server) handleAssignAgent(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.workflowCaller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body struct {
		AgentID *string `json:"agent_id"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := s.workflow.AssignAgent(r.Context(), caller, chi.URLParam(r, "requestID"), body.AgentID); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAssignSelf(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.workflowCaller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := s.workflow.AssignSelf(r.Context(), caller, chi.URLParam(r, "requestID")); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.workflowCaller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body struct {
		Status string `json:"status"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	status := request.Status(strings.TrimSpace(body.Status))
	if err := s.workflow.UpdateRequestStatus(r.Context(), caller, chi.URLParam(r, "requestID"), status); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMarkPaymentReceived(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.workflowCaller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := s.workflow.MarkPaymentReceived(r.Context(), caller, chi.URLParam(r, "requestID")); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProcessPayment(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.workflowCaller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body struct {
		Amount string `json:"amount"`
		Method string `json:"method"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := s.workflow.ProcessPayment(r.Context(), caller, chi.URLParam(r, "requestID"), body.Amount, body.Method); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpdateFees(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.workflowCaller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body struct {
		FeeAmount      string `json:"fee_amount"`
		AdditionalFees string `json:"additional_fees"`
		Notes          string `json:"notes"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := s.workflow.UpdateFees(r.Context(), caller, chi.URLParam(r, "requestID"), body.FeeAmount, body.AdditionalFees, body.Notes); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCompleteRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.workflowCaller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := s.workflow.CompleteRequest(r.Context(), caller, chi.URLParam(r, "requestID")); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.workflowCaller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := s.workflow.CancelRequest(r.Context(), caller, chi.URLParam(r, "requestID")); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReissueReceipt(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.workflowCaller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := s.workflow.ReissueReceipt(r.Context(), caller, chi.URLParam(r, "requestID")); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- public lookups ---

// handleTrack resolves a tracking id for unauthenticated callers. The response
// is limited to the public fields; owner identity never crosses this boundary.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	trackingID := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "trackingID")))

	req, err := s.requests.GetByTrackingID(r.Context(), trackingID)
	if err != nil {
		if errors.Is(err, request.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no request matches this tracking id")
			return
		}
		s.log.Error("tracking lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tracking_id":  req.TrackingID,
		"status":       req.Status,
		"store_name":   req.StoreName,
		"service_tier": req.ServiceTier,
		"created_at":   req.CreatedAt,
		"updated_at":   req.UpdatedAt,
	})
}

func (s *Server) handleVerifyReceipt(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "code")))

	v, err := s.receipts.VerifyCode(r.Context(), code)
	if err != nil {
		if errors.Is(err, receipt.ErrReceiptNotFound) {
			writeError(w, http.StatusNotFound, "no receipt matches this code")
			return
		}
		s.log.Error("receipt verification failed", "error", err)
		writeError(w, http.StatusInternalServerError, "verification failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid":          true,
		"tracking_id":    v.RequestTrackingID,
		"receipt_number": v.ReceiptNumber,
		"issued_at":      v.IssuedAt,
		"customer_name":  v.CustomerName,
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- response shaping ---

func principalResponse(p auth.Principal) map[string]any {
	return map[string]any{
		"id":             p.ID,
		"email":          p.Email,
		"email_verified": p.EmailVerified,
		"last_sign_in":   p.LastSignIn,
		"created_at":     p.CreatedAt,
	}
}

func profileResponse(p auth.Profile) map[string]any {
	return map[string]any{
		"id":         p.ID,
		"full_name":  p.FullName,
		"phone":      p.Phone,
		"address":    p.Address,
		"avatar_url": p.AvatarURL,
		"email":      p.Email,
		"updated_at": p.UpdatedAt,
	}
}

func permissionsResponse(p rbac.PermissionSnapshot) map[string]bool {
	return map[string]bool{
		"can_manage_users":      p.CanManageUsers,
		"can_view_dashboard":    p.CanViewDashboard,
		"can_create_request":    p.CanCreateRequest,
		"can_manage_request":    p.CanManageRequest,
		"can_view_all_requests": p.CanViewAllRequests,
		"can_manage_payments":   p.CanManagePayments,
	}
}

func requestResponse(req request.InspectionRequest) map[string]any {
	var issuedAt *time.Time
	if req.ReceiptIssuedAt != nil {
		t := *req.ReceiptIssuedAt
		issuedAt = &t
	}
	return map[string]any{
		"id":                req.ID,
		"user_id":           req.UserID,
		"customer_name":     req.CustomerName,
		"whatsapp":          req.Whatsapp,
		"customer_address":  req.CustomerAddress,
		"store_name":        req.StoreName,
		"store_location":    req.StoreLocation,
		"product_details":   req.ProductDetails,
		"expected_price":    req.ExpectedPrice,
		"service_tier":      req.ServiceTier,
		"service_fee":       req.ServiceFee,
		"fee_notes":         req.FeeNotes,
		"status":            req.Status,
		"assigned_agent_id": req.AssignedAgentID,
		"payment_received":  req.PaymentReceived,
		"payment_method":    req.PaymentMethod,
		"receipt_number":    req.ReceiptNumber,
		"receipt_issued_at": issuedAt,
		"tracking_id":       req.TrackingID,
		"created_at":        req.CreatedAt,
		"updated_at":        req.UpdatedAt,
	}
}
