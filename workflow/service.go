// Package workflow is the state-transition engine for inspection requests.
// Every action gates on the caller's role locally before touching the
// backend; the backend re-checks authorization independently.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"stazama/notify"
	"stazama/rbac"
	"stazama/receipt"
	"stazama/request"
)

// Caller identifies the principal invoking an action.
type Caller struct {
	UserID string
	Role   rbac.Role
	Perms  rbac.PermissionSnapshot
}

// Reader is the precondition-read contract, satisfied by the request
// repository.
type Reader interface {
	GetByID(ctx context.Context, id string) (request.InspectionRequest, error)
}

// Service applies role-gated transitions to inspection requests. Actions
// never let a backend error escape: the return is nil on success or one of
// the taxonomy sentinels, and a user-visible notification is emitted on both
// branches.
type Service struct {
	reader   Reader
	mutator  Mutator
	issuer   *receipt.Issuer
	notifier notify.Notifier
	log      *slog.Logger
}

// NewService wires the workflow engine.
func NewService(reader Reader, mutator Mutator, issuer *receipt.Issuer, notifier notify.Notifier, log *slog.Logger) *Service {
	if issuer == nil {
		issuer = receipt.NewIssuer()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		reader:   reader,
		mutator:  mutator,
		issuer:   issuer,
		notifier: notifier,
		log:      log,
	}
}

// AssignAgent sets or clears the assigned agent on a request. Admin only.
// A present agent id moves the request to assigned, a nil one back to
// pending, keeping the pending-iff-unassigned invariant.
func (s *Service) AssignAgent(ctx context.Context, caller Caller, requestID string, agentID *string) error {
	const op = "assign_agent"
	if err := s.requireRole(caller, rbac.RoleAdmin, op, requestID); err != nil {
		return err
	}

	req, err := s.reader.GetByID(ctx, requestID)
	if err != nil {
		return s.failed(op, requestID, "Request could not be found.", err)
	}

	status := request.StatusPending
	if agentID != nil && *agentID != "" {
		status = request.StatusAssigned
	}
	if status != req.Status && !request.CanTransition(req.Status, status) {
		return s.failed(op, requestID,
			"This request can no longer be reassigned.",
			fmt.Errorf("workflow: invalid transition %s -> %s: %w", req.Status, status, ErrUpdateFailed))
	}

	if err := s.mutator.SetAssignment(ctx, requestID, agentID, status); err != nil {
		return s.failed(op, requestID, "The assignment could not be saved.", err)
	}

	s.success(op, requestID, "Agent assignment updated.")
	return nil
}

// AssignSelf assigns the calling agent to the request. Agent only.
func (s *Service) AssignSelf(ctx context.Context, caller Caller, requestID string) error {
	const op = "assign_self"
	if err := s.requireRole(caller, rbac.RoleAgent, op, requestID); err != nil {
		return err
	}
	if caller.UserID == "" {
		s.notifyDenied(op, requestID, "Please sign in to continue.")
		return ErrAuthUnavailable
	}

	req, err := s.reader.GetByID(ctx, requestID)
	if err != nil {
		return s.failed(op, requestID, "Request could not be found.", err)
	}
	// Re-assigning to yourself is a no-op; taking over another agent's
	// request goes through the admin assignment path instead.
	if req.Status == request.StatusAssigned && req.AssignedAgentID != nil && *req.AssignedAgentID != caller.UserID {
		return s.failed(op, requestID,
			"This request is already assigned to another agent.",
			fmt.Errorf("workflow: request %s already assigned: %w", requestID, ErrUpdateFailed))
	}
	if req.Status != request.StatusAssigned && !request.CanTransition(req.Status, request.StatusAssigned) {
		return s.failed(op, requestID,
			"This request is no longer open for assignment.",
			fmt.Errorf("workflow: invalid transition %s -> %s: %w", req.Status, request.StatusAssigned, ErrUpdateFailed))
	}

	agentID := caller.UserID
	if err := s.mutator.SetAssignment(ctx, requestID, &agentID, request.StatusAssigned); err != nil {
		return s.failed(op, requestID, "The assignment could not be saved.", err)
	}

	s.success(op, requestID, "Request assigned to you.")
	return nil
}

// UpdateRequestStatus moves the request to the given status. Available to any
// caller holding the manage-request permission, and validated against the
// uniform transition table; there is no free-form escape hatch.
func (s *Service) UpdateRequestStatus(ctx context.Context, caller Caller, requestID string, status request.Status) error {
	const op = "update_status"
	if !caller.Perms.CanManageRequest {
		s.notifyDenied(op, requestID, "You are not allowed to change this request.")
		return ErrAccessDenied
	}
	if !status.IsValid() {
		return s.failed(op, requestID, "Unknown request status.",
			fmt.Errorf("workflow: invalid status %q: %w", status, ErrUpdateFailed))
	}

	req, err := s.reader.GetByID(ctx, requestID)
	if err != nil {
		return s.failed(op, requestID, "Request could not be found.", err)
	}
	if !request.CanTransition(req.Status, status) {
		return s.failed(op, requestID,
			fmt.Sprintf("A %s request cannot move to %s.", req.Status, status),
			fmt.Errorf("workflow: invalid transition %s -> %s: %w", req.Status, status, ErrUpdateFailed))
	}

	if err := s.mutator.SetStatus(ctx, requestID, req.Status, status); err != nil {
		return s.failed(op, requestID, "The status change could not be saved.", err)
	}

	s.success(op, requestID, fmt.Sprintf("Request moved to %s.", status))
	return nil
}

// MarkPaymentReceived records payment and issues the receipt in one commit.
// Agent only.
func (s *Service) MarkPaymentReceived(ctx context.Context, caller Caller, requestID string) error {
	const op = "mark_payment_received"
	if err := s.requireRole(caller, rbac.RoleAgent, op, requestID); err != nil {
		return err
	}

	req, err := s.reader.GetByID(ctx, requestID)
	if err != nil {
		return s.failed(op, requestID, "Request could not be found.", err)
	}

	data, err := s.issuer.GenerateReceiptData(req)
	if err != nil {
		s.log.Error("receipt generation failed", "operation", op, "request_id", requestID, "error", err)
		s.notifyFailure(op, requestID, "The receipt could not be generated.")
		return fmt.Errorf("%w: %v", ErrReceiptGeneration, err)
	}

	if err := s.mutator.MarkPaymentReceived(ctx, requestID, data); err != nil {
		s.log.Error("receipt persistence failed", "operation", op, "request_id", requestID, "error", err)
		s.notifyFailure(op, requestID, "The receipt could not be saved.")
		return fmt.Errorf("%w: %v", ErrReceiptGeneration, err)
	}

	s.success(op, requestID, fmt.Sprintf("Payment received, receipt %s issued.", data.Number))
	return nil
}

// ProcessPayment records an administratively collected payment. Admin only.
// The amount must parse as a positive numeric value.
func (s *Service) ProcessPayment(ctx context.Context, caller Caller, requestID, amount, method string) error {
	const op = "process_payment"
	if err := s.requireRole(caller, rbac.RoleAdmin, op, requestID); err != nil {
		return err
	}

	parsed, err := parsePositiveAmount(amount)
	if err != nil {
		return s.failed(op, requestID, "The payment amount is not a valid positive number.", err)
	}

	number := receipt.NewReceiptNumber(s.issuer.Now())
	if err := s.mutator.RecordPayment(ctx, requestID, parsed, method, number); err != nil {
		return s.failed(op, requestID, "The payment could not be recorded.", err)
	}

	s.success(op, requestID, fmt.Sprintf("Payment of %.2f recorded, receipt %s.", parsed, number))
	return nil
}

// UpdateFees stores the summed service fee and notes. Admin only.
func (s *Service) UpdateFees(ctx context.Context, caller Caller, requestID, feeAmount, additionalFees, notes string) error {
	const op = "update_fees"
	if err := s.requireRole(caller, rbac.RoleAdmin, op, requestID); err != nil {
		return err
	}

	fee, err := parseAmount(feeAmount)
	if err != nil {
		return s.failed(op, requestID, "The fee amount is not a valid number.", err)
	}
	extra, err := parseAmount(additionalFees)
	if err != nil {
		return s.failed(op, requestID, "The additional fee is not a valid number.", err)
	}

	if err := s.mutator.SetFees(ctx, requestID, fee+extra, notes); err != nil {
		return s.failed(op, requestID, "The fees could not be saved.", err)
	}

	s.success(op, requestID, fmt.Sprintf("Service fee set to %.2f.", fee+extra))
	return nil
}

// CompleteRequest finishes the inspection. Agent only.
func (s *Service) CompleteRequest(ctx context.Context, caller Caller, requestID string) error {
	return s.transitionTo(ctx, caller, requestID, "complete_request", request.StatusCompleted, "Request completed.")
}

// CancelRequest cancels the inspection. Agent only.
func (s *Service) CancelRequest(ctx context.Context, caller Caller, requestID string) error {
	return s.transitionTo(ctx, caller, requestID, "cancel_request", request.StatusCancelled, "Request cancelled.")
}

// ReissueReceipt mints a fresh verification code unconditionally and
// overwrites the stored one; this is the only path that invalidates an
// issued code. Agent only, matching the other receipt-touching actions.
func (s *Service) ReissueReceipt(ctx context.Context, caller Caller, requestID string) error {
	const op = "reissue_receipt"
	if err := s.requireRole(caller, rbac.RoleAgent, op, requestID); err != nil {
		return err
	}

	req, err := s.reader.GetByID(ctx, requestID)
	if err != nil {
		return s.failed(op, requestID, "Request could not be found.", err)
	}

	// Strip the existing code so generation mints instead of reusing.
	req.ReceiptVerificationCode = nil
	req.ReceiptIssuedAt = nil

	data, err := s.issuer.GenerateReceiptData(req)
	if err != nil {
		s.log.Error("receipt reissue failed", "operation", op, "request_id", requestID, "error", err)
		s.notifyFailure(op, requestID, "The receipt could not be reissued.")
		return fmt.Errorf("%w: %v", ErrReceiptGeneration, err)
	}

	if err := s.mutator.ReplaceReceipt(ctx, requestID, data); err != nil {
		s.log.Error("receipt reissue persistence failed", "operation", op, "request_id", requestID, "error", err)
		s.notifyFailure(op, requestID, "The reissued receipt could not be saved.")
		return fmt.Errorf("%w: %v", ErrReceiptGeneration, err)
	}

	s.success(op, requestID, "A new verification code was issued.")
	return nil
}

func (s *Service) transitionTo(ctx context.Context, caller Caller, requestID, op string, target request.Status, message string) error {
	if err := s.requireRole(caller, rbac.RoleAgent, op, requestID); err != nil {
		return err
	}

	req, err := s.reader.GetByID(ctx, requestID)
	if err != nil {
		return s.failed(op, requestID, "Request could not be found.", err)
	}
	if !request.CanTransition(req.Status, target) {
		return s.failed(op, requestID,
			fmt.Sprintf("A %s request cannot move to %s.", req.Status, target),
			fmt.Errorf("workflow: invalid transition %s -> %s: %w", req.Status, target, ErrUpdateFailed))
	}

	if err := s.mutator.SetStatus(ctx, requestID, req.Status, target); err != nil {
		return s.failed(op, requestID, "The status change could not be saved.", err)
	}

	s.success(op, requestID, message)
	return nil
}

// requireRole enforces the exact role from the action table. The admin
// universal override applies to view gating, not to workflow actions.
func (s *Service) requireRole(caller Caller, role rbac.Role, op, requestID string) error {
	if caller.Role == role {
		return nil
	}
	s.notifyDenied(op, requestID, "You are not allowed to perform this action.")
	return ErrAccessDenied
}

// failed logs the cause, emits the user-visible failure, and wraps non-taxonomy
// errors as ErrUpdateFailed so nothing leaks past the action boundary.
func (s *Service) failed(op, requestID, message string, cause error) error {
	s.log.Error("workflow action failed", "operation", op, "request_id", requestID, "error", cause)
	s.notifyFailure(op, requestID, message)
	if isTaxonomy(cause) {
		return cause
	}
	return fmt.Errorf("%w: %v", ErrUpdateFailed, cause)
}

func isTaxonomy(err error) bool {
	if err == nil {
		return false
	}
	for _, sentinel := range []error{ErrAccessDenied, ErrAuthUnavailable, ErrUpdateFailed, ErrReceiptGeneration} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func (s *Service) success(op, requestID, message string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(notify.Notification{Kind: notify.KindSuccess, Operation: op, TargetID: requestID, Message: message})
}

func (s *Service) notifyDenied(op, requestID, message string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(notify.Notification{Kind: notify.KindDenied, Operation: op, TargetID: requestID, Message: message})
}

func (s *Service) notifyFailure(op, requestID, message string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(notify.Notification{Kind: notify.KindFailure, Operation: op, TargetID: requestID, Message: message})
}

func parsePositiveAmount(raw string) (float64, error) {
	v, err := parseAmount(raw)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("workflow: amount must be positive, got %v", v)
	}
	return v, nil
}

func parseAmount(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("workflow: parse amount %q: %w", raw, err)
	}
	// ParseFloat accepts "NaN" and "Inf"; neither is a monetary value.
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("workflow: amount %q is not finite", raw)
	}
	return v, nil
}
