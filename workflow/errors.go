package workflow

import "errors"

// The action-boundary error taxonomy. No backend error escapes an action;
// everything is caught, logged, and surfaced as one of these.
var (
	// ErrAccessDenied signals the caller's role does not authorize the
	// action. Checked locally before any backend call.
	ErrAccessDenied = errors.New("workflow: access denied")
	// ErrAuthUnavailable signals the session collaborator could not supply a
	// caller identity.
	ErrAuthUnavailable = errors.New("workflow: auth unavailable")
	// ErrUpdateFailed signals a backend mutation rejected or errored; the
	// in-memory model is left unchanged.
	ErrUpdateFailed = errors.New("workflow: update failed")
	// ErrReceiptGeneration signals receipt document or code generation
	// failed; distinct from ErrUpdateFailed because the underlying status
	// change may have partially applied.
	ErrReceiptGeneration = errors.New("workflow: receipt generation failed")
)
