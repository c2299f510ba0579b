package request

import "time"

// Status is the closed set of inspection-request states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusArchived   Status = "archived"
)

// IsValid reports whether the status is a known state.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusAssigned, StatusInProgress, StatusCompleted, StatusCancelled, StatusArchived:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are permitted, except
// the completed -> archived retention sweep.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusArchived:
		return true
	default:
		return false
	}
}

// transitions is the uniform state table. Cancelled is reachable from every
// non-terminal state; archived only from completed.
var transitions = map[Status][]Status{
	StatusPending:    {StatusAssigned, StatusCancelled},
	StatusAssigned:   {StatusInProgress, StatusPending, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {StatusArchived},
	StatusCancelled:  {},
	StatusArchived:   {},
}

// CanTransition reports whether moving from -> to is a legal state change.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InspectionRequest is the transactional unit representing one verification
// job. TrackingID is the sole identifier exposed to unauthenticated trackers
// and is immutable once assigned at creation.
type InspectionRequest struct {
	ID              string
	UserID          string
	CustomerName    string
	Whatsapp        string
	CustomerAddress string

	StoreName      string
	StoreLocation  string
	ProductDetails string
	ExpectedPrice  string

	ServiceTier string
	ServiceFee  float64
	FeeNotes    *string

	Status          Status
	AssignedAgentID *string

	PaymentReceived bool
	PaymentMethod   *string

	ReceiptNumber           *string
	ReceiptVerificationCode *string
	ReceiptIssuedAt         *time.Time
	ReceiptData             []byte

	TrackingID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreateParams enumerates the caller-supplied fields for a new request.
type CreateParams struct {
	UserID          string
	CustomerName    string
	Whatsapp        string
	CustomerAddress string
	StoreName       string
	StoreLocation   string
	ProductDetails  string
	ExpectedPrice   string
	ServiceTier     string
}
