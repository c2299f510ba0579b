// Package notify carries user-visible outcome notifications. Messages here
// are shown to end users, so they never contain raw backend error text.
package notify

import (
	"log/slog"
	"sync"
)

// Kind distinguishes the notification classes surfaced to users.
type Kind string

const (
	KindSuccess Kind = "success"
	KindDenied  Kind = "denied"
	KindFailure Kind = "failure"
)

// Notification is one user-visible outcome message.
type Notification struct {
	Kind      Kind
	Operation string
	TargetID  string
	Message   string
}

// Notifier receives outcome notifications from the workflow and guard layers.
type Notifier interface {
	Notify(n Notification)
}

// LogNotifier writes notifications to the structured log. Production wiring
// forwards these to whatever user-facing channel the deployment uses.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(n Notification) {
	switch n.Kind {
	case KindDenied, KindFailure:
		l.log.Warn("notification", "kind", n.Kind, "operation", n.Operation, "target_id", n.TargetID, "message", n.Message)
	default:
		l.log.Info("notification", "kind", n.Kind, "operation", n.Operation, "target_id", n.TargetID, "message", n.Message)
	}
}

// Recorder captures notifications for assertions in tests.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

// All returns a copy of everything recorded so far.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Last returns the most recent notification, or false when none exist.
func (r *Recorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return Notification{}, false
	}
	return r.items[len(r.items)-1], true
}

// CountKind returns how many notifications of the given kind were recorded.
func (r *Recorder) CountKind(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.items {
		if item.Kind == kind {
			n++
		}
	}
	return n
}
