// Package notify carries notification intents from the workflow engine to a
// delivery backend. Delivery is fire-and-forget: callers never see failures.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Kind classifies an intent for logging and downstream routing.
type Kind string

const (
	KindWorkSubmitted Kind = "work.submitted"
	KindWorkApproved  Kind = "work.approved"
	KindWorkRejected  Kind = "work.rejected"
	KindWorkRated     Kind = "work.rated"
	KindRoleChanged   Kind = "user.role_changed"
)

// Intent is a message to deliver to one recipient.
type Intent struct {
	ID        string    `json:"id"`
	Recipient int64     `json:"recipient"`
	Kind      Kind      `json:"kind"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewIntent stamps a fresh intent.
func NewIntent(recipient int64, kind Kind, text string) Intent {
	return Intent{
		ID:        uuid.NewString(),
		Recipient: recipient,
		Kind:      kind,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
}

// Notifier hands an intent to a delivery backend.
type Notifier interface {
	Notify(ctx context.Context, intent Intent) error
}

// Sender delivers text to a chat. The transport client implements it.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, intent Intent) error

func (f Func) Notify(ctx context.Context, intent Intent) error {
	return f(ctx, intent)
}

// Nop discards every intent.
type Nop struct{}

func (Nop) Notify(context.Context, Intent) error { return nil }

// Result counts the outcome of a Dispatch.
type Result struct {
	Sent   int
	Failed int
}

// Dispatch sends every intent through n. Failures are logged and counted,
// never returned.
func Dispatch(ctx context.Context, n Notifier, logger *slog.Logger, intents ...Intent) Result {
	var res Result
	if n == nil {
		return res
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, intent := range intents {
		if err := safeNotify(ctx, n, intent); err != nil {
			res.Failed++
			logger.Warn("notification delivery failed",
				"intent_id", intent.ID,
				"kind", string(intent.Kind),
				"recipient", intent.Recipient,
				"err", err,
			)
			continue
		}
		res.Sent++
	}
	return res
}

func safeNotify(ctx context.Context, n Notifier, intent Intent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panicked: %v", r)
		}
	}()
	return n.Notify(ctx, intent)
}
