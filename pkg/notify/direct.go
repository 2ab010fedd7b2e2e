package notify

import (
	"context"
	"errors"
	"time"
)

// Direct delivers synchronously through a Sender.
type Direct struct {
	sender  Sender
	timeout time.Duration
}

// NewDirect wraps sender. timeout bounds each send; <= 0 uses 5s.
func NewDirect(sender Sender, timeout time.Duration) *Direct {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Direct{sender: sender, timeout: timeout}
}

func (d *Direct) Notify(ctx context.Context, intent Intent) error {
	return d.Send(ctx, intent.Recipient, intent.Text)
}

// Send makes Direct usable as a Sender that applies the per-send timeout.
func (d *Direct) Send(ctx context.Context, chatID int64, text string) error {
	if d == nil || d.sender == nil {
		return errors.New("direct notifier has no sender")
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.sender.Send(ctx, chatID, text)
}
