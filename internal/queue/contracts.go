package queue

import (
	"context"
	"time"
)

// Notifier announces that new pending jobs exist. Notify never blocks; the
// store stays authoritative, so a lost notification only delays a poll.
type Notifier interface {
	Notify(ctx context.Context)
}

// Waiter lets an idle worker sleep until a notification or the timeout.
type Waiter interface {
	// Wait reports whether it returned because of a notification.
	Wait(ctx context.Context, timeout time.Duration) bool
}

type Signal interface {
	Notifier
	Waiter
}
