// Package notify announces terminal request states to operators. Delivery is
// best effort: a notification failure never touches the lifecycle.
package notify

import (
	"context"

	"fleetbridge/internal/approval"
)

// Event describes one terminal state worth announcing.
type Event struct {
	RequestID string
	State     approval.State
	Summary   string
	Detail    string
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NopNotifier swallows everything. Used when notifications are disabled.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) error { return nil }
