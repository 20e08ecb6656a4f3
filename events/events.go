// Package events publishes project mutation events to an external stream so
// that other services (activity feeds, audit, analytics) can follow along.
package events

import (
	"context"
	"time"
)

// ProjectEvent describes one committed mutation of a project snapshot.
type ProjectEvent struct {
	ProjectID string    `json:"projectId"`
	Field     string    `json:"field"`
	Kind      string    `json:"kind"` // "write" or "append"
	At        time.Time `json:"at"`
}

// Publisher delivers project events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event ProjectEvent) error
	Close() error
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event ProjectEvent) error { return nil }
func (NopPublisher) Close() error                                          { return nil }
