// Package bus provides the cross-surface broadcast channel.
//
// A Bus is scoped to one channel name. Publishing delivers a message to every
// other participant on that channel; a participant never receives its own
// publications. Delivery is best-effort and in-memory: there is no
// persistence, no acknowledgement and no replay for late subscribers.
package bus

import (
	"context"
	"errors"

	"github.com/ashureev/tryon-orchestrator/internal/domain"
)

// DefaultChannel is the well-known channel shared by all surfaces of one
// deployment.
const DefaultChannel = "virtual-fit-app"

// defaultQueueSize bounds each subscriber's pending deliveries.
const defaultQueueSize = 64

var (
	// ErrClosed is returned when publishing on a closed bus.
	ErrClosed = errors.New("bus closed")
)

// Handler receives a message delivered to a subscriber. Handlers run on the
// subscriber's own dispatch goroutine, one message at a time.
type Handler func(ctx context.Context, msg domain.Message)

// Bus is one participant's view of a channel.
type Bus interface {
	// Publish sends msg to every other participant on the channel.
	Publish(ctx context.Context, msg domain.Message) error

	// Subscribe registers h and returns a function that removes it.
	Subscribe(h Handler) (unsubscribe func())

	// Origin identifies this participant.
	Origin() string

	// Close leaves the channel and stops all subscriptions.
	Close() error
}
