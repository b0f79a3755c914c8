package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/ashureev/tryon-orchestrator/internal/metrics"
	"github.com/google/uuid"
)

const flushPollInterval = 5 * time.Millisecond

// Hub is the process-wide set of named channels. Participants join a channel
// through an Endpoint; channels never exchange messages with each other.
type Hub struct {
	mu        sync.RWMutex
	channels  map[string]map[string]*Endpoint
	metrics   *metrics.Metrics
	queueSize int
}

// Option configures a Hub.
type Option func(*Hub)

// WithMetrics records publications and drops on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithQueueSize bounds each subscriber's pending deliveries.
func WithQueueSize(n int) Option {
	return func(h *Hub) { h.queueSize = n }
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		channels:  make(map[string]map[string]*Endpoint),
		queueSize: defaultQueueSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Join adds a new participant to channel.
func (h *Hub) Join(channel string) *Endpoint {
	e := &Endpoint{
		hub:     h,
		channel: channel,
		origin:  uuid.NewString(),
		subs:    newSubscriberSet(h.queueSize, h.metrics.DeliveryDropped),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[string]*Endpoint)
		h.channels[channel] = members
	}
	members[e.origin] = e
	slog.Debug("Bus endpoint joined", "channel", channel, "origin", e.origin)
	return e
}

// Members returns how many participants are on channel.
func (h *Hub) Members(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Flush waits until every delivery already queued on channel has been
// handled, or ctx is done.
func (h *Hub) Flush(ctx context.Context, channel string) error {
	ticker := time.NewTicker(flushPollInterval)
	defer ticker.Stop()

	for h.pending(channel) > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("flush channel %s: %w", channel, ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func (h *Hub) pending(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var n int64
	for _, e := range h.channels[channel] {
		n += e.subs.pending.Load()
	}
	return n
}

func (h *Hub) leave(e *Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.channels[e.channel]
	if !ok {
		return
	}
	delete(members, e.origin)
	if len(members) == 0 {
		delete(h.channels, e.channel)
	}
	slog.Debug("Bus endpoint left", "channel", e.channel, "origin", e.origin)
}

func (h *Hub) broadcast(from *Endpoint, msg domain.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for origin, peer := range h.channels[from.channel] {
		if origin == from.origin {
			continue
		}
		peer.subs.deliver(msg)
	}
	h.metrics.MessagePublished(msg.Type)
}

// Endpoint is one participant on a hub channel. It implements Bus.
type Endpoint struct {
	hub     *Hub
	channel string
	origin  string
	subs    *subscriberSet

	mu     sync.Mutex
	closed bool
}

var _ Bus = (*Endpoint)(nil)

// Publish delivers msg to every other endpoint on the channel.
func (e *Endpoint) Publish(ctx context.Context, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.hub.broadcast(e, msg)
	return nil
}

// Subscribe registers h for messages published by other endpoints.
func (e *Endpoint) Subscribe(h Handler) func() {
	return e.subs.add(h)
}

// Origin returns the endpoint's unique id.
func (e *Endpoint) Origin() string {
	return e.origin
}

// Channel returns the channel name.
func (e *Endpoint) Channel() string {
	return e.channel
}

// Close leaves the channel. It is safe to call more than once.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.hub.leave(e)
	e.subs.closeAll()
	return nil
}
