package bus

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/ashureev/tryon-orchestrator/internal/domain"
)

// subscriber owns a FIFO queue drained by a single dispatch goroutine, so
// messages from one origin reach the handler in publish order.
type subscriber struct {
	handler Handler
	queue   chan domain.Message
	done    chan struct{}
	pending *atomic.Int64
}

func newSubscriber(ctx context.Context, h Handler, size int, pending *atomic.Int64) *subscriber {
	s := &subscriber{
		handler: h,
		queue:   make(chan domain.Message, size),
		done:    make(chan struct{}),
		pending: pending,
	}
	go s.run(ctx)
	return s
}

func (s *subscriber) run(ctx context.Context) {
	defer close(s.done)
	for msg := range s.queue {
		s.dispatch(ctx, msg)
		s.pending.Add(-1)
	}
}

// dispatch shields the subscription from a misbehaving handler: a panic is
// logged and the subscriber keeps receiving.
func (s *subscriber) dispatch(ctx context.Context, msg domain.Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Bus handler panicked",
				"type", msg.Type,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	s.handler(ctx, msg)
}

// subscriberSet is the set of handlers attached to one participant.
// Sends happen under the read lock and queue closes under the write lock, so
// a delivery never races a close.
type subscriberSet struct {
	mu        sync.RWMutex
	next      uint64
	subs      map[uint64]*subscriber
	closed    bool
	queueSize int
	onDrop    func()
	// pending counts queued deliveries whose handler has not returned.
	pending atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

func newSubscriberSet(queueSize int, onDrop func()) *subscriberSet {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &subscriberSet{
		subs:      make(map[uint64]*subscriber),
		queueSize: queueSize,
		onDrop:    onDrop,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *subscriberSet) add(h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || h == nil {
		return func() {}
	}

	id := s.next
	s.next++
	s.subs[id] = newSubscriber(s.ctx, h, s.queueSize, &s.pending)

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *subscriberSet) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subs[id]; ok {
		close(sub.queue)
		delete(s.subs, id)
	}
}

// deliver enqueues msg on every subscriber without blocking.
func (s *subscriberSet) deliver(msg domain.Message) (dropped int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	for _, sub := range s.subs {
		s.pending.Add(1)
		select {
		case sub.queue <- msg:
		default:
			s.pending.Add(-1)
			dropped++
			slog.Warn("Bus subscriber queue full, dropping message", "type", msg.Type)
			if s.onDrop != nil {
				s.onDrop()
			}
		}
	}
	return dropped
}

func (s *subscriberSet) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// closeAll stops every subscriber. Queued messages are still dispatched
// before the goroutines exit.
func (s *subscriberSet) closeAll() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = make(map[uint64]*subscriber)
	for _, sub := range subs {
		close(sub.queue)
	}
	s.mu.Unlock()

	s.cancel()
}
