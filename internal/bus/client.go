package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/ashureev/tryon-orchestrator/internal/identity"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// DialOptions identify the surface joining through the relay.
type DialOptions struct {
	Role      domain.SurfaceRole
	SurfaceID string
	Session   string
}

// RemoteBus is a Bus whose channel lives behind a relay. The relay assigns
// the connection its own endpoint, so the no-echo rule is enforced there.
type RemoteBus struct {
	conn   *websocket.Conn
	origin string
	subs   *subscriberSet

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

var _ Bus = (*RemoteBus)(nil)

// Dial connects to a relay at rawURL (ws:// or wss://).
func Dial(ctx context.Context, rawURL string, opts DialOptions) (*RemoteBus, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if opts.SurfaceID == "" {
		opts.SurfaceID = uuid.NewString()
	}

	header := http.Header{}
	header.Set(identity.RoleHeaderName, string(opts.Role))
	header.Set(identity.SurfaceHeaderName, opts.SurfaceID)
	if opts.Session != "" {
		header.Set(identity.SessionHeaderName, opts.Session)
	}

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", u.Host, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	b := &RemoteBus{
		conn:   conn,
		origin: opts.SurfaceID,
		subs:   newSubscriberSet(defaultQueueSize, nil),
		ctx:    loopCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go b.readLoop()

	slog.Info("Connected to bus relay", "url", u.Redacted(), "role", opts.Role, "surface_id", opts.SurfaceID)
	return b, nil
}

func (b *RemoteBus) readLoop() {
	defer close(b.done)
	for {
		_, data, err := b.conn.Read(b.ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && b.ctx.Err() == nil {
				slog.Warn("Bus relay read error", "error", err)
			}
			b.subs.closeAll()
			return
		}

		var msg domain.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Dropping undecodable bus message", "error", err)
			continue
		}
		b.subs.deliver(msg)
	}
}

// Publish sends msg to the relay.
func (b *RemoteBus) Publish(ctx context.Context, msg domain.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := writeMessage(ctx, b.conn, msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}
	return nil
}

// Subscribe registers h for messages relayed from other surfaces.
func (b *RemoteBus) Subscribe(h Handler) func() {
	return b.subs.add(h)
}

// Origin returns the surface id presented to the relay.
func (b *RemoteBus) Origin() string {
	return b.origin
}

// Disconnected is closed once the relay connection is gone.
func (b *RemoteBus) Disconnected() <-chan struct{} {
	return b.done
}

// Close shuts the connection. It is safe to call more than once.
func (b *RemoteBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if err := b.conn.Close(websocket.StatusNormalClosure, "surface closed"); err != nil {
		slog.Debug("Relay connection close returned error", "error", err)
	}
	b.cancel()
	<-b.done
	b.subs.closeAll()
	return nil
}
