package customer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/tryon-orchestrator/internal/bus"
	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/ashureev/tryon-orchestrator/internal/selection"
)

const (
	defaultCloseRepeats  = 3
	defaultCloseInterval = 50 * time.Millisecond
)

// Config configures a customer surface.
type Config struct {
	// Session scopes the surface to one try-on session. Empty accepts any.
	Session string

	// EngineConfirmed is true only when the operator observed a successful
	// engine start before this surface was opened.
	EngineConfirmed bool
	StreamURL       string

	// CloseRepeats is how many times SCREEN_CLOSED is sent on unload.
	CloseRepeats  int
	CloseInterval time.Duration

	Scan ScanConfig
}

// Surface is the customer-side orchestrator for one try-on window.
type Surface struct {
	bus       bus.Bus
	cfg       Config
	scan      *Scan
	selection *selection.Synchronizer

	unsubscribe func()

	mu         sync.Mutex
	terminated bool
	reason     string
	done       chan struct{}
}

// Open starts a surface on b. The scan begins in AwaitingTutorial.
func Open(b bus.Bus, cfg Config) *Surface {
	if cfg.CloseRepeats <= 0 {
		cfg.CloseRepeats = defaultCloseRepeats
	}
	if cfg.CloseInterval <= 0 {
		cfg.CloseInterval = defaultCloseInterval
	}

	s := &Surface{
		bus:       b,
		cfg:       cfg,
		scan:      NewScan(cfg.Scan),
		selection: selection.NewSynchronizer(),
		done:      make(chan struct{}),
	}
	s.mu.Lock()
	s.unsubscribe = b.Subscribe(s.handle)
	s.mu.Unlock()

	if !cfg.EngineConfirmed {
		slog.Warn("Customer surface opened without a confirmed engine start, showing no signal",
			"session", cfg.Session)
	}
	slog.Info("Customer surface opened", "session", cfg.Session, "origin", b.Origin())
	return s
}

func (s *Surface) handle(_ context.Context, msg domain.Message) {
	if !msg.InSession(s.cfg.Session) {
		slog.Debug("Ignoring message for another session", "type", msg.Type, "session", msg.Session)
		return
	}

	switch msg.Type {
	case domain.MsgSelectItem:
		g, err := msg.Garment()
		if err != nil {
			slog.Warn("Ignoring malformed SELECT_ITEM", "error", err)
			return
		}
		if s.isTerminated() {
			return
		}
		region := s.selection.Select(g)
		slog.Info("Garment selected remotely", "garment_id", g.ID, "region", region)
	case domain.MsgCloseScreen:
		s.terminate("closed by operator")
	}
}

// Scan returns the scan sub-machine.
func (s *Surface) Scan() *Scan {
	return s.scan
}

// Selection returns the surface's slots.
func (s *Surface) Selection() *selection.Synchronizer {
	return s.selection
}

// SelectLocal applies a selection made on this surface and broadcasts it.
func (s *Surface) SelectLocal(ctx context.Context, g domain.Garment) (domain.Region, error) {
	if s.isTerminated() {
		return "", ErrTerminated
	}
	msg, err := domain.NewSelectItem(s.cfg.Session, g)
	if err != nil {
		return "", fmt.Errorf("select garment: %w", err)
	}
	region := s.selection.Select(g)
	if err := s.bus.Publish(ctx, msg); err != nil {
		return region, fmt.Errorf("broadcast selection: %w", err)
	}
	return region, nil
}

// Deselect clears a slot on this surface only.
func (s *Surface) Deselect(region domain.Region) bool {
	return s.selection.Deselect(region)
}

// VideoSource returns the stream to render, or "" for the no-signal
// fallback. The stream is only used when the engine start was confirmed.
func (s *Surface) VideoSource() string {
	if !s.cfg.EngineConfirmed || s.isTerminated() {
		return ""
	}
	return s.cfg.StreamURL
}

// HandleHistoryNavigation reports whether a back-navigation attempt was
// neutralized. While the surface is open it always is.
func (s *Surface) HandleHistoryNavigation() bool {
	if s.isTerminated() {
		return false
	}
	slog.Debug("Back navigation suppressed", "session", s.cfg.Session)
	return true
}

// Unload announces SCREEN_CLOSED redundantly and terminates the surface.
// Publishing errors do not stop the remaining attempts.
func (s *Surface) Unload(ctx context.Context) error {
	if s.isTerminated() {
		return nil
	}

	var lastErr error
	sent := 0
announce:
	for i := 0; i < s.cfg.CloseRepeats; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				break announce
			case <-time.After(s.cfg.CloseInterval):
			}
		}
		if err := s.bus.Publish(ctx, domain.NewScreenClosed(s.cfg.Session)); err != nil {
			lastErr = err
			slog.Warn("Failed to publish SCREEN_CLOSED", "error", err, "attempt", i+1)
			continue
		}
		sent++
	}

	s.terminate("unloaded")
	if sent == 0 && lastErr != nil {
		return fmt.Errorf("announce screen closed: %w", lastErr)
	}
	return nil
}

// Done is closed when the surface terminates.
func (s *Surface) Done() <-chan struct{} {
	return s.done
}

// Reason returns why the surface terminated.
func (s *Surface) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Surface) isTerminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

func (s *Surface) terminate(reason string) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	s.reason = reason
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	s.scan.Stop()
	close(s.done)
	// The dispatch goroutine may be the caller; unsubscribing only closes
	// the queue, so it does not wait on itself.
	if unsubscribe != nil {
		unsubscribe()
	}
	slog.Info("Customer surface terminated", "reason", reason, "session", s.cfg.Session)
}
