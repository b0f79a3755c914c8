// Package customer runs the customer-facing try-on surface: the body-scan
// sub-machine, garment selection and the close protocol with the operator.
package customer

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/tryon-orchestrator/internal/domain"
)

var (
	// ErrAlreadyCaptured is returned when a capture is triggered after the
	// scan completed.
	ErrAlreadyCaptured = errors.New("scan already captured")

	// ErrTerminated is returned by operations on a closed surface.
	ErrTerminated = errors.New("surface terminated")
)

const (
	defaultRampDuration = 3 * time.Second
	defaultTickInterval = 50 * time.Millisecond
)

// ScanConfig tunes the capture ramp.
type ScanConfig struct {
	RampDuration time.Duration
	TickInterval time.Duration
}

// ScanProgress is a snapshot of the scan.
type ScanProgress struct {
	State    domain.ScanState `json:"state"`
	Progress int              `json:"progress"`
}

// Scan is the body-capture sub-machine: AwaitingTutorial, then Capturing
// with a deterministic 0..100 ramp, then Complete.
type Scan struct {
	cfg ScanConfig

	mu        sync.Mutex
	state     domain.ScanState
	progress  int
	gen       uint64
	stop      chan struct{}
	stopped   bool
	observers []func(ScanProgress)
}

// NewScan returns a scan awaiting the tutorial.
func NewScan(cfg ScanConfig) *Scan {
	if cfg.RampDuration <= 0 {
		cfg.RampDuration = defaultRampDuration
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.TickInterval > cfg.RampDuration {
		cfg.TickInterval = cfg.RampDuration
	}
	return &Scan{cfg: cfg, state: domain.ScanAwaitingTutorial}
}

// OnChange registers fn for progress updates.
func (s *Scan) OnChange(fn func(ScanProgress)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Progress returns the current snapshot.
func (s *Scan) Progress() ScanProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ScanProgress{State: s.state, Progress: s.progress}
}

// Acknowledge dismisses the tutorial and begins capturing. Outside
// AwaitingTutorial it does nothing.
func (s *Scan) Acknowledge() {
	s.mu.Lock()
	if s.stopped || s.state != domain.ScanAwaitingTutorial {
		s.mu.Unlock()
		return
	}
	s.beginLocked()
}

// Escape is the cancel path out of the tutorial; it behaves like
// Acknowledge.
func (s *Scan) Escape() {
	s.Acknowledge()
}

// Capture triggers a capture. It is rejected once Complete and a no-op while
// Capturing. From AwaitingTutorial it acknowledges the tutorial.
func (s *Scan) Capture() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrTerminated
	}
	switch s.state {
	case domain.ScanComplete:
		s.mu.Unlock()
		return ErrAlreadyCaptured
	case domain.ScanCapturing:
		s.mu.Unlock()
		return nil
	}
	s.beginLocked()
	return nil
}

// Reload returns the scan to AwaitingTutorial, as when the surface reloads.
func (s *Scan) Reload() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.cancelLocked()
	s.state = domain.ScanAwaitingTutorial
	s.progress = 0
	s.emitLocked()
}

// Stop cancels any running ramp. The scan accepts no further input.
func (s *Scan) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.stopped = true
}

// beginLocked enters Capturing and starts the ramp. It releases s.mu.
func (s *Scan) beginLocked() {
	s.cancelLocked()
	s.state = domain.ScanCapturing
	s.progress = 0
	s.gen++
	gen := s.gen
	stop := make(chan struct{})
	s.stop = stop
	s.emitLocked()

	slog.Debug("Scan capturing", "ramp", s.cfg.RampDuration)
	go s.ramp(gen, stop)
}

func (s *Scan) cancelLocked() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// emitLocked snapshots the state and notifies observers after unlocking.
func (s *Scan) emitLocked() {
	snap := ScanProgress{State: s.state, Progress: s.progress}
	observers := s.observers
	s.mu.Unlock()
	for _, fn := range observers {
		fn(snap)
	}
}

func (s *Scan) ramp(gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	steps := int(s.cfg.RampDuration / s.cfg.TickInterval)
	if steps < 1 {
		steps = 1
	}

	for tick := 1; ; tick++ {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if s.gen != gen || s.state != domain.ScanCapturing {
			s.mu.Unlock()
			return
		}
		s.progress = tick * 100 / steps
		if s.progress >= 100 {
			s.progress = 100
			s.state = domain.ScanComplete
			s.stop = nil
			s.emitLocked()
			slog.Info("Scan complete")
			return
		}
		s.emitLocked()
	}
}
