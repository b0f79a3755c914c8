package selection

import (
	"log/slog"
	"sync"

	"github.com/ashureev/tryon-orchestrator/internal/domain"
)

// Slots is a snapshot of the worn garments. A nil slot is empty.
type Slots struct {
	Upper *domain.Garment `json:"upper"`
	Lower *domain.Garment `json:"lower"`
}

// Get returns the occupant of region, or nil.
func (s Slots) Get(region domain.Region) *domain.Garment {
	if region == domain.RegionLower {
		return s.Lower
	}
	return s.Upper
}

// Change describes one slot update.
type Change struct {
	Region    domain.Region
	Garment   *domain.Garment
	Ambiguous bool
	Slots     Slots
}

// ChangeFunc observes slot updates. It is called outside the lock.
type ChangeFunc func(Change)

// Synchronizer holds one garment per body region. Local and bus-origin
// selections go through the same Select, so every surface applying the same
// sequence converges on the same slots.
type Synchronizer struct {
	mu        sync.Mutex
	upper     *domain.Garment
	lower     *domain.Garment
	observers []ChangeFunc
}

// NewSynchronizer returns a synchronizer with both slots empty.
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{}
}

// OnChange registers fn for future slot updates.
func (s *Synchronizer) OnChange(fn ChangeFunc) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Select classifies g and puts it in the matching slot, replacing the
// previous occupant.
func (s *Synchronizer) Select(g domain.Garment) domain.Region {
	region, ambiguous := Classify(g)
	if ambiguous {
		slog.Debug("Garment category not classifiable, defaulting to upper",
			"garment_id", g.ID, "category", g.Category)
	}

	s.mu.Lock()
	worn := g
	if region == domain.RegionLower {
		s.lower = &worn
	} else {
		s.upper = &worn
	}
	change := Change{Region: region, Garment: &worn, Ambiguous: ambiguous, Slots: s.snapshotLocked()}
	observers := s.observers
	s.mu.Unlock()

	notify(observers, change)
	return region
}

// Deselect empties region. It reports whether the slot was occupied.
func (s *Synchronizer) Deselect(region domain.Region) bool {
	s.mu.Lock()
	var had bool
	if region == domain.RegionLower {
		had = s.lower != nil
		s.lower = nil
	} else {
		had = s.upper != nil
		s.upper = nil
	}
	if !had {
		s.mu.Unlock()
		return false
	}
	change := Change{Region: region, Slots: s.snapshotLocked()}
	observers := s.observers
	s.mu.Unlock()

	notify(observers, change)
	return true
}

// Reset empties both slots.
func (s *Synchronizer) Reset() {
	s.Deselect(domain.RegionUpper)
	s.Deselect(domain.RegionLower)
}

// Slots returns a copy of the current slots.
func (s *Synchronizer) Slots() Slots {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Synchronizer) snapshotLocked() Slots {
	var out Slots
	if s.upper != nil {
		g := *s.upper
		out.Upper = &g
	}
	if s.lower != nil {
		g := *s.lower
		out.Lower = &g
	}
	return out
}

func notify(observers []ChangeFunc, c Change) {
	for _, fn := range observers {
		fn(c)
	}
}
