package spatial

import (
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// SceneConfig controls how anchor positions evolve between updates.
type SceneConfig struct {
	Smoothing float64 // weight of a new reading, 1 = no smoothing
}

// DefaultSceneConfig weighs new readings at 0.7.
func DefaultSceneConfig() SceneConfig {
	return SceneConfig{Smoothing: 0.7}
}

type placed struct {
	anchor   SpatialAnchor
	lastSeen time.Time // last determinate reading
}

// Scene holds the anchors shown to users. Each update replaces the set of
// anchors; an anchor whose ray missed keeps its last known position.
type Scene struct {
	mu      sync.RWMutex
	config  SceneConfig
	anchors map[uuid.UUID]*placed
	order   []uuid.UUID
}

// NewScene creates an empty scene.
func NewScene(cfg SceneConfig) *Scene {
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		cfg.Smoothing = 1
	}
	return &Scene{config: cfg, anchors: make(map[uuid.UUID]*placed)}
}

// Update applies a batch and returns the resulting anchors in batch order.
func (s *Scene) Update(batch []SpatialAnchor) []SpatialAnchor {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	next := make(map[uuid.UUID]*placed, len(batch))
	order := make([]uuid.UUID, 0, len(batch))

	for _, a := range batch {
		prev, seen := s.anchors[a.ID]
		p := &placed{anchor: a}
		switch {
		case !a.IsIndeterminate() && seen && !prev.anchor.IsIndeterminate():
			p.anchor.Position = lerp(prev.anchor.Position, a.Position, s.config.Smoothing)
			p.lastSeen = now
		case !a.IsIndeterminate():
			p.lastSeen = now
		case seen:
			p.anchor.Position = prev.anchor.Position
			p.lastSeen = prev.lastSeen
		}
		if _, dup := next[a.ID]; !dup {
			order = append(order, a.ID)
		}
		next[a.ID] = p
	}
	s.anchors = next
	s.order = order
	return s.snapshot()
}

func lerp(from, to mgl64.Vec3, weight float64) mgl64.Vec3 {
	return from.Mul(1 - weight).Add(to.Mul(weight))
}

// Anchors returns a copy of the current anchors.
func (s *Scene) Anchors() []SpatialAnchor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

// Get returns the anchor with id.
func (s *Scene) Get(id uuid.UUID) (SpatialAnchor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.anchors[id]
	if !ok {
		return SpatialAnchor{}, false
	}
	return p.anchor, true
}

// LastSeen returns when the anchor last had a determinate position.
func (s *Scene) LastSeen(id uuid.UUID) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.anchors[id]
	if !ok || p.lastSeen.IsZero() {
		return time.Time{}, false
	}
	return p.lastSeen, true
}

// Len returns the number of anchors.
func (s *Scene) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.anchors)
}

// Clear removes all anchors.
func (s *Scene) Clear() {
	s.mu.Lock()
	s.anchors = make(map[uuid.UUID]*placed)
	s.order = nil
	s.mu.Unlock()
}

// snapshot copies anchors in order. Callers hold s.mu.
func (s *Scene) snapshot() []SpatialAnchor {
	out := make([]SpatialAnchor, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.anchors[id].anchor)
	}
	return out
}
