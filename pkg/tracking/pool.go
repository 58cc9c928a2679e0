package tracking

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-labvision/internal/log"
	"github.com/teslashibe/go-labvision/pkg/camera"
	"github.com/teslashibe/go-labvision/pkg/tracking/detection"
	"github.com/teslashibe/go-labvision/pkg/tracking/tracker"
)

// Policy decides how a detection batch seeds trackers.
type Policy struct {
	Fixed bool
	Count int // trackers per batch when Fixed
}

// PerDetection creates one tracker per detection.
func PerDetection() Policy { return Policy{} }

// FixedCount creates n trackers, all seeded from the highest-confidence
// detection of the batch.
func FixedCount(n int) Policy { return Policy{Fixed: true, Count: n} }

func (p Policy) String() string {
	if p.Fixed {
		return fmt.Sprintf("fixed(%d)", p.Count)
	}
	return "per-detection"
}

// slot pairs a tracked object with its tracker.
type slot struct {
	object              TrackedObject
	tracker             tracker.Tracker
	initialized         bool
	framesSinceMovement int
}

// slotResult is the outcome of one slot update, applied after all slots ran.
type slotResult struct {
	ok    bool
	stale bool
}

// update advances the slot's tracker. It only touches the slot itself.
func (s *slot) update(frame *camera.Frame, staleness int) slotResult {
	if !s.initialized {
		return slotResult{}
	}
	box, ok := s.tracker.Update(frame)
	if !ok {
		return slotResult{}
	}
	if sameBits(box, s.object.Rect) {
		s.framesSinceMovement++
	} else {
		s.framesSinceMovement = 0
	}
	s.object.moveTo(frame, box)
	return slotResult{ok: true, stale: s.framesSinceMovement > staleness}
}

func sameBits(a, b detection.Rect) bool {
	return math.Float64bits(a.X) == math.Float64bits(b.X) &&
		math.Float64bits(a.Y) == math.Float64bits(b.Y) &&
		math.Float64bits(a.W) == math.Float64bits(b.W) &&
		math.Float64bits(a.H) == math.Float64bits(b.H)
}

// Pool owns the active trackers. Slot updates run in parallel; every
// change to the slot list happens after they join, under one lock, so
// readers of Snapshot never see a partial pool.
type Pool struct {
	mu               sync.Mutex // guards slots and tracker access
	slots            []*slot
	algorithm        tracker.Algorithm
	factory          tracker.Factory
	smoothing        bool
	kalman           tracker.KalmanConfig
	staleness        int
	workers          int
	stalePolicy      StalePolicy
	lastDetectionSeq uint64
	lastTrackedSeq   uint64

	snapMu   sync.RWMutex
	snapshot []TrackedObject

	logger *slog.Logger
}

// NewPool creates an empty pool. It fails when cfg.Algorithm has no
// implementation.
func NewPool(cfg Config) (*Pool, error) {
	factory, err := tracker.FactoryFor(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	return NewPoolWithFactory(cfg, factory), nil
}

// NewPoolWithFactory creates an empty pool whose trackers come from
// factory instead of cfg.Algorithm.
func NewPoolWithFactory(cfg Config, factory tracker.Factory) *Pool {
	staleness := cfg.StalenessThreshold
	if staleness <= 0 {
		staleness = DefaultStalenessThreshold
	}
	return &Pool{
		algorithm:   cfg.Algorithm,
		factory:     factory,
		smoothing:   cfg.Smoothing,
		kalman:      cfg.Kalman,
		staleness:   staleness,
		workers:     cfg.Workers,
		stalePolicy: cfg.StalePolicy,
		logger:      log.Component("tracking.pool"),
	}
}

// InitializeFromDetections adds trackers for dets according to policy and
// returns the objects created. A tracker that fails to lock on is logged
// and kept; its first update evicts it.
func (p *Pool) InitializeFromDetections(dets []detection.Detection, policy Policy) []TrackedObject {
	p.mu.Lock()
	factory := p.factory
	p.mu.Unlock()

	slots := p.build(factory, dets, policy)

	p.mu.Lock()
	p.slots = append(p.slots, slots...)
	p.publish()
	p.mu.Unlock()

	return objectsOf(slots)
}

// Reconcile replaces the whole pool with trackers seeded from dets, the
// result of detecting on frame seq. The swap is atomic: readers see
// either the old pool or the new one. Depending on the stale policy a
// batch older than the pool is rejected with ErrStaleDetections.
func (p *Pool) Reconcile(seq uint64, dets []detection.Detection, policy Policy) ([]TrackedObject, error) {
	p.mu.Lock()
	if err := p.checkStale(seq); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	factory := p.factory
	p.mu.Unlock()

	fresh := p.build(factory, dets, policy)

	p.mu.Lock()
	// another batch may have been reconciled while trackers were built
	if err := p.checkStale(seq); err != nil {
		p.mu.Unlock()
		p.closeSlots(fresh)
		return nil, err
	}
	old := p.slots
	p.slots = fresh
	if seq > p.lastDetectionSeq {
		p.lastDetectionSeq = seq
	}
	p.publish()
	p.mu.Unlock()

	p.closeSlots(old)
	return objectsOf(fresh), nil
}

func (p *Pool) checkStale(seq uint64) error {
	switch p.stalePolicy {
	case RejectOlderDetections:
		if seq < p.lastDetectionSeq {
			p.logger.Warn("stale detections rejected", "seq", seq, "last_detection", p.lastDetectionSeq)
			return fmt.Errorf("%w: frame %d, last detection %d", ErrStaleDetections, seq, p.lastDetectionSeq)
		}
	case RejectBehindTracking:
		if seq < p.lastTrackedSeq {
			p.logger.Warn("stale detections rejected", "seq", seq, "last_tracked", p.lastTrackedSeq)
			return fmt.Errorf("%w: frame %d, last tracked %d", ErrStaleDetections, seq, p.lastTrackedSeq)
		}
	}
	return nil
}

// build creates and seeds trackers. It runs without the pool lock.
func (p *Pool) build(factory tracker.Factory, dets []detection.Detection, policy Policy) []*slot {
	seeds := dets
	if policy.Fixed {
		best := detection.SelectBest(dets)
		if best < 0 {
			p.logger.Warn("no detection to seed fixed tracker count")
			return nil
		}
		count := policy.Count
		if count < 0 {
			p.logger.Warn("negative fixed tracker count", "count", count)
			count = 0
		}
		seeds = make([]detection.Detection, count)
		for i := range seeds {
			seeds[i] = dets[best]
		}
	}

	slots := make([]*slot, 0, len(seeds))
	for _, d := range seeds {
		t, err := factory()
		if err != nil {
			p.logger.Error("tracker creation failed", "error", err)
			continue
		}
		if p.smoothing {
			t = tracker.NewKalman(t, p.kalman)
		}
		s := &slot{object: ObjectFromDetection(d), tracker: t}
		s.initialized = t.Init(d.Frame, d.Rect)
		if !s.initialized {
			p.logger.Warn("tracker failed to initialize", "label", d.Label, "rect", d.Rect.String())
		}
		slots = append(slots, s)
	}
	return slots
}

// Update runs one tracker update per slot in parallel, then evicts failed
// and stale slots as a batch. It returns the surviving objects.
func (p *Pool) Update(frame *camera.Frame) []TrackedObject {
	p.mu.Lock()

	slots := p.slots
	results := make([]slotResult, len(slots))

	var g errgroup.Group
	if p.workers > 0 {
		g.SetLimit(p.workers)
	}
	for i, s := range slots {
		i, s := i, s
		g.Go(func() error {
			results[i] = s.update(frame, p.staleness)
			return nil
		})
	}
	_ = g.Wait()

	kept := make([]*slot, 0, len(slots))
	var evicted []*slot
	for i, s := range slots {
		if results[i].ok && !results[i].stale {
			kept = append(kept, s)
			continue
		}
		evicted = append(evicted, s)
	}
	p.slots = kept
	if frame != nil && frame.Seq > p.lastTrackedSeq {
		p.lastTrackedSeq = frame.Seq
	}
	objs := p.publish()
	p.mu.Unlock()

	if len(evicted) > 0 {
		p.logger.Debug("slots evicted", "count", len(evicted), "remaining", len(kept))
		p.closeSlots(evicted)
	}
	return objs
}

// Reset drops every slot and releases its tracker. An empty pool is valid.
func (p *Pool) Reset() error {
	p.mu.Lock()
	old := p.slots
	p.slots = nil
	p.lastDetectionSeq = 0
	p.lastTrackedSeq = 0
	p.publish()
	p.mu.Unlock()

	return p.closeSlots(old)
}

// SetAlgorithm switches the tracker algorithm and resets the pool.
func (p *Pool) SetAlgorithm(a tracker.Algorithm) error {
	factory, err := tracker.FactoryFor(a)
	if err != nil {
		p.logger.Error("tracker algorithm rejected", "algorithm", a.String(), "error", err)
		return err
	}
	if err := p.Reset(); err != nil {
		p.logger.Warn("reset before algorithm switch", "error", err)
	}
	p.mu.Lock()
	p.algorithm = a
	p.factory = factory
	p.mu.Unlock()
	p.logger.Info("tracker algorithm switched", "algorithm", a.String())
	return nil
}

// Algorithm returns the active tracker algorithm.
func (p *Pool) Algorithm() tracker.Algorithm {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.algorithm
}

// Snapshot returns a copy of the current objects.
func (p *Pool) Snapshot() []TrackedObject {
	p.snapMu.RLock()
	defer p.snapMu.RUnlock()
	out := make([]TrackedObject, len(p.snapshot))
	copy(out, p.snapshot)
	return out
}

// Len returns the number of slots.
func (p *Pool) Len() int {
	p.snapMu.RLock()
	defer p.snapMu.RUnlock()
	return len(p.snapshot)
}

// publish stores a snapshot of the slots and returns a copy for the caller.
// Callers hold p.mu.
func (p *Pool) publish() []TrackedObject {
	objs := objectsOf(p.slots)
	p.snapMu.Lock()
	p.snapshot = objs
	p.snapMu.Unlock()

	out := make([]TrackedObject, len(objs))
	copy(out, objs)
	return out
}

func (p *Pool) closeSlots(slots []*slot) error {
	var err error
	for _, s := range slots {
		err = multierr.Append(err, s.tracker.Close())
	}
	if err != nil {
		p.logger.Warn("tracker close failed", "error", err)
	}
	return err
}

func objectsOf(slots []*slot) []TrackedObject {
	out := make([]TrackedObject, len(slots))
	for i, s := range slots {
		out[i] = s.object
	}
	return out
}
