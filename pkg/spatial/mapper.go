package spatial

import (
	"context"
	"log/slog"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/atomic"

	"github.com/teslashibe/go-labvision/internal/log"
	"github.com/teslashibe/go-labvision/pkg/camera"
	"github.com/teslashibe/go-labvision/pkg/tracking"
)

// AnchorHandler receives every placed batch, on the dispatcher.
type AnchorHandler func(anchors []SpatialAnchor)

// Mapper is the tracking.Consumer that moves tracked objects onto the
// dispatcher, projects them and keeps the scene current.
type Mapper struct {
	dispatcher *Dispatcher
	projector  *Projector
	scene      *Scene

	simulate  *atomic.Bool
	dropped   *atomic.Uint64
	mu        sync.RWMutex
	simulated []SpatialAnchor
	handler   AnchorHandler

	logger *slog.Logger
}

var _ tracking.Consumer = (*Mapper)(nil)

// NewMapper wires a projector and a scene to d.
func NewMapper(d *Dispatcher, projector *Projector, scene *Scene) *Mapper {
	return &Mapper{
		dispatcher: d,
		projector:  projector,
		scene:      scene,
		simulate:   atomic.NewBool(false),
		dropped:    atomic.NewUint64(0),
		logger:     log.Component("spatial.mapper"),
	}
}

// OnTracked implements tracking.Consumer. It never blocks: batches that do
// not fit the dispatcher queue are dropped.
func (m *Mapper) OnTracked(frame *camera.Frame, objects []tracking.TrackedObject) {
	err := m.dispatcher.Post(func(ctx context.Context) {
		m.place(ctx, objects)
	})
	if err != nil {
		m.dropped.Inc()
		m.logger.Debug("anchor batch dropped", "frame", frame.Seq, "error", err)
	}
}

func (m *Mapper) place(ctx context.Context, objects []tracking.TrackedObject) {
	var anchors []SpatialAnchor
	if len(objects) == 0 && m.simulate.Load() {
		m.mu.RLock()
		anchors = append(anchors, m.simulated...)
		m.mu.RUnlock()
	} else {
		var err error
		anchors, err = m.projector.ProjectAll(ctx, objects)
		if err != nil {
			m.logger.Error("anchor placement failed", "error", err)
			return
		}
	}

	placed := m.scene.Update(anchors)

	m.mu.RLock()
	handler := m.handler
	m.mu.RUnlock()
	if handler != nil {
		handler(placed)
	}
}

// SetHandler sets the receiver of placed anchors.
func (m *Mapper) SetHandler(h AnchorHandler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// SetSimulated enables simulation at the given positions. While enabled, a
// frame without tracked objects yields one "Simulated" anchor per position.
// An empty list disables simulation.
func (m *Mapper) SetSimulated(positions []mgl64.Vec3) {
	m.mu.Lock()
	m.simulated = Simulated(positions)
	m.mu.Unlock()
	m.simulate.Store(len(positions) > 0)
}

// SimulatedPositions returns the positions simulation emits anchors at.
func (m *Mapper) SimulatedPositions() []mgl64.Vec3 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]mgl64.Vec3, len(m.simulated))
	for i, a := range m.simulated {
		out[i] = a.Position
	}
	return out
}

// Simulating reports whether simulation is enabled.
func (m *Mapper) Simulating() bool {
	return m.simulate.Load()
}

// Dropped returns the number of batches dropped on a full queue.
func (m *Mapper) Dropped() uint64 {
	return m.dropped.Load()
}

// Scene returns the scene.
func (m *Mapper) Scene() *Scene { return m.scene }

// Projector returns the projector.
func (m *Mapper) Projector() *Projector { return m.projector }
