package spatial

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/teslashibe/go-labvision/internal/log"
	"github.com/teslashibe/go-labvision/pkg/camera"
	"github.com/teslashibe/go-labvision/pkg/tracking"
)

var down = mgl64.Vec3{0, -1, 0}

// OffsetFactor returns how far down the box the anchor pixel sits, as a
// fraction of its height: 1 looking straight down, 0.5 looking level and
// 0 once the camera points above the horizon.
func OffsetFactor(forward mgl64.Vec3) float64 {
	angle := camera.AngleDeg(forward, down)
	if angle > 90 {
		return 0
	}
	return 1 - angle/180
}

// AnchorPixel returns the pixel of obj's box that represents its base,
// in image coordinates (origin top-left).
func AnchorPixel(obj tracking.TrackedObject) mgl64.Vec2 {
	f := OffsetFactor(obj.Extrinsic.Forward())
	return mgl64.Vec2{obj.Rect.X + obj.Rect.W/2, obj.Rect.Y + obj.Rect.H*f}
}

// lookRotation returns the rotation taking +Z to forward and +Y towards up.
func lookRotation(forward, up mgl64.Vec3) mgl64.Mat3 {
	z := forward.Normalize()
	x := up.Cross(z).Normalize()
	y := z.Cross(x)
	return mgl64.Mat3FromCols(x, y, z)
}

// Projector turns tracked boxes into world anchors. Projection reads the
// world, so it only runs on the dispatcher that owns it.
type Projector struct {
	dispatcher *Dispatcher

	mu     sync.RWMutex
	world  RayCaster
	offset mgl64.Vec2 // added to the unprojected point at unit depth

	logger *slog.Logger
}

// NewProjector creates a projector bound to d. A nil world never hits.
func NewProjector(d *Dispatcher, world RayCaster) *Projector {
	if world == nil {
		world = EmptyWorld{}
	}
	return &Projector{
		dispatcher: d,
		world:      world,
		logger:     log.Component("spatial.projector"),
	}
}

// SetWorld replaces the world queried by Project.
func (p *Projector) SetWorld(w RayCaster) {
	if w == nil {
		w = EmptyWorld{}
	}
	p.mu.Lock()
	p.world = w
	p.mu.Unlock()
}

// SetOffset sets the calibration offset applied at unit depth.
func (p *Projector) SetOffset(offset mgl64.Vec2) {
	p.mu.Lock()
	p.offset = offset
	p.mu.Unlock()
	p.logger.Info("unprojection offset changed", "x", offset.X(), "y", offset.Y())
}

// Offset returns the calibration offset.
func (p *Projector) Offset() mgl64.Vec2 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.offset
}

// Ray returns the normalized world direction of obj's anchor pixel, in the
// convention of the pose: the object lies along the negated ray.
func (p *Projector) Ray(obj tracking.TrackedObject) (mgl64.Vec3, error) {
	anchor := AnchorPixel(obj)
	flipped := mgl64.Vec2{anchor.X(), float64(obj.FrameHeight) - anchor.Y()}

	unit, err := obj.Intrinsic.UnprojectAtUnitDepth(flipped)
	if err != nil {
		return mgl64.Vec3{}, err
	}
	offset := p.Offset()
	local := mgl64.Vec3{unit.X() + offset.X(), unit.Y() + offset.Y(), 1}

	rot := lookRotation(obj.Extrinsic.Forward().Mul(-1), obj.Extrinsic.Up())
	return rot.Mul3x1(local).Normalize(), nil
}

// Project places obj in the world. A ray that hits nothing yields an
// Indeterminate position and no error. ctx must come from the owning
// dispatcher; any other caller gets ErrWrongContext.
func (p *Projector) Project(ctx context.Context, obj tracking.TrackedObject) (SpatialAnchor, error) {
	if err := p.checkContext(ctx); err != nil {
		return SpatialAnchor{}, err
	}
	p.mu.RLock()
	world := p.world
	p.mu.RUnlock()
	return p.project(world, obj)
}

// ProjectAll places every object. Objects that cannot be unprojected get an
// Indeterminate position; only a context violation fails the whole call.
func (p *Projector) ProjectAll(ctx context.Context, objs []tracking.TrackedObject) ([]SpatialAnchor, error) {
	if err := p.checkContext(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	world := p.world
	p.mu.RUnlock()

	out := make([]SpatialAnchor, len(objs))
	for i, obj := range objs {
		a, err := p.project(world, obj)
		if err != nil {
			p.logger.Warn("unprojection failed", "id", obj.ID, "label", obj.Label, "error", err)
		}
		out[i] = a
	}
	return out, nil
}

func (p *Projector) project(world RayCaster, obj tracking.TrackedObject) (SpatialAnchor, error) {
	anchor := SpatialAnchor{ID: obj.ID, Label: obj.Label, Position: Indeterminate, Seq: obj.Seq}

	ray, err := p.Ray(obj)
	if err != nil {
		return anchor, fmt.Errorf("project %s: %w", obj.Label, err)
	}
	hit, ok := world.Raycast(obj.Extrinsic.Position(), ray.Mul(-1))
	if !ok {
		p.logger.Debug("ray cast missed", "label", obj.Label, "pose", obj.Extrinsic.String())
		return anchor, nil
	}
	anchor.Position = hit
	return anchor, nil
}

func (p *Projector) checkContext(ctx context.Context) error {
	if p.dispatcher == nil || !p.dispatcher.Owns(ctx) {
		p.logger.Error("projection outside the owning dispatcher")
		return ErrWrongContext
	}
	return nil
}
