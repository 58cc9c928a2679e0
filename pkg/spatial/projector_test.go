package spatial

import (
	"context"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-labvision/pkg/camera"
	"github.com/teslashibe/go-labvision/pkg/tracking"
)

func TestOffsetFactor(t *testing.T) {
	tests := []struct {
		name    string
		forward mgl64.Vec3
		want    float64
	}{
		{"down", mgl64.Vec3{0, -1, 0}, 1},
		{"tilted 45", mgl64.Vec3{0, -1, 1}, 0.75},
		{"horizontal", mgl64.Vec3{0, 0, 1}, 0.5},
		{"slightly up", mgl64.Vec3{0, 0.2, 1}, 0},
		{"up", mgl64.Vec3{0, 1, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, OffsetFactor(tt.forward), tolerance)
		})
	}
}

func TestAnchorPixel(t *testing.T) {
	obj := tracking.TrackedObject{Extrinsic: camera.IdentityExtrinsic()}
	obj.Rect.X, obj.Rect.Y, obj.Rect.W, obj.Rect.H = 100, 50, 40, 80

	// level camera: box center
	got := AnchorPixel(obj)
	assert.InDelta(t, 120, got.X(), tolerance)
	assert.InDelta(t, 90, got.Y(), 1e-6)

	// looking down: bottom edge
	obj.Extrinsic = camera.NewExtrinsic(mgl64.Vec3{}, mgl64.Vec3{0, -1, 0}, mgl64.Vec3{0, 0, 1})
	got = AnchorPixel(obj)
	assert.InDelta(t, 120, got.X(), tolerance)
	assert.InDelta(t, 130, got.Y(), 1e-6)
}

func TestProjectRequiresDispatcher(t *testing.T) {
	d := startDispatcher(t)
	p := NewProjector(d, NewPlaneWorld(Floor(0)))
	obj := object(camera.IdentityExtrinsic(), center)

	_, err := p.Project(context.Background(), obj)
	assert.ErrorIs(t, err, ErrWrongContext)

	_, err = p.ProjectAll(context.Background(), []tracking.TrackedObject{obj})
	assert.ErrorIs(t, err, ErrWrongContext)

	// a context from another dispatcher is rejected as well
	other := startDispatcher(t)
	onDispatcher(t, other, func(ctx context.Context) {
		_, err = p.Project(ctx, obj)
	})
	assert.ErrorIs(t, err, ErrWrongContext)
}

func TestProjectOntoFloor(t *testing.T) {
	tests := []struct {
		name string
		pose camera.Extrinsic
		want mgl64.Vec3
	}{
		{
			name: "looking down",
			pose: camera.NewExtrinsic(mgl64.Vec3{0, 2, 0}, mgl64.Vec3{0, -1, 0}, mgl64.Vec3{0, 0, 1}),
			want: mgl64.Vec3{0, 0, 0},
		},
		{
			name: "tilted 45 degrees",
			pose: camera.NewExtrinsic(mgl64.Vec3{0, 1, 0}, mgl64.Vec3{0, -1, 1}, mgl64.Vec3{0, 1, 0}),
			want: mgl64.Vec3{0, 0, 1},
		},
		{
			name: "offset position",
			pose: camera.NewExtrinsic(mgl64.Vec3{3, 1.5, -2}, mgl64.Vec3{0, -1, 0}, mgl64.Vec3{1, 0, 0}),
			want: mgl64.Vec3{3, 0, -2},
		},
	}

	d := startDispatcher(t)
	p := NewProjector(d, NewPlaneWorld(Floor(0)))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj := object(tt.pose, center)

			var anchor SpatialAnchor
			var err error
			onDispatcher(t, d, func(ctx context.Context) {
				anchor, err = p.Project(ctx, obj)
			})
			require.NoError(t, err)
			require.False(t, anchor.IsIndeterminate(), "expected a hit")
			assertVec(t, tt.want, anchor.Position)
			assert.Equal(t, obj.ID, anchor.ID)
			assert.Equal(t, "cup", anchor.Label)
		})
	}
}

func TestProjectImageAxes(t *testing.T) {
	// camera 1m above the floor looking down, right is +X, image top is +Z
	pose := camera.NewExtrinsic(mgl64.Vec3{0, 1, 0}, mgl64.Vec3{0, -1, 0}, mgl64.Vec3{0, 0, 1})
	d := startDispatcher(t)
	p := NewProjector(d, NewPlaneWorld(Floor(0)))

	tests := []struct {
		name string
		px   mgl64.Vec2
		want mgl64.Vec3
	}{
		{"right edge", mgl64.Vec2{640, 240}, mgl64.Vec3{1, 0, 0}},
		{"left edge", mgl64.Vec2{0, 240}, mgl64.Vec3{-1, 0, 0}},
		{"top row", mgl64.Vec2{320, 80}, mgl64.Vec3{0, 0, 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var anchor SpatialAnchor
			onDispatcher(t, d, func(ctx context.Context) {
				anchor, _ = p.Project(ctx, object(pose, tt.px))
			})
			assertVec(t, tt.want, anchor.Position)
		})
	}
}

func TestProjectCalibrationOffset(t *testing.T) {
	pose := camera.NewExtrinsic(mgl64.Vec3{0, 2, 0}, mgl64.Vec3{0, -1, 0}, mgl64.Vec3{0, 0, 1})
	d := startDispatcher(t)
	p := NewProjector(d, NewPlaneWorld(Floor(0)))
	p.SetOffset(mgl64.Vec2{0.5, 0})
	assert.Equal(t, mgl64.Vec2{0.5, 0}, p.Offset())

	var anchor SpatialAnchor
	onDispatcher(t, d, func(ctx context.Context) {
		anchor, _ = p.Project(ctx, object(pose, center))
	})
	assertVec(t, mgl64.Vec3{1, 0, 0}, anchor.Position)
}

func TestProjectMiss(t *testing.T) {
	d := startDispatcher(t)
	level := camera.NewExtrinsic(mgl64.Vec3{0, 1.6, 0}, mgl64.Vec3{0, 0, 1}, mgl64.Vec3{0, 1, 0})

	tests := []struct {
		name  string
		world RayCaster
		pose  camera.Extrinsic
	}{
		{"ray parallel to floor", NewPlaneWorld(Floor(0)), level},
		{"floor above camera looking down", NewPlaneWorld(Floor(3)),
			camera.NewExtrinsic(mgl64.Vec3{0, 1, 0}, mgl64.Vec3{0, -1, 0}, mgl64.Vec3{0, 0, 1})},
		{"empty world", nil, level},
		{"empty mesh", NewMeshWorld(), level},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProjector(d, tt.world)
			var anchor SpatialAnchor
			var err error
			onDispatcher(t, d, func(ctx context.Context) {
				anchor, err = p.Project(ctx, object(tt.pose, center))
			})
			require.NoError(t, err)
			assert.True(t, anchor.IsIndeterminate())
			assert.True(t, math.IsInf(anchor.Position.X(), 1))
		})
	}
}

func TestProjectAgainstMesh(t *testing.T) {
	// a 1x1 table top at height 0.8 in front of the camera, off center so
	// the ray does not graze the diagonal
	table := NewMeshFromIndexed([]mgl64.Vec3{
		{-0.3, 0.8, 0.5}, {0.7, 0.8, 0.5}, {0.7, 0.8, 1.5}, {-0.3, 0.8, 1.5},
	}, []int{0, 1, 2, 0, 2, 3})
	require.Equal(t, 2, table.Len())

	d := startDispatcher(t)
	p := NewProjector(d, table)
	pose := camera.NewExtrinsic(mgl64.Vec3{0, 1.8, 0}, mgl64.Vec3{0, -1, 1}, mgl64.Vec3{0, 1, 0})

	var anchor SpatialAnchor
	onDispatcher(t, d, func(ctx context.Context) {
		anchor, _ = p.Project(ctx, object(pose, center))
	})
	assertVec(t, mgl64.Vec3{0, 0.8, 1}, anchor.Position)

	// swap the world for one where the ray hits nothing
	p.SetWorld(NewMeshWorld())
	onDispatcher(t, d, func(ctx context.Context) {
		anchor, _ = p.Project(ctx, object(pose, center))
	})
	assert.True(t, anchor.IsIndeterminate())
}

func TestProjectAllWithoutIntrinsics(t *testing.T) {
	d := startDispatcher(t)
	p := NewProjector(d, NewPlaneWorld(Floor(0)))
	pose := camera.NewExtrinsic(mgl64.Vec3{0, 2, 0}, mgl64.Vec3{0, -1, 0}, mgl64.Vec3{0, 0, 1})

	good := object(pose, center)
	bad := object(pose, center)
	bad.Intrinsic = camera.DefaultIntrinsic()

	var anchors []SpatialAnchor
	var err error
	onDispatcher(t, d, func(ctx context.Context) {
		anchors, err = p.ProjectAll(ctx, []tracking.TrackedObject{good, bad})
	})
	require.NoError(t, err)
	require.Len(t, anchors, 2)
	assert.False(t, anchors[0].IsIndeterminate())
	assert.True(t, anchors[1].IsIndeterminate())

	onDispatcher(t, d, func(ctx context.Context) {
		_, err = p.Project(ctx, bad)
	})
	assert.ErrorIs(t, err, camera.ErrNoIntrinsics)
}
