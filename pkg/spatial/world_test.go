package spatial

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaneWorldRaycast(t *testing.T) {
	floor := Floor(0)
	table := Floor(0.8)

	tests := []struct {
		name      string
		planes    []Plane
		origin    mgl64.Vec3
		direction mgl64.Vec3
		want      mgl64.Vec3
		hit       bool
	}{
		{"straight down", []Plane{floor}, mgl64.Vec3{1, 2, 3}, mgl64.Vec3{0, -5, 0}, mgl64.Vec3{1, 0, 3}, true},
		{"nearest plane wins", []Plane{floor, table}, mgl64.Vec3{0, 2, 0}, mgl64.Vec3{0, -1, 0}, mgl64.Vec3{0, 0.8, 0}, true},
		{"diagonal", []Plane{floor}, mgl64.Vec3{0, 1, 0}, mgl64.Vec3{1, -1, 0}, mgl64.Vec3{1, 0, 0}, true},
		{"pointing away", []Plane{floor}, mgl64.Vec3{0, 1, 0}, mgl64.Vec3{0, 1, 0}, mgl64.Vec3{}, false},
		{"parallel", []Plane{floor}, mgl64.Vec3{0, 1, 0}, mgl64.Vec3{1, 0, 0}, mgl64.Vec3{}, false},
		{"zero direction", []Plane{floor}, mgl64.Vec3{0, 1, 0}, mgl64.Vec3{}, mgl64.Vec3{}, false},
		{"no planes", nil, mgl64.Vec3{0, 1, 0}, mgl64.Vec3{0, -1, 0}, mgl64.Vec3{}, false},
		{"wall", []Plane{{Point: mgl64.Vec3{0, 0, 4}, Normal: mgl64.Vec3{0, 0, -1}}}, mgl64.Vec3{0, 1, 0}, mgl64.Vec3{0, 0, 1}, mgl64.Vec3{0, 1, 4}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NewPlaneWorld(tt.planes...).Raycast(tt.origin, tt.direction)
			require.Equal(t, tt.hit, ok)
			if tt.hit {
				assertVec(t, tt.want, got)
			}
		})
	}
}

func TestPlaneWorldSetPlanes(t *testing.T) {
	w := NewPlaneWorld()
	_, ok := w.Raycast(mgl64.Vec3{0, 1, 0}, mgl64.Vec3{0, -1, 0})
	assert.False(t, ok)

	w.SetPlanes(Floor(0))
	assert.Len(t, w.Planes(), 1)
	_, ok = w.Raycast(mgl64.Vec3{0, 1, 0}, mgl64.Vec3{0, -1, 0})
	assert.True(t, ok)
}

func TestMeshWorldRaycast(t *testing.T) {
	tri := Triangle{{0, 0, 0}, {2, 0, 0}, {0, 0, 2}}
	w := NewMeshWorld(tri)

	got, ok := w.Raycast(mgl64.Vec3{0.5, 1, 0.5}, mgl64.Vec3{0, -1, 0})
	require.True(t, ok)
	assertVec(t, mgl64.Vec3{0.5, 0, 0.5}, got)

	// back face counts too
	got, ok = w.Raycast(mgl64.Vec3{0.5, -1, 0.5}, mgl64.Vec3{0, 1, 0})
	require.True(t, ok)
	assertVec(t, mgl64.Vec3{0.5, 0, 0.5}, got)

	_, ok = w.Raycast(mgl64.Vec3{1.5, 1, 1.5}, mgl64.Vec3{0, -1, 0})
	assert.False(t, ok, "outside the triangle")

	_, ok = w.Raycast(mgl64.Vec3{0.5, 1, 0.5}, mgl64.Vec3{0, 1, 0})
	assert.False(t, ok, "triangle behind the origin")

	// a closer triangle occludes the first
	w.Add(Triangle{{0, 0.5, 0}, {2, 0.5, 0}, {0, 0.5, 2}})
	got, ok = w.Raycast(mgl64.Vec3{0.5, 1, 0.5}, mgl64.Vec3{0, -1, 0})
	require.True(t, ok)
	assertVec(t, mgl64.Vec3{0.5, 0.5, 0.5}, got)
}

func TestNewMeshFromIndexed(t *testing.T) {
	verts := []mgl64.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 0, 1}}
	w := NewMeshFromIndexed(verts, []int{0, 1, 2, 0, 1, 7, 2, 1})
	assert.Equal(t, 1, w.Len(), "out-of-range and trailing indices are skipped")
}
