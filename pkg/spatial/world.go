package spatial

import (
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// RayCaster answers world queries. Raycast returns the nearest point hit
// by the ray from origin along direction, or false on a miss.
// Implementations are only queried from the owning dispatcher.
type RayCaster interface {
	Raycast(origin, direction mgl64.Vec3) (mgl64.Vec3, bool)
}

// epsilon rejects hits at the ray origin and near-parallel rays.
const epsilon = 1e-9

// Plane is an infinite plane through Point with the given Normal.
type Plane struct {
	Point  mgl64.Vec3 `json:"point"`
	Normal mgl64.Vec3 `json:"normal"`
}

// Floor returns the horizontal plane at height y.
func Floor(y float64) Plane {
	return Plane{Point: mgl64.Vec3{0, y, 0}, Normal: mgl64.Vec3{0, 1, 0}}
}

// intersect returns the ray parameter of the hit, or false.
func (p Plane) intersect(origin, direction mgl64.Vec3) (float64, bool) {
	n := p.Normal.Normalize()
	denom := n.Dot(direction)
	if math.Abs(denom) < epsilon {
		return 0, false
	}
	t := n.Dot(p.Point.Sub(origin)) / denom
	if t <= epsilon {
		return 0, false
	}
	return t, true
}

// PlaneWorld is a scene made of infinite planes, typically the floor and
// table tops of a lab.
type PlaneWorld struct {
	mu     sync.RWMutex
	planes []Plane
}

// NewPlaneWorld creates a world from planes.
func NewPlaneWorld(planes ...Plane) *PlaneWorld {
	return &PlaneWorld{planes: planes}
}

// SetPlanes replaces the planes.
func (w *PlaneWorld) SetPlanes(planes ...Plane) {
	w.mu.Lock()
	w.planes = planes
	w.mu.Unlock()
}

// Planes returns a copy of the planes.
func (w *PlaneWorld) Planes() []Plane {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Plane, len(w.planes))
	copy(out, w.planes)
	return out
}

// Raycast implements RayCaster.
func (w *PlaneWorld) Raycast(origin, direction mgl64.Vec3) (mgl64.Vec3, bool) {
	if direction.Len() == 0 {
		return mgl64.Vec3{}, false
	}
	direction = direction.Normalize()

	w.mu.RLock()
	defer w.mu.RUnlock()

	best := math.Inf(1)
	for _, p := range w.planes {
		if t, ok := p.intersect(origin, direction); ok && t < best {
			best = t
		}
	}
	if math.IsInf(best, 1) {
		return mgl64.Vec3{}, false
	}
	return origin.Add(direction.Mul(best)), true
}

// Triangle is one face of a spatial mesh.
type Triangle [3]mgl64.Vec3

// intersect is the Moller-Trumbore ray/triangle test. Both faces count.
func (tri Triangle) intersect(origin, direction mgl64.Vec3) (float64, bool) {
	e1 := tri[1].Sub(tri[0])
	e2 := tri[2].Sub(tri[0])
	p := direction.Cross(e2)
	det := e1.Dot(p)
	if math.Abs(det) < epsilon {
		return 0, false
	}
	inv := 1 / det
	s := origin.Sub(tri[0])
	u := s.Dot(p) * inv
	if u < 0 || u > 1 {
		return 0, false
	}
	q := s.Cross(e1)
	v := direction.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return 0, false
	}
	t := e2.Dot(q) * inv
	if t <= epsilon {
		return 0, false
	}
	return t, true
}

// MeshWorld is a triangle mesh of the surroundings, as streamed by a
// headset's spatial mapping.
type MeshWorld struct {
	mu        sync.RWMutex
	triangles []Triangle
}

// NewMeshWorld creates a world from triangles.
func NewMeshWorld(triangles ...Triangle) *MeshWorld {
	return &MeshWorld{triangles: triangles}
}

// NewMeshFromIndexed builds a mesh from a vertex list and triangle indices,
// three per face. Faces with out-of-range indices are skipped.
func NewMeshFromIndexed(vertices []mgl64.Vec3, indices []int) *MeshWorld {
	tris := make([]Triangle, 0, len(indices)/3)
	for i := 0; i+2 < len(indices); i += 3 {
		a, b, c := indices[i], indices[i+1], indices[i+2]
		if !inRange(a, len(vertices)) || !inRange(b, len(vertices)) || !inRange(c, len(vertices)) {
			continue
		}
		tris = append(tris, Triangle{vertices[a], vertices[b], vertices[c]})
	}
	return NewMeshWorld(tris...)
}

func inRange(i, n int) bool { return i >= 0 && i < n }

// Add appends triangles to the mesh.
func (w *MeshWorld) Add(triangles ...Triangle) {
	w.mu.Lock()
	w.triangles = append(w.triangles, triangles...)
	w.mu.Unlock()
}

// Len returns the number of triangles.
func (w *MeshWorld) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.triangles)
}

// Raycast implements RayCaster.
func (w *MeshWorld) Raycast(origin, direction mgl64.Vec3) (mgl64.Vec3, bool) {
	if direction.Len() == 0 {
		return mgl64.Vec3{}, false
	}
	direction = direction.Normalize()

	w.mu.RLock()
	defer w.mu.RUnlock()

	best := math.Inf(1)
	for _, tri := range w.triangles {
		if t, ok := tri.intersect(origin, direction); ok && t < best {
			best = t
		}
	}
	if math.IsInf(best, 1) {
		return mgl64.Vec3{}, false
	}
	return origin.Add(direction.Mul(best)), true
}

// EmptyWorld never reports a hit.
type EmptyWorld struct{}

// Raycast implements RayCaster.
func (EmptyWorld) Raycast(origin, direction mgl64.Vec3) (mgl64.Vec3, bool) {
	return mgl64.Vec3{}, false
}
