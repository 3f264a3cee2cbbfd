// Package mesh builds the triangle mesh of a regular icosahedron inscribed
// in the unit sphere and performs ray-triangle barycentric lookups into it.
// The mesh drives the 12-bin orientation histograms of the descriptor: a 3D
// direction is assigned to the face it pierces and split over that face's
// three vertices by its barycentric coordinates.
package mesh

import (
	"fmt"
	"math"
)

// NumVert and NumFaces are the vertex and face counts of a regular
// icosahedron.
const (
	NumVert  = 12
	NumFaces = 20
)

// goldenRatio is (1+sqrt(5))/2, the coordinate magnitude of the canonical
// icosahedron vertices.
const goldenRatio = 1.6180339887

// BaryEps is the tolerance for barycentric coordinate computations,
// matching ten times the 32-bit machine epsilon used by the reference
// geometry.
const BaryEps = 10 * 1.19209290e-07

// Vec3 is a 3-component vector.
type Vec3 struct {
	X, Y, Z float64
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

// Scale returns s * v.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{s * v.X, s * v.Y, s * v.Z} }

// Dot returns the inner product of v and o.
func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

// Cross returns the right-handed cross product v x o.
func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

// Norm returns the Euclidean norm of v.
func (v Vec3) Norm() float64 { return math.Sqrt(v.Dot(v)) }

// NormSq returns the squared Euclidean norm of v.
func (v Vec3) NormSq() float64 { return v.Dot(v) }

// Tri is one triangular face: three unit-length vertices and three
// histogram bin indices. Idx[j] receives the barycentric weight computed
// against V[j]; after the orientation fix-up the two need not name the
// same icosahedron vertex.
type Tri struct {
	V   [3]Vec3
	Idx [3]int
}

// Mesh is the full icosahedral face list, in a fixed declaration order. The
// first face accepting a ray wins during lookup, so the order is part of
// the contract.
type Mesh struct {
	Tris [NumFaces]Tri
}

// Vertices of a regular icosahedron: the cyclic permutations of
// (0, +/-1, +/-gr), later scaled to unit length.
var icosVerts = [NumVert]Vec3{
	{0, 1, goldenRatio},
	{0, -1, goldenRatio},
	{0, 1, -goldenRatio},
	{0, -1, -goldenRatio},
	{1, goldenRatio, 0},
	{-1, goldenRatio, 0},
	{1, -goldenRatio, 0},
	{-1, -goldenRatio, 0},
	{goldenRatio, 0, 1},
	{-goldenRatio, 0, 1},
	{goldenRatio, 0, -1},
	{-goldenRatio, 0, -1},
}

// Vertex index triplets forming the 20 faces.
var icosFaces = [NumFaces][3]int{
	{0, 1, 8},
	{0, 8, 4},
	{0, 4, 5},
	{0, 5, 9},
	{0, 9, 1},
	{1, 6, 8},
	{8, 6, 10},
	{8, 10, 4},
	{4, 10, 2},
	{4, 2, 5},
	{5, 2, 11},
	{5, 11, 9},
	{9, 11, 7},
	{9, 7, 1},
	{1, 7, 6},
	{3, 6, 7},
	{3, 7, 11},
	{3, 11, 2},
	{3, 2, 10},
	{3, 10, 6},
}

// New constructs the icosahedral mesh. Every face is oriented so that its
// normal points away from the origin; faces failing the equilateral or
// orientation invariants produce an error rather than a silently bad mesh.
func New() (*Mesh, error) {
	m := &Mesh{}
	magExpected := math.Sqrt(1 + goldenRatio*goldenRatio)

	for i := range m.Tris {
		tri := &m.Tris[i]

		for j := 0; j < 3; j++ {
			idx := icosFaces[i][j]
			tri.Idx[j] = idx

			vert := icosVerts[idx]
			mag := vert.Norm()
			if math.Abs(mag-magExpected) > 1e-10 {
				return nil, fmt.Errorf("mesh: vertex %d has magnitude %g, want %g",
					idx, mag, magExpected)
			}
			tri.V[j] = vert.Scale(1 / mag)
		}

		// Orient the face outward: n = (v2-v1) x (v1-v0) must point
		// away from the origin. Only the vertex positions are swapped;
		// the bin indices keep the face table's original order.
		e1 := tri.V[2].Sub(tri.V[1])
		e2 := tri.V[1].Sub(tri.V[0])
		n := e1.Cross(e2)
		if n.Dot(tri.V[0]) < 0 {
			tri.V[0], tri.V[1] = tri.V[1], tri.V[0]
			e1 = tri.V[2].Sub(tri.V[1])
			e2 = tri.V[1].Sub(tri.V[0])
			n = e1.Cross(e2)
		}
		if n.Dot(tri.V[0]) < 0 {
			return nil, fmt.Errorf("mesh: face %d cannot be oriented outward", i)
		}

		// All edges of a regular icosahedron face are equal.
		e3 := tri.V[2].Sub(tri.V[0])
		if math.Abs(e1.Norm()-e2.Norm()) > 1e-10 ||
			math.Abs(e1.Norm()-e3.Norm()) > 1e-10 {
			return nil, fmt.Errorf("mesh: face %d is not equilateral", i)
		}
	}

	return m, nil
}

// cartToBary converts a Cartesian direction to barycentric coordinates on a
// face's supporting plane, using the Moller-Trumbore algorithm. The scalar
// k satisfies k*cart = bary.X*v0 + bary.Y*v1 + bary.Z*v2. The bool result
// is false when the system is numerically unstable.
func cartToBary(cart Vec3, tri *Tri) (bary Vec3, k float64, ok bool) {
	e1 := tri.V[1].Sub(tri.V[0])
	e2 := tri.V[2].Sub(tri.V[0])
	p := cart.Cross(e2)
	det := e1.Dot(p)

	if math.Abs(det) < BaryEps {
		return Vec3{}, 0, false
	}
	detInv := 1 / det

	t := tri.V[0].Scale(-1)
	q := t.Cross(e1)

	bary.Y = detInv * t.Dot(p)
	bary.Z = detInv * cart.Dot(q)
	bary.X = 1 - bary.Y - bary.Z
	k = e2.Dot(q) * detInv

	return bary, k, true
}

// Bin finds the face pierced by the ray from the origin through x and
// returns its index along with the barycentric coordinates of the
// intersection. Lookup fails only for near-zero input vectors.
func (m *Mesh) Bin(x Vec3) (bin int, bary Vec3, ok bool) {
	if x.NormSq() < BaryEps {
		return 0, Vec3{}, false
	}

	for i := range m.Tris {
		b, k, stable := cartToBary(x, &m.Tris[i])
		if !stable {
			continue
		}
		if b.X < -BaryEps || b.Y < -BaryEps || b.Z < -BaryEps || k < 0 {
			continue
		}
		// No other face can be intersected by this ray.
		return i, b, true
	}

	// A nonzero vector always pierces some face.
	return 0, Vec3{}, false
}
