package mesh

import (
	"math"
	"math/rand"
	"testing"
)

// TestNewMesh verifies the geometric invariants of the icosahedral mesh:
// unit-sphere vertices, outward-facing normals and equilateral faces.
func TestNewMesh(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if len(m.Tris) != NumFaces {
		t.Fatalf("Expected %d faces, got %d", NumFaces, len(m.Tris))
	}

	for i := range m.Tris {
		tri := &m.Tris[i]

		// Every vertex must lie on the unit sphere
		for j, v := range tri.V {
			if math.Abs(v.Norm()-1) > 1e-6 {
				t.Errorf("Face %d vertex %d has norm %g, want 1", i, j, v.Norm())
			}
		}

		// Every bin index must be a valid vertex index
		for j, idx := range tri.Idx {
			if idx < 0 || idx >= NumVert {
				t.Errorf("Face %d bin %d has index %d, want [0, %d)", i, j, idx, NumVert)
			}
		}

		// The normal must point away from the origin
		e1 := tri.V[2].Sub(tri.V[1])
		e2 := tri.V[1].Sub(tri.V[0])
		n := e1.Cross(e2)
		if n.Dot(tri.V[0]) < 0 {
			t.Errorf("Face %d normal points toward the origin", i)
		}

		// All three edges must be equal in length
		l1 := tri.V[1].Sub(tri.V[0]).Norm()
		l2 := tri.V[2].Sub(tri.V[1]).Norm()
		l3 := tri.V[0].Sub(tri.V[2]).Norm()
		if math.Abs(l1-l2) > 1e-6 || math.Abs(l1-l3) > 1e-6 {
			t.Errorf("Face %d is not equilateral: %g %g %g", i, l1, l2, l3)
		}
	}
}

// TestBinVertexDirections checks that a ray through each vertex position
// lands on a face sharing that position, with the barycentric weight
// concentrated there.
func TestBinVertexDirections(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	for i := range m.Tris {
		for j := range m.Tris[i].V {
			v := m.Tris[i].V[j]
			bin, bary, ok := m.Bin(v)
			if !ok {
				t.Fatalf("Bin failed for vertex direction %v", v)
			}

			tri := &m.Tris[bin]
			found := false
			for k := range tri.V {
				if tri.V[k].Sub(v).Norm() > 1e-9 {
					continue
				}
				found = true
				w := [3]float64{bary.X, bary.Y, bary.Z}[k]
				if w < 1-1e-4 {
					t.Errorf("Face %d vertex %d weight %g, want ~1", bin, k, w)
				}
			}
			if !found {
				t.Errorf("Ray through a vertex of face %d hit face %d, which does not share it",
					i, bin)
			}
		}
	}
}

// TestBinIndicesKeepFaceTableOrder verifies that the orientation fix-up
// leaves the per-face bin indices exactly as declared in the face table,
// even when it swaps the vertex positions.
func TestBinIndicesKeepFaceTableOrder(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	for i := range m.Tris {
		if m.Tris[i].Idx != icosFaces[i] {
			t.Errorf("Face %d bin indices %v, want %v from the face table",
				i, m.Tris[i].Idx, icosFaces[i])
		}
	}
}

// TestBinBarycentricConsistency recombines random barycentric coordinates
// on every face and verifies that the lookup returns the same face and
// coordinates.
func TestBinBarycentricConsistency(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	rng := rand.New(rand.NewSource(42))
	for i := range m.Tris {
		tri := &m.Tris[i]

		for trial := 0; trial < 20; trial++ {
			// Interior barycentric coordinates, away from the edges so
			// the point cannot legitimately land on a neighboring face.
			a := 0.1 + 0.8*rng.Float64()
			b := 0.1 + 0.8*rng.Float64()*(1-a)
			c := 1 - a - b
			if c < 0.05 {
				continue
			}

			p := tri.V[0].Scale(a).Add(tri.V[1].Scale(b)).Add(tri.V[2].Scale(c))

			bin, bary, ok := m.Bin(p)
			if !ok {
				t.Fatalf("Bin failed for recombined point on face %d", i)
			}
			if bin != i {
				t.Errorf("Face %d point mapped to face %d", i, bin)
				continue
			}
			if math.Abs(bary.X-a) > 1e-4 || math.Abs(bary.Y-b) > 1e-4 ||
				math.Abs(bary.Z-c) > 1e-4 {
				t.Errorf("Face %d: barycentric (%g, %g, %g), want (%g, %g, %g)",
					i, bary.X, bary.Y, bary.Z, a, b, c)
			}
		}
	}
}

// TestBinRejectsZero verifies that near-zero vectors fail the lookup
// instead of landing in an arbitrary bin.
func TestBinRejectsZero(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if _, _, ok := m.Bin(Vec3{}); ok {
		t.Errorf("Bin accepted the zero vector")
	}
	if _, _, ok := m.Bin(Vec3{X: 1e-7, Y: 1e-7, Z: 1e-7}); ok {
		t.Errorf("Bin accepted a near-zero vector")
	}
}

// TestBinScaleInvariance checks that the bin assignment depends only on
// direction, not magnitude.
func TestBinScaleInvariance(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		v := Vec3{
			X: rng.NormFloat64(),
			Y: rng.NormFloat64(),
			Z: rng.NormFloat64(),
		}
		if v.Norm() < 0.1 {
			continue
		}

		bin1, _, ok1 := m.Bin(v)
		bin2, _, ok2 := m.Bin(v.Scale(37.5))
		if !ok1 || !ok2 {
			t.Fatalf("Bin failed for vector %v", v)
		}
		if bin1 != bin2 {
			t.Errorf("Bin changed under scaling: %d vs %d for %v", bin1, bin2, v)
		}
	}
}
