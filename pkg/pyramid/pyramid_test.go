package pyramid

import (
	"math"
	"math/rand"
	"testing"

	"volsift/pkg/volume"
)

// testPyramid returns a Gaussian-pyramid geometry with the reference
// defaults over a small volume.
func testPyramid(numOctaves int) *Pyramid {
	return &Pyramid{
		FirstOctave: 0,
		NumOctaves:  numOctaves,
		FirstLevel:  -1,
		NumLevels:   6, // num_kp_levels + 3
		NumKpLevels: 3,
		SigmaN:      1.15,
		Sigma0:      1.6,
	}
}

// TestResizeDimensions verifies the per-octave halving of dimensions and
// the design scale stamped on each level.
func TestResizeDimensions(t *testing.T) {
	p := testPyramid(3)
	if err := p.Resize(32, 48, 64, 1); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}

	for o := 0; o < 3; o++ {
		v := p.Get(o, -1)
		wantNx, wantNy, wantNz := 32>>o, 48>>o, 64>>o
		if v.Nx != wantNx || v.Ny != wantNy || v.Nz != wantNz {
			t.Errorf("Octave %d dimensions %dx%dx%d, want %dx%dx%d",
				o, v.Nx, v.Ny, v.Nz, wantNx, wantNy, wantNz)
		}

		for l := -1; l <= p.LastLevel(); l++ {
			want := 1.6 * math.Pow(2, float64(o)+float64(l)/3)
			if got := p.Get(o, l).Scale; math.Abs(got-want) > 1e-12 {
				t.Errorf("Octave %d level %d scale %g, want %g", o, l, got, want)
			}
		}
	}
}

// TestDownsampleSourceScale verifies that the level feeding the next
// octave has exactly twice the blur of the octave's first level.
func TestDownsampleSourceScale(t *testing.T) {
	p := testPyramid(3)

	for o := 0; o < 2; o++ {
		src := p.ScaleOf(o, p.FirstLevel+p.NumKpLevels)
		dst := p.ScaleOf(o+1, p.FirstLevel)
		if math.Abs(src-dst) > 1e-12 {
			t.Errorf("Octave %d: downsample source scale %g, next octave first level %g",
				o, src, dst)
		}
	}
}

// TestAutoLastOctave verifies the automatic octave computation, including
// the reference case of a 128-cube input.
func TestAutoLastOctave(t *testing.T) {
	cases := []struct {
		nx, ny, nz, firstOctave int
		want                    int
	}{
		{128, 128, 128, 0, 4},
		{64, 64, 64, 0, 3},
		{64, 128, 256, 0, 3},
		{128, 128, 128, 1, 3},
	}
	for _, c := range cases {
		if got := AutoLastOctave(c.nx, c.ny, c.nz, c.firstOctave); got != c.want {
			t.Errorf("AutoLastOctave(%d,%d,%d,%d) = %d, want %d",
				c.nx, c.ny, c.nz, c.firstOctave, got, c.want)
		}
	}
}

// buildTestInput creates a deterministic smooth random volume.
func buildTestInput(n int) *volume.Volume {
	rng := rand.New(rand.NewSource(99))
	v := volume.New(n, n, n, 1)
	for i := range v.Data {
		v.Data[i] = rng.Float64()
	}
	v.Scale = 1.15
	return v
}

// TestBuildGaussianScales verifies that building the pyramid stamps every
// level with its design scale and fills every level with data.
func TestBuildGaussianScales(t *testing.T) {
	p := testPyramid(2)
	if err := p.Resize(16, 16, 16, 1); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	gss, err := MakeGSS(p)
	if err != nil {
		t.Fatalf("MakeGSS failed: %v", err)
	}

	im := buildTestInput(16)
	if err := BuildGaussian(p, gss, im); err != nil {
		t.Fatalf("BuildGaussian failed: %v", err)
	}

	for o := 0; o < 2; o++ {
		for l := -1; l <= p.LastLevel(); l++ {
			v := p.Get(o, l)
			want := p.ScaleOf(o, l)
			if math.Abs(v.Scale-want) > 1e-12 {
				t.Errorf("Octave %d level %d scale %g, want %g", o, l, v.Scale, want)
			}
			if v.MaxAbs() == 0 {
				t.Errorf("Octave %d level %d is all zeros", o, l)
			}
		}
	}
}

// TestBuildIdempotent verifies that building the pyramid twice on the same
// input yields bit-identical volumes.
func TestBuildIdempotent(t *testing.T) {
	im := buildTestInput(16)

	build := func() *Pyramid {
		p := testPyramid(2)
		if err := p.Resize(16, 16, 16, 1); err != nil {
			t.Fatalf("Resize failed: %v", err)
		}
		gss, err := MakeGSS(p)
		if err != nil {
			t.Fatalf("MakeGSS failed: %v", err)
		}
		if err := BuildGaussian(p, gss, im); err != nil {
			t.Fatalf("BuildGaussian failed: %v", err)
		}
		return p
	}

	p1 := build()
	p2 := build()

	for o := 0; o < 2; o++ {
		for l := -1; l <= p1.LastLevel(); l++ {
			d1 := p1.Get(o, l).Data
			d2 := p2.Get(o, l).Data
			for i := range d1 {
				if d1[i] != d2[i] {
					t.Fatalf("Octave %d level %d differs at voxel %d", o, l, i)
				}
			}
		}
	}
}

// TestBuildDoG verifies the DoG subtraction against the Gaussian levels.
func TestBuildDoG(t *testing.T) {
	gpyr := testPyramid(2)
	if err := gpyr.Resize(16, 16, 16, 1); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	gss, err := MakeGSS(gpyr)
	if err != nil {
		t.Fatalf("MakeGSS failed: %v", err)
	}
	if err := BuildGaussian(gpyr, gss, buildTestInput(16)); err != nil {
		t.Fatalf("BuildGaussian failed: %v", err)
	}

	dog := testPyramid(2)
	dog.NumLevels = gpyr.NumLevels - 1
	if err := dog.Resize(16, 16, 16, 1); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if err := BuildDoG(dog, gpyr); err != nil {
		t.Fatalf("BuildDoG failed: %v", err)
	}

	for l := dog.FirstLevel; l <= dog.LastLevel(); l++ {
		cur := gpyr.Get(0, l)
		next := gpyr.Get(0, l+1)
		lvl := dog.Get(0, l)
		for i := range lvl.Data {
			want := next.Data[i] - cur.Data[i]
			if lvl.Data[i] != want {
				t.Fatalf("DoG level %d voxel %d = %g, want %g", l, i, lvl.Data[i], want)
			}
		}
	}
}

// TestCopyIndependence verifies that a pyramid copy has its own storage.
func TestCopyIndependence(t *testing.T) {
	p := testPyramid(2)
	if err := p.Resize(8, 8, 8, 1); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	p.Get(0, 0).Set(2, 2, 2, 0, 7)

	var c Pyramid
	p.Copy(&c)

	if c.Get(0, 0).At(2, 2, 2, 0) != 7 {
		t.Fatalf("Copy did not reproduce contents")
	}
	c.Get(0, 0).Set(2, 2, 2, 0, 9)
	if p.Get(0, 0).At(2, 2, 2, 0) != 7 {
		t.Errorf("Copy shares storage with the source")
	}
}
