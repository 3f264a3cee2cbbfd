package sift

import (
	"math/rand"
	"testing"
)

// randomDescriptorStore builds a store of distinct unit-norm descriptors.
func randomDescriptorStore(num int, seed int64) *DescriptorStore {
	rng := rand.New(rand.NewSource(seed))
	ds := &DescriptorStore{HistLen: IcosaBins, Nx: 64, Ny: 64, Nz: 64}

	for i := 0; i < num; i++ {
		desc := Descriptor{
			Xd:    rng.Float64() * 64,
			Yd:    rng.Float64() * 64,
			Zd:    rng.Float64() * 64,
			Sd:    1.6,
			Hists: make([]Hist, DescNumTotalHist),
		}
		for j := range desc.Hists {
			hist := make(Hist, IcosaBins)
			for k := range hist {
				hist[k] = rng.Float64()
			}
			desc.Hists[j] = hist
		}
		normalizeDesc(&desc)
		ds.Descs = append(ds.Descs, desc)
	}
	return ds
}

// cloneStore deep-copies a descriptor store.
func cloneStore(ds *DescriptorStore) *DescriptorStore {
	out := &DescriptorStore{HistLen: ds.HistLen, Nx: ds.Nx, Ny: ds.Ny, Nz: ds.Nz}
	for i := range ds.Descs {
		src := &ds.Descs[i]
		desc := Descriptor{Xd: src.Xd, Yd: src.Yd, Zd: src.Zd, Sd: src.Sd}
		for _, hist := range src.Hists {
			h := make(Hist, len(hist))
			copy(h, hist)
			desc.Hists = append(desc.Hists, h)
		}
		out.Descs = append(out.Descs, desc)
	}
	return out
}

// TestMatchSelfIdentity verifies that forward-backward matching of a store
// against itself returns the identity permutation: each descriptor's best
// match is itself at squared distance zero.
func TestMatchSelfIdentity(t *testing.T) {
	a := randomDescriptorStore(20, 3)
	b := cloneStore(a)

	matches, err := Match(a, b, MatchOpts{NNThresh: 0.8, ForwardBackward: true})
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}

	if len(matches) != 20 {
		t.Fatalf("Got %d match entries, want 20", len(matches))
	}
	for i, m := range matches {
		if m != i {
			t.Errorf("matches[%d] = %d, want %d", i, m, i)
		}
	}
}

// TestMatchRatioRejection verifies the Lowe ratio test: when the best and
// second-best candidates are equally distant, the match is rejected.
func TestMatchRatioRejection(t *testing.T) {
	a := randomDescriptorStore(1, 5)

	// Two identical targets, both different from the query: the ratio of
	// best to second-best distance is exactly 1.
	b := cloneStore(randomDescriptorStore(1, 6))
	dup := cloneStore(b)
	b.Descs = append(b.Descs, dup.Descs[0])

	matches, err := Match(a, b, MatchOpts{NNThresh: 0.8})
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if matches[0] != -1 {
		t.Errorf("matches[0] = %d, want -1 for an ambiguous match", matches[0])
	}
}

// TestMatchValidation verifies the threshold and store checks.
func TestMatchValidation(t *testing.T) {
	a := randomDescriptorStore(2, 8)
	b := randomDescriptorStore(2, 9)

	if _, err := Match(a, b, MatchOpts{NNThresh: 0}); err == nil {
		t.Errorf("Match accepted nn_thresh = 0")
	}
	if _, err := Match(a, b, MatchOpts{NNThresh: -1}); err == nil {
		t.Errorf("Match accepted a negative nn_thresh")
	}

	b.HistLen = NBinsAz * NBinsPo
	if _, err := Match(a, b, MatchOpts{NNThresh: 0.8}); err == nil {
		t.Errorf("Match accepted mismatched histogram lengths")
	}
}

// TestMatchMaxDistGate verifies the optional spatial gate: an otherwise
// perfect match farther away than the distance threshold is rejected.
func TestMatchMaxDistGate(t *testing.T) {
	a := randomDescriptorStore(1, 12)
	b := cloneStore(a)

	a.Descs[0].Xd, a.Descs[0].Yd, a.Descs[0].Zd = 0, 0, 0
	b.Descs[0].Xd, b.Descs[0].Yd, b.Descs[0].Zd = 60, 60, 60

	// Without the gate the identical descriptor matches.
	matches, err := Match(a, b, MatchOpts{NNThresh: 0.8})
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if matches[0] != 0 {
		t.Fatalf("matches[0] = %d, want 0 without the gate", matches[0])
	}

	// With a tight gate the same match is rejected.
	matches, err = Match(a, b, MatchOpts{NNThresh: 0.8, MaxDistFrac: 0.3})
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if matches[0] != -1 {
		t.Errorf("matches[0] = %d, want -1 with the distance gate", matches[0])
	}
}

// TestMatchesToCoords verifies the coordinate matrix conversion.
func TestMatchesToCoords(t *testing.T) {
	a := randomDescriptorStore(4, 15)
	b := cloneStore(a)

	matches := []int{2, -1, 0, 3}
	m1, m2, err := MatchesToCoords(a, b, matches)
	if err != nil {
		t.Fatalf("MatchesToCoords failed: %v", err)
	}

	rows, cols := m1.Dims()
	if rows != 3 || cols != 3 {
		t.Fatalf("m1 is %dx%d, want 3x3", rows, cols)
	}

	// Row 0 pairs a[0] with b[2]
	if m1.At(0, 0) != a.Descs[0].Xd || m2.At(0, 0) != b.Descs[2].Xd {
		t.Errorf("Row 0 does not pair a[0] with b[2]")
	}
	// Row 1 pairs a[2] with b[0] (a[1] is unmatched)
	if m1.At(1, 1) != a.Descs[2].Yd || m2.At(1, 1) != b.Descs[0].Yd {
		t.Errorf("Row 1 does not pair a[2] with b[0]")
	}
}

// TestKeypointsToCoords verifies the base-octave scaling of keypoint
// coordinate export.
func TestKeypointsToCoords(t *testing.T) {
	kp := &KeypointStore{Keys: []Keypoint{
		{O: 0, Xd: 3, Yd: 4, Zd: 5},
		{O: 2, Xd: 3, Yd: 4, Zd: 5},
	}}

	m := KeypointsToCoords(kp)
	if m.At(0, 0) != 3 || m.At(1, 0) != 12 {
		t.Errorf("Coordinate scaling wrong: got %g and %g, want 3 and 12",
			m.At(0, 0), m.At(1, 0))
	}
}
