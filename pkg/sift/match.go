package sift

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// MatchOpts configures descriptor matching.
type MatchOpts struct {
	// NNThresh is the Lowe ratio threshold: a match is kept only when
	// its best squared distance is below NNThresh^2 times the
	// second-best. Must be positive.
	NNThresh float64

	// MaxDistFrac, when positive, rejects matches whose spatial distance
	// exceeds this fraction of the source volume's diagonal.
	MaxDistFrac float64

	// ForwardBackward additionally matches b against a and keeps only
	// mutually consistent pairs.
	ForwardBackward bool
}

// Match performs brute-force L2 nearest-neighbor matching from every
// descriptor in a to the descriptors in b. The result has one entry per
// descriptor of a: the index of its match in b, or -1 when no acceptable
// match exists.
func Match(a, b *DescriptorStore, opts MatchOpts) ([]int, error) {
	if opts.NNThresh <= 0 {
		return nil, fmt.Errorf("match: nn_thresh must be positive, provided: %g",
			opts.NNThresh)
	}
	if a.HistLen != b.HistLen {
		return nil, fmt.Errorf("match: histogram lengths differ: %d vs %d",
			a.HistLen, b.HistLen)
	}

	matches := nnMatch(a, b, opts)

	if opts.ForwardBackward {
		back := nnMatch(b, a, opts)
		for i, m := range matches {
			if m >= 0 && back[m] != i {
				matches[i] = -1
			}
		}
	}

	return matches, nil
}

// nnMatch is one directional matching pass.
func nnMatch(a, b *DescriptorStore, opts MatchOpts) []int {
	matches := make([]int, len(a.Descs))
	for i := range matches {
		matches[i] = -1
	}

	distThresh := math.Inf(1)
	if opts.MaxDistFrac > 0 {
		diag := math.Sqrt(float64(a.Nx*a.Nx + a.Ny*a.Ny + a.Nz*a.Nz))
		distThresh = diag * opts.MaxDistFrac
	}

	for i := range a.Descs {
		da := &a.Descs[i]

		ssdBest := math.Inf(1)
		ssdNearest := math.Inf(1)
		best := -1

		for j := range b.Descs {
			db := &b.Descs[j]

			ssd := 0.0
			for k := range da.Hists {
				ha := da.Hists[k]
				hb := db.Hists[k]
				for l := range ha {
					diff := ha[l] - hb[l]
					ssd += diff * diff
				}
			}

			if ssd < ssdBest {
				ssdNearest = ssdBest
				ssdBest = ssd
				best = j
			} else if ssd < ssdNearest {
				ssdNearest = ssd
			}
		}

		// Lowe ratio test on squared distances.
		if best < 0 || ssdBest/ssdNearest > opts.NNThresh*opts.NNThresh {
			continue
		}

		if opts.MaxDistFrac > 0 {
			db := &b.Descs[best]
			dx := db.Xd - da.Xd
			dy := db.Yd - da.Yd
			dz := db.Zd - da.Zd
			if math.Sqrt(dx*dx+dy*dy+dz*dz) > distThresh {
				continue
			}
		}

		matches[i] = best
	}

	return matches
}

// MatchesToCoords converts a match list to two n x 3 coordinate matrices
// with corresponding rows. Only valid matches are included, in descriptor
// order of a.
func MatchesToCoords(a, b *DescriptorStore, matches []int) (*mat.Dense, *mat.Dense, error) {
	if len(matches) != len(a.Descs) {
		return nil, nil, fmt.Errorf("matches: length %d does not cover %d descriptors",
			len(matches), len(a.Descs))
	}

	num := 0
	for _, m := range matches {
		if m >= 0 {
			num++
		}
	}
	if num == 0 {
		return nil, nil, fmt.Errorf("matches: no valid matches")
	}

	m1 := mat.NewDense(num, 3, nil)
	m2 := mat.NewDense(num, 3, nil)
	row := 0
	for i, m := range matches {
		if m < 0 {
			continue
		}
		da := &a.Descs[i]
		db := &b.Descs[m]
		m1.SetRow(row, []float64{da.Xd, da.Yd, da.Zd})
		m2.SetRow(row, []float64{db.Xd, db.Yd, db.Zd})
		row++
	}

	return m1, m2, nil
}

// KeypointsToCoords converts a keypoint store to an n x 3 matrix of
// base-octave coordinates.
func KeypointsToCoords(kp *KeypointStore) *mat.Dense {
	if len(kp.Keys) == 0 {
		return &mat.Dense{}
	}
	m := mat.NewDense(len(kp.Keys), 3, nil)
	for i := range kp.Keys {
		key := &kp.Keys[i]
		factor := coordFactor(key.O)
		m.SetRow(i, []float64{key.Xd * factor, key.Yd * factor, key.Zd * factor})
	}
	return m
}
