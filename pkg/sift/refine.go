package sift

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"volsift/pkg/volume"
)

// maxRefineIters bounds the sub-voxel refinement loop; in practice the
// integer indices converge in one or two steps.
const maxRefineIters = 5

// refineKeypoints refines every candidate to sub-voxel accuracy in
// (x, y, z, scale). Positions are clamped to the interior of the level and
// scales to the neighboring levels' blur values, so every refined keypoint
// can still take central differences and sits between its scale neighbors.
func (d *Detector) refineKeypoints(kp *KeypointStore) error {
	for i := range kp.Keys {
		key := &kp.Keys[i]

		prev := d.dog.Get(key.O, key.S-1)
		cur := d.dog.Get(key.O, key.S)
		next := d.dog.Get(key.O, key.S+1)

		xmin, ymin, zmin := 1.0, 1.0, 1.0
		xmax := float64(cur.Nx - 2)
		ymax := float64(cur.Ny - 2)
		zmax := float64(cur.Nz - 2)
		smin := prev.Scale
		smax := next.Scale

		x, y, z := key.Xi, key.Yi, key.Zi
		xd := float64(x) + 0.5
		yd := float64(y) + 0.5
		zd := float64(z) + 0.5
		sd := cur.Scale

		for iter := 0; iter < maxRefineIters; iter++ {

			var offX, offY, offZ, offS float64
			if d.refineMode == RefineNewton {
				var ok bool
				offX, offY, offZ, offS, ok = newtonStep(prev, cur, next, x, y, z)
				if !ok {
					// Singular system: accept the current estimate.
					break
				}
			} else {
				offX, offY, offZ, offS = parabolaStep(prev, cur, next, x, y, z)
			}

			xd = clamp(xd+finiteOrZero(offX), xmin, xmax)
			yd = clamp(yd+finiteOrZero(offY), ymin, ymax)
			zd = clamp(zd+finiteOrZero(offZ), zmin, zmax)
			sd = clamp(sd+finiteOrZero(offS), smin, smax)

			xnew := int(math.Floor(xd))
			ynew := int(math.Floor(yd))
			znew := int(math.Floor(zd))

			// Done once the voxel stops moving.
			if x == xnew && y == ynew && z == znew {
				break
			}
			x, y, z = xnew, ynew, znew
		}

		key.Xi = x
		key.Yi = y
		key.Zi = z
		key.Xd = xd
		key.Yd = yd
		key.Zd = zd
		key.Sd = sd
		key.SdRel = sd * math.Pow(2, -float64(key.O))
	}

	return nil
}

// parabolaStep computes per-axis offsets by independent parabolic
// interpolation. The denominator (D+ - D- + 2*D0) is reproduced from the
// reference detector as-is.
func parabolaStep(prev, cur, next *volume.Volume, x, y, z int) (ox, oy, oz, os float64) {
	c := cur.At(x, y, z, 0)

	ox = -0.5 * (cur.At(x+1, y, z, 0) - cur.At(x-1, y, z, 0)) /
		(cur.At(x+1, y, z, 0) - cur.At(x-1, y, z, 0) + 2*c)
	oy = -0.5 * (cur.At(x, y+1, z, 0) - cur.At(x, y-1, z, 0)) /
		(cur.At(x, y+1, z, 0) - cur.At(x, y-1, z, 0) + 2*c)
	oz = -0.5 * (cur.At(x, y, z+1, 0) - cur.At(x, y, z-1, 0)) /
		(cur.At(x, y, z+1, 0) - cur.At(x, y, z-1, 0) + 2*c)
	os = -0.5 * (next.At(x, y, z, 0) - prev.At(x, y, z, 0)) /
		(next.At(x, y, z, 0) - prev.At(x, y, z, 0) + 2*c)
	return ox, oy, oz, os
}

// newtonStep solves the 4x4 system H*delta = -grad on the scale-space
// Hessian, with mixed scale derivatives estimated from the neighboring DoG
// levels. ok is false when the system is singular.
func newtonStep(prev, cur, next *volume.Volume, x, y, z int) (ox, oy, oz, os float64, ok bool) {
	gx, gy, gz := cur.Gradient(x, y, z)
	gs := 0.5 * (next.At(x, y, z, 0) - prev.At(x, y, z, 0))

	c := cur.At(x, y, z, 0)
	dxx := cur.At(x+1, y, z, 0) - 2*c + cur.At(x-1, y, z, 0)
	dyy := cur.At(x, y+1, z, 0) - 2*c + cur.At(x, y-1, z, 0)
	dzz := cur.At(x, y, z+1, 0) - 2*c + cur.At(x, y, z-1, 0)
	dxy := 0.25 * (cur.At(x+1, y+1, z, 0) - cur.At(x-1, y+1, z, 0) -
		cur.At(x+1, y-1, z, 0) + cur.At(x-1, y-1, z, 0))
	dxz := 0.25 * (cur.At(x+1, y, z+1, 0) - cur.At(x-1, y, z+1, 0) -
		cur.At(x+1, y, z-1, 0) + cur.At(x-1, y, z-1, 0))
	dyz := 0.25 * (cur.At(x, y+1, z+1, 0) - cur.At(x, y-1, z+1, 0) -
		cur.At(x, y+1, z-1, 0) + cur.At(x, y-1, z-1, 0))

	dsx := 0.25 * (next.At(x+1, y, z, 0) - prev.At(x+1, y, z, 0) +
		prev.At(x-1, y, z, 0) - next.At(x-1, y, z, 0))
	dsy := 0.25 * (next.At(x, y+1, z, 0) - prev.At(x, y+1, z, 0) +
		prev.At(x, y-1, z, 0) - next.At(x, y-1, z, 0))
	dsz := 0.25 * (next.At(x, y, z+1, 0) - prev.At(x, y, z+1, 0) +
		prev.At(x, y, z-1, 0) - next.At(x, y, z-1, 0))
	dss := 0.25 * (next.At(x, y, z, 0) - 2*c + prev.At(x, y, z, 0))

	h := mat.NewDense(4, 4, []float64{
		dxx, dxy, dxz, dsx,
		dxy, dyy, dyz, dsy,
		dxz, dyz, dzz, dsz,
		dsx, dsy, dsz, dss,
	})
	b := mat.NewVecDense(4, []float64{-gx, -gy, -gz, -gs})

	var delta mat.VecDense
	if err := delta.SolveVec(h, b); err != nil {
		return 0, 0, 0, 0, false
	}
	return delta.AtVec(0), delta.AtVec(1), delta.AtVec(2), delta.AtVec(3), true
}

// finiteOrZero discards a non-finite interpolation offset. A degenerate
// curvature carries no sub-voxel information.
func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
