package sift

import (
	"fmt"
	"math"

	"volsift/pkg/volume"
)

// faceNeighbors are the six axis-aligned neighbor offsets.
var faceNeighbors = [6][3]int{
	{1, 0, 0}, {-1, 0, 0},
	{0, 1, 0}, {0, -1, 0},
	{0, 0, 1}, {0, 0, -1},
}

// cmpNeighbors reports whether val compares strictly (greater when
// greater=true, less otherwise) against the neighborhood of (x, y, z) in
// level. With ignoreSelf the center voxel is excluded from the comparison;
// it is included when comparing against an adjacent scale level. The cuboid
// variant uses the full 26-voxel neighborhood instead of the six face
// neighbors.
func (d *Detector) cmpNeighbors(level *volume.Volume, x, y, z int,
	val float64, greater, ignoreSelf bool) bool {

	cmp := func(other float64) bool {
		if greater {
			return val > other
		}
		return val < other
	}

	if d.cuboidExtrema {
		for dz := -1; dz <= 1; dz++ {
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 && dz == 0 && ignoreSelf {
						continue
					}
					if !cmp(level.At(x+dx, y+dy, z+dz, 0)) {
						return false
					}
				}
			}
		}
		return true
	}

	for _, n := range faceNeighbors {
		if !cmp(level.At(x+n[0], y+n[1], z+n[2], 0)) {
			return false
		}
	}
	if !ignoreSelf && !cmp(level.At(x, y, z, 0)) {
		return false
	}
	return true
}

// detectExtrema scans every keypoint level of the DoG pyramid for local
// scale-space extrema exceeding the peak threshold, which is taken relative
// to the maximum absolute response of each level. Candidates are appended
// in raster-scan order.
func (d *Detector) detectExtrema(kp *KeypointStore) error {
	dog := &d.dog

	if dog.NumLevels < 3 {
		return fmt.Errorf("detect extrema: requires at least 3 levels per octave, provided only %d",
			dog.NumLevels)
	}

	// Record the detection dimensions for downstream consumers.
	first := dog.Get(dog.FirstOctave, dog.FirstLevel+1)
	kp.Nx = first.Nx
	kp.Ny = first.Ny
	kp.Nz = first.Nz

	for o := dog.FirstOctave; o <= dog.LastOctave(); o++ {
		for s := dog.FirstLevel + 1; s <= dog.LastLevel()-1; s++ {

			prev := dog.Get(o, s-1)
			cur := dog.Get(o, s)
			next := dog.Get(o, s+1)

			peakThresh := d.peakThresh * cur.MaxAbs()

			for z := 1; z <= cur.Nz-2; z++ {
				for y := 1; y <= cur.Ny-2; y++ {
					for x := 1; x <= cur.Nx-2; x++ {

						pcur := cur.At(x, y, z, 0)
						if math.Abs(pcur) <= peakThresh {
							continue
						}

						isMax := d.cmpNeighbors(prev, x, y, z, pcur, true, false) &&
							d.cmpNeighbors(cur, x, y, z, pcur, true, true) &&
							d.cmpNeighbors(next, x, y, z, pcur, true, false)
						isMin := !isMax &&
							d.cmpNeighbors(prev, x, y, z, pcur, false, false) &&
							d.cmpNeighbors(cur, x, y, z, pcur, false, true) &&
							d.cmpNeighbors(next, x, y, z, pcur, false, false)

						if !isMax && !isMin {
							continue
						}

						kp.Keys = append(kp.Keys, Keypoint{
							O:  o,
							S:  s,
							Xi: x,
							Yi: y,
							Zi: z,
						})
					}
				}
			}
		}
	}

	return nil
}
