package sift

import (
	"fmt"
	"math"

	"volsift/pkg/mesh"
	"volsift/pkg/volume"
)

// minSBinMag is the smallest gradient magnitude accepted by the spherical
// binning conversion.
const minSBinMag = 100 * 1.19209290e-07

// dblEps regularizes the normalization denominators.
const dblEps = 2.220446049250313e-16

// ExtractDescriptors computes one descriptor per keypoint, sampled from the
// Gaussian pyramid level the keypoint was detected at. DetectKeypoints must
// have been called on the corresponding volume beforehand so that the
// pyramid is populated. Results replace the contents of ds.
func (d *Detector) ExtractDescriptors(kp *KeypointStore, ds *DescriptorStore) error {
	if d.im == nil {
		return fmt.Errorf("extract descriptors: no image has been processed")
	}

	first := d.gpyr.Get(d.gpyr.FirstOctave, d.gpyr.FirstLevel)
	ds.Nx = first.Nx
	ds.Ny = first.Ny
	ds.Nz = first.Nz
	ds.HistLen = d.histLen()

	ds.Descs = make([]Descriptor, len(kp.Keys))
	for i := range kp.Keys {
		level := d.gpyr.Get(kp.Keys[i].O, kp.Keys[i].S)
		d.extractDescrip(level, &kp.Keys[i], &ds.Descs[i])
	}
	return nil
}

// extractDescrip builds one descriptor: a 4x4x4 grid of gradient
// histograms accumulated over a rotation-aligned spherical window, then
// normalized, truncated and renormalized so the combined vector has unit
// L2 norm.
func (d *Detector) extractDescrip(im *volume.Volume, key *Keypoint, desc *Descriptor) {
	sigma := key.SdRel * descSigFctr
	winRadius := descRadFctr * sigma
	descWidth := winRadius / math.Sqrt2
	descHw := descWidth / 2
	binFctr := float64(NHistPerDim) / descWidth
	factor := coordFactor(key.O)

	desc.Hists = make([]Hist, DescNumTotalHist)
	for i := range desc.Hists {
		desc.Hists[i] = make(Hist, d.histLen())
	}

	im.ForEachSphere(key.Xd, key.Yd, key.Zd, winRadius,
		func(x, y, z int, dx, dy, dz, sqDist float64) {

			// Rotate the displacement to the keypoint frame.
			kx := key.R[0]*dx + key.R[1]*dy + key.R[2]*dz
			ky := key.R[3]*dx + key.R[4]*dy + key.R[5]*dz
			kz := key.R[6]*dx + key.R[7]*dy + key.R[8]*dz

			// Spatial bin coordinates within the descriptor grid.
			bx := (kx + descHw) * binFctr
			by := (ky + descHw) * binFctr
			bz := (kz + descHw) * binFctr
			if bx < 0 || by < 0 || bz < 0 ||
				bx >= NHistPerDim || by >= NHistPerDim || bz >= NHistPerDim {
				return
			}

			gx, gy, gz := im.Gradient(x, y, z)
			weight := gaussWeight(sqDist, sigma)
			gx *= weight
			gy *= weight
			gz *= weight

			// Rotate the weighted gradient to the keypoint frame.
			grad := mesh.Vec3{
				X: key.R[0]*gx + key.R[1]*gy + key.R[2]*gz,
				Y: key.R[3]*gx + key.R[4]*gy + key.R[5]*gz,
				Z: key.R[6]*gx + key.R[7]*gy + key.R[8]*gz,
			}

			d.descAccInterp(bx, by, bz, grad, desc)
		})

	for i := range desc.Hists {
		d.refineHist(desc.Hists[i])
	}
	normalizeDesc(desc)
	trunc := d.truncThresh()
	for _, hist := range desc.Hists {
		for i, v := range hist {
			if v > trunc {
				hist[i] = trunc
			}
		}
	}
	normalizeDesc(desc)

	// Locate the descriptor in base-image coordinates.
	desc.Xd = key.Xd * factor
	desc.Yd = key.Yd * factor
	desc.Zd = key.Zd * factor
	desc.Sd = key.Sd
}

// descAccInterp accumulates one gradient sample into the descriptor:
// trilinear interpolation over the eight surrounding spatial cells,
// combined with barycentric (icosahedral) or bilinear (spherical)
// interpolation over the orientation bins.
func (d *Detector) descAccInterp(bx, by, bz float64, grad mesh.Vec3, desc *Descriptor) {
	dvx := bx - math.Floor(bx)
	dvy := by - math.Floor(by)
	dvz := bz - math.Floor(bz)

	var (
		bin  int
		bary mesh.Vec3
		mag  float64

		azf, pof, daz, dpo float64
	)

	if d.histMode == HistIcosa {
		var ok bool
		bin, bary, ok = d.mesh.Bin(grad)
		if !ok {
			return
		}
		mag = grad.Norm()
	} else {
		var ok bool
		azf, pof, mag, ok = cvecToSBins(grad)
		if !ok {
			return
		}
		daz = azf - math.Floor(azf)
		dpo = pof - math.Floor(pof)
	}

	for ix := 0; ix < 2; ix++ {
		for iy := 0; iy < 2; iy++ {
			for iz := 0; iz < 2; iz++ {

				x := int(bx) + ix
				y := int(by) + iy
				z := int(bz) + iz
				if x < 0 || x >= NHistPerDim ||
					y < 0 || y >= NHistPerDim ||
					z < 0 || z >= NHistPerDim {
					continue
				}

				hist := desc.Hists[x+y*NHistPerDim+z*NHistPerDim*NHistPerDim]

				weight := lerpWeight(ix, dvx) * lerpWeight(iy, dvy) *
					lerpWeight(iz, dvz)

				if d.histMode == HistIcosa {
					tri := &d.mesh.Tris[bin]
					hist[tri.Idx[0]] += mag * weight * bary.X
					hist[tri.Idx[1]] += mag * weight * bary.Y
					hist[tri.Idx[2]] += mag * weight * bary.Z
					continue
				}

				for dp := 0; dp < 2; dp++ {
					for da := 0; da < 2; da++ {
						a := (int(azf) + da) % NBinsAz
						p := int(pof) + dp
						if p >= NBinsPo {
							// The polar axis is not circular: walk over
							// the pole by flipping the azimuth.
							a = (a + NBinsAz/2) % NBinsAz
							p = NBinsPo - 1
						}
						hist[a+p*NBinsAz] += mag * weight *
							lerpWeight(da, daz) * lerpWeight(dp, dpo)
					}
				}
			}
		}
	}
}

func lerpWeight(hi int, frac float64) float64 {
	if hi == 0 {
		return 1 - frac
	}
	return frac
}

// cvecToSBins converts a Cartesian gradient to fractional spherical bin
// coordinates: azimuth in [0, NBinsAz), polar in [0, NBinsPo]. Near-zero
// vectors are rejected.
func cvecToSBins(g mesh.Vec3) (azBin, poBin, mag float64, ok bool) {
	mag = g.Norm()
	if mag < minSBinMag {
		return 0, 0, 0, false
	}

	az := math.Atan2(g.Y, g.X)
	if az < 0 {
		az += 2 * math.Pi
	}
	po := math.Acos(g.Z / mag)

	azBin = az * NBinsAz / (2 * math.Pi)
	poBin = po * NBinsPo / math.Pi
	if azBin >= NBinsAz {
		azBin = 0
	}
	return azBin, poBin, mag, true
}

// refineHist applies optional histogram reweighting. Only the spherical
// variant with solid-angle weighting does any work: bins are divided by
// the solid angle of their polar band so dense polar bins are not
// overcounted.
func (d *Detector) refineHist(hist Hist) {
	if d.histMode != HistSpherical || !d.solidAngleWeight {
		return
	}

	dpo := math.Pi / NBinsPo
	for p := 0; p < NBinsPo; p++ {
		po := float64(p) * dpo
		w := math.Cos(po) - math.Cos(po+dpo)
		for a := 0; a < NBinsAz; a++ {
			hist[a+p*NBinsAz] /= w
		}
	}
}

// normalizeDesc scales the descriptor so the concatenation of all of its
// histograms has unit L2 norm.
func normalizeDesc(desc *Descriptor) {
	norm := 0.0
	for _, hist := range desc.Hists {
		for _, v := range hist {
			norm += v * v
		}
	}
	norm = math.Sqrt(norm) + dblEps

	inv := 1 / norm
	for _, hist := range desc.Hists {
		for i := range hist {
			hist[i] *= inv
		}
	}
}

// normalizeHist L2-normalizes a single histogram.
func normalizeHist(hist Hist) {
	norm := 0.0
	for _, v := range hist {
		norm += v * v
	}
	norm = math.Sqrt(norm) + dblEps

	inv := 1 / norm
	for i := range hist {
		hist[i] *= inv
	}
}
