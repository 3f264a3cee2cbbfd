package sift

import (
	"fmt"

	"volsift/pkg/mesh"
	"volsift/pkg/volume"
)

// ExtractDenseDescriptors computes one 12-bin icosahedral gradient
// histogram per voxel of a single-channel volume and writes the result to
// out as a 12-channel volume of the same spatial dimensions.
//
// Without rotation (the default) each voxel's gradient is binned directly
// and the bin volume is Gaussian-smoothed to aggregate a neighborhood.
// With rotation enabled, every voxel gets a local orientation frame first,
// falling back to the identity where no stable frame exists.
//
// After either variant, each voxel's histogram is normalized, truncated,
// renormalized, and finally scaled by the source intensity at that voxel.
func (d *Detector) ExtractDenseDescriptors(in, out *volume.Volume) error {
	if in.Nc != 1 {
		return fmt.Errorf("dense descriptors: invalid number of channels: %d, only single-channel volumes are supported",
			in.Nc)
	}

	out.Nx, out.Ny, out.Nz = in.Nx, in.Ny, in.Nz
	out.Nc = IcosaBins
	if err := out.Resize(); err != nil {
		return fmt.Errorf("dense descriptors: %w", err)
	}

	// Bring the input from its nominal blur to the base scale.
	smoothFilter, err := volume.NewGaussianIncremental(d.gpyr.SigmaN, d.gpyr.Sigma0)
	if err != nil {
		return fmt.Errorf("dense descriptors: %w", err)
	}
	smooth := &volume.Volume{}
	if err := smoothFilter.Apply(in, smooth); err != nil {
		return fmt.Errorf("dense descriptors: %w", err)
	}
	smooth.Scale = d.gpyr.Sigma0

	if d.denseRotate {
		if err := d.denseDescriptorsRotate(smooth, out); err != nil {
			return err
		}
	} else {
		if err := d.denseDescriptorsNoRotate(smooth, out); err != nil {
			return err
		}
	}

	// Per-voxel histogram post-processing, scaled back to the raw input
	// intensity.
	hist := make(Hist, IcosaBins)
	for z := 0; z < out.Nz; z++ {
		for y := 0; y < out.Ny; y++ {
			for x := 0; x < out.Nx; x++ {
				val := in.At(x, y, z, 0)
				voxToHist(out, x, y, z, hist)
				d.postprocHist(hist, val)
				histToVox(hist, out, x, y, z)
			}
		}
	}

	return nil
}

// denseDescriptorsNoRotate bins each interior voxel's gradient into the
// icosahedral bins of an intermediate volume, then aggregates neighborhoods
// with a separable Gaussian. Much faster than the rotating variant because
// the bins are fixed.
func (d *Detector) denseDescriptorsNoRotate(in, out *volume.Volume) error {
	temp := &volume.Volume{}
	if err := temp.CopyDims(out); err != nil {
		return fmt.Errorf("dense descriptors: %w", err)
	}

	sigmaWin := d.gpyr.Sigma0 * descSigFctr / NHistPerDim
	gauss := volume.NewGaussianFilter(sigmaWin)

	temp.Zero()
	for z := 1; z <= in.Nz-2; z++ {
		for y := 1; y <= in.Ny-2; y++ {
			for x := 1; x <= in.Nx-2; x++ {
				gx, gy, gz := in.Gradient(x, y, z)

				bin, bary, ok := d.mesh.Bin(mesh.Vec3{X: gx, Y: gy, Z: gz})
				if !ok {
					continue
				}

				tri := &d.mesh.Tris[bin]
				temp.Set(x, y, z, tri.Idx[0], bary.X)
				temp.Set(x, y, z, tri.Idx[1], bary.Y)
				temp.Set(x, y, z, tri.Idx[2], bary.Z)
			}
		}
	}

	if err := gauss.Apply(temp, out); err != nil {
		return fmt.Errorf("dense descriptors: %w", err)
	}
	return nil
}

// denseDescriptorsRotate extracts a rotation-aligned single-cell histogram
// at every voxel. Voxels with no stable orientation use the identity frame.
func (d *Detector) denseDescriptorsRotate(in, out *volume.Volume) error {
	identity := [9]float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}

	oriSigma := d.gpyr.Sigma0 * oriSigFctr
	descSigma := d.gpyr.Sigma0 * descSigFctr / NHistPerDim

	hist := make(Hist, IcosaBins)
	var r [9]float64
	for z := 0; z < in.Nz; z++ {
		for y := 0; y < in.Ny; y++ {
			for x := 0; x < in.Nx; x++ {
				cx := float64(x) + 0.5
				cy := float64(y) + 0.5
				cz := float64(z) + 0.5

				rot := &r
				rejected, err := d.assignEigOri(in, cx, cy, cz, oriSigma, &r)
				if err != nil {
					return err
				}
				if rejected {
					rot = &identity
				}

				d.extractDenseHist(in, cx, cy, cz, descSigma, rot, hist)
				histToVox(hist, out, x, y, z)
			}
		}
	}
	return nil
}

// extractDenseHist accumulates a single rotation-aligned icosahedral
// histogram over a spherical window.
func (d *Detector) extractDenseHist(im *volume.Volume, cx, cy, cz, sigma float64,
	r *[9]float64, hist Hist) {

	winRadius := descRadFctr * sigma

	for i := range hist {
		hist[i] = 0
	}

	im.ForEachSphere(cx, cy, cz, winRadius,
		func(x, y, z int, dx, dy, dz, sqDist float64) {
			gx, gy, gz := im.Gradient(x, y, z)

			rot := mesh.Vec3{
				X: r[0]*gx + r[1]*gy + r[2]*gz,
				Y: r[3]*gx + r[4]*gy + r[5]*gz,
				Z: r[6]*gx + r[7]*gy + r[8]*gz,
			}

			bin, bary, ok := d.mesh.Bin(rot)
			if !ok {
				return
			}

			mag := mesh.Vec3{X: gx, Y: gy, Z: gz}.Norm()
			weight := gaussWeight(sqDist, sigma)

			tri := &d.mesh.Tris[bin]
			hist[tri.Idx[0]] += mag * weight * bary.X
			hist[tri.Idx[1]] += mag * weight * bary.Y
			hist[tri.Idx[2]] += mag * weight * bary.Z
		})
}

// postprocHist normalizes, truncates and renormalizes one dense histogram,
// then converts it to the requested norm.
func (d *Detector) postprocHist(hist Hist, norm float64) {
	// Dense histograms are always icosahedral, so no bin reweighting
	// applies here regardless of the configured histogram mode.
	histTrunc := d.truncThresh() * float64(DescNumTotalHist*d.histLen()) /
		float64(IcosaBins)

	normalizeHist(hist)
	for i, v := range hist {
		if v > histTrunc {
			hist[i] = histTrunc
		}
	}
	normalizeHist(hist)

	for i := range hist {
		hist[i] *= norm
	}
}

// voxToHist copies the channels of one voxel into a histogram.
func voxToHist(im *volume.Volume, x, y, z int, hist Hist) {
	for c := range hist {
		hist[c] = im.At(x, y, z, c)
	}
}

// histToVox copies a histogram into the channels of one voxel.
func histToVox(hist Hist, im *volume.Volume, x, y, z int) {
	for c := range hist {
		im.Set(x, y, z, c, hist[c])
	}
}
