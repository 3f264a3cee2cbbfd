package volume

import (
	"fmt"
	"math"
)

// widthFactor controls the spatial support of a Gaussian FIR kernel: the
// kernel extends to ceil(widthFactor * sigma) taps on each side of the
// center.
const widthFactor = 3.0

// SepFIRFilter is a 1D FIR filter applied separably along each axis of a
// volume. The kernel is stored in full, center at HalfWidth.
type SepFIRFilter struct {
	// Kernel holds the 2*HalfWidth+1 filter taps.
	Kernel []float64

	// HalfWidth is the one-sided kernel extent in voxels.
	HalfWidth int
}

// NewGaussianFilter builds a normalized Gaussian kernel with the given
// standard deviation in voxel units. A sigma of zero yields the identity
// filter.
func NewGaussianFilter(sigma float64) *SepFIRFilter {
	if sigma <= 0 {
		return &SepFIRFilter{Kernel: []float64{1}, HalfWidth: 0}
	}

	hw := int(math.Ceil(sigma * widthFactor))
	if hw < 1 {
		hw = 1
	}

	kernel := make([]float64, 2*hw+1)
	sum := 0.0
	for i := -hw; i <= hw; i++ {
		w := math.Exp(-0.5 * float64(i*i) / (sigma * sigma))
		kernel[i+hw] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	return &SepFIRFilter{Kernel: kernel, HalfWidth: hw}
}

// NewGaussianIncremental builds the Gaussian filter that takes data already
// blurred to sCur up to a total blur of sNext, using additivity in variance.
// sNext must not be smaller than sCur.
func NewGaussianIncremental(sCur, sNext float64) (*SepFIRFilter, error) {
	if sNext < sCur {
		return nil, fmt.Errorf("incremental Gaussian: target scale %g below current %g",
			sNext, sCur)
	}
	return NewGaussianFilter(math.Sqrt(sNext*sNext - sCur*sCur)), nil
}

// Apply convolves src with the filter along all three spatial axes and
// writes the result to dst, which is resized to match src. Out-of-bounds
// samples are clamped to the nearest edge voxel. src and dst must be
// distinct volumes.
func (f *SepFIRFilter) Apply(src, dst *Volume) error {
	if src == dst {
		return fmt.Errorf("separable filter: src and dst must be distinct")
	}
	if err := dst.CopyDims(src); err != nil {
		return fmt.Errorf("separable filter: %w", err)
	}

	tmp := New(src.Nx, src.Ny, src.Nz, src.Nc)

	// x pass: src -> dst
	f.convolveAxis(src, dst, 0)
	// y pass: dst -> tmp
	f.convolveAxis(dst, tmp, 1)
	// z pass: tmp -> dst
	f.convolveAxis(tmp, dst, 2)

	dst.Scale = src.Scale
	return nil
}

// convolveAxis runs the 1D kernel along a single axis (0=x, 1=y, 2=z) with
// clamp-to-edge boundary handling.
func (f *SepFIRFilter) convolveAxis(src, dst *Volume, axis int) {
	hw := f.HalfWidth
	n := [3]int{src.Nx, src.Ny, src.Nz}

	for z := 0; z < src.Nz; z++ {
		for y := 0; y < src.Ny; y++ {
			for x := 0; x < src.Nx; x++ {
				for c := 0; c < src.Nc; c++ {
					acc := 0.0
					for t := -hw; t <= hw; t++ {
						p := [3]int{x, y, z}
						p[axis] += t
						if p[axis] < 0 {
							p[axis] = 0
						} else if p[axis] >= n[axis] {
							p[axis] = n[axis] - 1
						}
						acc += f.Kernel[t+hw] *
							src.At(p[0], p[1], p[2], c)
					}
					dst.Set(x, y, z, c, acc)
				}
			}
		}
	}
}
