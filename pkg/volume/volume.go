// Package volume provides the 3D scalar field type used throughout the
// feature pipeline, together with the small "image algebra" the pipeline is
// built on: separable FIR convolution, voxel-wise subtraction, 2x
// downsampling, central-difference gradients and window iteration.
package volume

import (
	"fmt"
)

// Volume is a 3D scalar field with an optional channel dimension.
// Voxel values are stored in a flat array with x fastest, then y, then z,
// and channels innermost:
//
//	idx = ((z*Ny + y)*Nx + x)*Nc + c
//
// A voxel at integer coordinates (x, y, z) has its continuous center at
// (x+0.5, y+0.5, z+0.5). The Scale field records the Gaussian blur that has
// been applied to the data, in voxel units of the volume's own grid.
type Volume struct {
	// Data is the voxel buffer in row-major order as described above.
	Data []float64

	// Nx, Ny, Nz are the spatial dimensions in voxels.
	Nx, Ny, Nz int

	// Nc is the number of channels per voxel. The detector requires
	// single-channel input; dense descriptors produce multi-channel
	// output.
	Nc int

	// Scale is the total Gaussian blur parameter applied to the data.
	Scale float64
}

// New allocates a zero-filled volume with the given dimensions.
func New(nx, ny, nz, nc int) *Volume {
	return &Volume{
		Data: make([]float64, nx*ny*nz*nc),
		Nx:   nx,
		Ny:   ny,
		Nz:   nz,
		Nc:   nc,
	}
}

// Idx returns the flat buffer index of (x, y, z, c).
func (v *Volume) Idx(x, y, z, c int) int {
	return ((z*v.Ny+y)*v.Nx+x)*v.Nc + c
}

// At returns the voxel value at (x, y, z, c). No bounds checking beyond the
// slice access itself.
func (v *Volume) At(x, y, z, c int) float64 {
	return v.Data[v.Idx(x, y, z, c)]
}

// Set stores a voxel value at (x, y, z, c).
func (v *Volume) Set(x, y, z, c int, val float64) {
	v.Data[v.Idx(x, y, z, c)] = val
}

// SameDims reports whether two volumes have identical dimensions and channel
// counts.
func (v *Volume) SameDims(o *Volume) bool {
	return v.Nx == o.Nx && v.Ny == o.Ny && v.Nz == o.Nz && v.Nc == o.Nc
}

// Resize reallocates the voxel buffer to match the current dimensions,
// discarding any previous contents. It is a no-op when the buffer already
// has the right length.
func (v *Volume) Resize() error {
	n := v.Nx * v.Ny * v.Nz * v.Nc
	if n < 0 {
		return fmt.Errorf("volume: invalid dimensions %dx%dx%dx%d",
			v.Nx, v.Ny, v.Nz, v.Nc)
	}
	if len(v.Data) != n {
		v.Data = make([]float64, n)
	}
	return nil
}

// CopyDims sets the receiver's dimensions to match src and reallocates its
// buffer. The voxel contents are not copied.
func (v *Volume) CopyDims(src *Volume) error {
	v.Nx, v.Ny, v.Nz, v.Nc = src.Nx, src.Ny, src.Nz, src.Nc
	v.Scale = src.Scale
	return v.Resize()
}

// Zero clears all voxels.
func (v *Volume) Zero() {
	for i := range v.Data {
		v.Data[i] = 0
	}
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	out := &Volume{
		Data:  make([]float64, len(v.Data)),
		Nx:    v.Nx,
		Ny:    v.Ny,
		Nz:    v.Nz,
		Nc:    v.Nc,
		Scale: v.Scale,
	}
	copy(out.Data, v.Data)
	return out
}

// Gradient computes the central-difference gradient of channel 0 at the
// interior voxel (x, y, z). The caller must ensure 1 <= x <= Nx-2 and
// likewise for y and z.
func (v *Volume) Gradient(x, y, z int) (gx, gy, gz float64) {
	gx = 0.5 * (v.At(x+1, y, z, 0) - v.At(x-1, y, z, 0))
	gy = 0.5 * (v.At(x, y+1, z, 0) - v.At(x, y-1, z, 0))
	gz = 0.5 * (v.At(x, y, z+1, 0) - v.At(x, y, z-1, 0))
	return gx, gy, gz
}

// MaxAbs returns the maximum absolute voxel value over all channels.
func (v *Volume) MaxAbs() float64 {
	max := 0.0
	for _, val := range v.Data {
		if val < 0 {
			val = -val
		}
		if val > max {
			max = val
		}
	}
	return max
}

// ForEachSphere visits every interior voxel whose continuous center lies
// within radius rad of the continuous point (cx, cy, cz). The callback
// receives the integer voxel coordinates, the displacement of the voxel
// center from the window center, and the squared Euclidean distance.
//
// The iteration region is clipped to [1, N-2] in each dimension so that
// central differences are always valid inside the window.
func (v *Volume) ForEachSphere(cx, cy, cz, rad float64,
	fn func(x, y, z int, dx, dy, dz, sqDist float64)) {

	xStart := maxInt(int(cx)-int(rad+0.5), 1)
	xEnd := minInt(int(cx)+int(rad+0.5), v.Nx-2)
	yStart := maxInt(int(cy)-int(rad+0.5), 1)
	yEnd := minInt(int(cy)+int(rad+0.5), v.Ny-2)
	zStart := maxInt(int(cz)-int(rad+0.5), 1)
	zEnd := minInt(int(cz)+int(rad+0.5), v.Nz-2)

	for z := zStart; z <= zEnd; z++ {
		for y := yStart; y <= yEnd; y++ {
			for x := xStart; x <= xEnd; x++ {
				dx := float64(x) + 0.5 - cx
				dy := float64(y) + 0.5 - cy
				dz := float64(z) + 0.5 - cz
				sq := dx*dx + dy*dy + dz*dz
				if sq > rad*rad {
					continue
				}
				fn(x, y, z, dx, dy, dz, sq)
			}
		}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
