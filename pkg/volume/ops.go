package volume

import "fmt"

// Subtract computes dst = a - b voxel-wise. dst is resized to match a.
func Subtract(a, b, dst *Volume) error {
	if !a.SameDims(b) {
		return fmt.Errorf("subtract: dimension mismatch %dx%dx%d vs %dx%dx%d",
			a.Nx, a.Ny, a.Nz, b.Nx, b.Ny, b.Nz)
	}
	if err := dst.CopyDims(a); err != nil {
		return fmt.Errorf("subtract: %w", err)
	}
	for i := range dst.Data {
		dst.Data[i] = a.Data[i] - b.Data[i]
	}
	return nil
}

// Downsample2x decimates src by a factor of two along each axis using
// nearest-neighbor sampling. dst is resized to the halved dimensions; its
// scale attribute is left to the caller, since downsampling changes the
// grid but not the blur relative to it.
func Downsample2x(src, dst *Volume) error {
	dst.Nx = src.Nx / 2
	dst.Ny = src.Ny / 2
	dst.Nz = src.Nz / 2
	dst.Nc = src.Nc
	if dst.Nx < 1 || dst.Ny < 1 || dst.Nz < 1 {
		return fmt.Errorf("downsample: source %dx%dx%d too small",
			src.Nx, src.Ny, src.Nz)
	}
	if err := dst.Resize(); err != nil {
		return fmt.Errorf("downsample: %w", err)
	}
	for z := 0; z < dst.Nz; z++ {
		for y := 0; y < dst.Ny; y++ {
			for x := 0; x < dst.Nx; x++ {
				for c := 0; c < dst.Nc; c++ {
					dst.Set(x, y, z, c, src.At(2*x, 2*y, 2*z, c))
				}
			}
		}
	}
	return nil
}
