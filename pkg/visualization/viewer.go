// Package visualization extracts and saves 2D slices of a volume for
// visual inspection of inputs, pyramid levels and dense descriptor
// channels.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"volsift/pkg/volume"
)

// Viewer renders axis-aligned slices of a volume as grayscale images.
type Viewer struct {
	// vol is the volume being viewed
	vol *volume.Volume

	// channel selects the channel to render for multi-channel volumes
	channel int

	// scale maps voxel values to the [0, 1] display range
	scale float64
}

// NewViewer creates a viewer for the given volume and channel. Intensities
// are normalized by the maximum absolute voxel value so that arbitrary
// value ranges render usefully.
func NewViewer(vol *volume.Volume, channel int) (*Viewer, error) {
	if channel < 0 || channel >= vol.Nc {
		return nil, fmt.Errorf("viewer: channel %d out of range [0, %d)",
			channel, vol.Nc)
	}

	scale := 1.0
	if max := vol.MaxAbs(); max > 0 {
		scale = 1 / max
	}

	return &Viewer{vol: vol, channel: channel, scale: scale}, nil
}

// ExtractSlice extracts a 2D slice along the specified axis ("x", "y" or
// "z") at the given position.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	vol := v.vol
	var img *image.Gray16

	switch axis {
	case "x", "X":
		// Slice in the YZ plane
		if position >= vol.Nx {
			return nil, fmt.Errorf("position %d exceeds width %d", position, vol.Nx)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.Nz, vol.Ny))
		for y := 0; y < vol.Ny; y++ {
			for z := 0; z < vol.Nz; z++ {
				img.Set(z, y, v.gray(position, y, z))
			}
		}

	case "y", "Y":
		// Slice in the XZ plane
		if position >= vol.Ny {
			return nil, fmt.Errorf("position %d exceeds height %d", position, vol.Ny)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.Nx, vol.Nz))
		for z := 0; z < vol.Nz; z++ {
			for x := 0; x < vol.Nx; x++ {
				img.Set(x, z, v.gray(x, position, z))
			}
		}

	case "z", "Z":
		// Slice in the XY plane
		if position >= vol.Nz {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, vol.Nz)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.Nx, vol.Ny))
		for y := 0; y < vol.Ny; y++ {
			for x := 0; x < vol.Nx; x++ {
				img.Set(x, y, v.gray(x, y, position))
			}
		}

	default:
		return nil, fmt.Errorf("unknown axis %q, want x, y or z", axis)
	}

	return img, nil
}

// gray maps one voxel to a 16-bit gray pixel.
func (v *Viewer) gray(x, y, z int) color.Gray16 {
	val := v.vol.At(x, y, z, v.channel) * v.scale
	if val < 0 {
		val = -val
	}
	if val > 1 {
		val = 1
	}
	return color.Gray16{Y: uint16(val * 65535)}
}

// axisLen returns the number of slices along an axis.
func (v *Viewer) axisLen(axis string) int {
	switch axis {
	case "x", "X":
		return v.vol.Nx
	case "y", "Y":
		return v.vol.Ny
	default:
		return v.vol.Nz
	}
}

// SaveSliceSequence extracts every slice along the given axis and saves
// them as numbered JPEG files in outputDir.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for pos := 0; pos < v.axisLen(axis); pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return fmt.Errorf("failed to extract slice %d: %w", pos, err)
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("%03d.jpg", pos))
		file, err := os.Create(filename)
		if err != nil {
			return fmt.Errorf("failed to create image file: %w", err)
		}

		if err := jpeg.Encode(file, img, &jpeg.Options{Quality: 90}); err != nil {
			file.Close()
			return fmt.Errorf("failed to encode image: %w", err)
		}
		if err := file.Close(); err != nil {
			return fmt.Errorf("failed to close image file: %w", err)
		}
	}

	return nil
}
