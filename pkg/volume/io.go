package volume

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"
)

// LoadSliceDir loads a single-channel volume from a directory of 2D slice
// images. JPEG, PNG and TIFF files are accepted; they are sorted by the
// numeric part of their filenames so that slice order follows the
// acquisition order. The first slice fixes the in-plane dimensions.
// Intensities are converted to grayscale in [0, 1].
func LoadSliceDir(dir string) (*Volume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading slice directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png", ".tif", ".tiff":
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no slice images found in %s", dir)
	}

	// Sort by the number embedded in the filename so slice order matches
	// the physical stacking order.
	sort.Slice(names, func(i, j int) bool {
		return extractNumber(names[i]) < extractNumber(names[j])
	})

	var vol *Volume
	for z, name := range names {
		img, err := loadImage(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("loading slice %s: %w", name, err)
		}

		bounds := img.Bounds()
		if vol == nil {
			vol = New(bounds.Dx(), bounds.Dy(), len(names), 1)
		}
		if bounds.Dx() != vol.Nx || bounds.Dy() != vol.Ny {
			return nil, fmt.Errorf("slice %s has dimensions %dx%d, expected %dx%d",
				name, bounds.Dx(), bounds.Dy(), vol.Nx, vol.Ny)
		}

		for y := 0; y < vol.Ny; y++ {
			for x := 0; x < vol.Nx; x++ {
				r, _, _, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				vol.Set(x, y, z, 0, float64(r)/65535.0)
			}
		}
	}

	return vol, nil
}

// extractNumber extracts the numeric part of a filename, or 0 if there is
// none.
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}
	if numStr != "" {
		if num, err := strconv.Atoi(numStr); err == nil {
			return num
		}
	}
	return 0
}

// loadImage decodes a single slice image by extension.
func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return png.Decode(file)
	case ".tif", ".tiff":
		return tiff.Decode(file)
	default:
		return jpeg.Decode(file)
	}
}
