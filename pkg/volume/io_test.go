package volume

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// writeGraySlice saves a synthetic grayscale PNG slice.
func writeGraySlice(t *testing.T, path string, w, h int, value uint16) {
	t.Helper()

	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.Gray16{Y: value})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
}

// TestLoadSliceDir verifies slice loading, numeric ordering and intensity
// conversion.
func TestLoadSliceDir(t *testing.T) {
	dir := t.TempDir()

	// Deliberately unsorted names: numeric order is 2, 10, 100, which
	// lexical order would shuffle.
	writeGraySlice(t, filepath.Join(dir, "slice_10.png"), 6, 4, 32768)
	writeGraySlice(t, filepath.Join(dir, "slice_100.png"), 6, 4, 65535)
	writeGraySlice(t, filepath.Join(dir, "slice_2.png"), 6, 4, 0)

	vol, err := LoadSliceDir(dir)
	if err != nil {
		t.Fatalf("LoadSliceDir failed: %v", err)
	}

	if vol.Nx != 6 || vol.Ny != 4 || vol.Nz != 3 || vol.Nc != 1 {
		t.Fatalf("Volume dimensions %dx%dx%dx%d, want 6x4x3x1",
			vol.Nx, vol.Ny, vol.Nz, vol.Nc)
	}

	// Slice order follows the embedded numbers
	if vol.At(0, 0, 0, 0) != 0 {
		t.Errorf("Slice 0 intensity %g, want 0", vol.At(0, 0, 0, 0))
	}
	if v := vol.At(0, 0, 1, 0); v < 0.49 || v > 0.51 {
		t.Errorf("Slice 1 intensity %g, want ~0.5", v)
	}
	if vol.At(0, 0, 2, 0) != 1 {
		t.Errorf("Slice 2 intensity %g, want 1", vol.At(0, 0, 2, 0))
	}
}

// TestLoadSliceDirEmpty verifies the no-images error.
func TestLoadSliceDirEmpty(t *testing.T) {
	if _, err := LoadSliceDir(t.TempDir()); err == nil {
		t.Errorf("LoadSliceDir accepted an empty directory")
	}
}

// TestLoadSliceDirMismatchedDims verifies the dimension consistency check.
func TestLoadSliceDirMismatchedDims(t *testing.T) {
	dir := t.TempDir()
	writeGraySlice(t, filepath.Join(dir, "1.png"), 6, 4, 100)
	writeGraySlice(t, filepath.Join(dir, "2.png"), 5, 4, 100)

	if _, err := LoadSliceDir(dir); err == nil {
		t.Errorf("LoadSliceDir accepted mismatched slice dimensions")
	}
}
