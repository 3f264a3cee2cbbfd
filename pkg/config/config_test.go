package config

import (
	"path/filepath"
	"testing"
)

// TestDefaultConfig verifies the reference default values.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Detector.FirstOctave != 0 {
		t.Errorf("Expected firstOctave=0, got %d", cfg.Detector.FirstOctave)
	}
	if cfg.Detector.NumOctaves != -1 {
		t.Errorf("Expected numOctaves=-1, got %d", cfg.Detector.NumOctaves)
	}
	if cfg.Detector.NumKpLevels != 3 {
		t.Errorf("Expected numKpLevels=3, got %d", cfg.Detector.NumKpLevels)
	}
	if cfg.Detector.SigmaN != 1.15 {
		t.Errorf("Expected sigmaN=1.15, got %f", cfg.Detector.SigmaN)
	}
	if cfg.Detector.Sigma0 != 1.6 {
		t.Errorf("Expected sigma0=1.6, got %f", cfg.Detector.Sigma0)
	}
	if cfg.Detector.PeakThresh != 0.03 {
		t.Errorf("Expected peakThresh=0.03, got %f", cfg.Detector.PeakThresh)
	}
	if cfg.Detector.CornerThresh != 0.5 {
		t.Errorf("Expected cornerThresh=0.5, got %f", cfg.Detector.CornerThresh)
	}
}

// TestLoadMissingFileReturnsDefaults verifies the missing-file behavior.
func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Detector.Sigma0 != 1.6 {
		t.Errorf("Missing config did not fall back to defaults")
	}
}

// TestSaveLoadRoundTrip verifies that a modified configuration survives a
// save and reload.
func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "volsift.yaml")

	cfg := DefaultConfig()
	cfg.Detector.PeakThresh = 0.07
	cfg.Detector.NumKpLevels = 5
	cfg.Matching.NNThresh = 0.7
	cfg.Matching.ForwardBackward = false
	cfg.Dense.Rotate = true
	cfg.Output.Gzip = true

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	back, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if back.Detector.PeakThresh != 0.07 {
		t.Errorf("peakThresh = %f, want 0.07", back.Detector.PeakThresh)
	}
	if back.Detector.NumKpLevels != 5 {
		t.Errorf("numKpLevels = %d, want 5", back.Detector.NumKpLevels)
	}
	if back.Matching.NNThresh != 0.7 {
		t.Errorf("nnThresh = %f, want 0.7", back.Matching.NNThresh)
	}
	if back.Matching.ForwardBackward {
		t.Errorf("forwardBackward = true, want false")
	}
	if !back.Dense.Rotate {
		t.Errorf("dense rotate = false, want true")
	}
	if !back.Output.Gzip {
		t.Errorf("gzip = false, want true")
	}
}

// TestCreateDefaultConfigFile verifies that the generated file loads back
// as the defaults.
func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")

	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Detector.PeakThresh != 0.03 {
		t.Errorf("Generated config does not round-trip the defaults")
	}
}
