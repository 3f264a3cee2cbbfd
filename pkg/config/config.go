// Package config holds the volsift YAML configuration: detector tunables,
// matching options and output settings, with defaults matching the
// detector's reference parameters. Values loaded from a file sit below any
// explicit command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Detector parameters
	Detector struct {
		// FirstOctave is the starting octave index of the pyramid
		FirstOctave int `yaml:"firstOctave"`

		// NumOctaves is the number of octaves to process, -1 for automatic
		NumOctaves int `yaml:"numOctaves"`

		// NumKpLevels is the number of keypoint levels per octave
		NumKpLevels int `yaml:"numKpLevels"`

		// SigmaN is the nominal blur of the input data
		SigmaN float64 `yaml:"sigmaN"`

		// Sigma0 is the blur of the base pyramid level
		Sigma0 float64 `yaml:"sigma0"`

		// PeakThresh is the DoG peak threshold
		PeakThresh float64 `yaml:"peakThresh"`

		// CornerThresh is the minimum corner score
		CornerThresh float64 `yaml:"cornerThresh"`
	} `yaml:"detector"`

	// Matching parameters
	Matching struct {
		// NNThresh is the Lowe ratio threshold for nearest-neighbor matching
		NNThresh float64 `yaml:"nnThresh"`

		// ForwardBackward enables the mutual-consistency check
		ForwardBackward bool `yaml:"forwardBackward"`

		// MaxDistFrac rejects matches farther apart than this fraction of
		// the volume diagonal, 0 to disable
		MaxDistFrac float64 `yaml:"maxDistFrac"`
	} `yaml:"matching"`

	// Dense descriptor parameters
	Dense struct {
		// Rotate enables per-voxel orientation assignment
		Rotate bool `yaml:"rotate"`
	} `yaml:"dense"`

	// Output parameters
	Output struct {
		// Gzip compresses the CSV outputs
		Gzip bool `yaml:"gzip"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default detector parameters
	cfg.Detector.FirstOctave = 0
	cfg.Detector.NumOctaves = -1
	cfg.Detector.NumKpLevels = 3
	cfg.Detector.SigmaN = 1.15
	cfg.Detector.Sigma0 = 1.6
	cfg.Detector.PeakThresh = 0.03
	cfg.Detector.CornerThresh = 0.5

	// Set default matching parameters
	cfg.Matching.NNThresh = 0.8
	cfg.Matching.ForwardBackward = true
	cfg.Matching.MaxDistFrac = 0

	// Set default dense parameters
	cfg.Dense.Rotate = false

	// Set default output parameters
	cfg.Output.Gzip = false
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig reads a YAML configuration file on top of the defaults, so
// partial files only override what they mention. A missing file is not an
// error: the defaults are returned unchanged.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration as YAML, creating the parent
// directory when needed.
func SaveConfig(cfg *Config, configPath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("config %s: %w", configPath, err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("config %s: %w", configPath, err)
	}
	return nil
}

// CreateDefaultConfigFile writes a configuration file populated with the
// default values, as a starting point for editing.
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
