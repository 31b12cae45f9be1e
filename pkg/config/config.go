// Package config provides configuration loading and management for hipposeg.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// FlipConfig controls the random mirroring stage of test-time augmentation.
type FlipConfig struct {
	// Axes lists the spatial axes eligible for flipping (0=X, 1=Y, 2=Z).
	Axes []int `yaml:"axes"`

	// Probability is the per-axis chance of a flip actually happening.
	Probability float64 `yaml:"probability"`
}

// AffineConfig bounds the random affine perturbation.
type AffineConfig struct {
	// Scales is the maximum deviation of the per-axis scale from 1.
	Scales float64 `yaml:"scales"`

	// Degrees is the maximum rotation about each axis, in degrees.
	Degrees float64 `yaml:"degrees"`

	// Translation is the maximum per-axis translation, in millimetres.
	Translation float64 `yaml:"translation"`
}

// ElasticConfig bounds the random elastic deformation.
type ElasticConfig struct {
	// NumControlPoints is the control-grid size per axis.
	NumControlPoints int `yaml:"numControlPoints"`

	// MaxDisplacement is the largest control-point displacement in voxels.
	MaxDisplacement float64 `yaml:"maxDisplacement"`
}

// AugmentationConfig enumerates the random perturbations used for
// test-time augmentation. Each augmented copy is flipped first, then
// deformed by exactly one of the affine or elastic transforms, chosen
// with probability AffineProbability : ElasticProbability.
type AugmentationConfig struct {
	Flip    FlipConfig    `yaml:"flip"`
	Affine  AffineConfig  `yaml:"affine"`
	Elastic ElasticConfig `yaml:"elastic"`

	// AffineProbability and ElasticProbability weight the mutually
	// exclusive choice between the two deformations.
	AffineProbability  float64 `yaml:"affineProbability"`
	ElasticProbability float64 `yaml:"elasticProbability"`
}

// SegmentationConfig controls the ensemble loop.
type SegmentationConfig struct {
	// TestTimeAugmentation enables TTA. When false a single
	// unaugmented run per model is performed.
	TestTimeAugmentation bool `yaml:"testTimeAugmentation"`

	// TestTimeNumAug is the total number of augmentation passes,
	// including the mandatory unaugmented first pass.
	TestTimeNumAug int `yaml:"testTimeNumAug"`
}

// EngineConfig selects and tunes the inference runtime.
type EngineConfig struct {
	// ModelsDir is the directory searched for *.onnx model files.
	ModelsDir string `yaml:"modelsDir"`

	// ExecutionProviders lists the ONNX Runtime providers to try, in
	// preference order ("cuda", "cpu").
	ExecutionProviders []string `yaml:"executionProviders"`

	// IntraOpThreads is the per-session thread count (0 = runtime default).
	IntraOpThreads int `yaml:"intraOpThreads"`

	// LibraryPath optionally points at the onnxruntime shared library.
	LibraryPath string `yaml:"libraryPath"`
}

// Config represents the application configuration loaded from YAML.
type Config struct {
	Augmentation AugmentationConfig `yaml:"augmentation"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
	Engine       EngineConfig       `yaml:"engine"`

	// CAMode selects how the cornu ammonis output channels are grouped:
	// "1/2/3", "1/23" or "123".
	CAMode string `yaml:"caMode"`

	// Output parameters
	Output struct {
		// Suffix is appended to the input stem to form the
		// segmentation filename.
		Suffix string `yaml:"suffix"`
	} `yaml:"output"`

	// Processing parameters
	Processing struct {
		// Workers bounds how many (augmentation, model) inference
		// runs execute concurrently. 1 disables parallelism.
		Workers int `yaml:"workers"`
	} `yaml:"processing"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Augmentation defaults mirror the ranges the models were
	// validated with.
	cfg.Augmentation.Flip.Axes = []int{0, 1, 2}
	cfg.Augmentation.Flip.Probability = 0.5
	cfg.Augmentation.Affine.Scales = 0.2
	cfg.Augmentation.Affine.Degrees = 15
	cfg.Augmentation.Affine.Translation = 3
	cfg.Augmentation.Elastic.NumControlPoints = 4
	cfg.Augmentation.Elastic.MaxDisplacement = 4
	cfg.Augmentation.AffineProbability = 0.75
	cfg.Augmentation.ElasticProbability = 0.25

	cfg.Segmentation.TestTimeAugmentation = true
	cfg.Segmentation.TestTimeNumAug = 20

	cfg.Engine.ModelsDir = "models"
	cfg.Engine.ExecutionProviders = []string{"cpu"}

	cfg.CAMode = "1/2/3"
	cfg.Output.Suffix = "seg"
	cfg.Processing.Workers = runtime.NumCPU()

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path.
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
