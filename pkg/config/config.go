// Package config provides configuration loading and management for ctlungseg.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"ctlungseg/internal/models"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Training parameters for the subsample centroid estimation
	Training struct {
		// K is the number of centroids to learn
		K int `yaml:"k"`

		// Subsamples is the number of disjoint random partitions of the population
		Subsamples int `yaml:"subsamples"`

		// Init selects the centroid seeding: "random" or "++"
		Init string `yaml:"init"`

		// MaxIterations bounds every single k-means run
		MaxIterations int `yaml:"maxIterations"`

		// Epsilon stops a k-means run once no centroid moves further than this
		Epsilon float64 `yaml:"epsilon"`

		// Attempts is the number of restarts per k-means run, best inertia wins
		Attempts int `yaml:"attempts"`

		// Backend names the k-means implementation: "lloyd" or "muesli"
		Backend string `yaml:"backend"`

		// Seed makes shuffling and seeding reproducible
		Seed uint64 `yaml:"seed"`

		// Workers is the number of subsamples clustered concurrently
		Workers int `yaml:"workers"`

		// SaveIntermediate persists every per-subsample centroid table
		SaveIntermediate bool `yaml:"saveIntermediate"`
	} `yaml:"training"`

	// Labeling parameters for the nearest-centroid classifier
	Labeling struct {
		Workers int `yaml:"workers"`

		// TargetLabel is the label extracted as the binary output mask
		TargetLabel int `yaml:"targetLabel"`

		// MaskLower and MaskUpper bound the raw intensities included in labeling
		MaskLower float64 `yaml:"maskLower"`
		MaskUpper float64 `yaml:"maskUpper"`
	} `yaml:"labeling"`

	// Features parameters for the built-in feature source
	Features struct {
		// Radius of the in-slice neighbourhood for median and std channels
		Radius int `yaml:"radius"`

		// EqualizationRadius of the in-slice neighbourhood for local histogram equalization
		EqualizationRadius int `yaml:"equalizationRadius"`

		// Gamma of the gamma-corrected channel
		Gamma float64 `yaml:"gamma"`
	} `yaml:"features"`

	// Refinement parameters for the region analysis of the output mask
	Refinement struct {
		// Smooth applies a binary median filter to the target mask
		Smooth bool `yaml:"smooth"`

		// SmoothRadius of the in-slice median neighbourhood
		SmoothRadius int `yaml:"smoothRadius"`

		// MinArea removes per-slice components smaller than this many voxels
		MinArea int `yaml:"minArea"`

		// TopN keeps the N largest components of every slice (0 disables)
		TopN int `yaml:"topN"`

		// TopNPolicy is "requireN" or "retainAvailable"
		TopNPolicy string `yaml:"topNPolicy"`

		// Background is the background rule of SelectLargest: "indexZero" or "border"
		Background string `yaml:"background"`

		// Strict turns empty selections into errors
		Strict bool `yaml:"strict"`

		// FillGaps closes slice-axis gaps in the output mask
		FillGaps bool `yaml:"fillGaps"`

		// FillHoles fills enclosed background inside every slice
		FillHoles bool `yaml:"fillHoles"`

		// SelectLargest keeps only the largest 3-D component
		SelectLargest bool `yaml:"selectLargest"`
	} `yaml:"refinement"`

	// Selection parameters for slice and region of interest selection
	Selection struct {
		// MinArea is the bounding box area a slice needs to be kept
		MinArea int `yaml:"minArea"`
	} `yaml:"selection"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// SaveIntermediaryResults writes PNG slices of every pipeline stage
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir is where intermediary results are written
		IntermediaryDir string `yaml:"intermediaryDir"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Training.K = 4
	cfg.Training.Subsamples = 100
	cfg.Training.Init = "random"
	cfg.Training.MaxIterations = 10
	cfg.Training.Epsilon = 1.0
	cfg.Training.Attempts = 1
	cfg.Training.Backend = "lloyd"
	cfg.Training.Seed = 1
	cfg.Training.Workers = runtime.NumCPU()

	cfg.Labeling.Workers = runtime.NumCPU()
	cfg.Labeling.TargetLabel = 3 // GGO in the pre-trained table
	cfg.Labeling.MaskLower = 1
	cfg.Labeling.MaskUpper = 4000

	cfg.Features.Radius = 3
	cfg.Features.EqualizationRadius = 5
	cfg.Features.Gamma = 1.5

	cfg.Refinement.Smooth = true
	cfg.Refinement.SmoothRadius = 3
	cfg.Refinement.MinArea = 10
	cfg.Refinement.TopN = 0
	cfg.Refinement.TopNPolicy = "requireN"
	cfg.Refinement.Background = "indexZero"
	cfg.Refinement.FillGaps = true

	cfg.Selection.MinArea = 1000

	cfg.Output.Verbose = false
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary_results"

	return cfg
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			err = multierr.Append(err, errors.Wrapf(models.ErrConfiguration, format, args...))
		}
	}

	check(c.Training.K > 0, "training.k must be positive, got %d", c.Training.K)
	check(c.Training.Subsamples > 0, "training.subsamples must be positive, got %d", c.Training.Subsamples)
	check(c.Training.Init == "random" || c.Training.Init == "++", "training.init must be random or ++, got %q", c.Training.Init)
	check(c.Training.MaxIterations > 0, "training.maxIterations must be positive, got %d", c.Training.MaxIterations)
	check(c.Training.Epsilon >= 0, "training.epsilon must not be negative, got %g", c.Training.Epsilon)
	check(c.Training.Attempts > 0, "training.attempts must be positive, got %d", c.Training.Attempts)
	check(c.Training.Backend == "lloyd" || c.Training.Backend == "muesli", "training.backend must be lloyd or muesli, got %q", c.Training.Backend)
	check(c.Training.Workers > 0, "training.workers must be positive, got %d", c.Training.Workers)
	check(c.Labeling.Workers > 0, "labeling.workers must be positive, got %d", c.Labeling.Workers)
	check(c.Labeling.TargetLabel >= 0, "labeling.targetLabel must not be negative, got %d", c.Labeling.TargetLabel)
	check(c.Labeling.MaskLower <= c.Labeling.MaskUpper, "labeling.maskLower %g exceeds maskUpper %g", c.Labeling.MaskLower, c.Labeling.MaskUpper)
	check(c.Features.Radius > 0, "features.radius must be positive, got %d", c.Features.Radius)
	check(c.Features.EqualizationRadius > 0, "features.equalizationRadius must be positive, got %d", c.Features.EqualizationRadius)
	check(c.Features.Gamma > 0, "features.gamma must be positive, got %g", c.Features.Gamma)
	check(c.Refinement.SmoothRadius > 0, "refinement.smoothRadius must be positive, got %d", c.Refinement.SmoothRadius)
	check(c.Refinement.MinArea >= 0, "refinement.minArea must not be negative, got %d", c.Refinement.MinArea)
	check(c.Refinement.TopN >= 0, "refinement.topN must not be negative, got %d", c.Refinement.TopN)
	check(c.Refinement.TopNPolicy == "requireN" || c.Refinement.TopNPolicy == "retainAvailable",
		"refinement.topNPolicy must be requireN or retainAvailable, got %q", c.Refinement.TopNPolicy)
	check(c.Refinement.Background == "indexZero" || c.Refinement.Background == "border",
		"refinement.background must be indexZero or border, got %q", c.Refinement.Background)
	check(c.Selection.MinArea >= 0, "selection.minArea must not be negative, got %d", c.Selection.MinArea)

	return err
}

// LoadConfig reads and validates the YAML file at configPath on top of the
// defaults. A missing file yields the defaults unchanged.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", configPath)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %s", configPath)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", configPath)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML, creating parent directories.
func SaveConfig(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	return errors.Wrapf(os.WriteFile(configPath, data, 0644), "failed to write config %s", configPath)
}

// CreateDefaultConfigFile writes the default configuration to configPath.
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
