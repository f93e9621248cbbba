// Package config provides configuration loading and management for oneshotseg.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"oneshotseg/pkg/classifier"
	"oneshotseg/pkg/features"
	"oneshotseg/pkg/logging"
	"oneshotseg/pkg/segmentation"
)

// DefaultThreshold is the probability cut-off applied after a fresh run
const DefaultThreshold = int(segmentation.DefaultThreshold)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many slices are processed concurrently
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`

	// Feature extraction parameters
	Features struct {
		// DistanceMetric is "chessboard" or "taxicab"
		DistanceMetric features.DistanceMetric `yaml:"distanceMetric"`
	} `yaml:"features"`

	// Classifier holds the ensemble parameters. trees and maxDepth default
	// to 50 and override the fixed ensemble size when set.
	Classifier classifier.Config `yaml:"classifier"`

	// Segmentation parameters
	Segmentation struct {
		// Threshold turns the probability volume into a mask (0-255)
		Threshold int `yaml:"threshold"`
	} `yaml:"segmentation"`

	// Output parameters
	Output struct {
		// Format of written slices: "png" or "tiff"
		Format string `yaml:"format"`

		// SaveIntermediaryResults dumps feature channels of a few slices
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir is where those dumps go
		IntermediaryDir string `yaml:"intermediaryDir"`

		// LogLevel is a zerolog level name
		LogLevel string `yaml:"logLevel"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()

	cfg.Features.DistanceMetric = features.Chessboard

	cfg.Classifier = classifier.DefaultConfig()

	cfg.Segmentation.Threshold = DefaultThreshold

	cfg.Output.Format = "png"
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary_results"
	cfg.Output.LogLevel = "info"

	return cfg
}

// Validate checks that all values are within their allowed ranges
func (c *Config) Validate() error {
	if c.Processing.NumCores < 1 {
		return fmt.Errorf("processing.numCores must be at least 1, got %d", c.Processing.NumCores)
	}
	switch c.Features.DistanceMetric {
	case features.Chessboard, features.Taxicab:
	default:
		return fmt.Errorf("features.distanceMetric must be %q or %q, got %q",
			features.Chessboard, features.Taxicab, c.Features.DistanceMetric)
	}
	if c.Classifier.Trees < 1 {
		return fmt.Errorf("classifier.trees must be at least 1, got %d", c.Classifier.Trees)
	}
	if c.Classifier.MaxDepth < 1 {
		return fmt.Errorf("classifier.maxDepth must be at least 1, got %d", c.Classifier.MaxDepth)
	}
	if c.Segmentation.Threshold < 0 || c.Segmentation.Threshold > 255 {
		return fmt.Errorf("segmentation.threshold must be within 0-255, got %d", c.Segmentation.Threshold)
	}
	switch c.Output.Format {
	case "png", "tiff":
	default:
		return fmt.Errorf("output.format must be png or tiff, got %q", c.Output.Format)
	}
	if _, err := logging.ParseLevel(c.Output.LogLevel); err != nil {
		return fmt.Errorf("output.logLevel: %w", err)
	}
	return nil
}

// SessionParams converts the configuration into segmentation parameters
func (c *Config) SessionParams() segmentation.Params {
	clf := c.Classifier
	clf.NumWorkers = c.Processing.NumCores
	return segmentation.Params{
		NumCores:                c.Processing.NumCores,
		DistanceMetric:          c.Features.DistanceMetric,
		Classifier:              clf,
		SaveIntermediaryResults: c.Output.SaveIntermediaryResults,
		IntermediaryDir:         c.Output.IntermediaryDir,
	}
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
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

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	cfg.Classifier.NumWorkers = cfg.Processing.NumCores
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
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

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
