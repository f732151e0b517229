// Package config provides configuration loading and management for ctrecon.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Dataset describes the projection geometry of the input files. The
	// defaults match the reference scanner dataset; other datasets
	// override them from a config file.
	Dataset Dataset `yaml:"dataset"`

	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`

		// MaxOpenFiles bounds the reader's file handle cache
		MaxOpenFiles int `yaml:"maxOpenFiles"`
	} `yaml:"processing"`

	// Cluster parameters for multi-worker runs
	Cluster struct {
		// DialTimeoutSec is how long a worker keeps retrying the
		// coordinator before giving up
		DialTimeoutSec int `yaml:"dialTimeoutSec"`
	} `yaml:"cluster"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// Dataset holds the detector and acquisition geometry of an input dataset.
type Dataset struct {
	// NumProjections is the number of projection angles in the scan
	NumProjections int `yaml:"numProjections"`

	// DetectorRows is the height of each projection image in pixels
	DetectorRows int `yaml:"detectorRows"`

	// DetectorColumns is the width of each projection image in pixels
	DetectorColumns int `yaml:"detectorColumns"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default dataset geometry
	cfg.Dataset.NumProjections = 320
	cfg.Dataset.DetectorRows = 192
	cfg.Dataset.DetectorColumns = 256

	// Set default processing parameters
	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.MaxOpenFiles = 8

	// Set default cluster parameters
	cfg.Cluster.DialTimeoutSec = 30

	// Set default output parameters
	cfg.Output.Verbose = true

	return cfg
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
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration describes a usable dataset and
// runtime.
func (cfg *Config) Validate() error {
	if cfg.Dataset.NumProjections < 1 {
		return fmt.Errorf("invalid config: numProjections must be at least 1, got %d", cfg.Dataset.NumProjections)
	}
	if cfg.Dataset.DetectorRows < 1 || cfg.Dataset.DetectorColumns < 1 {
		return fmt.Errorf("invalid config: detector dimensions must be at least 1x1, got %dx%d",
			cfg.Dataset.DetectorRows, cfg.Dataset.DetectorColumns)
	}
	if cfg.Processing.NumCores < 1 {
		return fmt.Errorf("invalid config: numCores must be at least 1, got %d", cfg.Processing.NumCores)
	}
	if cfg.Processing.MaxOpenFiles < 1 {
		return fmt.Errorf("invalid config: maxOpenFiles must be at least 1, got %d", cfg.Processing.MaxOpenFiles)
	}
	if cfg.Cluster.DialTimeoutSec < 1 {
		return fmt.Errorf("invalid config: dialTimeoutSec must be at least 1, got %d", cfg.Cluster.DialTimeoutSec)
	}
	return nil
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
