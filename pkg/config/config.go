// Package config provides configuration loading and management for
// spectraldecomp. It handles loading configuration from YAML files and
// provides default values.
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
	// Decomposition parameters
	Decomposition struct {
		// NumberOfIterations caps the simplex search per pixel
		NumberOfIterations int `yaml:"numberOfIterations"`

		// Tolerance is the absolute function-convergence tolerance
		Tolerance float64 `yaml:"tolerance"`

		// NumCores specifies how many CPU cores to use for the pixel loop
		NumCores int `yaml:"numCores"`

		// EstimateVariances enables the Cramer-Rao bound per pixel
		EstimateVariances bool `yaml:"estimateVariances"`
	} `yaml:"decomposition"`

	// Calibration table sources
	Calibration struct {
		// DetectorResponseFile is a CSV table, one spectral bin per row
		DetectorResponseFile string `yaml:"detectorResponseFile"`

		// MaterialAttenuationsFile is a CSV table, one material per row
		MaterialAttenuationsFile string `yaml:"materialAttenuationsFile"`

		// IncidentSpectrumFile is a single-row or single-column CSV table
		IncidentSpectrumFile string `yaml:"incidentSpectrumFile"`

		// Thresholds are the energy-grid bin edges, length bins+1
		Thresholds []int `yaml:"thresholds"`
	} `yaml:"calibration"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default decomposition parameters
	cfg.Decomposition.NumberOfIterations = 300
	cfg.Decomposition.Tolerance = 1e-9
	cfg.Decomposition.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Decomposition.EstimateVariances = true

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
