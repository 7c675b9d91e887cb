// Package config handles reading and writing .drydock/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level structure for .drydock/config.yaml.
type Config struct {
	Version     int               `yaml:"version"`
	Project     ProjectConfig     `yaml:"project"`
	Models      ModelConfig       `yaml:"models"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Breaker     BreakerConfig     `yaml:"breaker"`
	Preferences PreferencesConfig `yaml:"preferences"`
}

// ProjectConfig identifies the project and its acceptance criteria.
type ProjectConfig struct {
	Name     string   `yaml:"name"`
	Criteria []string `yaml:"acceptance_criteria"`
}

// ModelConfig names the model tier per agent role.
type ModelConfig struct {
	Coding       string `yaml:"coding"`
	Verification string `yaml:"verification"`
}

// ExecutionConfig controls turn execution behaviour.
type ExecutionConfig struct {
	RetryCeiling        int `yaml:"retry_ceiling"`        // per-step retries before blocking
	CodingTimeout       int `yaml:"coding_timeout"`       // seconds
	VerificationTimeout int `yaml:"verification_timeout"` // seconds
}

// BreakerConfig overrides the circuit breaker thresholds.
type BreakerConfig struct {
	HalfOpenAfter       int `yaml:"half_open_after"`
	OpenAfterNoProgress int `yaml:"open_after_no_progress"`
	OpenAfterSameError  int `yaml:"open_after_same_error"`
}

// PreferencesConfig is the user preference profile rendered into
// verification prompts. Each axis is a small enum; see internal/verify.
type PreferencesConfig struct {
	RiskTolerance    string `yaml:"risk_tolerance"`
	ScopeFlexibility string `yaml:"scope_flexibility"`
	DetailLevel      string `yaml:"detail_level"`
	Autonomy         string `yaml:"autonomy"`
	SpeedVsQuality   string `yaml:"speed_vs_quality"`
}

// configFileName is the path relative to the project root.
const configDir = ".drydock"
const configFile = "config.yaml"

// ReadConfig reads .drydock/config.yaml from the given project directory.
// dir is the project root (not .drydock/ itself).
// Returns an error if the file is not found or YAML is malformed.
func ReadConfig(dir string) (*Config, error) {
	path := filepath.Join(dir, configDir, configFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &cfg, nil
}

// WriteConfig writes cfg to .drydock/config.yaml in the given project directory.
// Creates the .drydock/ directory if it does not exist.
func WriteConfig(dir string, cfg *Config) error {
	dirPath := filepath.Join(dir, configDir)
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	path := filepath.Join(dirPath, configFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Models: ModelConfig{
			Coding:       "opus",
			Verification: "sonnet",
		},
		Execution: ExecutionConfig{
			RetryCeiling:        4,
			CodingTimeout:       600,
			VerificationTimeout: 300,
		},
		Breaker: BreakerConfig{
			HalfOpenAfter:       2,
			OpenAfterNoProgress: 3,
			OpenAfterSameError:  5,
		},
		Preferences: PreferencesConfig{
			RiskTolerance:    "medium",
			ScopeFlexibility: "strict",
			DetailLevel:      "standard",
			Autonomy:         "guided",
			SpeedVsQuality:   "balanced",
		},
	}
}
