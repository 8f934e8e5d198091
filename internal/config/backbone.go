package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultBackboneConfigPath is the path to the canonical backbone defaults file.
const DefaultBackboneConfigPath = "config/backbone.defaults.json"

// BackboneConfig is the runtime configuration of the voxel backbone service.
// Every field is optional; the Get* methods supply defaults for omitted ones.
type BackboneConfig struct {
	// Weight source
	Seed        *uint64  `json:"seed,omitempty"`
	WeightGain  *float64 `json:"weight_gain,omitempty"`
	BiasStd     *float64 `json:"bias_std,omitempty"`
	WeightsPath *string  `json:"weights_path,omitempty"` // safetensors file; overrides seeded init

	// Pipeline behaviour
	ResidualPolicy *string `json:"residual_policy,omitempty"` // "union" or "intersection"
	LogStages      *bool   `json:"log_stages,omitempty"`

	// Transport
	MaxMessageBytes *int `json:"max_message_bytes,omitempty"`
}

// EmptyBackboneConfig returns a BackboneConfig with all fields set to nil.
func EmptyBackboneConfig() *BackboneConfig {
	return &BackboneConfig{}
}

// LoadBackboneConfig loads a BackboneConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
// Fields omitted from the JSON keep their defaults.
func LoadBackboneConfig(path string) (*BackboneConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyBackboneConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadBackboneConfig loads the defaults file from the current directory
// or one of its parents. Panics if the file cannot be loaded; intended for
// tests and binaries run from inside the repository.
func MustLoadBackboneConfig() *BackboneConfig {
	candidates := []string{
		DefaultBackboneConfigPath,
		"../" + DefaultBackboneConfigPath,
		"../../" + DefaultBackboneConfigPath,    // from internal/config/
		"../../../" + DefaultBackboneConfigPath, // from cmd/bevlidar/ and deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadBackboneConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultBackboneConfigPath + " - run from repository root")
}

// Validate checks that the set fields are within range.
func (c *BackboneConfig) Validate() error {
	if c.WeightGain != nil && *c.WeightGain <= 0 {
		return fmt.Errorf("weight_gain must be positive, got %f", *c.WeightGain)
	}
	if c.BiasStd != nil && *c.BiasStd < 0 {
		return fmt.Errorf("bias_std must be non-negative, got %f", *c.BiasStd)
	}
	if c.ResidualPolicy != nil {
		switch *c.ResidualPolicy {
		case "", "union", "intersection":
		default:
			return fmt.Errorf("residual_policy must be \"union\" or \"intersection\", got %q", *c.ResidualPolicy)
		}
	}
	if c.MaxMessageBytes != nil && *c.MaxMessageBytes < 1024 {
		return fmt.Errorf("max_message_bytes must be at least 1024, got %d", *c.MaxMessageBytes)
	}
	return nil
}

// GetSeed returns the seed value or the default.
func (c *BackboneConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 42
	}
	return *c.Seed
}

// GetWeightGain returns the weight_gain value or the default.
func (c *BackboneConfig) GetWeightGain() float64 {
	if c.WeightGain == nil {
		return 1.0
	}
	return *c.WeightGain
}

// GetBiasStd returns the bias_std value or the default.
func (c *BackboneConfig) GetBiasStd() float64 {
	if c.BiasStd == nil {
		return 0.01
	}
	return *c.BiasStd
}

// GetWeightsPath returns the weights_path value, empty when unset.
func (c *BackboneConfig) GetWeightsPath() string {
	if c.WeightsPath == nil {
		return ""
	}
	return *c.WeightsPath
}

// GetResidualPolicy returns the residual_policy value or the default.
func (c *BackboneConfig) GetResidualPolicy() string {
	if c.ResidualPolicy == nil || *c.ResidualPolicy == "" {
		return "union"
	}
	return *c.ResidualPolicy
}

// GetLogStages returns the log_stages value or the default.
func (c *BackboneConfig) GetLogStages() bool {
	if c.LogStages == nil {
		return true
	}
	return *c.LogStages
}

// GetMaxMessageBytes returns the max_message_bytes value or the default.
func (c *BackboneConfig) GetMaxMessageBytes() int {
	if c.MaxMessageBytes == nil {
		return 64 << 20
	}
	return *c.MaxMessageBytes
}
