package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backbone.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestMustLoadBackboneConfig(t *testing.T) {
	cfg := MustLoadBackboneConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults file must validate: %v", err)
	}
	if cfg.GetSeed() != 42 {
		t.Errorf("GetSeed() = %d, want 42", cfg.GetSeed())
	}
	if cfg.GetResidualPolicy() != "union" {
		t.Errorf("GetResidualPolicy() = %q, want union", cfg.GetResidualPolicy())
	}
}

func TestLoadBackboneConfig(t *testing.T) {
	path := writeConfig(t, `{
  "seed": 7,
  "weight_gain": 0.5,
  "bias_std": 0,
  "weights_path": "weights/backbone.safetensors",
  "residual_policy": "intersection",
  "log_stages": false
}`)
	cfg, err := LoadBackboneConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetSeed() != 7 {
		t.Errorf("GetSeed() = %d, want 7", cfg.GetSeed())
	}
	if cfg.GetWeightGain() != 0.5 {
		t.Errorf("GetWeightGain() = %f, want 0.5", cfg.GetWeightGain())
	}
	if cfg.GetBiasStd() != 0 {
		t.Errorf("GetBiasStd() = %f, want 0", cfg.GetBiasStd())
	}
	if cfg.GetWeightsPath() != "weights/backbone.safetensors" {
		t.Errorf("GetWeightsPath() = %q", cfg.GetWeightsPath())
	}
	if cfg.GetResidualPolicy() != "intersection" {
		t.Errorf("GetResidualPolicy() = %q, want intersection", cfg.GetResidualPolicy())
	}
	if cfg.GetLogStages() {
		t.Error("GetLogStages() = true, want false")
	}
	// untouched field keeps its default
	if cfg.GetMaxMessageBytes() != 64<<20 {
		t.Errorf("GetMaxMessageBytes() = %d, want %d", cfg.GetMaxMessageBytes(), 64<<20)
	}
}

func TestGetterDefaults(t *testing.T) {
	cfg := EmptyBackboneConfig()
	if cfg.GetSeed() != 42 || cfg.GetWeightGain() != 1.0 || cfg.GetBiasStd() != 0.01 {
		t.Errorf("unexpected numeric defaults: seed=%d gain=%f bias=%f", cfg.GetSeed(), cfg.GetWeightGain(), cfg.GetBiasStd())
	}
	if cfg.GetWeightsPath() != "" {
		t.Errorf("GetWeightsPath() = %q, want empty", cfg.GetWeightsPath())
	}
	if !cfg.GetLogStages() {
		t.Error("GetLogStages() default should be true")
	}
}

func TestValidate(t *testing.T) {
	neg := -1.0
	zero := 0.0
	bad := "both"
	small := 10
	tests := []struct {
		name string
		cfg  BackboneConfig
	}{
		{"zero gain", BackboneConfig{WeightGain: &zero}},
		{"negative bias", BackboneConfig{BiasStd: &neg}},
		{"unknown policy", BackboneConfig{ResidualPolicy: &bad}},
		{"tiny message limit", BackboneConfig{MaxMessageBytes: &small}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadBackboneConfigErrors(t *testing.T) {
	if _, err := LoadBackboneConfig("/nonexistent/path/to/config.json"); err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
	if _, err := LoadBackboneConfig("/some/path/config.yaml"); err == nil {
		t.Error("Expected error for non-.json extension, got nil")
	}
	if _, err := LoadBackboneConfig(writeConfig(t, `{"seed": "x"`)); err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
	if _, err := LoadBackboneConfig(writeConfig(t, `{"residual_policy": "both"}`)); err == nil {
		t.Error("Expected validation error, got nil")
	}

	large := filepath.Join(t.TempDir(), "large.json")
	if err := os.WriteFile(large, make([]byte, 2*1024*1024), 0644); err != nil {
		t.Fatalf("Failed to write large file: %v", err)
	}
	if _, err := LoadBackboneConfig(large); err == nil {
		t.Error("Expected error for file size > 1MB, got nil")
	}
}
