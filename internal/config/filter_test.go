package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyFilterConfig()

	if cfg.GetParticleCount() != 100 {
		t.Errorf("GetParticleCount() = %d, want 100", cfg.GetParticleCount())
	}
	if cfg.GetWorkerCount() != 4 {
		t.Errorf("GetWorkerCount() = %d, want 4", cfg.GetWorkerCount())
	}
	if cfg.GetResampleThreshold() != 0.5 {
		t.Errorf("GetResampleThreshold() = %f, want 0.5", cfg.GetResampleThreshold())
	}
	if cfg.GetResampleStrategy() != "residual" {
		t.Errorf("GetResampleStrategy() = %q, want residual", cfg.GetResampleStrategy())
	}
	if cfg.GetTransformTimeout() != 10*time.Second {
		t.Errorf("GetTransformTimeout() = %v, want 10s", cfg.GetTransformTimeout())
	}
	if got := cfg.GetInjectedNoise(); got[0] != 3 || got[1] != 3 || got[5] != 0 {
		t.Errorf("GetInjectedNoise() = %v, want [3 3 0 0 0 0]", got)
	}
	if got := cfg.GetInitialPose(); len(got) != PoseDims {
		t.Errorf("GetInitialPose() length = %d, want %d", len(got), PoseDims)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("empty config should validate: %v", err)
	}
}

func TestVectorGettersReturnCopies(t *testing.T) {
	cfg := &FilterConfig{MotionCovariance: []float64{1, 2, 3, 4, 5, 6}}
	got := cfg.GetMotionCovariance()
	got[0] = 99
	if cfg.MotionCovariance[0] != 1 {
		t.Error("GetMotionCovariance must not alias the config slice")
	}
}

func TestLoadFilterConfig(t *testing.T) {
	path := writeConfig(t, "filter.json", `{
  "particle_count": 400,
  "worker_count": 8,
  "measurement_covariance": 0.05,
  "resample_strategy": "systematic",
  "transform_timeout": "2s",
  "motion_covariance": [0.2, 0.2, 0.0, 0.0, 0.0, 0.02]
}`)

	cfg, err := LoadFilterConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetParticleCount() != 400 {
		t.Errorf("GetParticleCount() = %d, want 400", cfg.GetParticleCount())
	}
	if cfg.GetWorkerCount() != 8 {
		t.Errorf("GetWorkerCount() = %d, want 8", cfg.GetWorkerCount())
	}
	if cfg.GetMeasurementCovariance() != 0.05 {
		t.Errorf("GetMeasurementCovariance() = %f, want 0.05", cfg.GetMeasurementCovariance())
	}
	if cfg.GetResampleStrategy() != "systematic" {
		t.Errorf("GetResampleStrategy() = %q, want systematic", cfg.GetResampleStrategy())
	}
	if cfg.GetTransformTimeout() != 2*time.Second {
		t.Errorf("GetTransformTimeout() = %v, want 2s", cfg.GetTransformTimeout())
	}
	if cfg.GetMotionCovariance()[5] != 0.02 {
		t.Errorf("GetMotionCovariance()[5] = %f, want 0.02", cfg.GetMotionCovariance()[5])
	}
	// Omitted fields keep defaults.
	if cfg.GetResampleThreshold() != 0.5 {
		t.Errorf("GetResampleThreshold() = %f, want default 0.5", cfg.GetResampleThreshold())
	}
}

func TestLoadFilterConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "filter.yaml", `{}`, ".json extension"},
		{"bad json", "filter.json", `{"particle_count":`, "failed to parse"},
		{"short covariance", "filter.json", `{"motion_covariance": [1, 2]}`, "motion_covariance must have 6"},
		{"negative variance", "filter.json", `{"init_covariance": [1, -1, 0, 0, 0, 0]}`, "init_covariance[1]"},
		{"threshold out of range", "filter.json", `{"resample_threshold": 1.5}`, "resample_threshold"},
		{"zero measurement covariance", "filter.json", `{"measurement_covariance": 0}`, "measurement_covariance"},
		{"workers exceed particles", "filter.json", `{"particle_count": 2, "worker_count": 3}`, "exceeds particle_count"},
		{"bad timeout", "filter.json", `{"transform_timeout": "soon"}`, "transform_timeout"},
		{"static transform missing child", "filter.json", `{"static_transforms": [{"parent": "map", "pose": [0,0,0,0,0,0]}]}`, "parent and child"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadFilterConfig(path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFilterConfig_Missing(t *testing.T) {
	if _, err := LoadFilterConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if cfg.ParticleCount == nil || *cfg.ParticleCount != 100 {
		t.Errorf("defaults file particle_count = %v, want 100", cfg.ParticleCount)
	}
	if len(cfg.StaticTransforms) != 2 {
		t.Errorf("defaults file should carry 2 static transforms, got %d", len(cfg.StaticTransforms))
	}
	if cfg.GetSensorFrame() != "hugin/mbes_link" {
		t.Errorf("GetSensorFrame() = %q", cfg.GetSensorFrame())
	}
}

func TestValidate_SetValues(t *testing.T) {
	cfg := &FilterConfig{
		ParticleCount:     ptrInt(10),
		WorkerCount:       ptrInt(10),
		ResampleThreshold: ptrFloat64(1),
		ResampleStrategy:  ptrString("stratified"),
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}
