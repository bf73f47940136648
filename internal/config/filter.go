package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical filter defaults file.
const DefaultConfigPath = "config/filter.defaults.json"

// PoseDims is the number of pose components (x, y, z, roll, pitch, yaw)
// every covariance and pose vector in the config must carry.
const PoseDims = 6

// StaticTransform is a fixed parent←child frame offset published at startup.
// Pose is x, y, z, roll, pitch, yaw of the child frame expressed in parent.
type StaticTransform struct {
	Parent string    `json:"parent"`
	Child  string    `json:"child"`
	Pose   []float64 `json:"pose"`
}

// FilterConfig is the root configuration for the localiser. All fields are
// optional; the Get* accessors fall back to defaults for anything omitted.
type FilterConfig struct {
	// Filter sizing
	ParticleCount *int    `json:"particle_count,omitempty"`
	WorkerCount   *int    `json:"worker_count,omitempty"`
	Seed          *uint64 `json:"seed,omitempty"` // 0 or unset: seeded from crypto/rand

	// Noise models. Covariances are per-axis variances in
	// x, y, z, roll, pitch, yaw order; InjectedNoise is standard deviations.
	MotionCovariance      []float64 `json:"motion_covariance,omitempty"`
	MeasurementCovariance *float64  `json:"measurement_covariance,omitempty"`
	InitCovariance        []float64 `json:"init_covariance,omitempty"`
	InitialPose           []float64 `json:"initial_pose,omitempty"`
	InjectedNoise         []float64 `json:"injected_noise,omitempty"`

	// Resampling
	ResampleThreshold *float64 `json:"resample_threshold,omitempty"`
	ResampleStrategy  *string  `json:"resample_strategy,omitempty"`

	// Frames
	MapFrame         *string           `json:"map_frame,omitempty"`
	OdomFrame        *string           `json:"odom_frame,omitempty"`
	BaseFrame        *string           `json:"base_frame,omitempty"`
	SensorFrame      *string           `json:"sensor_frame,omitempty"`
	TransformTimeout *string           `json:"transform_timeout,omitempty"` // duration string like "10s"
	StaticTransforms []StaticTransform `json:"static_transforms,omitempty"`

	// Topics carried on the transport
	OdometryTopic *string `json:"odometry_topic,omitempty"`
	PingsTopic    *string `json:"mbes_pings_topic,omitempty"`

	// Dev-mode measurement simulator
	SeabedDepth         *float64 `json:"seabed_depth,omitempty"`
	SimulatorMaxRange   *float64 `json:"simulator_max_range,omitempty"`
	SimulatorCacheSize  *int     `json:"simulator_cache_size,omitempty"`
	SimulatorResolution *float64 `json:"simulator_resolution,omitempty"`
}

// EmptyFilterConfig returns a FilterConfig with every field unset.
func EmptyFilterConfig() *FilterConfig {
	return &FilterConfig{}
}

// LoadFilterConfig loads a FilterConfig from a JSON file. Omitted fields
// keep their defaults, so partial configs are safe.
func LoadFilterConfig(path string) (*FilterConfig, error) {
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

	cfg := EmptyFilterConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *FilterConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadFilterConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that all set values are usable.
func (c *FilterConfig) Validate() error {
	if c.ParticleCount != nil && *c.ParticleCount < 1 {
		return fmt.Errorf("particle_count must be positive, got %d", *c.ParticleCount)
	}
	if c.WorkerCount != nil && *c.WorkerCount < 1 {
		return fmt.Errorf("worker_count must be positive, got %d", *c.WorkerCount)
	}
	if c.GetWorkerCount() > c.GetParticleCount() {
		return fmt.Errorf("worker_count %d exceeds particle_count %d", c.GetWorkerCount(), c.GetParticleCount())
	}

	for name, v := range map[string][]float64{
		"motion_covariance": c.MotionCovariance,
		"init_covariance":   c.InitCovariance,
		"injected_noise":    c.InjectedNoise,
	} {
		if err := validateNonNegativeVector(name, v); err != nil {
			return err
		}
	}
	if c.InitialPose != nil && len(c.InitialPose) != PoseDims {
		return fmt.Errorf("initial_pose must have %d values, got %d", PoseDims, len(c.InitialPose))
	}

	if c.MeasurementCovariance != nil && !(*c.MeasurementCovariance > 0) {
		return fmt.Errorf("measurement_covariance must be positive, got %f", *c.MeasurementCovariance)
	}
	if c.ResampleThreshold != nil {
		if *c.ResampleThreshold <= 0 || *c.ResampleThreshold > 1 {
			return fmt.Errorf("resample_threshold must be in (0, 1], got %f", *c.ResampleThreshold)
		}
	}
	if c.TransformTimeout != nil && *c.TransformTimeout != "" {
		if _, err := time.ParseDuration(*c.TransformTimeout); err != nil {
			return fmt.Errorf("invalid transform_timeout '%s': %w", *c.TransformTimeout, err)
		}
	}
	for i, st := range c.StaticTransforms {
		if st.Parent == "" || st.Child == "" {
			return fmt.Errorf("static_transforms[%d]: parent and child are required", i)
		}
		if len(st.Pose) != PoseDims {
			return fmt.Errorf("static_transforms[%d]: pose must have %d values, got %d", i, PoseDims, len(st.Pose))
		}
	}
	if c.SeabedDepth != nil && *c.SeabedDepth <= 0 {
		return fmt.Errorf("seabed_depth must be positive, got %f", *c.SeabedDepth)
	}
	if c.SimulatorCacheSize != nil && *c.SimulatorCacheSize < 0 {
		return fmt.Errorf("simulator_cache_size must be non-negative, got %d", *c.SimulatorCacheSize)
	}
	return nil
}

func validateNonNegativeVector(name string, v []float64) error {
	if v == nil {
		return nil
	}
	if len(v) != PoseDims {
		return fmt.Errorf("%s must have %d values, got %d", name, PoseDims, len(v))
	}
	for i, x := range v {
		if x < 0 || math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%s[%d] must be finite and non-negative, got %f", name, i, x)
		}
	}
	return nil
}

func vectorOr(v []float64, def ...float64) []float64 {
	out := make([]float64, PoseDims)
	if v == nil {
		copy(out, def)
		return out
	}
	copy(out, v)
	return out
}

// GetParticleCount returns particle_count or the default.
func (c *FilterConfig) GetParticleCount() int {
	if c.ParticleCount == nil {
		return 100
	}
	return *c.ParticleCount
}

// GetWorkerCount returns worker_count or the default.
func (c *FilterConfig) GetWorkerCount() int {
	if c.WorkerCount == nil {
		return 4
	}
	return *c.WorkerCount
}

// GetSeed returns seed or 0 (meaning "seed from the system").
func (c *FilterConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}

// GetMotionCovariance returns a copy of motion_covariance or the default.
func (c *FilterConfig) GetMotionCovariance() []float64 {
	return vectorOr(c.MotionCovariance, 0.1, 0.1, 0, 0, 0, 0.01)
}

// GetMeasurementCovariance returns measurement_covariance or the default.
func (c *FilterConfig) GetMeasurementCovariance() float64 {
	if c.MeasurementCovariance == nil {
		return 0.01
	}
	return *c.MeasurementCovariance
}

// GetInitCovariance returns a copy of init_covariance or the default.
func (c *FilterConfig) GetInitCovariance() []float64 {
	return vectorOr(c.InitCovariance, 1, 1, 0, 0, 0, 0.01)
}

// GetInitialPose returns a copy of initial_pose or the origin.
func (c *FilterConfig) GetInitialPose() []float64 {
	return vectorOr(c.InitialPose)
}

// GetInjectedNoise returns a copy of injected_noise or the default.
func (c *FilterConfig) GetInjectedNoise() []float64 {
	return vectorOr(c.InjectedNoise, 3, 3, 0, 0, 0, 0)
}

// GetResampleThreshold returns resample_threshold or 0.5.
func (c *FilterConfig) GetResampleThreshold() float64 {
	if c.ResampleThreshold == nil {
		return 0.5
	}
	return *c.ResampleThreshold
}

// GetResampleStrategy returns resample_strategy or "residual".
func (c *FilterConfig) GetResampleStrategy() string {
	if c.ResampleStrategy == nil || *c.ResampleStrategy == "" {
		return "residual"
	}
	return *c.ResampleStrategy
}

func stringOr(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}

// GetMapFrame returns map_frame or "map".
func (c *FilterConfig) GetMapFrame() string { return stringOr(c.MapFrame, "map") }

// GetOdomFrame returns odom_frame or "odom".
func (c *FilterConfig) GetOdomFrame() string { return stringOr(c.OdomFrame, "odom") }

// GetBaseFrame returns base_frame or "hugin/base_link".
func (c *FilterConfig) GetBaseFrame() string { return stringOr(c.BaseFrame, "hugin/base_link") }

// GetSensorFrame returns sensor_frame or "hugin/mbes_link".
func (c *FilterConfig) GetSensorFrame() string { return stringOr(c.SensorFrame, "hugin/mbes_link") }

// GetOdometryTopic returns odometry_topic or "odom".
func (c *FilterConfig) GetOdometryTopic() string { return stringOr(c.OdometryTopic, "odom") }

// GetPingsTopic returns mbes_pings_topic or "mbes_pings".
func (c *FilterConfig) GetPingsTopic() string { return stringOr(c.PingsTopic, "mbes_pings") }

// GetTransformTimeout parses transform_timeout, defaulting to 10s.
func (c *FilterConfig) GetTransformTimeout() time.Duration {
	if c.TransformTimeout == nil || *c.TransformTimeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(*c.TransformTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetSeabedDepth returns seabed_depth or 100m.
func (c *FilterConfig) GetSeabedDepth() float64 {
	if c.SeabedDepth == nil {
		return 100
	}
	return *c.SeabedDepth
}

// GetSimulatorMaxRange returns simulator_max_range or 200m.
func (c *FilterConfig) GetSimulatorMaxRange() float64 {
	if c.SimulatorMaxRange == nil {
		return 200
	}
	return *c.SimulatorMaxRange
}

// GetSimulatorCacheSize returns simulator_cache_size or 4096. Zero
// disables the cache.
func (c *FilterConfig) GetSimulatorCacheSize() int {
	if c.SimulatorCacheSize == nil {
		return 4096
	}
	return *c.SimulatorCacheSize
}

// GetSimulatorResolution returns the pose quantisation step used as the
// simulator cache key, or 0.05.
func (c *FilterConfig) GetSimulatorResolution() float64 {
	if c.SimulatorResolution == nil {
		return 0.05
	}
	return *c.SimulatorResolution
}
