package coordinator

import (
	"fmt"
	"math/rand/v2"

	"github.com/banshee-data/auv.localiser/internal/config"
	"github.com/banshee-data/auv.localiser/internal/measurement"
	"github.com/banshee-data/auv.localiser/internal/pose"
	"github.com/banshee-data/auv.localiser/internal/publish"
	"github.com/banshee-data/auv.localiser/internal/resample"
	"github.com/banshee-data/auv.localiser/internal/worker"
)

// Config is everything New needs to build a filter.
type Config struct {
	Particles int
	Workers   int
	Seed      uint64

	InitialPose      pose.Pose
	InitCovariance   [6]float64
	MotionNoise      [6]float64
	MeasurementNoise float64
	// InjectedNoise is the per-axis standard deviation added to every
	// particle after a resample.
	InjectedNoise [6]float64

	Threshold float64
	Strategy  resample.Strategy

	// FrameID is stamped on published particles and estimates.
	FrameID string

	Scorer    measurement.Scorer
	Projector worker.Projector
	Sink      publish.Sink
}

// FromFilterConfig builds a Config from the loaded filter configuration.
// A zero seed is replaced with a random one.
func FromFilterConfig(fc *config.FilterConfig, scorer measurement.Scorer, projector worker.Projector, sink publish.Sink) (Config, error) {
	strategy, err := resample.Lookup(fc.GetResampleStrategy())
	if err != nil {
		return Config{}, err
	}

	seed := fc.GetSeed()
	if seed == 0 {
		seed = rand.Uint64()
	}

	cfg := Config{
		Particles:        fc.GetParticleCount(),
		Workers:          fc.GetWorkerCount(),
		Seed:             seed,
		InitialPose:      pose.FromVector(fc.GetInitialPose()),
		MeasurementNoise: fc.GetMeasurementCovariance(),
		Threshold:        fc.GetResampleThreshold(),
		Strategy:         strategy,
		FrameID:          fc.GetOdomFrame(),
		Scorer:           scorer,
		Projector:        projector,
		Sink:             sink,
	}
	copy(cfg.InitCovariance[:], fc.GetInitCovariance())
	copy(cfg.MotionNoise[:], fc.GetMotionCovariance())
	copy(cfg.InjectedNoise[:], fc.GetInjectedNoise())
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Particles <= 0 {
		return fmt.Errorf("particle count must be positive, got %d", c.Particles)
	}
	if c.Workers <= 0 || c.Workers > c.Particles {
		return fmt.Errorf("worker count must be in [1, %d], got %d", c.Particles, c.Workers)
	}
	if c.Scorer == nil {
		return fmt.Errorf("scorer is required")
	}
	if c.Strategy == nil {
		c.Strategy = resample.Residual
	}
	if c.Threshold <= 0 {
		c.Threshold = resample.DefaultThreshold
	}
	if c.Sink == nil {
		c.Sink = publish.Discard{}
	}
	return nil
}
