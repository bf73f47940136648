// Package coordinator drives the particle filter: it owns the worker pool,
// queues motion between pings, runs each filter step behind a full barrier,
// decides when to resample and publishes the aggregated estimate.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/auv.localiser/internal/measurement"
	"github.com/banshee-data/auv.localiser/internal/monitoring"
	"github.com/banshee-data/auv.localiser/internal/particle"
	"github.com/banshee-data/auv.localiser/internal/pose"
	"github.com/banshee-data/auv.localiser/internal/publish"
	"github.com/banshee-data/auv.localiser/internal/resample"
	"github.com/banshee-data/auv.localiser/internal/worker"
)

var (
	// ErrInconsistentReport means the worker reports did not cover every
	// particle id exactly once. The step is aborted.
	ErrInconsistentReport = errors.New("inconsistent worker reports")
	// ErrWorkerFailed means at least one worker could not complete its
	// task. The step is aborted with no partial resampling.
	ErrWorkerFailed = errors.New("worker failed")
	// ErrDegenerateWeights is logged as a warning; the step completes
	// without resampling.
	ErrDegenerateWeights = resample.ErrDegenerateWeights
)

// StepResult summarises one completed filter step.
type StepResult struct {
	Stamp      time.Time
	Motion     int
	NEff       float64
	Resampled  bool
	Degenerate bool
	// Indices is the resampled multiset, nil when no resample happened.
	Indices []int
	// Weights is the normalised weight vector indexed by particle id.
	Weights  []float64
	Estimate pose.Summary
	Duration time.Duration
}

// Coordinator owns the worker pool and the filter control loop. Its
// methods are safe for concurrent use; steps are serialised.
type Coordinator struct {
	mu sync.Mutex

	cfg     Config
	pool    *worker.Pool
	sampler *particle.Sampler
	engine  resample.Engine

	// poses is the read-only snapshot assembled from worker reports.
	poses []pose.Pose

	state        State
	pending      []particle.MotionUpdate
	lastOdom     time.Time
	latest       *measurement.Measurement
	lastConsumed time.Time
	steps        uint64
	seq          uint64
	last         *StepResult

	logf func(format string, v ...interface{})
}

// New creates the particles, hands each partition to its worker and starts
// the pool.
func New(ctx context.Context, cfg Config) (*Coordinator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	sampler := particle.NewSampler(cfg.Seed, 0)
	particles := particle.Arena(cfg.Particles, cfg.InitialPose, cfg.InitCovariance,
		cfg.MotionNoise, cfg.MeasurementNoise, sampler)
	poses := particle.Poses(particles)

	pool, err := worker.NewPool(ctx, particles, worker.PoolConfig{
		Workers:   cfg.Workers,
		Seed:      cfg.Seed,
		Scorer:    cfg.Scorer,
		Projector: cfg.Projector,
	})
	if err != nil {
		return nil, fmt.Errorf("start workers: %w", err)
	}

	c := &Coordinator{
		cfg:     cfg,
		pool:    pool,
		sampler: sampler,
		engine:  resample.Engine{Strategy: cfg.Strategy, Threshold: cfg.Threshold},
		poses:   poses,
		logf:    monitoring.Component("Coordinator"),
	}
	c.logf("started %s particles on %d workers, strategy=%s threshold=%.2f",
		humanize.Comma(int64(cfg.Particles)), pool.Size(), cfg.Strategy.Name(), cfg.Threshold)
	return c, nil
}

// Close stops the worker pool.
func (c *Coordinator) Close() {
	c.pool.Close()
}

// State returns the current control state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of queued motion updates.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Poses returns a copy of the latest particle pose snapshot, indexed by id.
func (c *Coordinator) Poses() []pose.Pose {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]pose.Pose(nil), c.poses...)
}

// Steps returns the number of completed steps.
func (c *Coordinator) Steps() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.steps
}

// LastStep returns the result of the most recent completed step, or nil.
func (c *Coordinator) LastStep() *StepResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Partitions returns the worker id ranges.
func (c *Coordinator) Partitions() []worker.Partition {
	return c.pool.Partitions()
}

// HandleMeasurement records the latest ping. It is consumed by the next
// odometry message that finds it newer than the last consumed ping.
func (c *Coordinator) HandleMeasurement(m measurement.Measurement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest = &m
}

// HandleOdometry queues a motion update timed against the previous odometry
// message and, when a ping newer than the last consumed one is waiting,
// runs a filter step. It returns nil, nil when no step ran.
func (c *Coordinator) HandleOdometry(ctx context.Context, s particle.MotionSample) (*StepResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.lastOdom
	c.lastOdom = s.Stamp
	if prev.IsZero() || !s.Stamp.After(prev) {
		return nil, nil
	}

	c.pending = append(c.pending, particle.MotionUpdate{Sample: s, DT: s.Stamp.Sub(prev).Seconds()})
	c.state = StateAccumulating

	if c.latest == nil || !c.latest.Stamp.After(c.lastConsumed) {
		return nil, nil
	}
	return c.step(ctx, *c.latest)
}

// Step runs one filter step with m and whatever motion is pending, which
// may be none.
func (c *Coordinator) Step(ctx context.Context, m measurement.Measurement) (*StepResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step(ctx, m)
}

func (c *Coordinator) step(ctx context.Context, m measurement.Measurement) (*StepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	motion := c.pending
	c.pending = nil
	c.lastConsumed = m.Stamp
	c.state = StateStepping
	defer func() { c.state = StateIdle }()

	c.seq++
	seq := c.seq
	if err := c.pool.Broadcast(ctx, worker.StepTask{Seq: seq, Measurement: m, Motion: motion}); err != nil {
		return nil, fmt.Errorf("dispatch step: %w", err)
	}
	reports, err := c.pool.Collect(ctx, seq)
	if err != nil {
		return nil, fmt.Errorf("collect step: %w", err)
	}

	weights, poses, err := assemble(c.cfg.Particles, reports, true)
	if err != nil {
		return nil, err
	}
	c.poses = poses

	res := &StepResult{Stamp: m.Stamp, Motion: len(motion), Weights: weights}
	out, err := c.engine.Evaluate(weights, c.sampler)
	switch {
	case errors.Is(err, ErrDegenerateWeights):
		log.Printf("[Coordinator] warning: %v, skipping resample", err)
		res.Degenerate = true
	case err != nil:
		return nil, err
	}
	res.NEff = out.NEff
	res.Resampled = out.Resampled
	res.Indices = out.Indices

	c.logf("step %d at %s: %d motion updates, N_eff=%.1f/%d",
		c.steps+1, m.Stamp.Format(time.RFC3339Nano), len(motion), out.NEff, c.cfg.Particles)

	if out.Resampled {
		if err := c.reassign(ctx, out.Plan); err != nil {
			return nil, err
		}
		c.logf("resampled: kept %d, replaced %d", len(out.Plan.Keep), len(out.Plan.Lost))
	}

	summary, err := pose.Average(c.poses)
	if err != nil {
		return nil, err
	}
	res.Estimate = summary
	res.Duration = time.Since(start)

	c.publish(res)
	c.steps++
	c.last = res
	return res, nil
}

// reassign sends each worker the lost→dupe copies for its partition plus
// the noise injection, and refreshes the pose snapshot from the replies.
func (c *Coordinator) reassign(ctx context.Context, plan resample.Plan) error {
	copies := resample.Copies(plan, c.poses)
	c.seq++
	seq := c.seq

	err := c.pool.DispatchEach(ctx, func(_ int, part worker.Partition) worker.Task {
		mine := make(map[int]pose.Pose)
		for id, p := range copies {
			if part.Contains(id) {
				mine[id] = p
			}
		}
		return worker.ReassignTask{Seq: seq, Copies: mine, Inject: c.cfg.InjectedNoise}
	})
	if err != nil {
		return fmt.Errorf("dispatch reassign: %w", err)
	}
	reports, err := c.pool.Collect(ctx, seq)
	if err != nil {
		return fmt.Errorf("collect reassign: %w", err)
	}
	_, poses, err := assemble(c.cfg.Particles, reports, false)
	if err != nil {
		return err
	}
	c.poses = poses
	return nil
}

func (c *Coordinator) publish(res *StepResult) {
	if err := c.cfg.Sink.PublishParticles(res.Stamp, c.cfg.FrameID, c.poses); err != nil {
		log.Printf("[Coordinator] publish particles: %v", err)
	}
	e := publish.Estimate{
		Stamp:     res.Stamp,
		FrameID:   c.cfg.FrameID,
		Pose:      res.Estimate.Mean,
		Variance:  res.Estimate.Variance,
		NEff:      res.NEff,
		Resampled: res.Resampled,
		Particles: c.cfg.Particles,
	}
	if err := c.cfg.Sink.PublishEstimate(e); err != nil {
		log.Printf("[Coordinator] publish estimate: %v", err)
	}
}

// assemble concatenates reports into id-indexed weight and pose vectors.
// Every id in [0, n) must appear exactly once. With withWeights false only
// poses are assembled.
func assemble(n int, reports []worker.Report, withWeights bool) ([]float64, []pose.Pose, error) {
	var failed []error
	for _, r := range reports {
		if r.Err != nil {
			failed = append(failed, r.Err)
		}
	}
	if len(failed) > 0 {
		return nil, nil, fmt.Errorf("%w: %w", ErrWorkerFailed, errors.Join(failed...))
	}

	var weights []float64
	if withWeights {
		weights = make([]float64, n)
	}
	poses := make([]pose.Pose, n)
	seen := make([]bool, n)
	count := 0

	for _, r := range reports {
		if len(r.Poses) != len(r.IDs) || (withWeights && len(r.Weights) != len(r.IDs)) {
			return nil, nil, fmt.Errorf("%w: worker %d sent %d ids, %d weights, %d poses",
				ErrInconsistentReport, r.Worker, len(r.IDs), len(r.Weights), len(r.Poses))
		}
		for i, id := range r.IDs {
			if id < 0 || id >= n {
				return nil, nil, fmt.Errorf("%w: worker %d reported id %d outside [0, %d)",
					ErrInconsistentReport, r.Worker, id, n)
			}
			if seen[id] {
				return nil, nil, fmt.Errorf("%w: id %d reported twice", ErrInconsistentReport, id)
			}
			seen[id] = true
			count++
			poses[id] = r.Poses[i]
			if withWeights {
				weights[id] = r.Weights[i]
			}
		}
	}
	if count != n {
		return nil, nil, fmt.Errorf("%w: %d of %d ids reported", ErrInconsistentReport, count, n)
	}
	return weights, poses, nil
}
