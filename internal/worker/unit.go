// Package worker runs the per-partition half of the filter: motion
// prediction, weighting, and pose reassignment for a contiguous range of
// particles owned exclusively by one goroutine.
package worker

import (
	"context"
	"fmt"

	"github.com/banshee-data/auv.localiser/internal/measurement"
	"github.com/banshee-data/auv.localiser/internal/monitoring"
	"github.com/banshee-data/auv.localiser/internal/particle"
	"github.com/banshee-data/auv.localiser/internal/pose"
)

// Projector maps a vehicle pose to the pose of the sensor that took the
// measurement.
type Projector interface {
	SensorPose(vehicle pose.Pose) pose.Pose
}

// Identity is a Projector for a sensor mounted at the vehicle origin.
type Identity struct{}

func (Identity) SensorPose(p pose.Pose) pose.Pose { return p }

// Unit owns one partition of particles. Only its Run goroutine touches the
// particles.
type Unit struct {
	index     int
	part      Partition
	particles []particle.Particle
	scorer    measurement.Scorer
	projector Projector
	sampler   *particle.Sampler

	tasks chan Task
	out   chan<- Report
	logf  func(format string, v ...interface{})
}

// NewUnit takes ownership of particles, which must be the ids of part in
// order. The task channel is bounded to the partition size.
func NewUnit(index int, part Partition, particles []particle.Particle, scorer measurement.Scorer,
	projector Projector, sampler *particle.Sampler, out chan<- Report) *Unit {
	if projector == nil {
		projector = Identity{}
	}
	return &Unit{
		index:     index,
		part:      part,
		particles: particles,
		scorer:    scorer,
		projector: projector,
		sampler:   sampler,
		tasks:     make(chan Task, max(part.Len(), 1)),
		out:       out,
		logf:      monitoring.Component(fmt.Sprintf("Worker %d", index)),
	}
}

// Partition returns the id range the unit owns.
func (u *Unit) Partition() Partition { return u.part }

// Tasks returns the unit's inbound channel.
func (u *Unit) Tasks() chan<- Task { return u.tasks }

// Run serves tasks until ctx is cancelled.
func (u *Unit) Run(ctx context.Context) {
	u.logf("serving particles %v", u.part)
	for {
		select {
		case <-ctx.Done():
			u.logf("stopping: %v", ctx.Err())
			return
		case t := <-u.tasks:
			r := u.handle(ctx, t)
			r.Seq = t.sequence()
			select {
			case u.out <- r:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (u *Unit) handle(ctx context.Context, t Task) Report {
	switch t := t.(type) {
	case StepTask:
		return u.step(ctx, t)
	case ReassignTask:
		return u.reassign(t)
	default:
		return Report{Worker: u.index, Err: fmt.Errorf("unsupported task %T", t)}
	}
}

func (u *Unit) step(ctx context.Context, t StepTask) Report {
	r := Report{Worker: u.index, Kind: KindStep}

	for _, m := range t.Motion {
		for i := range u.particles {
			u.particles[i].Predict(m, u.sampler)
		}
	}

	weights := make([]float64, len(u.particles))
	for i := range u.particles {
		p := &u.particles[i]
		w, err := u.scorer.Score(ctx, u.projector.SensorPose(p.Pose), p.MeasurementNoise, t.Measurement)
		if err != nil {
			r.Err = fmt.Errorf("worker %d particle %d: %w", u.index, p.ID, err)
			r.IDs, r.Poses = u.snapshot()
			return r
		}
		p.Weight = w + particle.Floor
		weights[i] = p.Weight
	}

	r.IDs, r.Poses = u.snapshot()
	r.Weights = weights
	return r
}

func (u *Unit) reassign(t ReassignTask) Report {
	for id := range t.Copies {
		if !u.part.Contains(id) {
			return Report{
				Worker: u.index,
				Kind:   KindReassign,
				Err:    fmt.Errorf("worker %d: particle %d outside %v", u.index, id, u.part),
			}
		}
	}
	for id, p := range t.Copies {
		u.particles[id-u.part.Start].Pose = p
	}
	for i := range u.particles {
		u.particles[i].Perturb(t.Inject, u.sampler)
	}

	r := Report{Worker: u.index, Kind: KindReassign}
	r.IDs, r.Poses = u.snapshot()
	return r
}

func (u *Unit) snapshot() ([]int, []pose.Pose) {
	ids := make([]int, len(u.particles))
	for i := range u.particles {
		ids[i] = u.particles[i].ID
	}
	return ids, particle.Poses(u.particles)
}
