// Package particle holds the per-particle state of the filter and the
// probabilistic models that move it: initial spread, motion prediction and
// the noise injected after resampling.
package particle

import (
	"math"
	"time"

	"github.com/banshee-data/auv.localiser/internal/pose"
)

// Floor is added to every computed weight so a particle can never reach
// exactly zero probability.
const Floor = 1e-30

// MotionSample is one odometry message.
//
// Linear and Angular are body-frame velocities. Depth, roll and pitch are
// directly observed on the vehicle, so Pose.Z, Pose.Roll and Pose.Pitch are
// taken as absolute values during prediction; x, y and yaw are integrated
// from the velocities.
type MotionSample struct {
	Stamp   time.Time
	Pose    pose.Pose
	Linear  [3]float64
	Angular [3]float64
}

// MotionUpdate is a motion sample paired with the time elapsed since the
// previous sample, in seconds.
type MotionUpdate struct {
	Sample MotionSample
	DT     float64
}

// Particle is a single pose hypothesis.
type Particle struct {
	ID     int
	Pose   pose.Pose
	Weight float64

	// MotionNoise holds per-axis process variances in x, y, z, roll,
	// pitch, yaw order.
	MotionNoise [6]float64
	// MeasurementNoise is the range measurement variance.
	MeasurementNoise float64
}

// Predict advances the particle by one motion update and adds process
// noise scaled by the elapsed time. Updates with a non-positive dt are
// ignored.
func (p *Particle) Predict(u MotionUpdate, s *Sampler) {
	if u.DT <= 0 {
		return
	}
	dt := u.DT

	step := p.Pose.RotateVector([3]float64{
		u.Sample.Linear[0] * dt,
		u.Sample.Linear[1] * dt,
		u.Sample.Linear[2] * dt,
	})

	next := pose.Pose{
		X:     p.Pose.X + step[0],
		Y:     p.Pose.Y + step[1],
		Z:     u.Sample.Pose.Z,
		Roll:  u.Sample.Pose.Roll,
		Pitch: u.Sample.Pose.Pitch,
		Yaw:   p.Pose.Yaw + u.Sample.Angular[2]*dt,
	}

	var noise [6]float64
	for k, v := range p.MotionNoise {
		noise[k] = s.Gaussian(math.Sqrt(v)) * dt
	}
	p.Pose = next.Add(pose.FromVector(noise[:]))
}

// Perturb adds independent zero-mean Gaussian noise with the given per-axis
// standard deviations to the particle's pose.
func (p *Particle) Perturb(stddev [6]float64, s *Sampler) {
	p.Pose = s.Perturb(p.Pose, stddev)
}

// Arena returns n particles with ids 0..n-1, each placed at initial
// perturbed by the initial covariance (per-axis variances).
func Arena(n int, initial pose.Pose, initCov, motionNoise [6]float64, measurementNoise float64, s *Sampler) []Particle {
	var stddev [6]float64
	for k, v := range initCov {
		stddev[k] = math.Sqrt(v)
	}

	out := make([]Particle, n)
	for i := range out {
		out[i] = Particle{
			ID:               i,
			Pose:             s.Perturb(initial, stddev),
			MotionNoise:      motionNoise,
			MeasurementNoise: measurementNoise,
		}
	}
	return out
}

// Poses returns the poses of ps in order.
func Poses(ps []Particle) []pose.Pose {
	out := make([]pose.Pose, len(ps))
	for i := range ps {
		out[i] = ps[i].Pose
	}
	return out
}
