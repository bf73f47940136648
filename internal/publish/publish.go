// Package publish defines where filter output goes. The coordinator hands
// every step's particle cloud and estimate to a Sink; the gRPC stream, the
// sqlite store and the monitor history are all sinks.
package publish

import (
	"errors"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/auv.localiser/internal/monitoring"
	"github.com/banshee-data/auv.localiser/internal/pose"
)

// Estimate is the filter's combined pose for one step.
type Estimate struct {
	// Stamp is the timestamp of the measurement that triggered the step.
	Stamp   time.Time
	FrameID string
	Pose    pose.Pose
	// Variance is the per-axis population variance of the particle cloud
	// in x, y, z, roll, pitch, yaw order.
	Variance  [6]float64
	NEff      float64
	Resampled bool
	Particles int
}

// Sink receives filter output. Implementations must be safe for concurrent
// use.
type Sink interface {
	PublishParticles(stamp time.Time, frameID string, poses []pose.Pose) error
	PublishEstimate(e Estimate) error
}

// Multi fans out to every sink in order. All sinks are called even if one
// fails; the errors are joined.
type Multi []Sink

func (m Multi) PublishParticles(stamp time.Time, frameID string, poses []pose.Pose) error {
	var errs []error
	for _, s := range m {
		if err := s.PublishParticles(stamp, frameID, poses); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) PublishEstimate(e Estimate) error {
	var errs []error
	for _, s := range m {
		if err := s.PublishEstimate(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops everything.
type Discard struct{}

func (Discard) PublishParticles(time.Time, string, []pose.Pose) error { return nil }
func (Discard) PublishEstimate(Estimate) error                        { return nil }

// LogSink writes a one-line summary of every estimate through the
// diagnostic logger. Particle clouds are not logged.
type LogSink struct{}

func (LogSink) PublishParticles(time.Time, string, []pose.Pose) error { return nil }

func (LogSink) PublishEstimate(e Estimate) error {
	resampled := "kept"
	if e.Resampled {
		resampled = "resampled"
	}
	monitoring.Logf("[Estimate] %s %s x=%.2f y=%.2f z=%.2f yaw=%.3f N_eff=%.1f/%s (%s)",
		e.Stamp.Format(time.RFC3339Nano), e.FrameID, e.Pose.X, e.Pose.Y, e.Pose.Z, e.Pose.Yaw,
		e.NEff, humanize.Comma(int64(e.Particles)), resampled)
	return nil
}
