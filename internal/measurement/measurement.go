// Package measurement scores particle poses against multibeam range pings.
//
// A Scorer is consulted concurrently by every worker, so implementations
// must be safe for concurrent use.
package measurement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/auv.localiser/internal/pose"
)

var (
	// ErrBeamMismatch is returned when a ping's ranges and beam angles, or a
	// simulator's output, disagree in length.
	ErrBeamMismatch = errors.New("beam count mismatch")
	// ErrInvalidVariance is returned for a non-positive measurement variance.
	ErrInvalidVariance = errors.New("measurement variance must be positive")
)

// Measurement is one multibeam ping: a range per beam, with beam angles in
// radians across track in the sensor frame (0 is straight down, positive
// to starboard).
type Measurement struct {
	Stamp  time.Time
	Ranges []float64
	Beams  []float64
}

// Validate checks that the ping is internally consistent.
func (m Measurement) Validate() error {
	if len(m.Ranges) != len(m.Beams) {
		return fmt.Errorf("%w: %d ranges, %d beams", ErrBeamMismatch, len(m.Ranges), len(m.Beams))
	}
	return nil
}

// Scorer computes the likelihood of a measurement taken from sensor.
type Scorer interface {
	Score(ctx context.Context, sensor pose.Pose, variance float64, m Measurement) (float64, error)
}

// RangeSimulator predicts the ranges a sensor at the given pose would
// observe along each beam.
type RangeSimulator interface {
	ExpectedRanges(ctx context.Context, sensor pose.Pose, beams []float64) ([]float64, error)
}

// RangeScorer scores a ping with an independent Gaussian likelihood per
// beam around the simulated ranges.
type RangeScorer struct {
	Sim RangeSimulator
}

// NewRangeScorer returns a RangeScorer backed by sim.
func NewRangeScorer(sim RangeSimulator) *RangeScorer {
	return &RangeScorer{Sim: sim}
}

// Score implements Scorer.
func (s *RangeScorer) Score(ctx context.Context, sensor pose.Pose, variance float64, m Measurement) (float64, error) {
	if variance <= 0 {
		return 0, ErrInvalidVariance
	}
	if err := m.Validate(); err != nil {
		return 0, err
	}
	expected, err := s.Sim.ExpectedRanges(ctx, sensor, m.Beams)
	if err != nil {
		return 0, fmt.Errorf("simulate ranges: %w", err)
	}
	if len(expected) != len(m.Ranges) {
		return 0, fmt.Errorf("%w: simulator returned %d of %d", ErrBeamMismatch, len(expected), len(m.Ranges))
	}
	return Likelihood(m.Ranges, expected, variance), nil
}

// Likelihood returns the per-beam geometric mean of
// N(observed_i | expected_i, variance). The raw product over a few hundred
// beams leaves float64 range, so the score is normalised by beam count.
// An empty ping scores 1.
func Likelihood(observed, expected []float64, variance float64) float64 {
	if len(observed) == 0 {
		return 1
	}
	sigma := math.Sqrt(variance)
	var logp float64
	for i, r := range observed {
		logp += distuv.Normal{Mu: expected[i], Sigma: sigma}.LogProb(r)
	}
	return math.Exp(logp / float64(len(observed)))
}
