package resample

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// DefaultThreshold is the fraction of N below which N_eff triggers a
// resample.
const DefaultThreshold = 0.5

// ErrDegenerateWeights reports a weight vector that cannot be normalised.
// It is a warning: the filter skips resampling and carries on.
var ErrDegenerateWeights = errors.New("degenerate weights")

// Normalize scales w in place so it sums to 1. A zero or non-finite sum
// leaves w untouched and returns ErrDegenerateWeights.
func Normalize(w []float64) error {
	sum := floats.Sum(w)
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return fmt.Errorf("%w: sum=%v over %d weights", ErrDegenerateWeights, sum, len(w))
	}
	floats.Scale(1/sum, w)
	return nil
}

// EffectiveSampleSize returns 1/Σw² for normalised weights.
func EffectiveSampleSize(w []float64) float64 {
	sq := floats.Dot(w, w)
	if sq == 0 {
		return 0
	}
	return 1 / sq
}

// Plan describes how to rebuild the particle set from a resampled index
// multiset.
type Plan struct {
	// Keep holds the distinct surviving ids in ascending order.
	Keep []int
	// Lost holds the ids absent from the resample in ascending order.
	Lost []int
	// Dupes is the resampled multiset with one occurrence of every kept id
	// removed, in draw order. len(Dupes) == len(Lost).
	Dupes []int
}

// NewPlan builds the keep/lost/dupes plan for n particles. Lost[i] is to
// receive a copy of the pose of Dupes[i].
func NewPlan(n int, indices []int) Plan {
	seen := make([]bool, n)
	var p Plan
	for _, id := range indices {
		if seen[id] {
			p.Dupes = append(p.Dupes, id)
			continue
		}
		seen[id] = true
	}
	for id, ok := range seen {
		if ok {
			p.Keep = append(p.Keep, id)
		} else {
			p.Lost = append(p.Lost, id)
		}
	}
	return p
}

// Copies resolves the plan against the current poses, returning the new
// value for every lost id.
func Copies[T any](p Plan, current []T) map[int]T {
	out := make(map[int]T, len(p.Lost))
	for i, lost := range p.Lost {
		out[lost] = current[p.Dupes[i]]
	}
	return out
}

// Engine runs the degeneracy check and, when needed, the configured
// strategy.
type Engine struct {
	Strategy  Strategy
	Threshold float64
}

// Outcome is the result of one Evaluate call.
type Outcome struct {
	NEff      float64
	Resampled bool
	Indices   []int
	Plan      Plan
}

// Evaluate normalises weights in place, computes N_eff and resamples when
// N_eff falls below Threshold*N. With degenerate weights N_eff is reported
// as N, nothing is resampled and ErrDegenerateWeights is returned alongside
// the outcome.
func (e Engine) Evaluate(weights []float64, src Source) (Outcome, error) {
	n := len(weights)
	if err := Normalize(weights); err != nil {
		return Outcome{NEff: float64(n)}, err
	}

	out := Outcome{NEff: EffectiveSampleSize(weights)}
	if out.NEff >= e.Threshold*float64(n) {
		return out, nil
	}

	out.Resampled = true
	out.Indices = e.Strategy.Resample(weights, src)
	out.Plan = NewPlan(n, out.Indices)
	return out, nil
}
