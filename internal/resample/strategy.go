// Package resample turns a normalised weight vector into a multiset of
// particle indices and decides when that is worth doing.
//
// Every strategy returns exactly len(weights) indices in [0, len(weights)),
// and the expected number of copies of index i is len(weights)*weights[i].
// Weights must already be normalised.
package resample

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// ErrUnknownStrategy is returned by Lookup for an unregistered name.
var ErrUnknownStrategy = errors.New("unknown resampling strategy")

// Source supplies uniform draws in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Strategy draws len(weights) indices according to weights.
type Strategy interface {
	Name() string
	Resample(weights []float64, src Source) []int
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc struct {
	ID string
	Fn func(weights []float64, src Source) []int
}

func (s StrategyFunc) Name() string { return s.ID }

func (s StrategyFunc) Resample(weights []float64, src Source) []int { return s.Fn(weights, src) }

var (
	Residual   Strategy = StrategyFunc{"residual", residual}
	Systematic Strategy = StrategyFunc{"systematic", systematic}
	Stratified Strategy = StrategyFunc{"stratified", stratified}
	Naive      Strategy = StrategyFunc{"naive", naive}
)

var registry = map[string]Strategy{
	Residual.Name():   Residual,
	Systematic.Name(): Systematic,
	Stratified.Name(): Stratified,
	Naive.Name():      Naive,
}

// Lookup returns the strategy registered under name.
func Lookup(name string) (Strategy, error) {
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrUnknownStrategy, name, Names())
	}
	return s, nil
}

// Names lists the registered strategy names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// cumulative returns the running sum of weights with the last entry pinned
// to exactly 1 so rounding never leaves a draw without a bucket.
func cumulative(weights []float64) []float64 {
	cs := make([]float64, len(weights))
	floats.CumSum(cs, weights)
	if len(cs) > 0 {
		cs[len(cs)-1] = 1
	}
	return cs
}

// search returns the first index whose cumulative weight exceeds u, clamped
// to the last index. Zero-weight indices are never selected.
func search(cs []float64, u float64) int {
	i := sort.Search(len(cs), func(i int) bool { return cs[i] > u })
	if i >= len(cs) {
		i = len(cs) - 1
	}
	return i
}

// residual takes floor(N*w) deterministic copies of each index and fills
// the remainder by multinomial draws over the fractional residuals.
func residual(weights []float64, src Source) []int {
	n := len(weights)
	out := make([]int, 0, n)

	res := make([]float64, n)
	for i, w := range weights {
		copies := int(math.Floor(float64(n) * w))
		for range copies {
			out = append(out, i)
		}
		res[i] = float64(n)*w - float64(copies)
	}
	// Rounding can over-allocate by one when weights sum just above 1.
	if len(out) > n {
		out = out[:n]
	}

	if remaining := n - len(out); remaining > 0 {
		total := floats.Sum(res)
		if total <= 0 {
			copy(res, weights)
			total = floats.Sum(res)
		}
		floats.Scale(1/total, res)
		cs := cumulative(res)
		for range remaining {
			out = append(out, search(cs, src.Float64()))
		}
	}
	return out
}

// systematic uses a single offset: positions are (u + i) / N.
func systematic(weights []float64, src Source) []int {
	n := len(weights)
	u := src.Float64()
	positions := make([]float64, n)
	for i := range positions {
		positions[i] = (u + float64(i)) / float64(n)
	}
	return walk(positions, cumulative(weights))
}

// stratified draws one independent position in each of N equal strata.
func stratified(weights []float64, src Source) []int {
	n := len(weights)
	positions := make([]float64, n)
	for i := range positions {
		positions[i] = (src.Float64() + float64(i)) / float64(n)
	}
	return walk(positions, cumulative(weights))
}

// naive draws N independent multinomial samples.
func naive(weights []float64, src Source) []int {
	cs := cumulative(weights)
	out := make([]int, len(weights))
	for i := range out {
		out[i] = search(cs, src.Float64())
	}
	return out
}

// walk maps sorted positions onto the cumulative weights in a single pass.
func walk(positions, cs []float64) []int {
	n := len(positions)
	out := make([]int, n)
	i, j := 0, 0
	for i < n {
		if j >= n-1 || positions[i] < cs[j] {
			out[i] = j
			i++
			continue
		}
		j++
	}
	return out
}
