package resample

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func newSource(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, 0))
}

// fixedSource returns the same draw every time.
type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }

func uniform(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}

func oneHot(n, at int) []float64 {
	w := make([]float64, n)
	w[at] = 1
	return w
}

func TestNormalize(t *testing.T) {
	w := []float64{1, 2, 3, 4}
	require.NoError(t, Normalize(w))
	assert.InDelta(t, 1, floats.Sum(w), 1e-12)
	assert.InDelta(t, 0.4, w[3], 1e-12)
}

func TestNormalize_Degenerate(t *testing.T) {
	tests := map[string][]float64{
		"zeros": {0, 0, 0},
		"empty": {},
		"inf":   {1, math.Inf(1)},
	}
	for name, w := range tests {
		t.Run(name, func(t *testing.T) {
			before := slices.Clone(w)
			err := Normalize(w)
			assert.ErrorIs(t, err, ErrDegenerateWeights)
			assert.Equal(t, before, w)
		})
	}
}

func TestEffectiveSampleSize(t *testing.T) {
	assert.InDelta(t, 100, EffectiveSampleSize(uniform(100)), 1e-9)
	assert.InDelta(t, 1, EffectiveSampleSize(oneHot(100, 7)), 1e-12)
	assert.InDelta(t, 2, EffectiveSampleSize([]float64{0.5, 0.5, 0, 0}), 1e-12)
}

func TestStrategies_CountAndRange(t *testing.T) {
	weightSets := map[string][]float64{
		"uniform": uniform(50),
		"onehot":  oneHot(50, 49),
		"skewed": func() []float64 {
			w := make([]float64, 37)
			for i := range w {
				w[i] = float64(i*i + 1)
			}
			_ = Normalize(w)
			return w
		}(),
		"single": {1},
	}

	for _, name := range Names() {
		s, err := Lookup(name)
		require.NoError(t, err)
		for wname, w := range weightSets {
			t.Run(name+"/"+wname, func(t *testing.T) {
				idx := s.Resample(w, newSource(9))
				require.Len(t, idx, len(w))
				for _, i := range idx {
					assert.GreaterOrEqual(t, i, 0)
					assert.Less(t, i, len(w))
				}
			})
		}
	}
}

func TestStrategies_OneHotSelectsOnlyThatIndex(t *testing.T) {
	for _, name := range Names() {
		s, _ := Lookup(name)
		idx := s.Resample(oneHot(20, 3), newSource(1))
		for _, i := range idx {
			assert.Equal(t, 3, i, name)
		}
	}
}

func TestStrategies_ExpectedCounts(t *testing.T) {
	w := []float64{0.5, 0.25, 0.125, 0.125}
	const rounds = 2000
	for _, name := range Names() {
		s, _ := Lookup(name)
		src := newSource(11)
		counts := make([]float64, len(w))
		for range rounds {
			for _, i := range s.Resample(w, src) {
				counts[i]++
			}
		}
		for i := range counts {
			assert.InDelta(t, float64(len(w))*w[i], counts[i]/rounds, 0.1, "%s index %d", name, i)
		}
	}
}

func TestResidual_DeterministicPart(t *testing.T) {
	// N*w is integral for every index, so no random draws are needed.
	idx := Residual.Resample([]float64{0.5, 0, 0.25, 0.25}, newSource(1))
	assert.Equal(t, []int{0, 0, 2, 3}, idx)
}

func TestLookup_Unknown(t *testing.T) {
	_, err := Lookup("roulette")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
	assert.Equal(t, []string{"naive", "residual", "stratified", "systematic"}, Names())
}

func TestNewPlan(t *testing.T) {
	p := NewPlan(6, []int{0, 0, 2, 2, 2, 5})
	want := Plan{
		Keep:  []int{0, 2, 5},
		Lost:  []int{1, 3, 4},
		Dupes: []int{0, 2, 2},
	}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("NewPlan mismatch (-want +got):\n%s", diff)
	}
}

func TestNewPlan_NoLoss(t *testing.T) {
	p := NewPlan(3, []int{2, 1, 0})
	assert.Equal(t, []int{0, 1, 2}, p.Keep)
	assert.Empty(t, p.Lost)
	assert.Empty(t, p.Dupes)
}

func TestCopies_LostTakesDupeValue(t *testing.T) {
	current := []string{"a", "b", "c", "d", "e", "f"}
	p := NewPlan(6, []int{5, 0, 5, 0, 5, 3})
	got := Copies(p, current)

	require.Len(t, got, len(p.Lost))
	for i, lost := range p.Lost {
		assert.Equal(t, current[p.Dupes[i]], got[lost])
	}
	assert.Equal(t, map[int]string{1: "f", 2: "a", 4: "f"}, got)
}

func TestEngine_Evaluate(t *testing.T) {
	e := Engine{Strategy: Systematic, Threshold: DefaultThreshold}

	t.Run("uniform keeps particles", func(t *testing.T) {
		w := uniform(40)
		out, err := e.Evaluate(w, newSource(1))
		require.NoError(t, err)
		assert.InDelta(t, 40, out.NEff, 1e-9)
		assert.False(t, out.Resampled)
		assert.Nil(t, out.Indices)
	})

	t.Run("one hot resamples", func(t *testing.T) {
		w := make([]float64, 40)
		w[0] = 5
		out, err := e.Evaluate(w, newSource(1))
		require.NoError(t, err)
		assert.InDelta(t, 1, out.NEff, 1e-12)
		assert.True(t, out.Resampled)
		assert.Equal(t, []int{0}, out.Plan.Keep)
		assert.Len(t, out.Plan.Lost, 39)
		assert.Len(t, out.Plan.Dupes, 39)
	})

	t.Run("degenerate skips", func(t *testing.T) {
		out, err := e.Evaluate(make([]float64, 8), newSource(1))
		assert.ErrorIs(t, err, ErrDegenerateWeights)
		assert.Equal(t, 8.0, out.NEff)
		assert.False(t, out.Resampled)
	})
}

func TestStrategies_ZeroDrawSkipsZeroWeights(t *testing.T) {
	w := []float64{0, 0, 0.5, 0.5}
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			s, err := Lookup(name)
			require.NoError(t, err)
			for _, idx := range s.Resample(w, fixedSource(0)) {
				assert.GreaterOrEqual(t, idx, 2, "zero-weight index drawn")
			}
		})
	}
}

func TestSearch_StrictlyGreater(t *testing.T) {
	cs := []float64{0, 0.25, 0.25, 1}
	assert.Equal(t, 1, search(cs, 0))
	assert.Equal(t, 3, search(cs, 0.25))
	assert.Equal(t, 3, search(cs, 0.999))
	assert.Equal(t, 3, search(cs, 1))
}
