package worker

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/auv.localiser/internal/measurement"
	"github.com/banshee-data/auv.localiser/internal/monitoring"
	"github.com/banshee-data/auv.localiser/internal/particle"
	"github.com/banshee-data/auv.localiser/internal/pose"
)

func init() {
	monitoring.SetLogger(nil)
}

// xScorer weights a particle by its x coordinate.
type xScorer struct{}

func (xScorer) Score(_ context.Context, p pose.Pose, _ float64, _ measurement.Measurement) (float64, error) {
	return p.X, nil
}

type errScorer struct{ err error }

func (s errScorer) Score(context.Context, pose.Pose, float64, measurement.Measurement) (float64, error) {
	return 0, s.err
}

func arena(n int) []particle.Particle {
	ps := make([]particle.Particle, n)
	for i := range ps {
		ps[i] = particle.Particle{ID: i, Pose: pose.Pose{X: float64(i)}, MeasurementNoise: 1}
	}
	return ps
}

func TestPartitions_Tiling(t *testing.T) {
	for n := 1; n <= 64; n++ {
		for w := 1; w <= n && w <= 16; w++ {
			parts, err := Partitions(n, w)
			require.NoError(t, err)
			require.Len(t, parts, w)

			next, minLen, maxLen := 0, n, 0
			for i, p := range parts {
				assert.Equal(t, next, p.Start, "n=%d w=%d partition %d", n, w, i)
				next = p.End
				minLen = min(minLen, p.Len())
				maxLen = max(maxLen, p.Len())
				if i > 0 {
					assert.LessOrEqual(t, p.Len(), parts[i-1].Len(), "remainder goes to first partitions")
				}
			}
			assert.Equal(t, n, next)
			assert.LessOrEqual(t, maxLen-minLen, 1)
			assert.Positive(t, minLen)
		}
	}
}

func TestPartitions_Invalid(t *testing.T) {
	_, err := Partitions(10, 0)
	assert.ErrorIs(t, err, ErrInvalidPartition)
	_, err = Partitions(3, 4)
	assert.ErrorIs(t, err, ErrInvalidPartition)
}

func TestPartitions_Example(t *testing.T) {
	parts, err := Partitions(10, 4)
	require.NoError(t, err)
	assert.Equal(t, []Partition{{0, 3}, {3, 6}, {6, 8}, {8, 10}}, parts)
	assert.Equal(t, "[0, 3)", parts[0].String())
	assert.True(t, parts[1].Contains(5))
	assert.False(t, parts[1].Contains(6))
}

func runUnit(t *testing.T, u *Unit) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		u.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func recv(t *testing.T, ch <-chan Report) Report {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no report")
		return Report{}
	}
}

func TestUnit_StepAppliesMotionThenWeights(t *testing.T) {
	out := make(chan Report, 1)
	part := Partition{Start: 4, End: 7}
	ps := arena(7)[4:7]
	u := NewUnit(1, part, ps, xScorer{}, nil, particle.NewSampler(1, 1), out)
	runUnit(t, u)

	motion := []particle.MotionUpdate{
		{Sample: particle.MotionSample{Linear: [3]float64{1, 0, 0}}, DT: 1},
		{Sample: particle.MotionSample{Linear: [3]float64{2, 0, 0}}, DT: 0.5},
	}
	u.Tasks() <- StepTask{Motion: motion}

	r := recv(t, out)
	require.NoError(t, r.Err)
	assert.Equal(t, KindStep, r.Kind)
	assert.Equal(t, 1, r.Worker)
	assert.Equal(t, []int{4, 5, 6}, r.IDs)
	require.Len(t, r.Weights, 3)
	for i, w := range r.Weights {
		assert.InDelta(t, float64(4+i)+2, w, 1e-9)
		assert.InDelta(t, float64(4+i)+2, r.Poses[i].X, 1e-9)
	}
}

func TestUnit_WeightFloor(t *testing.T) {
	out := make(chan Report, 1)
	ps := []particle.Particle{{ID: 0}}
	u := NewUnit(0, Partition{0, 1}, ps, xScorer{}, nil, particle.NewSampler(1, 1), out)
	runUnit(t, u)

	u.Tasks() <- StepTask{}
	r := recv(t, out)
	require.NoError(t, r.Err)
	assert.Equal(t, particle.Floor, r.Weights[0])
}

func TestUnit_ScorerFailureHasNoWeights(t *testing.T) {
	out := make(chan Report, 1)
	boom := errors.New("no simulator")
	u := NewUnit(2, Partition{0, 3}, arena(3), errScorer{boom}, nil, particle.NewSampler(1, 1), out)
	runUnit(t, u)

	u.Tasks() <- StepTask{}
	r := recv(t, out)
	assert.ErrorIs(t, r.Err, boom)
	assert.Nil(t, r.Weights)
	assert.Equal(t, 2, r.Worker)
}

func TestUnit_Reassign(t *testing.T) {
	out := make(chan Report, 1)
	u := NewUnit(0, Partition{10, 13}, arena(13)[10:13], xScorer{}, nil, particle.NewSampler(1, 1), out)
	runUnit(t, u)

	u.Tasks() <- ReassignTask{Copies: map[int]pose.Pose{11: {X: 99, Z: -3}}}
	r := recv(t, out)
	require.NoError(t, r.Err)
	assert.Equal(t, KindReassign, r.Kind)
	assert.Equal(t, pose.Pose{X: 10}, r.Poses[0])
	assert.Equal(t, pose.Pose{X: 99, Z: -3}, r.Poses[1])

	u.Tasks() <- ReassignTask{Inject: [6]float64{0, 0, 1, 0, 0, 0}}
	r = recv(t, out)
	require.NoError(t, r.Err)
	assert.Equal(t, 99.0, r.Poses[1].X)
	assert.NotEqual(t, -3.0, r.Poses[1].Z)

	u.Tasks() <- ReassignTask{Copies: map[int]pose.Pose{2: {}}}
	r = recv(t, out)
	assert.Error(t, r.Err)
}

func TestPool_BroadcastCollect(t *testing.T) {
	p, err := NewPool(context.Background(), arena(10), PoolConfig{Workers: 3, Seed: 5, Scorer: xScorer{}})
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 3, p.Size())
	assert.Equal(t, []Partition{{0, 4}, {4, 7}, {7, 10}}, p.Partitions())

	ctx := context.Background()
	require.NoError(t, p.Broadcast(ctx, StepTask{}))
	reports, err := p.Collect(ctx, 0)
	require.NoError(t, err)
	require.Len(t, reports, 3)

	var ids []int
	for _, r := range reports {
		require.NoError(t, r.Err)
		ids = append(ids, r.IDs...)
	}
	sort.Ints(ids)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, ids)
}

func TestPool_DispatchEach(t *testing.T) {
	p, err := NewPool(context.Background(), arena(4), PoolConfig{Workers: 2, Scorer: xScorer{}})
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.DispatchEach(ctx, func(_ int, part Partition) Task {
		return ReassignTask{Copies: map[int]pose.Pose{part.Start: {X: -1}}}
	}))
	reports, err := p.Collect(ctx, 0)
	require.NoError(t, err)
	for _, r := range reports {
		require.NoError(t, r.Err)
		assert.Equal(t, -1.0, r.Poses[0].X)
	}
}

func TestPool_Close(t *testing.T) {
	p, err := NewPool(context.Background(), arena(4), PoolConfig{Workers: 2, Scorer: xScorer{}})
	require.NoError(t, err)
	p.Close()
	p.Close()

	_, err = p.Collect(context.Background(), 0)
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_CollectRespectsContext(t *testing.T) {
	p, err := NewPool(context.Background(), arena(4), PoolConfig{Workers: 2, Scorer: xScorer{}})
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Collect(ctx, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewPool_TooManyWorkers(t *testing.T) {
	_, err := NewPool(context.Background(), arena(2), PoolConfig{Workers: 3, Scorer: xScorer{}})
	assert.ErrorIs(t, err, ErrInvalidPartition)
}

func TestPool_CollectDropsStaleReports(t *testing.T) {
	p, err := NewPool(context.Background(), arena(4), PoolConfig{Workers: 2, Scorer: xScorer{}})
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	// Step 1 is abandoned: its reports are never collected.
	require.NoError(t, p.Broadcast(ctx, StepTask{Seq: 1}))
	require.NoError(t, p.Broadcast(ctx, StepTask{Seq: 2}))

	reports, err := p.Collect(ctx, 2)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	for _, r := range reports {
		assert.EqualValues(t, 2, r.Seq)
	}
}
