package pose

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrNoPoses is returned when asked to aggregate an empty pose set.
var ErrNoPoses = errors.New("no poses to aggregate")

// Summary is the aggregate of a particle cloud.
type Summary struct {
	Mean Pose
	// Variance is the per-axis population variance in x, y, z, roll,
	// pitch, yaw order. Yaw variance is computed on the same unwrapped
	// yaws used for the mean.
	Variance [6]float64
	Count    int
}

// Average reduces poses to their mean pose.
//
// x, y, z, roll and pitch use the arithmetic mean. Yaw uses a wraparound
// heuristic: when every |yaw| exceeds π/2 the cloud straddles ±π, so
// negative yaws are shifted by 2π before averaging and the mean is wrapped
// back into (-π, π]. This handles a cloud clustered around the
// discontinuity; it is not a general circular mean and a multimodal heading
// distribution will still average to a meaningless value.
func Average(poses []Pose) (Summary, error) {
	n := len(poses)
	if n == 0 {
		return Summary{}, ErrNoPoses
	}

	var cols [6][]float64
	for i := range cols {
		cols[i] = make([]float64, n)
	}
	for i, p := range poses {
		v := p.Vector()
		for k := range cols {
			cols[k][i] = v[k]
		}
	}
	cols[5] = UnwrapYaws(cols[5])

	var mean, variance [6]float64
	for k := range cols {
		mean[k], variance[k] = stat.PopMeanVariance(cols[k], nil)
	}

	return Summary{
		Mean: Pose{
			X: mean[0], Y: mean[1], Z: mean[2],
			Roll: mean[3], Pitch: mean[4],
			Yaw: WrapAngle(mean[5]),
		},
		Variance: variance,
		Count:    n,
	}, nil
}

// UnwrapYaws returns yaws prepared for averaging: unchanged unless the
// smallest magnitude exceeds π/2, in which case negative entries are moved
// up by 2π. The input slice is modified in place and returned.
func UnwrapYaws(yaws []float64) []float64 {
	if len(yaws) == 0 {
		return yaws
	}
	minAbs := math.Inf(1)
	for _, y := range yaws {
		minAbs = math.Min(minAbs, math.Abs(y))
	}
	if minAbs <= math.Pi/2 {
		return yaws
	}
	for i, y := range yaws {
		if y < 0 {
			yaws[i] = y + 2*math.Pi
		}
	}
	return yaws
}
