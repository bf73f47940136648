package measurement

import (
	"context"

	"github.com/banshee-data/auv.localiser/internal/pose"
)

// FlatSeabed simulates a multibeam over a horizontal seabed at z = -Depth.
// Beams that never reach the seabed within MaxRange report MaxRange.
type FlatSeabed struct {
	Depth    float64
	MaxRange float64
}

// ExpectedRanges implements RangeSimulator.
func (f FlatSeabed) ExpectedRanges(ctx context.Context, sensor pose.Pose, beams []float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]float64, len(beams))
	for i, theta := range beams {
		out[i] = f.rayRange(sensor, theta)
	}
	return out, nil
}

func (f FlatSeabed) rayRange(sensor pose.Pose, theta float64) float64 {
	dir := sensor.RotateVector(BeamDirection(theta))
	if dir[2] >= 0 {
		return f.MaxRange
	}
	t := (-f.Depth - sensor.Z) / dir[2]
	if t < 0 || t > f.MaxRange {
		return f.MaxRange
	}
	return t
}
