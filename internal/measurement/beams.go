package measurement

import "math"

// BeamDirection returns the unit vector of a beam at angle theta in the
// sensor frame. The swath lies in the y-z plane; theta = 0 points down.
func BeamDirection(theta float64) [3]float64 {
	s, c := math.Sincos(theta)
	return [3]float64{0, s, -c}
}

// Fan returns n beam angles evenly spaced across a swath of the given total
// width, centred on nadir.
func Fan(n int, swath float64) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{0}
	}
	out := make([]float64, n)
	step := swath / float64(n-1)
	for i := range out {
		out[i] = -swath/2 + float64(i)*step
	}
	return out
}
