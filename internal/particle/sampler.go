package particle

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/auv.localiser/internal/pose"
)

// Sampler draws Gaussian noise from a private random source. A Sampler is
// not safe for concurrent use; each worker owns its own.
type Sampler struct {
	std distuv.Normal
	rng *rand.Rand
}

// NewSampler returns a Sampler seeded deterministically from seed and
// stream. Distinct streams with the same seed yield independent sequences.
func NewSampler(seed, stream uint64) *Sampler {
	src := rand.NewPCG(seed, stream)
	return &Sampler{
		std: distuv.Normal{Mu: 0, Sigma: 1, Src: src},
		rng: rand.New(src),
	}
}

// Gaussian returns a zero-mean normal draw with standard deviation sigma.
func (s *Sampler) Gaussian(sigma float64) float64 {
	if sigma == 0 {
		return 0
	}
	return sigma * s.std.Rand()
}

// Float64 returns a uniform draw from [0, 1). A Sampler can therefore
// drive the resampling strategies from the same stream.
func (s *Sampler) Float64() float64 {
	return s.rng.Float64()
}

// Perturb returns p with independent Gaussian noise added to each axis.
// Angles are wrapped back into (-π, π].
func (s *Sampler) Perturb(p pose.Pose, stddev [6]float64) pose.Pose {
	var d [6]float64
	for k, sd := range stddev {
		d[k] = s.Gaussian(sd)
	}
	return p.Add(pose.FromVector(d[:]))
}
