package worker

import (
	"errors"
	"fmt"
)

// ErrInvalidPartition is returned by Partitions for impossible layouts.
var ErrInvalidPartition = errors.New("invalid partition layout")

// Partition is the half-open id range [Start, End) owned by one worker.
type Partition struct {
	Start, End int
}

// Len returns the number of particles in the partition.
func (p Partition) Len() int { return p.End - p.Start }

// Contains reports whether id falls in the partition.
func (p Partition) Contains(id int) bool { return id >= p.Start && id < p.End }

func (p Partition) String() string { return fmt.Sprintf("[%d, %d)", p.Start, p.End) }

// Partitions splits [0, n) into workers contiguous ranges whose sizes
// differ by at most one. The remainder of n/workers goes to the first
// partitions. Every partition is non-empty, so workers must not exceed n.
func Partitions(n, workers int) ([]Partition, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("%w: %d workers", ErrInvalidPartition, workers)
	}
	if n < workers {
		return nil, fmt.Errorf("%w: %d particles across %d workers", ErrInvalidPartition, n, workers)
	}

	size, extra := n/workers, n%workers
	out := make([]Partition, workers)
	start := 0
	for i := range out {
		end := start + size
		if i < extra {
			end++
		}
		out[i] = Partition{Start: start, End: end}
		start = end
	}
	return out, nil
}
