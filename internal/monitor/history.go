package monitor

import (
	"slices"
	"sync"
	"time"

	"github.com/banshee-data/auv.localiser/internal/pose"
	"github.com/banshee-data/auv.localiser/internal/publish"
)

// DefaultHistorySize is the number of estimates kept for the charts.
const DefaultHistorySize = 2000

// Snapshot is the most recent particle cloud.
type Snapshot struct {
	Stamp   time.Time
	FrameID string
	Poses   []pose.Pose
}

// History is a bounded in-memory publish.Sink backing the monitor pages.
// It is safe for concurrent use.
type History struct {
	mu        sync.RWMutex
	size      int
	estimates []publish.Estimate
	next      int
	full      bool
	snapshot  Snapshot
	total     uint64
}

// NewHistory returns a History keeping the last size estimates. A
// non-positive size uses DefaultHistorySize.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size, estimates: make([]publish.Estimate, 0, size)}
}

// PublishParticles replaces the stored snapshot.
func (h *History) PublishParticles(stamp time.Time, frameID string, poses []pose.Pose) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot = Snapshot{Stamp: stamp, FrameID: frameID, Poses: slices.Clone(poses)}
	return nil
}

// PublishEstimate appends e, evicting the oldest entry once full.
func (h *History) PublishEstimate(e publish.Estimate) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total++
	if !h.full {
		h.estimates = append(h.estimates, e)
		if len(h.estimates) == h.size {
			h.full = true
		}
		return nil
	}
	h.estimates[h.next] = e
	h.next = (h.next + 1) % h.size
	return nil
}

// Estimates returns up to limit of the most recent estimates, oldest first.
// A non-positive limit returns everything held.
func (h *History) Estimates(limit int) []publish.Estimate {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ordered := make([]publish.Estimate, 0, len(h.estimates))
	if h.full {
		ordered = append(ordered, h.estimates[h.next:]...)
		ordered = append(ordered, h.estimates[:h.next]...)
	} else {
		ordered = append(ordered, h.estimates...)
	}
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}

// Latest returns the most recent estimate, if any.
func (h *History) Latest() (publish.Estimate, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.estimates) == 0 {
		return publish.Estimate{}, false
	}
	i := len(h.estimates) - 1
	if h.full {
		i = (h.next - 1 + h.size) % h.size
	}
	return h.estimates[i], true
}

// Snapshot returns a copy of the most recent particle cloud.
func (h *History) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.snapshot
	s.Poses = slices.Clone(s.Poses)
	return s
}

// Total is the number of estimates ever published, including evicted ones.
func (h *History) Total() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}
