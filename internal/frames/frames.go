// Package frames resolves the static coordinate-frame transforms the filter
// needs before it can score particles.
package frames

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/auv.localiser/internal/config"
	"github.com/banshee-data/auv.localiser/internal/pose"
	"github.com/banshee-data/auv.localiser/internal/timeutil"
)

var (
	// ErrTransformTimeout is returned when a transform is not available
	// within the configured wait. It is fatal at startup.
	ErrTransformTimeout = errors.New("transform lookup timed out")
	// ErrInvalidTransform is returned for a malformed static transform.
	ErrInvalidTransform = errors.New("invalid transform")
)

// DefaultPollInterval is how often WaitFor re-checks its source.
const DefaultPollInterval = 100 * time.Millisecond

// Source answers parent←child transform queries.
type Source interface {
	Lookup(parent, child string) (pose.Pose, bool)
}

type edge struct{ parent, child string }

// StaticTable is an in-memory Source. It is safe for concurrent use.
type StaticTable struct {
	mu sync.RWMutex
	m  map[edge]pose.Pose
}

// NewStaticTable returns an empty table.
func NewStaticTable() *StaticTable {
	return &StaticTable{m: make(map[edge]pose.Pose)}
}

// Set records the pose of child expressed in parent.
func (t *StaticTable) Set(parent, child string, p pose.Pose) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[edge{parent, child}] = p
}

// Lookup implements Source. A transform stored in the opposite direction
// is inverted.
func (t *StaticTable) Lookup(parent, child string) (pose.Pose, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.m[edge{parent, child}]; ok {
		return p, true
	}
	if p, ok := t.m[edge{child, parent}]; ok {
		return p.Inverse(), true
	}
	return pose.Pose{}, false
}

// Load adds every configured static transform to the table.
func (t *StaticTable) Load(transforms []config.StaticTransform) error {
	for _, st := range transforms {
		if st.Parent == "" || st.Child == "" {
			return fmt.Errorf("%w: empty frame id in %q←%q", ErrInvalidTransform, st.Parent, st.Child)
		}
		if len(st.Pose) != config.PoseDims {
			return fmt.Errorf("%w: %s←%s pose has %d values, want %d",
				ErrInvalidTransform, st.Parent, st.Child, len(st.Pose), config.PoseDims)
		}
		p := pose.FromVector(st.Pose)
		if !p.IsFinite() || !pose.IsValidTransformMatrix(p.Matrix()) {
			return fmt.Errorf("%w: %s←%s is not a rigid transform", ErrInvalidTransform, st.Parent, st.Child)
		}
		t.Set(st.Parent, st.Child, p)
	}
	return nil
}

// Resolver waits on a Source for transforms to appear.
type Resolver struct {
	src   Source
	clock timeutil.Clock
	poll  time.Duration
}

// NewResolver returns a Resolver polling src on clock. A nil clock uses
// the real clock.
func NewResolver(src Source, clock timeutil.Clock) *Resolver {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Resolver{src: src, clock: clock, poll: DefaultPollInterval}
}

// WaitFor blocks until parent←child is available, the timeout elapses or
// ctx is cancelled.
func (r *Resolver) WaitFor(ctx context.Context, parent, child string, timeout time.Duration) (pose.Pose, error) {
	if p, ok := r.src.Lookup(parent, child); ok {
		return p, nil
	}

	deadline := r.clock.After(timeout)
	tick := r.clock.NewTicker(r.poll)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return pose.Pose{}, ctx.Err()
		case <-deadline:
			return pose.Pose{}, fmt.Errorf("%w: %s←%s after %v", ErrTransformTimeout, parent, child, timeout)
		case <-tick.C():
			if p, ok := r.src.Lookup(parent, child); ok {
				return p, nil
			}
		}
	}
}

// Static holds the two transforms the filter locks at startup.
type Static struct {
	// BaseFromSensor is the sensor frame expressed in the vehicle base frame.
	BaseFromSensor pose.Pose
	// MapFromOdom is the odometry frame expressed in the map frame.
	MapFromOdom pose.Pose
}

// ResolveStatic waits for base←sensor and map←odom using the frame ids
// and timeout from cfg.
func (r *Resolver) ResolveStatic(ctx context.Context, cfg *config.FilterConfig) (Static, error) {
	timeout := cfg.GetTransformTimeout()

	base, err := r.WaitFor(ctx, cfg.GetBaseFrame(), cfg.GetSensorFrame(), timeout)
	if err != nil {
		return Static{}, err
	}
	m2o, err := r.WaitFor(ctx, cfg.GetMapFrame(), cfg.GetOdomFrame(), timeout)
	if err != nil {
		return Static{}, err
	}
	return Static{BaseFromSensor: base, MapFromOdom: m2o}, nil
}

// SensorPose returns the sensor pose in the map frame for a vehicle at
// particle (expressed in the odometry frame).
func (s Static) SensorPose(particle pose.Pose) pose.Pose {
	return pose.Compose(pose.Compose(s.MapFromOdom, particle), s.BaseFromSensor)
}
