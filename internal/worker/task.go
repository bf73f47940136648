package worker

import (
	"github.com/banshee-data/auv.localiser/internal/measurement"
	"github.com/banshee-data/auv.localiser/internal/particle"
	"github.com/banshee-data/auv.localiser/internal/pose"
)

// Kind identifies which task a Report answers.
type Kind int

const (
	KindStep Kind = iota
	KindReassign
)

func (k Kind) String() string {
	switch k {
	case KindStep:
		return "step"
	case KindReassign:
		return "reassign"
	default:
		return "unknown"
	}
}

// Task is a unit of work sent to a worker. The concrete types are StepTask
// and ReassignTask.
type Task interface {
	kind() Kind
	sequence() uint64
}

// StepTask applies Motion in order to every particle, then weights every
// particle against Measurement. Both are shared between workers and must
// be treated as read-only.
type StepTask struct {
	Seq         uint64
	Measurement measurement.Measurement
	Motion      []particle.MotionUpdate
}

func (StepTask) kind() Kind { return KindStep }

func (t StepTask) sequence() uint64 { return t.Seq }

// ReassignTask overwrites the listed poses and then perturbs every particle
// in the partition by Inject (per-axis standard deviations).
type ReassignTask struct {
	Seq    uint64
	Copies map[int]pose.Pose
	Inject [6]float64
}

func (ReassignTask) kind() Kind { return KindReassign }

func (t ReassignTask) sequence() uint64 { return t.Seq }

// Report is a worker's answer to one task. Seq echoes the task's sequence
// number. On failure Err is set and Weights is nil.
type Report struct {
	Worker  int
	Seq     uint64
	Kind    Kind
	IDs     []int
	Weights []float64
	Poses   []pose.Pose
	Err     error
}
