package coordinator

// State is the coordinator's position in the filter step cycle.
type State int

const (
	// StateIdle means no motion is pending.
	StateIdle State = iota
	// StateAccumulating means motion is queued and no fresh ping has
	// arrived yet.
	StateAccumulating
	// StateStepping means a step is being dispatched or aggregated.
	StateStepping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateStepping:
		return "stepping"
	default:
		return "unknown"
	}
}
