package indexer

// State is the poller's position within a cycle.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateDecoding
	StateDispatching
	StateCheckpointing
	StateSleeping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateDecoding:
		return "decoding"
	case StateDispatching:
		return "dispatching"
	case StateCheckpointing:
		return "checkpointing"
	case StateSleeping:
		return "sleeping"
	default:
		return "unknown"
	}
}
