package bootstrap

// State is the lifecycle state of one provider's manager.
//
// Legal transitions:
//
//	NotStarted → InProgress → Success → (shutdown) → NotStarted
//	                        ↘ Failed  → (shutdown) → NotStarted
//
// Nothing leaves Failed except Shutdown followed by a fresh Bootstrap.
type State int

const (
	StateNotStarted State = iota
	StateInProgress
	StateSuccess
	StateFailed
)

// String returns the state name used in logs and JSON status output.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateInProgress:
		return "in_progress"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so State serializes as
// its name in JSON status payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time snapshot of one manager, suitable for
// health endpoints. Taking a snapshot never blocks.
type Status struct {
	Name      string `json:"name"`
	State     State  `json:"state"`
	Available bool   `json:"available"`
	LastError string `json:"last_error,omitempty"`
}
