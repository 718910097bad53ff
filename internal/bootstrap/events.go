package bootstrap

import (
	"context"
	"time"
)

// Event types recorded across a provider's lifecycle.
const (
	EventBootstrapStarted   = "bootstrap_started"
	EventBootstrapSucceeded = "bootstrap_succeeded"
	EventBootstrapFailed    = "bootstrap_failed"
	EventShutdown           = "shutdown"
)

// Event is one provider lifecycle transition.
type Event struct {
	Provider string
	Type     string
	Detail   string
	Time     time.Time
}

// Recorder receives lifecycle events, typically for a persistent
// journal. Implementations must not block for long and must never fail
// the lifecycle operation that produced the event.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}
