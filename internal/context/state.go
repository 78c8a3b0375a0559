package context

import (
	"fmt"
	"time"
)

// ActionState is the lifecycle of one scheduled action: Pending until its offset
// elapses, Firing while its operation runs, Done afterwards whatever the outcome.
type ActionState int32

const (
	Pending ActionState = iota
	Firing
	Done
)

func (s ActionState) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Firing:
		return "FIRING"
	case Done:
		return "DONE"
	default:
		return fmt.Sprintf("ActionState(%d)", int32(s))
	}
}

type ActionStatus struct {
	Label    string
	Offset   time.Duration
	State    ActionState
	Started  time.Time
	Finished time.Time
	Err      error
}

// Late is how far after its offset the action actually started.
func (s ActionStatus) Late(start time.Time) time.Duration {
	if s.Started.IsZero() {
		return 0
	}
	return s.Started.Sub(start) - s.Offset
}
