package actors

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/edup2p/punchline/types/ifaces"
	"github.com/edup2p/punchline/types/msgactor"
)

// RunCheck ensures that only one instance of the actor is running at all times.
type RunCheck struct {
	*atomic.Bool
}

func MakeRunCheck() RunCheck {
	return RunCheck{
		&atomic.Bool{},
	}
}

// CheckOrMark atomically checks if its already running, else marks as running, returns a false value if the instance is already running.
func (rc *RunCheck) CheckOrMark() bool {
	return rc.CompareAndSwap(false, true)
}

func L(a ifaces.Actor) *slog.Logger {
	return slog.With("actor", fmt.Sprintf("%T", a))
}

func logUnknownMessage(a ifaces.Actor, am msgactor.ActorMessage) {
	L(a).Warn("got unknown message", "msg", fmt.Sprintf("%#v", am))
}
