// Package process runs remote commands in fixed role slots and turns their
// output streams into ordered lines.
package process

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"devlink/internal/transport"
	"devlink/internal/util"
)

var (
	ErrAlreadyRunning = errors.New("a process is already running in this role")
	ErrSpawn          = errors.New("failed to spawn remote process")
	ErrRead           = errors.New("failed to read process output")
)

// Role is an execution slot. At most one process runs per role.
type Role int

const (
	LogTail Role = iota
	AdHocCommand
)

// Roles lists every slot in stop order.
var Roles = []Role{LogTail, AdHocCommand}

func (r Role) String() string {
	switch r {
	case LogTail:
		return "logtail"
	case AdHocCommand:
		return "command"
	default:
		return "unknown"
	}
}

// State of a role slot. The zero value is Stopped.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Spawner is the part of a transport the controller needs.
type Spawner interface {
	Spawn(ctx context.Context, spec transport.CommandSpec) (transport.Process, error)
	SupportsSplitOutput() bool
}

// Observer receives the output of every role. Callbacks run on the merge
// goroutine of the process and must not block for long.
type Observer interface {
	ProcessStarted(role Role, spec transport.CommandSpec)
	ProcessLine(role Role, kind transport.StreamKind, line string)
	// ProcessEnded carries the terminal error, nil on clean EOF or stop.
	ProcessEnded(role Role, err error)
}

// NopObserver discards everything.
type NopObserver struct{}

func (NopObserver) ProcessStarted(Role, transport.CommandSpec)     {}
func (NopObserver) ProcessLine(Role, transport.StreamKind, string) {}
func (NopObserver) ProcessEnded(Role, error)                       {}

// RunningProcess is a transport.Process bound to a role slot.
type RunningProcess struct {
	Role Role
	Spec transport.CommandSpec

	proc    transport.Process
	streams []transport.Stream
	state   State

	stop        chan struct{}
	stopOnce    sync.Once
	done        chan struct{}
	releaseOnce sync.Once
}

func newRunningProcess(role Role, spec transport.CommandSpec) *RunningProcess {
	return &RunningProcess{
		Role:  role,
		Spec:  spec,
		state: Starting,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (rp *RunningProcess) signalStop() {
	rp.stopOnce.Do(func() { close(rp.stop) })
}

// release closes every stream exactly once.
func (rp *RunningProcess) release(log zerolog.Logger) {
	rp.releaseOnce.Do(func() {
		for _, s := range rp.streams {
			util.Attempt(log, "release "+rp.Role.String()+" "+s.Kind().String(), s.Close)
		}
	})
}
