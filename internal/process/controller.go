package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"devlink/internal/transport"
	"devlink/internal/util"
)

const readBufferSize = 32 * 1024

// Controller owns the role slots of one connection.
type Controller struct {
	spawner Spawner
	obs     Observer
	log     zerolog.Logger

	mu    sync.Mutex
	slots map[Role]*RunningProcess
}

func NewController(spawner Spawner, obs Observer, log zerolog.Logger) *Controller {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Controller{
		spawner: spawner,
		obs:     obs,
		log:     log.With().Str("component", "process").Logger(),
		slots:   make(map[Role]*RunningProcess),
	}
}

// Start spawns spec in the role slot and begins merging its output. It
// returns once the process is running; output is delivered to the observer.
func (c *Controller) Start(ctx context.Context, role Role, spec transport.CommandSpec) error {
	c.mu.Lock()
	if _, busy := c.slots[role]; busy {
		c.mu.Unlock()
		return fmt.Errorf("start %s: %w", role, ErrAlreadyRunning)
	}
	rp := newRunningProcess(role, spec)
	c.slots[role] = rp
	c.mu.Unlock()

	c.log.Debug().Str("role", role.String()).Str("cmd", spec.Line()).
		Bool("split", spec.Split(c.spawner.SupportsSplitOutput())).Msg("spawning")

	proc, err := c.spawner.Spawn(ctx, spec)
	if err != nil {
		c.mu.Lock()
		delete(c.slots, role)
		c.mu.Unlock()
		close(rp.done)
		return fmt.Errorf("start %s %q: %w: %w", role, spec.Line(), ErrSpawn, err)
	}

	c.mu.Lock()
	rp.proc = proc
	rp.streams = proc.Streams()
	stopRequested := rp.state == Stopping
	if !stopRequested {
		rp.state = Running
	}
	c.mu.Unlock()

	c.obs.ProcessStarted(role, spec)
	go c.merge(rp)

	if stopRequested {
		// Stop arrived while spawning and could not reach the process.
		c.terminate(rp)
	}
	return nil
}

// Stop ends the process in role and waits until its slot is Stopped. It is a
// no-op when nothing runs there.
func (c *Controller) Stop(ctx context.Context, role Role) error {
	c.mu.Lock()
	rp, ok := c.slots[role]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	first := rp.state != Stopping
	rp.state = Stopping
	spawned := rp.proc != nil
	c.mu.Unlock()

	if first && spawned {
		c.terminate(rp)
	}
	rp.signalStop()

	select {
	case <-rp.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop %s: %w", role, ctx.Err())
	}
}

// StopAll stops every role.
func (c *Controller) StopAll(ctx context.Context) error {
	var errs []error
	for _, role := range Roles {
		if err := c.Stop(ctx, role); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// State reports the current state of role.
func (c *Controller) State(role Role) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rp, ok := c.slots[role]; ok {
		return rp.state
	}
	return Stopped
}

func (c *Controller) Running(role Role) bool {
	return c.State(role) != Stopped
}

func (c *Controller) terminate(rp *RunningProcess) {
	util.Attempt(c.log, "kill "+rp.Role.String(), rp.proc.Kill)
	rp.release(c.log)
}

func (c *Controller) stopping(rp *RunningProcess) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return rp.state == Stopping
}

type chunk struct {
	idx  int
	data []byte
	err  error
}

// merge pumps every stream of rp into one channel and forwards decoded
// lines until all streams hit EOF, a read fails, or Stop is called.
func (c *Controller) merge(rp *RunningProcess) {
	var endErr error
	chunks := make(chan chunk)
	quit := make(chan struct{})
	var wg sync.WaitGroup

	defer func() {
		close(quit)
		rp.release(c.log)
		wg.Wait()

		c.mu.Lock()
		rp.state = Stopped
		if c.slots[rp.Role] == rp {
			delete(c.slots, rp.Role)
		}
		c.mu.Unlock()

		if endErr != nil {
			c.log.Warn().Err(endErr).Str("role", rp.Role.String()).Msg("process ended")
		} else {
			c.log.Debug().Str("role", rp.Role.String()).Msg("process ended")
		}
		c.obs.ProcessEnded(rp.Role, endErr)
		close(rp.done)
	}()

	for i, s := range rp.streams {
		wg.Add(1)
		go func(idx int, s transport.Stream) {
			defer wg.Done()
			buf := make([]byte, readBufferSize)
			for {
				n, err := s.Read(buf)
				if n > 0 {
					data := append([]byte(nil), buf[:n]...)
					select {
					case chunks <- chunk{idx: idx, data: data}:
					case <-quit:
						return
					}
				}
				if err != nil {
					select {
					case chunks <- chunk{idx: idx, err: err}:
					case <-quit:
					}
					return
				}
			}
		}(i, s)
	}

	decoders := make([]*lineDecoder, len(rp.streams))
	for i := range decoders {
		decoders[i] = newLineDecoder()
	}

	open := len(rp.streams)
	for open > 0 {
		select {
		case ch := <-chunks:
			kind := rp.streams[ch.idx].Kind()
			switch {
			case ch.err == io.EOF:
				open--
				c.emit(rp.Role, kind, decoders[ch.idx].Flush())
			case ch.err != nil:
				if c.stopping(rp) {
					return
				}
				endErr = fmt.Errorf("%s %s: %w: %w", rp.Role, kind, ErrRead, ch.err)
				return
			default:
				c.emit(rp.Role, kind, decoders[ch.idx].Feed(ch.data))
			}
		case <-rp.stop:
			return
		}
	}
}

func (c *Controller) emit(role Role, kind transport.StreamKind, lines []string) {
	for _, l := range lines {
		c.obs.ProcessLine(role, kind, l)
	}
}
