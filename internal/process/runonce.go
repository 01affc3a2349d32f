package process

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"devlink/internal/transport"
	"devlink/internal/util"
)

// OneShot is a command started by RunOnce.
type OneShot struct {
	// Output is the captured first chunk, trimmed. Empty without capture.
	Output string

	done chan struct{}
}

// Done is closed once the command's streams have ended (or it was killed)
// and were released.
func (o *OneShot) Done() <-chan struct{} { return o.done }

// RunOnce runs a one-shot command outside the role slots. With a positive
// captureLimit RunOnce returns as soon as the first chunk of output (at most
// captureLimit bytes) arrives, while the command keeps running and its output
// keeps being drained in the background. Otherwise RunOnce returns once the
// command ends. Either way the streams are released only after the command
// ends, or after a kill when ctx is done first.
func RunOnce(ctx context.Context, spawner Spawner, spec transport.CommandSpec, captureLimit int, log zerolog.Logger) (*OneShot, error) {
	proc, err := spawner.Spawn(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w: %w", spec.Line(), ErrSpawn, err)
	}
	shot := &OneShot{done: make(chan struct{})}
	streams := proc.Streams()
	if len(streams) == 0 {
		close(shot.done)
		return shot, nil
	}

	type result struct {
		out string
		err error
	}
	first := make(chan result, 1)
	ended := make(chan struct{})
	go func() {
		defer close(ended)
		// streams are drained together; a full stderr pipe can hold back
		// the end of stdout
		var wg sync.WaitGroup
		for i, s := range streams {
			wg.Add(1)
			go func(capture bool, s transport.Stream) {
				defer wg.Done()
				if capture {
					buf := make([]byte, captureLimit)
					n, err := s.Read(buf)
					if err != nil && err != io.EOF {
						first <- result{err: fmt.Errorf("run %q: %w: %w", spec.Line(), ErrRead, err)}
						return
					}
					first <- result{out: strings.TrimSpace(strings.ToValidUTF8(string(buf[:n]), "�"))}
					if err == io.EOF {
						return
					}
				}
				if _, err := io.Copy(io.Discard, s); err != nil {
					log.Debug().Err(err).Str("cmd", spec.Line()).Msg("drain ended with error")
				}
			}(i == 0 && captureLimit > 0, s)
		}
		wg.Wait()
	}()

	go func() {
		defer close(shot.done)
		select {
		case <-ended:
		case <-ctx.Done():
			util.Attempt(log, "kill "+spec.Line(), proc.Kill)
		}
		for _, s := range streams {
			util.Attempt(log, "release "+s.Kind().String(), s.Close)
		}
		log.Debug().Str("cmd", spec.Line()).Msg("one-shot finished")
	}()

	wait := ended
	if captureLimit > 0 {
		wait = nil
	}
	select {
	case r := <-first:
		shot.Output = r.out
		return shot, r.err
	case <-wait:
		return shot, nil
	case <-ctx.Done():
		<-shot.done
		return nil, ctx.Err()
	}
}
