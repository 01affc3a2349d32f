package session

import (
	"context"
	"io"
	"io/fs"

	"devlink/internal/browser"
	"devlink/internal/events"
	"devlink/internal/gateway"
	"devlink/internal/process"
	"devlink/internal/transfer"
	"devlink/internal/transport"
)

// StartLogTail starts spec in the log tail slot.
func (s *Session) StartLogTail(ctx context.Context, spec transport.CommandSpec) error {
	c, err := s.Processes()
	if err != nil {
		return err
	}
	return c.Start(ctx, process.LogTail, spec)
}

// RunCommand starts user input as sh -c "<input>" in the ad-hoc slot.
func (s *Session) RunCommand(ctx context.Context, input string, mode transport.OutputMode) error {
	c, err := s.Processes()
	if err != nil {
		return err
	}
	spec := transport.ShellCommand(input)
	spec.Output = mode
	return c.Start(ctx, process.AdHocCommand, spec)
}

// Stop ends the process in role. Without a connection there is nothing to stop.
func (s *Session) Stop(ctx context.Context, role process.Role) error {
	c, err := s.Processes()
	if err != nil {
		return nil
	}
	return c.Stop(ctx, role)
}

// RunAction runs a preset one-shot command and returns its captured output.
// A command still running after the capture keeps going in the background;
// Disconnect waits a bounded time for it.
func (s *Session) RunAction(ctx context.Context, spec transport.CommandSpec, capture int) (string, error) {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return "", ErrNotConnected
	}
	tr := s.conn.Transport()
	s.oneShots.Add(1)
	s.mu.Unlock()

	shot, err := process.RunOnce(ctx, tr, spec, capture, s.log)
	if shot == nil {
		s.oneShots.Done()
		return "", err
	}
	go func() {
		<-shot.Done()
		s.oneShots.Done()
	}()
	return shot.Output, err
}

// PushRequest uploads Source as Dir/<base of Name>.
type PushRequest struct {
	Name   string
	Source io.Reader
	// Size is negative when unknown.
	Size int64
	Dir  string
	Perm fs.FileMode
}

// Push writes the request through the gateway while tracking progress.
func (s *Session) Push(ctx context.Context, req PushRequest, onUpdate func(transfer.Progress)) (transfer.Progress, error) {
	gw, err := s.Gateway()
	if err != nil {
		return transfer.Progress{}, err
	}
	dest := browser.Join(req.Dir, browser.Base(req.Name))
	tracker := transfer.NewTracker(transfer.NewTask(transfer.Push, dest, req.Size), s.progressHook(onUpdate))

	err = gw.Write(ctx, gateway.WriteRequest{
		Path:     dest,
		Source:   io.TeeReader(req.Source, tracker.Hash()),
		SizeHint: req.Size,
		Perm:     req.Perm,
		Progress: tracker.Set,
	})
	if err != nil {
		return tracker.Fail(err), err
	}
	p := tracker.Complete()
	s.log.Info().Str("path", dest).Int64("bytes", p.Sent).Uint64("xxh64", p.Digest).Msg("pushed")
	return p, nil
}

// Pull copies the remote file into dst. size may be negative when unknown.
func (s *Session) Pull(ctx context.Context, remote string, size int64, dst io.Writer, onUpdate func(transfer.Progress)) (transfer.Progress, error) {
	gw, err := s.Gateway()
	if err != nil {
		return transfer.Progress{}, err
	}
	remote = browser.Normalize(remote)
	tracker := transfer.NewTracker(transfer.NewTask(transfer.Pull, remote, size), s.progressHook(onUpdate))

	err = gw.Read(ctx, remote, func(r io.Reader) error {
		_, err := io.Copy(tracker.Writer(dst), r)
		return err
	})
	if err != nil {
		return tracker.Fail(err), err
	}
	p := tracker.Complete()
	s.log.Info().Str("path", remote).Int64("bytes", p.Sent).Uint64("xxh64", p.Digest).Msg("pulled")
	return p, nil
}

// Head returns at most n bytes from the start of a remote file.
func (s *Session) Head(ctx context.Context, remote string, n int) ([]byte, error) {
	gw, err := s.Gateway()
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = transfer.DefaultHeadBytes
	}
	var out []byte
	err = gw.Read(ctx, browser.Normalize(remote), func(r io.Reader) error {
		var readErr error
		out, readErr = transfer.ReadHead(r, n)
		return readErr
	})
	return out, err
}

func (s *Session) progressHook(onUpdate func(transfer.Progress)) func(transfer.Progress) {
	return func(p transfer.Progress) {
		s.bus.Publish(events.EventTransferProgress, p)
		if onUpdate != nil {
			onUpdate(p)
		}
	}
}
