// Package sshclient is the SSH + SFTP transport: commands run in SSH
// sessions and the sync channel is an SFTP subsystem opened per operation.
package sshclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"devlink/internal/transport"
)

// Client is an authenticated connection to one device.
type Client struct {
	client *ssh.Client
	device string
	log    zerolog.Logger

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newClient(client *ssh.Client, device string, log zerolog.Logger) *Client {
	c := &Client{
		client: client,
		device: device,
		log:    log,
		done:   make(chan struct{}),
	}
	go func() {
		err := client.Wait()
		c.log.Debug().Err(err).Str("device", device).Msg("connection closed")
		close(c.done)
	}()
	return c
}

// SupportsSplitOutput is always true: SSH carries stderr as extended data.
func (c *Client) SupportsSplitOutput() bool { return true }

func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.client.Close()
		if errors.Is(c.closeErr, io.EOF) {
			c.closeErr = nil
		}
	})
	return c.closeErr
}

// Spawn starts spec in a new session. Output is delivered through pipes so
// closing a stream unblocks its reader immediately.
func (c *Client) Spawn(ctx context.Context, spec transport.CommandSpec) (transport.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w: %v", transport.ErrDeviceUnavailable, err)
	}

	p := &process{session: session, log: c.log, line: spec.Line()}
	var writers []*io.PipeWriter
	if spec.Split(true) {
		outR, outW := io.Pipe()
		errR, errW := io.Pipe()
		session.Stdout = outW
		session.Stderr = errW
		writers = []*io.PipeWriter{outW, errW}
		p.streams = []*stream{
			{r: outR, kind: transport.StreamStdout, p: p},
			{r: errR, kind: transport.StreamStderr, p: p},
		}
	} else {
		r, w := io.Pipe()
		session.Stdout = w
		session.Stderr = w
		writers = []*io.PipeWriter{w}
		p.streams = []*stream{{r: r, kind: transport.StreamCombined, p: p}}
	}

	if err := session.Start(spec.Line()); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start %q: %w", spec.Line(), err)
	}

	go func() {
		err := session.Wait()
		end := exitToEOF(err)
		if end != nil {
			c.log.Debug().Err(err).Str("cmd", p.line).Msg("session ended abnormally")
		}
		for _, w := range writers {
			w.CloseWithError(end)
		}
	}()
	return p, nil
}

// exitToEOF treats any remote exit, clean or not, as end of output. Only
// transport level failures surface as read errors.
func exitToEOF(err error) error {
	var exitErr *ssh.ExitError
	var missing *ssh.ExitMissingError
	if err == nil || errors.As(err, &exitErr) || errors.As(err, &missing) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

type process struct {
	session *ssh.Session
	log     zerolog.Logger
	line    string
	streams []*stream

	closeOnce sync.Once
}

func (p *process) Streams() []transport.Stream {
	out := make([]transport.Stream, len(p.streams))
	for i, s := range p.streams {
		out[i] = s
	}
	return out
}

// Kill signals the remote command and tears the session down. Servers that
// ignore signals still lose the channel.
func (p *process) Kill() error {
	sigErr := p.session.Signal(ssh.SIGKILL)
	closeErr := p.closeSession()
	if sigErr != nil && !errors.Is(sigErr, io.EOF) {
		return fmt.Errorf("kill %q: %w", p.line, sigErr)
	}
	return closeErr
}

func (p *process) closeSession() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.session.Close()
		if errors.Is(err, io.EOF) {
			err = nil
		}
	})
	return err
}

type stream struct {
	r    *io.PipeReader
	kind transport.StreamKind
	p    *process
}

func (s *stream) Read(b []byte) (int, error) { return s.r.Read(b) }

func (s *stream) Kind() transport.StreamKind { return s.kind }

// Close releases the reader and the session behind it.
func (s *stream) Close() error {
	_ = s.r.Close()
	return s.p.closeSession()
}
