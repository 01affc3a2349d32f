// Package gateway serializes access to the device's file sync channel. Every
// operation opens a fresh channel, runs, and disposes it before the next one
// may start.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"path"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"devlink/internal/transport"
	"devlink/internal/util"
)

var ErrGatewayClosed = errors.New("sync gateway is closed")

// FsEntry is one listing record with its absolute path attached.
type FsEntry struct {
	Name  string
	Mode  uint32
	Size  uint64
	MTime int64
	Path  string
}

func (e FsEntry) IsDir() bool { return transport.IsDir(e.Mode) }

// Opener opens a sync channel; transport.Transport.OpenSync satisfies it.
type Opener func(ctx context.Context) (transport.SyncChannel, error)

// Gateway is safe for concurrent use. Callers are queued on a weight-1
// semaphore, so at most one channel exists at a time.
type Gateway struct {
	open Opener
	log  zerolog.Logger
	sem  *semaphore.Weighted

	mu       sync.Mutex
	closed   bool
	cancel   context.CancelFunc // of the in-flight operation
	closing  chan struct{}
	inflight sync.WaitGroup
}

func New(open Opener, log zerolog.Logger) *Gateway {
	return &Gateway{
		open:    open,
		log:     log.With().Str("component", "gateway").Logger(),
		sem:     semaphore.NewWeighted(1),
		closing: make(chan struct{}),
	}
}

// acquire takes the guard and returns a context that Close can cancel. The
// returned release must be called exactly once.
func (g *Gateway) acquire(ctx context.Context) (context.Context, func(), error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, nil, ErrGatewayClosed
	}
	g.inflight.Add(1)
	g.mu.Unlock()

	// a queued caller must also give up when the gateway closes
	waitCtx, stopWait := context.WithCancel(ctx)
	go func() {
		select {
		case <-g.closing:
			stopWait()
		case <-waitCtx.Done():
		}
	}()
	err := g.sem.Acquire(waitCtx, 1)
	stopWait()
	if err != nil {
		g.inflight.Done()
		if g.isClosed() {
			return nil, nil, ErrGatewayClosed
		}
		return nil, nil, err
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.sem.Release(1)
		g.inflight.Done()
		return nil, nil, ErrGatewayClosed
	}
	opCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.mu.Unlock()

	release := func() {
		g.mu.Lock()
		g.cancel = nil
		g.mu.Unlock()
		cancel()
		g.sem.Release(1)
		g.inflight.Done()
	}
	return opCtx, release, nil
}

func (g *Gateway) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// WithChannel runs fn against a freshly opened channel and disposes it
// afterwards, whatever fn returns. The guard covers open, fn and dispose.
func (g *Gateway) WithChannel(ctx context.Context, fn func(ctx context.Context, ch transport.SyncChannel) error) error {
	opCtx, release, err := g.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return g.run(opCtx, fn)
}

func (g *Gateway) run(ctx context.Context, fn func(ctx context.Context, ch transport.SyncChannel) error) error {
	ch, err := g.open(ctx)
	if err != nil {
		return transport.Classify("open", "sync channel", err)
	}
	defer util.Attempt(g.log, "dispose sync channel", ch.Dispose)
	return fn(ctx, ch)
}

// List streams the entries of dir. The guard is held while the caller
// ranges and released when ranging stops, including on break. Ranging the
// sequence again lists again.
func (g *Gateway) List(ctx context.Context, dir string) iter.Seq2[FsEntry, error] {
	return func(yield func(FsEntry, error) bool) {
		opCtx, release, err := g.acquire(ctx)
		if err != nil {
			yield(FsEntry{}, err)
			return
		}
		defer release()

		var stopped bool
		err = g.run(opCtx, func(ctx context.Context, ch transport.SyncChannel) error {
			for raw, err := range ch.List(ctx, dir) {
				if err != nil {
					return transport.Classify("list", dir, err)
				}
				if raw.Name == "." || raw.Name == ".." {
					continue
				}
				e := FsEntry{
					Name:  raw.Name,
					Mode:  raw.Mode,
					Size:  raw.Size,
					MTime: raw.MTime,
					Path:  path.Join(dir, raw.Name),
				}
				if !yield(e, nil) {
					stopped = true
					return nil
				}
			}
			return nil
		})
		if err != nil && !stopped {
			yield(FsEntry{}, err)
		}
	}
}

// ListAll buffers a full listing of dir.
func (g *Gateway) ListAll(ctx context.Context, dir string) ([]FsEntry, error) {
	var out []FsEntry
	for e, err := range g.List(ctx, dir) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Read streams the file at p into fn. The reader is only valid inside fn.
func (g *Gateway) Read(ctx context.Context, p string, fn func(r io.Reader) error) error {
	return g.WithChannel(ctx, func(ctx context.Context, ch transport.SyncChannel) error {
		rc, err := ch.Read(ctx, p)
		if err != nil {
			return transport.Classify("read", p, err)
		}
		defer util.Attempt(g.log, "close "+p, rc.Close)
		if err := fn(&ctxReader{ctx: ctx, r: rc, op: "read", path: p}); err != nil {
			return err
		}
		return nil
	})
}

// WriteRequest describes a push.
type WriteRequest struct {
	Path   string
	Source io.Reader
	// SizeHint is the expected length, negative when unknown.
	SizeHint int64
	// Perm is applied to the remote file; zero keeps the device default.
	Perm fs.FileMode
	// Progress receives the cumulative byte count after every chunk the
	// channel pulls from Source. It can run one chunk ahead of what the
	// device has stored.
	Progress func(sent int64)
}

// Write consumes req.Source into req.Path.
func (g *Gateway) Write(ctx context.Context, req WriteRequest) error {
	return g.WithChannel(ctx, func(ctx context.Context, ch transport.SyncChannel) error {
		src := &countingReader{r: &ctxReader{ctx: ctx, r: req.Source, op: "write", path: req.Path}, progress: req.Progress}
		if err := ch.Write(ctx, req.Path, src, req.Perm); err != nil {
			return transport.Classify("write", req.Path, err)
		}
		return nil
	})
}

// Close refuses new operations, cancels the one in flight and waits until
// its channel is disposed.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	if !g.closed {
		g.closed = true
		close(g.closing)
		if g.cancel != nil {
			g.cancel()
		}
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close gateway: %w", ctx.Err())
	}
}

type countingReader struct {
	r        io.Reader
	n        int64
	progress func(int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		if c.progress != nil {
			c.progress(c.n)
		}
	}
	return n, err
}

// ctxReader fails reads once the operation is cancelled so a Close can cut
// a long transfer short.
type ctxReader struct {
	ctx  context.Context
	r    io.Reader
	op   string
	path string
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, fmt.Errorf("%s %s: %w", c.op, c.path, err)
	}
	return c.r.Read(p)
}
