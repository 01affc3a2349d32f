package transporttest

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"iter"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"devlink/internal/transport"
)

type node struct {
	mode  uint32
	data  []byte
	mtime int64
}

// FS is a flat in-memory tree keyed by absolute path.
type FS struct {
	mu    sync.Mutex
	nodes map[string]*node
	fail  map[string]error

	// ChunkSize bounds how many bytes a single Read of a remote file returns.
	ChunkSize int
	// OpDelay is slept inside every channel operation to widen race windows.
	OpDelay time.Duration
}

func NewFS() *FS {
	return &FS{
		nodes:     map[string]*node{"/": {mode: transport.ModeDir | 0o755}},
		fail:      map[string]error{},
		ChunkSize: 32 * 1024,
	}
}

// Dir creates a directory and its parents.
func (f *FS) Dir(p string) *FS {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mkdirAll(path.Clean(p))
	return f
}

func (f *FS) mkdirAll(p string) {
	for cur := p; cur != "/"; cur = path.Dir(cur) {
		if _, ok := f.nodes[cur]; !ok {
			f.nodes[cur] = &node{mode: transport.ModeDir | 0o755}
		}
	}
}

// File stores data at p, creating parent directories.
func (f *FS) File(p string, data []byte) *FS {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = path.Clean(p)
	f.mkdirAll(path.Dir(p))
	f.nodes[p] = &node{mode: transport.ModeRegular | 0o644, data: append([]byte(nil), data...)}
	return f
}

// Symlink adds a symlink entry at p. Its target is not modelled.
func (f *FS) Symlink(p string) *FS {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = path.Clean(p)
	f.mkdirAll(path.Dir(p))
	f.nodes[p] = &node{mode: transport.ModeSymlink | 0o777}
	return f
}

// FailOn makes every operation on p return err.
func (f *FS) FailOn(p string, err error) *FS {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[path.Clean(p)] = err
	return f
}

// Content returns the bytes stored at p.
func (f *FS) Content(p string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[path.Clean(p)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// Mode returns the stored st_mode of p.
func (f *FS) Mode(p string) (uint32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[path.Clean(p)]
	if !ok {
		return 0, false
	}
	return n.mode, true
}

func (f *FS) children(dir string) ([]transport.DirEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir = path.Clean(dir)
	if err, ok := f.fail[dir]; ok {
		return nil, err
	}
	n, ok := f.nodes[dir]
	if !ok {
		return nil, fs.ErrNotExist
	}
	if !transport.IsDir(n.mode) {
		return nil, fs.ErrInvalid
	}
	prefix := dir
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var out []transport.DirEntry
	for p, c := range f.nodes {
		if p == dir || !strings.HasPrefix(p, prefix) || strings.Contains(p[len(prefix):], "/") {
			continue
		}
		out = append(out, transport.DirEntry{Name: p[len(prefix):], Mode: c.mode, Size: uint64(len(c.data)), MTime: c.mtime})
	}
	// Map order is random; sort so listings are deterministic before the
	// browser applies its own ordering.
	sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	return out, nil
}

type syncChannel struct {
	t        *Transport
	mu       sync.Mutex
	disposed bool
}

func (c *syncChannel) pause(ctx context.Context) error {
	if c.t.FS.OpDelay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(c.t.FS.OpDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *syncChannel) List(ctx context.Context, p string) iter.Seq2[transport.DirEntry, error] {
	return func(yield func(transport.DirEntry, error) bool) {
		c.t.Recorder.Add("sync-list %s", p)
		if err := c.pause(ctx); err != nil {
			yield(transport.DirEntry{}, err)
			return
		}
		entries, err := c.t.FS.children(p)
		if err != nil {
			yield(transport.DirEntry{}, err)
			return
		}
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (c *syncChannel) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	c.t.Recorder.Add("sync-read %s", p)
	if err := c.pause(ctx); err != nil {
		return nil, err
	}
	f := c.t.FS
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[path.Clean(p)]; ok {
		return nil, err
	}
	n, ok := f.nodes[path.Clean(p)]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return &countingReadCloser{r: &ChunkReader{R: bytes.NewReader(n.data), Size: f.ChunkSize}}, nil
}

func (c *syncChannel) Write(ctx context.Context, p string, src io.Reader, perm fs.FileMode) error {
	c.t.Recorder.Add("sync-write %s", p)
	if err := c.pause(ctx); err != nil {
		return err
	}
	f := c.t.FS
	f.mu.Lock()
	if err, ok := f.fail[path.Clean(p)]; ok {
		f.mu.Unlock()
		return err
	}
	parent, ok := f.nodes[path.Dir(path.Clean(p))]
	f.mu.Unlock()
	if !ok || !transport.IsDir(parent.mode) {
		return fs.ErrNotExist
	}

	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	for {
		n, err := src.Read(chunk)
		buf.Write(chunk[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	mode := transport.ModeRegular | 0o644
	if perm != 0 {
		mode = transport.ModeRegular | uint32(perm.Perm())
	}
	f.mu.Lock()
	f.nodes[path.Clean(p)] = &node{mode: mode, data: buf.Bytes(), mtime: time.Now().Unix()}
	f.mu.Unlock()
	return nil
}

func (c *syncChannel) Dispose() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return nil
	}
	c.disposed = true
	c.t.mu.Lock()
	c.t.inFlight--
	c.t.mu.Unlock()
	c.t.Recorder.Add("sync-dispose")
	return nil
}

type countingReadCloser struct {
	r io.Reader
}

func (c *countingReadCloser) Read(p []byte) (int, error) { return c.r.Read(p) }
func (c *countingReadCloser) Close() error               { return nil }

// ChunkReader returns at most Size bytes per Read.
type ChunkReader struct {
	R    io.Reader
	Size int
}

func (c *ChunkReader) Read(p []byte) (int, error) {
	if c.Size > 0 && len(p) > c.Size {
		p = p[:c.Size]
	}
	return c.R.Read(p)
}
