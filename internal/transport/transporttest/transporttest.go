// Package transporttest provides in-memory implementations of the transport
// contract for tests. Every observable action is appended to a shared
// Recorder so tests can assert call order.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"devlink/internal/transport"
)

// Recorder is an ordered, goroutine-safe call log.
type Recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *Recorder) Add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

// Calls returns a copy of the log.
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Index returns the position of the first call equal to name, or -1.
func (r *Recorder) Index(name string) int {
	for i, c := range r.Calls() {
		if c == name {
			return i
		}
	}
	return -1
}

// Authenticator hands out a prepared Transport or fails with Err.
type Authenticator struct {
	Transport *Transport
	Err       error

	mu    sync.Mutex
	calls int
}

func (a *Authenticator) Authenticate(ctx context.Context, deviceID string) (transport.Transport, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.Err != nil {
		return nil, a.Err
	}
	if a.Transport.Recorder != nil {
		a.Transport.Recorder.Add("authenticate %s", deviceID)
	}
	return a.Transport, nil
}

func (a *Authenticator) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Transport is a scripted device.
type Transport struct {
	Recorder *Recorder
	Split    bool
	FS       *FS

	// SpawnErr makes every Spawn fail.
	SpawnErr error
	// OnSpawn scripts the output of a freshly spawned process. It runs
	// before Spawn returns.
	OnSpawn func(spec transport.CommandSpec, p *Process)
	// OpenSyncErr makes every OpenSync fail.
	OpenSyncErr error

	mu        sync.Mutex
	spawned   []*Process
	done      chan struct{}
	doneOnce  sync.Once
	closed    bool
	inFlight  int
	maxFlight int
}

// New returns a transport with an empty filesystem.
func New(rec *Recorder) *Transport {
	if rec == nil {
		rec = &Recorder{}
	}
	return &Transport{Recorder: rec, Split: true, FS: NewFS()}
}

func (t *Transport) doneCh() chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == nil {
		t.done = make(chan struct{})
	}
	return t.done
}

func (t *Transport) Spawn(ctx context.Context, spec transport.CommandSpec) (transport.Process, error) {
	if t.SpawnErr != nil {
		return nil, t.SpawnErr
	}
	t.Recorder.Add("spawn %s", spec.Line())
	p := NewProcess(t.Recorder, spec.Split(t.Split))
	p.Spec = spec
	t.mu.Lock()
	t.spawned = append(t.spawned, p)
	t.mu.Unlock()
	if t.OnSpawn != nil {
		t.OnSpawn(spec, p)
	}
	return p, nil
}

// Spawned returns every process created so far.
func (t *Transport) Spawned() []*Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Process(nil), t.spawned...)
}

func (t *Transport) OpenSync(ctx context.Context) (transport.SyncChannel, error) {
	if t.OpenSyncErr != nil {
		return nil, t.OpenSyncErr
	}
	t.mu.Lock()
	t.inFlight++
	if t.inFlight > t.maxFlight {
		t.maxFlight = t.inFlight
	}
	t.mu.Unlock()
	t.Recorder.Add("sync-open")
	return &syncChannel{t: t}, nil
}

// MaxConcurrentSync is the highest number of simultaneously open sync channels.
func (t *Transport) MaxConcurrentSync() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxFlight
}

// OpenSyncChannels is the number of channels not yet disposed.
func (t *Transport) OpenSyncChannels() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight
}

func (t *Transport) SupportsSplitOutput() bool { return t.Split }

func (t *Transport) Done() <-chan struct{} { return t.doneCh() }

// Drop simulates the link dying underneath the session.
func (t *Transport) Drop() {
	ch := t.doneCh()
	t.doneOnce.Do(func() { close(ch) })
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.Recorder.Add("transport-close")
	t.Drop()
	return nil
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Process is a fake remote process whose output is pushed by the test.
type Process struct {
	Spec transport.CommandSpec
	// KillErr is returned by Kill.
	KillErr error
	// KillEnds makes Kill end every stream, as a real remote exit would.
	KillEnds bool

	rec     *Recorder
	streams []*Stream
	mu      sync.Mutex
	killed  bool
}

// NewProcess builds a process with stdout+stderr when split, else one
// combined stream.
func NewProcess(rec *Recorder, split bool) *Process {
	p := &Process{rec: rec, KillEnds: true}
	if split {
		p.streams = []*Stream{newStream(rec, transport.StreamStdout), newStream(rec, transport.StreamStderr)}
	} else {
		p.streams = []*Stream{newStream(rec, transport.StreamCombined)}
	}
	return p
}

func (p *Process) Streams() []transport.Stream {
	out := make([]transport.Stream, len(p.streams))
	for i, s := range p.streams {
		out[i] = s
	}
	return out
}

// Stream returns the i-th fake stream for scripting.
func (p *Process) Stream(i int) *Stream { return p.streams[i] }

// Stdout is the first stream (the combined one when not split).
func (p *Process) Stdout() *Stream { return p.streams[0] }

// Stderr is nil for combined processes.
func (p *Process) Stderr() *Stream {
	if len(p.streams) < 2 {
		return nil
	}
	return p.streams[1]
}

// EndAll ends every stream.
func (p *Process) EndAll() {
	for _, s := range p.streams {
		s.End()
	}
}

func (p *Process) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.rec.Add("kill %s", p.Spec.Line())
	if p.KillEnds {
		p.EndAll()
	}
	return p.KillErr
}

func (p *Process) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// Released reports whether every stream has been closed by the consumer.
func (p *Process) Released() bool {
	for _, s := range p.streams {
		if !s.Released() {
			return false
		}
	}
	return true
}

type chunk struct {
	data []byte
	err  error
}

// Stream is a fake output stream fed by Emit/Fail/End.
type Stream struct {
	kind transport.StreamKind
	rec  *Recorder

	ch        chan chunk
	closed    chan struct{}
	endOnce   sync.Once
	closeOnce sync.Once
	pending   []byte
}

func newStream(rec *Recorder, kind transport.StreamKind) *Stream {
	return &Stream{
		kind:   kind,
		rec:    rec,
		ch:     make(chan chunk, 256),
		closed: make(chan struct{}),
	}
}

func (s *Stream) Kind() transport.StreamKind { return s.kind }

// Emit queues one chunk. It is delivered by a single Read when the caller's
// buffer is large enough.
func (s *Stream) Emit(data string) {
	s.ch <- chunk{data: []byte(data)}
}

// EmitBytes queues raw bytes.
func (s *Stream) EmitBytes(data []byte) {
	s.ch <- chunk{data: append([]byte(nil), data...)}
}

// Fail queues a read error.
func (s *Stream) Fail(err error) {
	s.ch <- chunk{err: err}
}

// End signals end of stream after queued chunks.
func (s *Stream) End() {
	s.endOnce.Do(func() { close(s.ch) })
}

func (s *Stream) Read(p []byte) (int, error) {
	if len(s.pending) > 0 {
		n := copy(p, s.pending)
		s.pending = s.pending[n:]
		return n, nil
	}
	select {
	case <-s.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	select {
	case c, ok := <-s.ch:
		if !ok {
			return 0, io.EOF
		}
		if c.err != nil {
			return 0, c.err
		}
		n := copy(p, c.data)
		s.pending = c.data[n:]
		return n, nil
	case <-s.closed:
		return 0, io.ErrClosedPipe
	}
}

func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.rec.Add("release %s", s.kind)
	})
	return nil
}

func (s *Stream) Released() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// ErrInjected is a generic failure for tests.
var ErrInjected = errors.New("injected failure")
