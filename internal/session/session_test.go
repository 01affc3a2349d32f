package session

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devlink/internal/events"
	"devlink/internal/process"
	"devlink/internal/transfer"
	"devlink/internal/transport"
	"devlink/internal/transport/transporttest"
)

func newSession(t *testing.T) (*Session, *transporttest.Transport, *transporttest.Recorder) {
	t.Helper()
	rec := &transporttest.Recorder{}
	tr := transporttest.New(rec)
	auth := &transporttest.Authenticator{Transport: tr}
	s := New(auth, Options{DeviceID: "kobo"}, zerolog.Nop())
	t.Cleanup(func() { _ = s.Disconnect(context.Background()) })
	return s, tr, rec
}

func TestDisconnectStopsTailBeforeClosingTransport(t *testing.T) {
	s, tr, rec := newSession(t)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))

	tr.OnSpawn = func(_ transport.CommandSpec, p *transporttest.Process) {
		p.KillEnds = false
	}
	require.NoError(t, s.StartLogTail(ctx, transport.Command("logread", "-f")))

	require.NoError(t, s.Disconnect(ctx))

	proc := tr.Spawned()[0]
	assert.True(t, proc.Released())
	closeAt := rec.Index("transport-close")
	require.GreaterOrEqual(t, closeAt, 0)
	assert.Less(t, rec.Index("kill logread -f"), closeAt)
	assert.Less(t, rec.Index("release stdout"), closeAt)
	assert.Less(t, rec.Index("release stderr"), closeAt)
	assert.False(t, s.Connected())
}

func TestFailedConnectLeavesCleanSession(t *testing.T) {
	auth := &transporttest.Authenticator{Err: transport.ErrDeviceBusy}
	s := New(auth, Options{DeviceID: "kobo"}, zerolog.Nop())

	var disconnected int
	require.NoError(t, s.Bus().Subscribe(events.EventDeviceDisconnected, func(events.Device) { disconnected++ }))

	err := s.Connect(context.Background())
	assert.ErrorIs(t, err, transport.ErrDeviceBusy)
	assert.False(t, s.Connected())
	assert.Zero(t, disconnected)
	assert.Contains(t, Describe(err), "already in use")

	_, err = s.Processes()
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = s.Gateway()
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = s.Browser()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnectPublishesAndIsIdempotent(t *testing.T) {
	s, _, rec := newSession(t)
	ctx := context.Background()

	var got []events.Device
	require.NoError(t, s.Bus().Subscribe(events.EventDeviceConnected, func(d events.Device) { got = append(got, d) }))

	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Connect(ctx))
	assert.Len(t, got, 1)
	assert.Equal(t, "kobo", got[0].DeviceID)
	assert.Equal(t, 1, strings.Count(strings.Join(rec.Calls(), "\n"), "authenticate kobo"))
}

func TestDisconnectTwiceIsSafe(t *testing.T) {
	s, tr, _ := newSession(t)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Disconnect(ctx))
	require.NoError(t, s.Disconnect(ctx))
	assert.True(t, tr.Closed())
}

func TestTransportLossForcesDisconnect(t *testing.T) {
	s, tr, _ := newSession(t)
	ctx := context.Background()

	gone := make(chan events.Device, 1)
	require.NoError(t, s.Bus().Subscribe(events.EventDeviceDisconnected, func(d events.Device) { gone <- d }))
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.StartLogTail(ctx, transport.Command("logread", "-f")))

	tr.Drop()

	select {
	case d := <-gone:
		assert.Equal(t, "connection lost", d.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect after transport loss")
	}
	assert.False(t, s.Connected())
	assert.True(t, tr.Spawned()[0].Released())
}

// freshAuth hands out a new transport per connect.
type freshAuth struct {
	mu  sync.Mutex
	trs []*transporttest.Transport
}

func (a *freshAuth) Authenticate(ctx context.Context, deviceID string) (transport.Transport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tr := transporttest.New(nil)
	a.trs = append(a.trs, tr)
	return tr, nil
}

func TestLateLossOfOldTransportKeepsNewConnection(t *testing.T) {
	auth := &freshAuth{}
	s := New(auth, Options{DeviceID: "kobo"}, zerolog.Nop())
	t.Cleanup(func() { _ = s.Disconnect(context.Background()) })
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx))
	s.mu.Lock()
	old := s.conn
	s.mu.Unlock()
	require.NoError(t, s.Disconnect(ctx))
	require.NoError(t, s.Connect(ctx))

	var gone int
	require.NoError(t, s.Bus().Subscribe(events.EventDeviceDisconnected, func(events.Device) { gone++ }))

	// The old transport reports its loss only after the reconnect.
	lost := make(chan struct{})
	close(lost)
	s.watch(old, lost, make(chan struct{}))

	assert.True(t, s.Connected())
	assert.Zero(t, gone)
	require.Len(t, auth.trs, 2)
	assert.False(t, auth.trs[1].Closed())
}

func TestLossRacingDisconnectKeepsReconnect(t *testing.T) {
	auth := &freshAuth{}
	s := New(auth, Options{DeviceID: "kobo"}, zerolog.Nop())
	t.Cleanup(func() { _ = s.Disconnect(context.Background()) })
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))

	s.mu.Lock()
	auth.trs[0].Drop()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.teardownLocked(ctx, ""))
	s.mu.Unlock()
	require.NoError(t, s.Connect(ctx))

	time.Sleep(50 * time.Millisecond)
	assert.True(t, s.Connected())
	require.Len(t, auth.trs, 2)
	assert.False(t, auth.trs[1].Closed())
}

func TestProcessEventsReachBus(t *testing.T) {
	s, tr, _ := newSession(t)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))

	var mu sync.Mutex
	var lines []string
	ended := make(chan events.ProcessEnded, 1)
	require.NoError(t, s.Bus().Subscribe(events.EventProcessLine, func(l events.ProcessLine) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, l.Role+"/"+l.Stream+": "+l.Line)
	}))
	require.NoError(t, s.Bus().Subscribe(events.EventProcessEnded, func(e events.ProcessEnded) { ended <- e }))

	tr.OnSpawn = func(_ transport.CommandSpec, p *transporttest.Process) {
		p.Stdout().Emit("hi\n")
		p.EndAll()
	}
	require.NoError(t, s.RunCommand(ctx, "echo hi", transport.OutputAuto))

	select {
	case e := <-ended:
		assert.Equal(t, "command", e.Role)
		assert.NoError(t, e.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("command did not end")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"command/stdout: hi"}, lines)
	assert.Equal(t, `sh -c "echo hi"`, tr.Spawned()[0].Spec.Line())
}

func TestSecondTailIsRejected(t *testing.T) {
	s, tr, _ := newSession(t)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))

	require.NoError(t, s.StartLogTail(ctx, transport.Command("logread", "-f")))
	err := s.StartLogTail(ctx, transport.Command("logread", "-f"))
	assert.ErrorIs(t, err, process.ErrAlreadyRunning)
	assert.Len(t, tr.Spawned(), 1)

	require.NoError(t, s.Stop(ctx, process.LogTail))
}

func TestPushWritesIntoDirWithProgress(t *testing.T) {
	s, tr, _ := newSession(t)
	ctx := context.Background()
	tr.FS.Dir("/mnt/onboard/.kobo")
	require.NoError(t, s.Connect(ctx))

	payload := bytes.Repeat([]byte("z"), 1000)
	var fractions []float64
	p, err := s.Push(ctx, PushRequest{
		Name:   "/home/me/builds/KoboRoot.tgz",
		Source: &transporttest.ChunkReader{R: bytes.NewReader(payload), Size: 500},
		Size:   1000,
		Dir:    "/mnt/onboard/.kobo",
	}, func(p transfer.Progress) { fractions = append(fractions, p.Fraction) })
	require.NoError(t, err)

	assert.Equal(t, []float64{0.5, 1.0, 1.0}, fractions)
	assert.Equal(t, "/mnt/onboard/.kobo/KoboRoot.tgz", p.Path)
	assert.Equal(t, xxhash.Sum64(payload), p.Digest)
	got, ok := tr.FS.Content("/mnt/onboard/.kobo/KoboRoot.tgz")
	require.True(t, ok)
	assert.Equal(t, payload, got)
}

func TestPushFailureMarksTaskFailed(t *testing.T) {
	s, _, _ := newSession(t)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))

	p, err := s.Push(ctx, PushRequest{Name: "x", Source: bytes.NewReader([]byte("x")), Size: 1, Dir: "/missing"}, nil)
	assert.ErrorIs(t, err, transport.ErrPathNotFound)
	assert.Equal(t, transfer.Failed, p.Status)
}

func TestPullAndHead(t *testing.T) {
	s, tr, _ := newSession(t)
	ctx := context.Background()
	tr.FS.File("/var/log/messages", []byte("0123456789abcdef"))
	require.NoError(t, s.Connect(ctx))

	var dst bytes.Buffer
	p, err := s.Pull(ctx, "var/log/messages", -1, &dst, nil)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", dst.String())
	assert.Equal(t, int64(16), p.Sent)
	assert.False(t, p.TotalKnown)

	head, err := s.Head(ctx, "/var/log/messages", 10)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(head))
}

func TestBrowserListsThroughSession(t *testing.T) {
	s, tr, _ := newSession(t)
	ctx := context.Background()
	tr.FS.Dir("/A").File("/b.txt", nil).File("/a.txt", nil)
	require.NoError(t, s.Connect(ctx))

	listed := make(chan events.Listed, 1)
	require.NoError(t, s.Bus().Subscribe(events.EventBrowserListed, func(l events.Listed) { listed <- l }))

	b, err := s.Browser()
	require.NoError(t, err)
	entries, err := b.Refresh(ctx)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"A", "a.txt", "b.txt"}, names)
	assert.Equal(t, events.Listed{Path: "/", Entries: 3}, <-listed)
}

func TestRunActionCapturesOutput(t *testing.T) {
	s, tr, _ := newSession(t)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))

	tr.OnSpawn = func(_ transport.CommandSpec, p *transporttest.Process) {
		p.Stdout().Emit("ok\n")
		p.EndAll()
	}
	spec := transport.ShellCommand("gammaray")
	spec.Output = transport.OutputCombined
	out, err := s.RunAction(ctx, spec, 4096)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestDisconnectLetsPresetCommandFinish(t *testing.T) {
	s, tr, rec := newSession(t)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))

	tr.OnSpawn = func(_ transport.CommandSpec, p *transporttest.Process) {
		p.Stdout().Emit("waiting for nickel\n")
	}
	out, err := s.RunAction(ctx, transport.ShellCommand("gammaray"), 4096)
	require.NoError(t, err)
	assert.Equal(t, "waiting for nickel", out)
	proc := tr.Spawned()[0]

	disconnected := make(chan error, 1)
	go func() { disconnected <- s.Disconnect(ctx) }()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, tr.Closed())
	assert.False(t, proc.Killed())
	assert.False(t, proc.Released())

	proc.EndAll()
	select {
	case err := <-disconnected:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect still waiting after the command ended")
	}
	assert.True(t, proc.Released())
	assert.Less(t, rec.Index("release stdout"), rec.Index("transport-close"))
}

func TestDisconnectGivesUpOnStuckPresetCommand(t *testing.T) {
	rec := &transporttest.Recorder{}
	tr := transporttest.New(rec)
	s := New(&transporttest.Authenticator{Transport: tr}, Options{DeviceID: "kobo", OneShotGrace: 20 * time.Millisecond}, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))

	tr.OnSpawn = func(_ transport.CommandSpec, p *transporttest.Process) {
		p.Stdout().Emit("hung\n")
	}
	_, err := s.RunAction(ctx, transport.ShellCommand("gammaray"), 4096)
	require.NoError(t, err)

	require.NoError(t, s.Disconnect(ctx))
	assert.True(t, tr.Closed())
	assert.False(t, s.Connected())
}

func TestOperationsRequireConnection(t *testing.T) {
	s, _, _ := newSession(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.StartLogTail(ctx, transport.Command("logread")), ErrNotConnected)
	assert.ErrorIs(t, s.RunCommand(ctx, "ls", transport.OutputAuto), ErrNotConnected)
	_, err := s.Head(ctx, "/", 1)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = s.RunAction(ctx, transport.Command("reboot"), 0)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, s.Stop(ctx, process.LogTail))
	assert.Equal(t, "Not connected. Connect to the device first.", Describe(err))
}
