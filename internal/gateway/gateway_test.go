package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devlink/internal/transport"
	"devlink/internal/transport/transporttest"
)

func newGateway(tr *transporttest.Transport) *Gateway {
	return New(tr.OpenSync, zerolog.Nop())
}

func TestListAttachesPathsAndDisposes(t *testing.T) {
	tr := transporttest.New(nil)
	tr.FS.Dir("/mnt/onboard").File("/mnt/onboard/book.epub", []byte("abc"))
	g := newGateway(tr)

	entries, err := g.ListAll(context.Background(), "/mnt/onboard")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "book.epub", entries[0].Name)
	assert.Equal(t, "/mnt/onboard/book.epub", entries[0].Path)
	assert.Equal(t, uint64(3), entries[0].Size)
	assert.False(t, entries[0].IsDir())
	assert.Equal(t, 0, tr.OpenSyncChannels())
}

func TestListEarlyBreakReleasesGuard(t *testing.T) {
	tr := transporttest.New(nil)
	tr.FS.File("/a", nil).File("/b", nil).File("/c", nil)
	g := newGateway(tr)
	ctx := context.Background()

	n := 0
	for _, err := range g.List(ctx, "/") {
		require.NoError(t, err)
		n++
		break
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, tr.OpenSyncChannels())

	all, err := g.ListAll(ctx, "/")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestListMissingPathDisposesChannel(t *testing.T) {
	rec := &transporttest.Recorder{}
	tr := transporttest.New(rec)
	g := newGateway(tr)

	_, err := g.ListAll(context.Background(), "/nope")
	assert.ErrorIs(t, err, transport.ErrPathNotFound)
	assert.Equal(t, 0, tr.OpenSyncChannels())
	assert.Equal(t, []string{"sync-open", "sync-list /nope", "sync-dispose"}, rec.Calls())
}

func TestPermissionErrorSurfaces(t *testing.T) {
	tr := transporttest.New(nil)
	tr.FS.Dir("/root").FailOn("/root", transport.ErrPermission)
	g := newGateway(tr)

	_, err := g.ListAll(context.Background(), "/root")
	assert.ErrorIs(t, err, transport.ErrPermission)
}

func TestConcurrentOperationsNeverOverlap(t *testing.T) {
	tr := transporttest.New(nil)
	tr.FS.OpDelay = 5 * time.Millisecond
	tr.FS.File("/f", []byte("data"))
	g := newGateway(tr)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := g.ListAll(ctx, "/")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Read(ctx, "/f", func(r io.Reader) error {
				_, err := io.Copy(io.Discard, r)
				return err
			}))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, tr.MaxConcurrentSync())
	assert.Equal(t, 0, tr.OpenSyncChannels())
}

func TestReadStreamsContent(t *testing.T) {
	tr := transporttest.New(nil)
	tr.FS.File("/etc/version", []byte("N705,4.38"))
	tr.FS.ChunkSize = 3
	g := newGateway(tr)

	var got bytes.Buffer
	err := g.Read(context.Background(), "/etc/version", func(r io.Reader) error {
		_, err := io.Copy(&got, r)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "N705,4.38", got.String())
}

func TestReadCallbackErrorStillDisposes(t *testing.T) {
	tr := transporttest.New(nil)
	tr.FS.File("/x", []byte("x"))
	g := newGateway(tr)

	err := g.Read(context.Background(), "/x", func(io.Reader) error { return transporttest.ErrInjected })
	assert.ErrorIs(t, err, transporttest.ErrInjected)
	assert.Equal(t, 0, tr.OpenSyncChannels())
}

func TestWriteReportsCumulativeProgress(t *testing.T) {
	tr := transporttest.New(nil)
	tr.FS.Dir("/mnt/onboard/.kobo")
	g := newGateway(tr)
	payload := bytes.Repeat([]byte{'k'}, 1000)

	var seen []int64
	err := g.Write(context.Background(), WriteRequest{
		Path:     "/mnt/onboard/.kobo/KoboRoot.tgz",
		Source:   &transporttest.ChunkReader{R: bytes.NewReader(payload), Size: 500},
		SizeHint: 1000,
		Progress: func(sent int64) { seen = append(seen, sent) },
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{500, 1000}, seen)

	got, ok := tr.FS.Content("/mnt/onboard/.kobo/KoboRoot.tgz")
	require.True(t, ok)
	assert.Equal(t, payload, got)
}

func TestWriteAppliesPerm(t *testing.T) {
	tr := transporttest.New(nil)
	g := newGateway(tr)

	require.NoError(t, g.Write(context.Background(), WriteRequest{
		Path:   "/run.sh",
		Source: bytes.NewReader([]byte("#!/bin/sh\n")),
		Perm:   0o755,
	}))
	mode, ok := tr.FS.Mode("/run.sh")
	require.True(t, ok)
	assert.Equal(t, uint32(0o755), mode&0o777)
}

func TestWriteIntoMissingDirectory(t *testing.T) {
	g := newGateway(transporttest.New(nil))
	err := g.Write(context.Background(), WriteRequest{Path: "/missing/file", Source: bytes.NewReader(nil)})
	assert.ErrorIs(t, err, transport.ErrPathNotFound)
}

func TestOpenFailureReleasesGuard(t *testing.T) {
	tr := transporttest.New(nil)
	tr.OpenSyncErr = errors.New("channel refused")
	g := newGateway(tr)

	_, err := g.ListAll(context.Background(), "/")
	assert.ErrorIs(t, err, transport.ErrChannelIO)

	tr.OpenSyncErr = nil
	_, err = g.ListAll(context.Background(), "/")
	assert.NoError(t, err)
}

type slowReader struct{}

func (slowReader) Read(p []byte) (int, error) {
	time.Sleep(5 * time.Millisecond)
	p[0] = 'x'
	return 1, nil
}

func TestCloseCancelsInFlightAndRefusesNew(t *testing.T) {
	tr := transporttest.New(nil)
	g := newGateway(tr)
	ctx := context.Background()

	started := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		var once sync.Once
		result <- g.Write(ctx, WriteRequest{
			Path:     "/endless",
			Source:   slowReader{},
			SizeHint: -1,
			Progress: func(int64) { once.Do(func() { close(started) }) },
		})
	}()
	<-started

	require.NoError(t, g.Close(ctx))
	assert.Equal(t, 0, tr.OpenSyncChannels())

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("write did not stop")
	}

	_, err := g.ListAll(ctx, "/")
	assert.ErrorIs(t, err, ErrGatewayClosed)
	assert.NoError(t, g.Close(ctx))
}

func TestContextCancelWhileQueued(t *testing.T) {
	tr := transporttest.New(nil)
	g := newGateway(tr)

	hold := make(chan struct{})
	entered := make(chan struct{})
	go func() {
		_ = g.WithChannel(context.Background(), func(context.Context, transport.SyncChannel) error {
			close(entered)
			<-hold
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.ListAll(ctx, "/")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(hold)
}
