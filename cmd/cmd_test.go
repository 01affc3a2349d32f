package cmd

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devlink/internal/gateway"
	"devlink/internal/history"
	"devlink/internal/process"
	"devlink/internal/session"
	"devlink/internal/transport"
	"devlink/internal/transport/transporttest"
	"devlink/internal/util"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := out
	out = util.NewSafePrinter(&buf)
	t.Cleanup(func() { out = prev })
	return &buf
}

func connected(t *testing.T) (*session.Session, *transporttest.Transport, *console) {
	t.Helper()
	tr := transporttest.New(&transporttest.Recorder{})
	s := session.New(&transporttest.Authenticator{Transport: tr}, session.Options{DeviceID: "kobo"}, zerolog.Nop())
	con, err := attachConsole(s)
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Disconnect(context.Background()) })
	return s, tr, con
}

func TestParsePerm(t *testing.T) {
	p, err := parsePerm("")
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0), p)

	p, err = parsePerm("0644")
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o644), p)

	_, err = parsePerm("rw-r--r--")
	assert.Error(t, err)
	_, err = parsePerm("1777")
	assert.Error(t, err)
}

func TestCommandOutputAndStatusLine(t *testing.T) {
	buf := captureOutput(t)
	s, tr, con := connected(t)
	ctx := context.Background()

	tr.OnSpawn = func(_ transport.CommandSpec, p *transporttest.Process) {
		p.Stdout().Emit("hi\n")
		p.EndAll()
	}
	con.reset()
	require.NoError(t, s.RunCommand(ctx, "echo hi", transport.OutputAuto))
	require.NoError(t, con.wait(ctx, s, process.AdHocCommand, nil))

	assert.Contains(t, buf.String(), "hi\n")
	assert.Contains(t, buf.String(), "command ended")
}

func TestWaitStopsTailOnRequest(t *testing.T) {
	buf := captureOutput(t)
	s, tr, con := connected(t)
	ctx := context.Background()

	con.reset()
	require.NoError(t, s.StartLogTail(ctx, transport.Command("logread", "-f")))

	stop := make(chan struct{})
	close(stop)
	require.NoError(t, con.wait(ctx, s, process.LogTail, stop))

	p, err := s.Processes()
	require.NoError(t, err)
	assert.Equal(t, process.Stopped, p.State(process.LogTail))
	assert.True(t, tr.Spawned()[0].Released())
	assert.Contains(t, buf.String(), "logread ended")
}

func TestWaitReturnsOnCancel(t *testing.T) {
	captureOutput(t)
	s, _, con := connected(t)

	con.reset()
	require.NoError(t, s.StartLogTail(context.Background(), transport.Command("logread", "-f")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, con.wait(ctx, s, process.LogTail, nil))
}

func TestPrintListing(t *testing.T) {
	buf := captureOutput(t)
	printListing("/mnt", []gateway.FsEntry{
		{Name: "onboard", Mode: transport.ModeDir | 0o755, Path: "/mnt/onboard"},
		{Name: "a.txt", Mode: 0o644, Size: 2048, Path: "/mnt/a.txt"},
	})
	text := buf.String()
	assert.Contains(t, text, "onboard/")
	assert.Contains(t, text, "a.txt")
	assert.Contains(t, text, "2.0 KiB")

	buf.Reset()
	printListing("/empty", nil)
	assert.Contains(t, buf.String(), "(empty)")
}

func TestStatusName(t *testing.T) {
	assert.Equal(t, "logread", statusName(process.LogTail.String()))
	assert.Equal(t, "command", statusName(process.AdHocCommand.String()))
}

func useHistory(t *testing.T) *history.Store {
	t.Helper()
	prev := recent
	recent = history.New(filepath.Join(t.TempDir(), "history.json"))
	t.Cleanup(func() { recent = prev })
	return recent
}

func TestPromptingHoldsOutputBack(t *testing.T) {
	buf := captureOutput(t)
	prompting(func() { out.Println("late tail line") })
	out.Println("after prompt")
	assert.Equal(t, "after prompt\n", buf.String())
}

func TestHistorySearcherUsesHistorySearch(t *testing.T) {
	store := useHistory(t)
	require.NoError(t, store.Add("kobo", "/var/log/messages"))
	require.NoError(t, store.Add("kobo", "/mnt/onboard/Book.epub"))
	require.NoError(t, store.Add("other", "/mnt/onboard/book2.epub"))

	items := append(store.Recent("kobo"), itemOtherPath)
	search := historySearcher("kobo", items)
	var shown []string
	for i := range items {
		if search("BOOK", i) {
			shown = append(shown, items[i])
		}
	}
	assert.Equal(t, []string{"/mnt/onboard/Book.epub", itemOtherPath}, shown)

	shown = nil
	for i := range items {
		if search("log", i) {
			shown = append(shown, items[i])
		}
	}
	assert.Equal(t, []string{"/var/log/messages", itemOtherPath}, shown)
}

func TestPullRecentForgetsMissingPath(t *testing.T) {
	captureOutput(t)
	t.Chdir(t.TempDir())
	store := useHistory(t)
	s, tr, _ := connected(t)
	ctx := context.Background()
	tr.FS.File("/mnt/onboard/keep.txt", []byte("kept"))
	require.NoError(t, store.Add("kobo", "/mnt/onboard/gone.txt"))
	require.NoError(t, store.Add("kobo", "/mnt/onboard/keep.txt"))

	err := pullRecent(ctx, s, "/mnt/onboard/gone.txt")
	assert.ErrorIs(t, err, transport.ErrPathNotFound)
	assert.Equal(t, []string{"/mnt/onboard/keep.txt"}, store.Recent("kobo"))
	_, statErr := os.Stat("gone.txt")
	assert.True(t, os.IsNotExist(statErr))

	require.NoError(t, pullRecent(ctx, s, "/mnt/onboard/keep.txt"))
	data, err := os.ReadFile("keep.txt")
	require.NoError(t, err)
	assert.Equal(t, "kept", string(data))
	assert.Equal(t, []string{"/mnt/onboard/keep.txt"}, store.Recent("kobo"))
}

func TestPreviewNotesTruncationOnlyForLongerFiles(t *testing.T) {
	buf := captureOutput(t)
	s, tr, _ := connected(t)
	ctx := context.Background()
	tr.FS.File("/exact.txt", []byte("0123456789"))
	tr.FS.File("/longer.txt", []byte("0123456789A"))

	require.NoError(t, previewFile(ctx, s, "/exact.txt", 10))
	assert.Contains(t, buf.String(), "0123456789")
	assert.NotContains(t, buf.String(), "shown")

	buf.Reset()
	require.NoError(t, previewFile(ctx, s, "/longer.txt", 10))
	text := buf.String()
	assert.Contains(t, text, "0123456789\n")
	assert.NotContains(t, text, "A")
	assert.Equal(t, 1, strings.Count(text, "(first 10 B shown)"))
}
