package browser

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devlink/internal/gateway"
	"devlink/internal/transport"
	"devlink/internal/transport/transporttest"
)

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"":                  "/",
		"/":                 "/",
		"mnt/onboard":       "/mnt/onboard",
		"/mnt/onboard/":     "/mnt/onboard",
		"//mnt///onboard":   "/mnt/onboard",
		"/mnt/./onboard/..": "/mnt",
		"/..":               "/",
		`\mnt\onboard`:      "/mnt/onboard",
	}
	for in, want := range tests {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestUpAndJoin(t *testing.T) {
	assert.Equal(t, "/", Up("/"))
	assert.Equal(t, "/", Up("/mnt"))
	assert.Equal(t, "/mnt", Up("/mnt/onboard/"))
	assert.Equal(t, "/mnt/onboard", Join("/mnt", "onboard"))
	assert.Equal(t, "/etc", Join("/", "etc"))
	assert.Equal(t, "/", Join("/mnt", ".."))
	assert.Equal(t, "onboard", Base("/mnt/onboard"))
	assert.Equal(t, "/", Base("/"))
}

func entry(name string, dir bool) gateway.FsEntry {
	mode := transport.ModeRegular | 0o644
	if dir {
		mode = transport.ModeDir | 0o755
	}
	return gateway.FsEntry{Name: name, Mode: mode}
}

func names(entries []gateway.FsEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestSortDirectoriesFirstCaseInsensitive(t *testing.T) {
	entries := []gateway.FsEntry{entry("b.txt", false), entry("A", true), entry("a.txt", false)}
	Sort(entries)
	assert.Equal(t, []string{"A", "a.txt", "b.txt"}, names(entries))
}

func TestSortIsTotal(t *testing.T) {
	entries := []gateway.FsEntry{
		entry("readme", false), entry("README", false), entry("Zeta", true),
		entry("alpha", true), entry("Readme", false), entry("beta", false),
	}
	Sort(entries)
	assert.Equal(t, []string{"alpha", "Zeta", "beta", "README", "Readme", "readme"}, names(entries))
}

func TestSymlinkSortsAsFile(t *testing.T) {
	entries := []gateway.FsEntry{
		{Name: "a-link", Mode: transport.ModeSymlink | 0o777},
		entry("z-dir", true),
	}
	Sort(entries)
	assert.Equal(t, []string{"z-dir", "a-link"}, names(entries))
}

func newBrowser(tr *transporttest.Transport) *Browser {
	return New(gateway.New(tr.OpenSync, zerolog.Nop()), "/")
}

func TestNavigateMovesCursor(t *testing.T) {
	tr := transporttest.New(nil)
	tr.FS.Dir("/mnt/onboard/.kobo").File("/mnt/onboard/b.txt", nil).File("/mnt/onboard/a.txt", nil)
	b := newBrowser(tr)
	ctx := context.Background()

	var listed string
	b.OnListed(func(dir string, _ []gateway.FsEntry) { listed = dir })

	entries, err := b.Navigate(ctx, "mnt/onboard/")
	require.NoError(t, err)
	assert.Equal(t, "/mnt/onboard", b.Cwd())
	assert.Equal(t, "/mnt/onboard", listed)
	assert.Equal(t, []string{".kobo", "a.txt", "b.txt"}, names(entries))
	assert.Equal(t, "/mnt/onboard/.kobo", entries[0].Path)

	_, err = b.Enter(ctx, ".kobo")
	require.NoError(t, err)
	assert.Equal(t, "/mnt/onboard/.kobo", b.Cwd())

	_, err = b.UpDir(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/mnt/onboard", b.Cwd())

	_, err = b.Refresh(ctx)
	require.NoError(t, err)
	assert.Len(t, b.Entries(), 3)
}

func TestNavigateFailureKeepsCursor(t *testing.T) {
	tr := transporttest.New(nil)
	tr.FS.Dir("/mnt")
	b := newBrowser(tr)
	ctx := context.Background()

	_, err := b.Navigate(ctx, "/mnt")
	require.NoError(t, err)

	_, err = b.Navigate(ctx, "/does/not/exist")
	assert.ErrorIs(t, err, transport.ErrPathNotFound)
	assert.Equal(t, "/mnt", b.Cwd())
}

func TestUpFromRootStaysAtRoot(t *testing.T) {
	b := newBrowser(transporttest.New(nil))
	_, err := b.UpDir(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/", b.Cwd())
}

func TestMeta(t *testing.T) {
	assert.Empty(t, Meta(entry("dir", true)))
	e := entry("f", false)
	e.Size = 1536
	assert.Contains(t, Meta(e), "1.5 KiB")
}
