// Package browser keeps a cursor over the remote filesystem and orders
// listings the way a file manager would.
package browser

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"devlink/internal/gateway"
)

// Lister is the gateway operation the browser needs.
type Lister interface {
	ListAll(ctx context.Context, dir string) ([]gateway.FsEntry, error)
}

// Browser is safe for concurrent use; navigation calls are serialized by the
// gateway underneath.
type Browser struct {
	lister   Lister
	onListed func(dir string, entries []gateway.FsEntry)

	mu      sync.Mutex
	cwd     string
	entries []gateway.FsEntry
}

// New returns a browser positioned at start (normalized, not yet listed).
func New(lister Lister, start string) *Browser {
	return &Browser{lister: lister, cwd: Normalize(start)}
}

// OnListed registers a hook that runs after every successful navigation.
func (b *Browser) OnListed(fn func(dir string, entries []gateway.FsEntry)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onListed = fn
}

func (b *Browser) Cwd() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cwd
}

// Entries returns the listing of the last successful navigation.
func (b *Browser) Entries() []gateway.FsEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]gateway.FsEntry(nil), b.entries...)
}

// List returns the sorted contents of dir without moving the cursor.
func (b *Browser) List(ctx context.Context, dir string) ([]gateway.FsEntry, error) {
	entries, err := b.lister.ListAll(ctx, Normalize(dir))
	if err != nil {
		return nil, err
	}
	Sort(entries)
	return entries, nil
}

// Navigate lists dir and moves the cursor there. On failure the cursor and
// the previous listing stay as they were.
func (b *Browser) Navigate(ctx context.Context, dir string) ([]gateway.FsEntry, error) {
	dir = Normalize(dir)
	entries, err := b.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.cwd = dir
	b.entries = entries
	hook := b.onListed
	b.mu.Unlock()
	if hook != nil {
		hook(dir, entries)
	}
	return entries, nil
}

func (b *Browser) Refresh(ctx context.Context) ([]gateway.FsEntry, error) {
	return b.Navigate(ctx, b.Cwd())
}

func (b *Browser) UpDir(ctx context.Context) ([]gateway.FsEntry, error) {
	return b.Navigate(ctx, Up(b.Cwd()))
}

// Enter descends into the child name of the current directory.
func (b *Browser) Enter(ctx context.Context, name string) ([]gateway.FsEntry, error) {
	return b.Navigate(ctx, Join(b.Cwd(), name))
}

// Sort orders entries directories first, then by case-insensitive collation,
// then by raw bytes so that the order is total.
func Sort(entries []gateway.FsEntry) {
	col := collate.New(language.Und, collate.IgnoreCase)
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsDir() != b.IsDir() {
			return a.IsDir()
		}
		if c := col.CompareString(a.Name, b.Name); c != 0 {
			return c < 0
		}
		return a.Name < b.Name
	})
}

// Meta renders the size and modification time of a file, empty for
// directories.
func Meta(e gateway.FsEntry) string {
	if e.IsDir() {
		return ""
	}
	return fmt.Sprintf("%s • %s", humanize.IBytes(e.Size), time.Unix(e.MTime, 0).Format("2006-01-02 15:04"))
}
