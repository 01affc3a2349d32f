package sshclient

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"

	"github.com/pkg/sftp"

	"devlink/internal/transport"
)

// OpenSync starts a fresh SFTP subsystem. Each gateway operation gets its
// own and disposes it afterwards.
func (c *Client) OpenSync(ctx context.Context) (transport.SyncChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, fmt.Errorf("failed to start sftp: %w", err)
	}
	return &syncChannel{sftp: client}, nil
}

type syncChannel struct {
	sftp *sftp.Client
}

func (s *syncChannel) List(ctx context.Context, dir string) iter.Seq2[transport.DirEntry, error] {
	return func(yield func(transport.DirEntry, error) bool) {
		infos, err := s.sftp.ReadDir(dir)
		if err != nil {
			yield(transport.DirEntry{}, err)
			return
		}
		for _, fi := range infos {
			if err := ctx.Err(); err != nil {
				yield(transport.DirEntry{}, err)
				return
			}
			if !yield(toDirEntry(fi), nil) {
				return
			}
		}
	}
}

func toDirEntry(fi os.FileInfo) transport.DirEntry {
	e := transport.DirEntry{
		Name:  fi.Name(),
		Size:  uint64(max(fi.Size(), 0)),
		MTime: fi.ModTime().Unix(),
	}
	if st, ok := fi.Sys().(*sftp.FileStat); ok {
		e.Mode = st.Mode
	} else {
		e.Mode = posixMode(fi.Mode())
	}
	return e
}

// posixMode converts a Go file mode to st_mode bits.
func posixMode(m fs.FileMode) uint32 {
	bits := uint32(m.Perm())
	switch {
	case m.IsDir():
		bits |= transport.ModeDir
	case m&fs.ModeSymlink != 0:
		bits |= transport.ModeSymlink
	case m.IsRegular():
		bits |= transport.ModeRegular
	}
	return bits
}

func (s *syncChannel) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.sftp.Open(p)
}

func (s *syncChannel) Write(ctx context.Context, p string, src io.Reader, perm fs.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := s.sftp.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	if _, err := f.ReadFrom(src); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if perm != 0 {
		return s.sftp.Chmod(p, perm)
	}
	return nil
}

func (s *syncChannel) Dispose() error {
	return s.sftp.Close()
}
