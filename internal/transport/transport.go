// Package transport declares the contract devlink needs from a device
// transport: authenticating a connection, spawning remote commands and
// opening the single-operation file sync channel.
//
// Concrete implementations live elsewhere (internal/sshclient for SSH+SFTP,
// internal/transport/transporttest for in-memory fakes).
package transport

import (
	"context"
	"io"
	"io/fs"
	"iter"
)

// Authenticator produces a live Transport for one device.
type Authenticator interface {
	Authenticate(ctx context.Context, deviceID string) (Transport, error)
}

// Transport is the authenticated handle for exactly one device.
type Transport interface {
	// Spawn starts a remote command.
	Spawn(ctx context.Context, spec CommandSpec) (Process, error)
	// OpenSync opens a fresh sync channel. The caller owns it and must Dispose it.
	OpenSync(ctx context.Context) (SyncChannel, error)
	// SupportsSplitOutput reports whether Spawn can deliver stdout and
	// stderr as separate streams.
	SupportsSplitOutput() bool
	// Done is closed when the underlying connection is gone.
	Done() <-chan struct{}
	Close() error
}

// StreamKind labels an output stream of a remote process.
type StreamKind int

const (
	StreamCombined StreamKind = iota
	StreamStdout
	StreamStderr
)

func (k StreamKind) String() string {
	switch k {
	case StreamStdout:
		return "stdout"
	case StreamStderr:
		return "stderr"
	default:
		return "output"
	}
}

// Stream is one pull-based output channel. Read returns io.EOF at end of
// stream. Close releases the stream and unblocks a pending Read.
type Stream interface {
	io.ReadCloser
	Kind() StreamKind
}

// Process is a spawned remote command.
type Process interface {
	// Streams returns one combined stream or stdout followed by stderr.
	Streams() []Stream
	// Kill requests termination. Output may still arrive afterwards.
	Kill() error
}

// DirEntry is one raw listing record as delivered by the sync channel.
type DirEntry struct {
	Name  string
	Mode  uint32 // POSIX st_mode
	Size  uint64
	MTime int64 // seconds since epoch
}

// POSIX file type bits.
const (
	ModeTypeMask uint32 = 0o170000
	ModeDir      uint32 = 0o040000
	ModeRegular  uint32 = 0o100000
	ModeSymlink  uint32 = 0o120000
)

// IsDir reports whether mode has the S_IFDIR type.
func IsDir(mode uint32) bool {
	return mode&ModeTypeMask == ModeDir
}

// SyncChannel is the stateful secondary channel. It permits exactly one
// in-flight operation.
type SyncChannel interface {
	List(ctx context.Context, path string) iter.Seq2[DirEntry, error]
	Read(ctx context.Context, path string) (io.ReadCloser, error)
	// Write stores src at path. A zero perm keeps the platform default.
	Write(ctx context.Context, path string, src io.Reader, perm fs.FileMode) error
	Dispose() error
}
