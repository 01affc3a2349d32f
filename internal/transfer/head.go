package transfer

import (
	"errors"
	"io"
)

const headChunkSize = 32 * 1024

// DefaultHeadBytes is the preview size when none is configured.
const DefaultHeadBytes = 4096

// ReadHead returns at most n bytes from the start of r. Bytes beyond n in
// the last chunk are dropped, and r is not read again once n bytes are in.
func ReadHead(r io.Reader, n int) ([]byte, error) {
	if n <= 0 {
		return []byte{}, nil
	}
	out := make([]byte, 0, min(n, headChunkSize))
	buf := make([]byte, headChunkSize)
	for len(out) < n {
		m, err := r.Read(buf)
		out = append(out, buf[:min(m, n-len(out))]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, err
		}
	}
	return out, nil
}
