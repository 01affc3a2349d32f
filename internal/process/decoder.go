package process

import (
	"bytes"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// lineDecoder turns a byte stream into UTF-8 lines. A multi-byte sequence
// split across two chunks is held back until the rest arrives; invalid bytes
// become U+FFFD.
type lineDecoder struct {
	dec     transform.Transformer
	pending []byte
	line    []byte
	buf     [4096]byte
}

func newLineDecoder() *lineDecoder {
	return &lineDecoder{dec: unicode.UTF8.NewDecoder()}
}

// Feed decodes chunk and returns the lines it completed.
func (d *lineDecoder) Feed(chunk []byte) []string {
	d.pending = append(d.pending, chunk...)
	d.decode(false)
	return d.lines()
}

// Flush decodes whatever is left and returns the final lines, including an
// unterminated tail.
func (d *lineDecoder) Flush() []string {
	d.decode(true)
	out := d.lines()
	if len(d.line) > 0 {
		out = append(out, string(d.line))
		d.line = d.line[:0]
	}
	return out
}

func (d *lineDecoder) decode(atEOF bool) {
	for len(d.pending) > 0 {
		nDst, nSrc, err := d.dec.Transform(d.buf[:], d.pending, atEOF)
		d.line = append(d.line, d.buf[:nDst]...)
		d.pending = d.pending[nSrc:]
		if err != transform.ErrShortDst {
			break
		}
	}
	// keep the partial rune in a fresh slice so the backing array of
	// earlier chunks can be collected
	d.pending = append([]byte(nil), d.pending...)
}

func (d *lineDecoder) lines() []string {
	var out []string
	for {
		i := bytes.IndexByte(d.line, '\n')
		if i < 0 {
			break
		}
		out = append(out, string(d.line[:i]))
		d.line = d.line[i+1:]
	}
	if len(d.line) == 0 {
		d.line = nil
	}
	return out
}
