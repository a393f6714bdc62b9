package dump

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Compression selects how a dump file is encoded.
type Compression int

const (
	// NoCompression writes plain JSON lines.
	NoCompression Compression = iota
	// ZstdCompression wraps the JSON lines in a Zstandard stream.
	ZstdCompression
)

// DefaultCompression is used when no compression is named.
const DefaultCompression = ZstdCompression

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// String returns the config name of c.
func (c Compression) String() string {
	if c == ZstdCompression {
		return "zstd"
	}
	return "none"
}

// ParseCompression maps a config name. Empty means DefaultCompression.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "":
		return DefaultCompression, nil
	case "none":
		return NoCompression, nil
	case "zstd":
		return ZstdCompression, nil
	default:
		return NoCompression, fmt.Errorf("unknown compression %q", s)
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// newCompressedWriter returns a writer that compresses data before writing
// it to w. Closing it flushes the compressor but not w.
func newCompressedWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	if c == NoCompression {
		return nopCloser{w}, nil
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	return enc, nil
}

// newDecompressedReader detects a Zstandard stream by its magic number and
// decompresses it; anything else is read as is.
func newDecompressedReader(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && err != io.EOF {
		return nil, nil, err
	}
	if !bytes.Equal(head, zstdMagic) {
		return br, func() {}, nil
	}
	dec, err := zstd.NewReader(br)
	if err != nil {
		return nil, nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return dec, dec.Close, nil
}
