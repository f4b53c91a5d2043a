// Package compression wraps dataset object streams with the codecs csvjob can
// read and write. Codecs are chosen by name ("gzip", "bzip2", "zstd", or
// "none") or inferred from an object's file extension.
package compression

import (
	"compress/gzip"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zstd"
)

const (
	None  = "none"
	Gzip  = "gzip"
	Bzip2 = "bzip2"
	Zstd  = "zstd"
)

var extensions = map[string]string{
	Gzip:  ".gz",
	Bzip2: ".bz2",
	Zstd:  ".zst",
}

// Normalize maps the accepted aliases of a codec name onto its canonical form.
func Normalize(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "uncompressed":
		return None, nil
	case "gzip", "gz":
		return Gzip, nil
	case "bzip2", "bz2":
		return Bzip2, nil
	case "zstd", "zst":
		return Zstd, nil
	default:
		return "", fmt.Errorf("unsupported compression: %s", name)
	}
}

// Extension returns the file extension for the codec, or "" for none.
func Extension(name string) string {
	n, err := Normalize(name)
	if err != nil {
		return ""
	}
	return extensions[n]
}

// FromFilename infers the codec of an object from its extension.
func FromFilename(name string) string {
	ext := strings.ToLower(path.Ext(name))
	for codec, e := range extensions {
		if e == ext {
			return codec
		}
	}
	return None
}

// NewWriter returns an io.WriteCloser that wraps w with the requested compression.
// Closing it flushes the codec but does not close w.
func NewWriter(w io.Writer, compression string) (io.WriteCloser, error) {
	name, err := Normalize(compression)
	if err != nil {
		return nil, err
	}
	switch name {
	case Gzip:
		return gzip.NewWriter(w), nil
	case Bzip2:
		return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.BestCompression})
	case Zstd:
		return zstd.NewWriter(w)
	default:
		return nopWriteCloser{w}, nil
	}
}

// WrapWriteCloser is NewWriter for writers that own a resource: closing the
// result closes the codec and then wc.
func WrapWriteCloser(wc io.WriteCloser, compression string) (io.WriteCloser, error) {
	cw, err := NewWriter(wc, compression)
	if err != nil {
		return nil, err
	}
	return &cascadeWriteCloser{compressor: cw, underlying: wc}, nil
}

// NewReader returns a reader that decompresses r. Closing it releases the
// codec but does not close r.
func NewReader(r io.Reader, compression string) (io.ReadCloser, error) {
	name, err := Normalize(compression)
	if err != nil {
		return nil, err
	}
	switch name {
	case Gzip:
		return gzip.NewReader(r)
	case Bzip2:
		return bzip2.NewReader(r, nil)
	case Zstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	default:
		return io.NopCloser(r), nil
	}
}

// WrapReadCloser is NewReader for readers that own a resource: closing the
// result closes the codec and then rc.
func WrapReadCloser(rc io.ReadCloser, compression string) (io.ReadCloser, error) {
	cr, err := NewReader(rc, compression)
	if err != nil {
		rc.Close()
		return nil, err
	}
	return &cascadeReadCloser{Reader: cr, decompressor: cr, underlying: rc}, nil
}
