package compression

import (
	"io"
	"testing"

	"github.com/chtzvt/csvjob/internal/testutil"
)

func TestNewWriter_RoundTrip(t *testing.T) {
	for _, codec := range []string{Gzip, Bzip2, Zstd, None} {
		t.Run(codec, func(t *testing.T) {
			var buf testutil.WriteCloserBuffer
			w, err := NewWriter(&buf, codec)
			if err != nil {
				t.Fatalf("NewWriter %s: %v", codec, err)
			}
			original := []byte("name,score\na,70\nd,50\n")
			if _, err := w.Write(original); err != nil {
				t.Fatalf("Write %s: %v", codec, err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close %s: %v", codec, err)
			}
			if buf.Closed {
				t.Errorf("%s writer closed the underlying writer", codec)
			}

			r, err := NewReader(&buf, codec)
			if err != nil {
				t.Fatalf("NewReader %s: %v", codec, err)
			}
			out, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("ReadAll %s: %v", codec, err)
			}
			r.Close()
			if string(out) != string(original) {
				t.Errorf("%s round trip mismatch: got %q, want %q", codec, out, original)
			}
		})
	}
}

func TestWrapWriteCloser_ClosesUnderlying(t *testing.T) {
	var buf testutil.WriteCloserBuffer
	w, err := WrapWriteCloser(&buf, "gz")
	if err != nil {
		t.Fatalf("WrapWriteCloser: %v", err)
	}
	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !buf.Closed {
		t.Error("expected underlying writer to be closed")
	}
}

func TestNewWriter_Unsupported(t *testing.T) {
	var buf testutil.WriteCloserBuffer
	if _, err := NewWriter(&buf, "lzma"); err == nil {
		t.Error("Expected error for unsupported compression, got nil")
	}
	if _, err := NewReader(&buf, "lzma"); err == nil {
		t.Error("Expected error for unsupported decompression, got nil")
	}
}

func TestFromFilename(t *testing.T) {
	cases := map[string]string{
		"part-00000.csv":    None,
		"part-00000.csv.gz": Gzip,
		"part-00000.csv.GZ": Gzip,
		"data.csv.bz2":      Bzip2,
		"in/2024/data.zst":  Zstd,
		"noext":             None,
	}
	for name, want := range cases {
		if got := FromFilename(name); got != want {
			t.Errorf("FromFilename(%q) = %q, want %q", name, got, want)
		}
	}
	if got := Extension("zstd"); got != ".zst" {
		t.Errorf("Extension(zstd) = %q", got)
	}
	if got := Extension("none"); got != "" {
		t.Errorf("Extension(none) = %q", got)
	}
}
