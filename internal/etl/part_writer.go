package etl

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/chtzvt/csvjob/internal/compression"
	"github.com/chtzvt/csvjob/internal/dataset"
	"github.com/zeebo/xxh3"
)

// Part describes one output object written by a PartWriter.
type Part struct {
	Name    string `json:"name" cbor:"name"`
	Records int64  `json:"records" cbor:"records"`
	Bytes   int64  `json:"bytes" cbor:"bytes"`
}

// PartWriter writes CSV records into numbered part objects under a dataset,
// starting a new part whenever a record or byte limit is reached. Every part
// begins with the header row.
type PartWriter struct {
	ds          *dataset.Dataset
	runID       string
	header      []string
	compression string
	maxRecords  int
	maxBytes    int64

	parts []Part
	hash  *xxh3.Hasher

	obj     dataset.Writer
	enc     io.WriteCloser
	counter *countingWriter
	csv     *csv.Writer
	cur     Part
}

// PartOptions configure part rotation and encoding. Zero limits disable
// rotation.
type PartOptions struct {
	ChunkRecords int
	ChunkBytes   int64
	Compression  string
}

func NewPartWriter(ds *dataset.Dataset, runID string, header []string, opts PartOptions) (*PartWriter, error) {
	c, err := compression.Normalize(opts.Compression)
	if err != nil {
		return nil, err
	}
	return &PartWriter{
		ds:          ds,
		runID:       runID,
		header:      header,
		compression: c,
		maxRecords:  opts.ChunkRecords,
		maxBytes:    opts.ChunkBytes,
		hash:        xxh3.New(),
	}, nil
}

// PartName returns the object name of part n for a run.
func PartName(n int, runID, compressionName string) string {
	return fmt.Sprintf("part-%05d-%s.csv%s", n, runID, compression.Extension(compressionName))
}

func (w *PartWriter) open(ctx context.Context) error {
	name := w.ds.Child(PartName(len(w.parts), w.runID, w.compression))
	obj, err := w.ds.Store.Create(ctx, name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	enc, err := compression.NewWriter(obj, w.compression)
	if err != nil {
		obj.Abort()
		return err
	}
	w.obj, w.enc = obj, enc
	w.counter = &countingWriter{w: io.MultiWriter(enc, w.hash)}
	w.csv = csv.NewWriter(w.counter)
	w.cur = Part{Name: name}
	if err := w.csv.Write(w.header); err != nil {
		return fmt.Errorf("write header to %s: %w", name, err)
	}
	return nil
}

// Write appends a record, opening or rotating parts as needed.
func (w *PartWriter) Write(ctx context.Context, record []string) error {
	if w.obj == nil {
		if err := w.open(ctx); err != nil {
			return err
		}
	}
	if err := w.csv.Write(record); err != nil {
		return fmt.Errorf("write %s: %w", w.cur.Name, err)
	}
	w.cur.Records++

	rotate := w.maxRecords > 0 && w.cur.Records >= int64(w.maxRecords)
	if !rotate && w.maxBytes > 0 {
		w.csv.Flush()
		if err := w.csv.Error(); err != nil {
			return fmt.Errorf("write %s: %w", w.cur.Name, err)
		}
		rotate = w.counter.n >= w.maxBytes
	}
	if rotate {
		return w.closePart()
	}
	return nil
}

func (w *PartWriter) closePart() error {
	name := w.cur.Name
	w.csv.Flush()
	err := w.csv.Error()
	if err == nil {
		err = w.enc.Close()
	}
	if err != nil {
		w.obj.Abort()
		w.obj = nil
		return fmt.Errorf("write %s: %w", name, err)
	}
	err = w.obj.Close()
	w.obj = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	w.cur.Bytes = w.counter.n
	w.parts = append(w.parts, w.cur)
	return nil
}

// Close finishes the current part. A writer that received no records still
// produces one header-only part.
func (w *PartWriter) Close(ctx context.Context) error {
	if w.obj == nil && len(w.parts) == 0 {
		if err := w.open(ctx); err != nil {
			return err
		}
	}
	if w.obj == nil {
		return nil
	}
	return w.closePart()
}

// Abort discards the open part, if any. Parts already closed are left for
// the committer to remove.
func (w *PartWriter) Abort() {
	if w.obj != nil {
		w.obj.Abort()
		w.obj = nil
	}
}

// Parts returns the parts closed so far.
func (w *PartWriter) Parts() []Part {
	return w.parts
}

// Names returns the object names of the closed parts.
func (w *PartWriter) Names() []string {
	names := make([]string, len(w.parts))
	for i, p := range w.parts {
		names[i] = p.Name
	}
	return names
}

// Digest is the xxh3 hash of the uncompressed bytes of all parts.
func (w *PartWriter) Digest() string {
	return fmt.Sprintf("%016x", w.hash.Sum64())
}

// Records returns the number of data records written.
func (w *PartWriter) Records() int64 {
	n := w.cur.Records
	if w.obj == nil {
		n = 0
	}
	for _, p := range w.parts {
		n += p.Records
	}
	return n
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
