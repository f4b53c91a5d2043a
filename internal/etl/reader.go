package etl

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"

	"github.com/chtzvt/csvjob/internal/compression"
	"github.com/chtzvt/csvjob/internal/dataset"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	// ErrNoHeader is returned when no input object carries a header row.
	ErrNoHeader = errors.New("input has no header row")

	// ErrHeaderMismatch is returned when input objects disagree on the header.
	ErrHeaderMismatch = errors.New("input header mismatch")
)

// Reader streams the records of every data object in a dataset, in object
// name order, as a single table. Each object starts with a header row; all
// headers must match the first one.
type Reader struct {
	ds      *dataset.Dataset
	objects []dataset.Object
	next    int
	header  []string
	logger  *log.Logger

	cur     *csv.Reader
	curName string
	closer  io.Closer
}

// OpenReader lists the dataset and reads the header of the first non-empty
// object. A missing dataset returns an error wrapping dataset.ErrNotFound.
func OpenReader(ctx context.Context, ds *dataset.Dataset, logger *log.Logger) (*Reader, error) {
	objs, err := ds.Objects(ctx)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	r := &Reader{ds: ds, logger: logger}
	for _, o := range objs {
		if o.Size == 0 {
			logger.Printf("skipping empty object %s", o.Name)
			continue
		}
		r.objects = append(r.objects, o)
	}
	if len(r.objects) == 0 {
		return nil, fmt.Errorf("%s: %w", ds.URI, ErrNoHeader)
	}
	ok, err := r.advance(ctx)
	if err != nil {
		r.Close()
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", ds.URI, ErrNoHeader)
	}
	return r, nil
}

// Header returns the column names of the dataset.
func (r *Reader) Header() []string {
	return r.header
}

// Objects returns the data objects the reader consumes.
func (r *Reader) Objects() []dataset.Object {
	return r.objects
}

// Read returns the next record aligned to the header: short records are
// padded with empty fields and long records truncated. It returns io.EOF
// once every object has been read.
func (r *Reader) Read(ctx context.Context) ([]string, error) {
	for {
		if r.cur == nil {
			ok, err := r.advance(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, io.EOF
			}
		}
		rec, err := r.cur.Read()
		if err == io.EOF {
			r.closeCurrent()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", r.curName, err)
		}
		return r.align(rec), nil
	}
}

func (r *Reader) align(rec []string) []string {
	n := len(r.header)
	switch {
	case len(rec) == n:
		return rec
	case len(rec) > n:
		return rec[:n]
	default:
		out := make([]string, n)
		copy(out, rec)
		return out
	}
}

// advance opens the next object and consumes its header row. It reports
// false when there are no objects left.
func (r *Reader) advance(ctx context.Context) (bool, error) {
	for r.next < len(r.objects) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		obj := r.objects[r.next]
		r.next++

		rc, err := r.ds.Store.Open(ctx, obj.Name)
		if err != nil {
			return false, fmt.Errorf("open %s: %w", obj.Name, err)
		}
		dc, err := compression.WrapReadCloser(rc, compression.FromFilename(obj.Name))
		if err != nil {
			rc.Close()
			return false, fmt.Errorf("open %s: %w", obj.Name, err)
		}
		cr := csv.NewReader(transform.NewReader(dc, unicode.BOMOverride(transform.Nop)))
		cr.FieldsPerRecord = -1
		cr.LazyQuotes = true

		header, err := cr.Read()
		if err == io.EOF {
			dc.Close()
			r.logger.Printf("skipping object without rows %s", obj.Name)
			continue
		}
		if err != nil {
			dc.Close()
			return false, fmt.Errorf("read header of %s: %w", obj.Name, err)
		}
		if r.header == nil {
			r.header = header
		} else if !slices.Equal(r.header, header) {
			dc.Close()
			return false, fmt.Errorf("%w: %s has [%v], expected [%v]", ErrHeaderMismatch, obj.Name, header, r.header)
		}
		r.cur, r.curName, r.closer = cr, obj.Name, dc
		return true, nil
	}
	return false, nil
}

func (r *Reader) closeCurrent() {
	if r.closer != nil {
		r.closer.Close()
	}
	r.cur, r.curName, r.closer = nil, "", nil
}

// Close releases the object currently being read.
func (r *Reader) Close() error {
	r.closeCurrent()
	r.next = len(r.objects)
	return nil
}
