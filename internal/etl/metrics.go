package etl

import (
	"sync/atomic"
	"time"

	"github.com/chtzvt/csvjob/internal/transform"
)

// Metrics counts rows as they move through a run. Fields are updated
// atomically so a snapshot can be taken while the run is in progress.
type Metrics struct {
	RowsRead           int64 // atomic
	RowsKept           int64 // atomic
	RowsUnparseable    int64 // atomic
	RowsBelowThreshold int64 // atomic
	RowsInvalid        int64 // atomic
	Parts              int64 // atomic
	BytesWritten       int64 // atomic
	elapsed            int64 // nanoseconds, atomic
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	RowsRead           int64         `json:"rows_read" cbor:"rows_read"`
	RowsKept           int64         `json:"rows_kept" cbor:"rows_kept"`
	RowsUnparseable    int64         `json:"rows_unparseable" cbor:"rows_unparseable"`
	RowsBelowThreshold int64         `json:"rows_below_threshold" cbor:"rows_below_threshold"`
	RowsInvalid        int64         `json:"rows_invalid" cbor:"rows_invalid"`
	Parts              int64         `json:"parts" cbor:"parts"`
	BytesWritten       int64         `json:"bytes_written" cbor:"bytes_written"`
	Elapsed            time.Duration `json:"elapsed" cbor:"elapsed"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		RowsRead:           atomic.LoadInt64(&m.RowsRead),
		RowsKept:           atomic.LoadInt64(&m.RowsKept),
		RowsUnparseable:    atomic.LoadInt64(&m.RowsUnparseable),
		RowsBelowThreshold: atomic.LoadInt64(&m.RowsBelowThreshold),
		RowsInvalid:        atomic.LoadInt64(&m.RowsInvalid),
		Parts:              atomic.LoadInt64(&m.Parts),
		BytesWritten:       atomic.LoadInt64(&m.BytesWritten),
		Elapsed:            time.Duration(atomic.LoadInt64(&m.elapsed)),
	}
}

func (m *Metrics) IncRead() {
	atomic.AddInt64(&m.RowsRead, 1)
}
func (m *Metrics) IncKept() {
	atomic.AddInt64(&m.RowsKept, 1)
}

// IncRejected counts a dropped row under its reject reason.
func (m *Metrics) IncRejected(reason string) {
	switch reason {
	case transform.ReasonUnparseable:
		atomic.AddInt64(&m.RowsUnparseable, 1)
	case transform.ReasonBelowThreshold:
		atomic.AddInt64(&m.RowsBelowThreshold, 1)
	default:
		atomic.AddInt64(&m.RowsInvalid, 1)
	}
}
func (m *Metrics) AddParts(parts []Part) {
	for _, p := range parts {
		atomic.AddInt64(&m.Parts, 1)
		atomic.AddInt64(&m.BytesWritten, p.Bytes)
	}
}
func (m *Metrics) AddElapsed(d time.Duration) {
	atomic.AddInt64(&m.elapsed, d.Nanoseconds())
}
