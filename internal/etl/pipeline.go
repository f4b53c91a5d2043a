package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"
	"time"

	"github.com/chtzvt/csvjob/internal/compression"
	"github.com/chtzvt/csvjob/internal/dataset"
	"github.com/chtzvt/csvjob/internal/job"
	"github.com/chtzvt/csvjob/internal/secrets"
	"github.com/chtzvt/csvjob/internal/transform"
)

// RejectReasonColumn is appended to the header of quarantine output.
const RejectReasonColumn = "_reject_reason"

// ctx is checked every this many records.
const cancelCheckInterval = 1024

// Pipeline reads an input dataset, runs every record through a step and
// writes kept records to the output dataset. Rejected records go to the
// quarantine dataset when one is set.
type Pipeline struct {
	Input      *dataset.Dataset
	Output     *dataset.Dataset
	Quarantine *dataset.Dataset
	Step       transform.Step
	Options    job.OutputOptions
	RunID      string
	Logger     *log.Logger
	Metrics    *Metrics
}

// Summary describes a finished run.
type Summary struct {
	RunID           string          `json:"run_id" cbor:"run_id"`
	Step            string          `json:"step" cbor:"step"`
	Input           string          `json:"input" cbor:"input"`
	Output          string          `json:"output" cbor:"output"`
	Quarantine      string          `json:"quarantine,omitempty" cbor:"quarantine,omitempty"`
	InputObjects    int             `json:"input_objects" cbor:"input_objects"`
	Parts           []Part          `json:"parts" cbor:"parts"`
	QuarantineParts []Part          `json:"quarantine_parts,omitempty" cbor:"quarantine_parts,omitempty"`
	Digest          string          `json:"digest" cbor:"digest"`
	Metrics         MetricsSnapshot `json:"metrics" cbor:"metrics"`
}

// NewPipeline resolves the datasets and step named by spec. storage holds
// per-scheme store options.
func NewPipeline(spec *job.Spec, storage map[string]map[string]interface{}, sec *secrets.Store, runID string, logger *log.Logger) (*Pipeline, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if _, err := compression.Normalize(spec.Options.Output.Compression); err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}
	step, err := transform.New(spec.Options.Step, spec.Options.StepOptions)
	if err != nil {
		return nil, fmt.Errorf("step: %w", err)
	}
	in, err := dataset.Resolve(spec.Args.InputPath, storage, sec)
	if err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	out, err := dataset.Resolve(spec.Args.OutputPath, storage, sec)
	if err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}
	var quarantine *dataset.Dataset
	if spec.Args.QuarantinePath != "" {
		quarantine, err = dataset.Resolve(spec.Args.QuarantinePath, storage, sec)
		if err != nil {
			return nil, fmt.Errorf("quarantine: %w", err)
		}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Pipeline{
		Input:      in,
		Output:     out,
		Quarantine: quarantine,
		Step:       step,
		Options:    spec.Options.Output,
		RunID:      runID,
		Logger:     logger,
		Metrics:    &Metrics{},
	}, nil
}

// sink pairs a part writer with the committer of its dataset.
type sink struct {
	w         *PartWriter
	c         *Committer
	committed bool
}

func (p *Pipeline) newSink(ctx context.Context, ds *dataset.Dataset, header []string) (*sink, error) {
	c := NewCommitter(ds, p.Options.WriteSuccessMarker(), p.Logger)
	if err := c.Prepare(ctx); err != nil {
		return nil, err
	}
	w, err := NewPartWriter(ds, p.RunID, header, PartOptions{
		ChunkRecords: p.Options.ChunkRecords,
		ChunkBytes:   p.Options.ChunkBytes,
		Compression:  p.Options.Compression,
	})
	if err != nil {
		return nil, err
	}
	return &sink{w: w, c: c}, nil
}

func (s *sink) commit(ctx context.Context) error {
	if err := s.c.Commit(ctx, s.w.Names()); err != nil {
		return err
	}
	s.committed = true
	return nil
}

func (s *sink) abort(ctx context.Context) error {
	if s == nil || s.committed {
		return nil
	}
	s.w.Abort()
	return s.c.Abort(ctx, s.w.Names())
}

// Run executes the pipeline once. On error nothing written by this run is
// left behind. The previous output is unchanged unless the error came from
// removing it during commit, in which case it has no success marker.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	if p.Metrics == nil {
		p.Metrics = &Metrics{}
	}
	if p.Logger == nil {
		p.Logger = log.New(io.Discard, "", 0)
	}
	start := time.Now()

	reader, err := OpenReader(ctx, p.Input, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer reader.Close()
	p.Logger.Printf("reading %d objects from %s", len(reader.Objects()), p.Input.URI)

	header, err := p.Step.Prepare(reader.Header())
	if err != nil {
		return nil, err
	}

	out, err := p.newSink(ctx, p.Output, header)
	if err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}
	var quarantine *sink
	if p.Quarantine != nil {
		qHeader := append(slices.Clone(reader.Header()), RejectReasonColumn)
		quarantine, err = p.newSink(ctx, p.Quarantine, qHeader)
		if err != nil {
			return nil, fmt.Errorf("quarantine: %w", err)
		}
	}

	fail := func(cause error) (*Summary, error) {
		cleanup := context.WithoutCancel(ctx)
		errs := []error{cause}
		errs = append(errs, out.abort(cleanup), quarantine.abort(cleanup))
		p.Logger.Printf("run %s failed, removed partial output: %v", p.RunID, cause)
		return nil, errors.Join(errs...)
	}

	if err := p.process(ctx, reader, out, quarantine); err != nil {
		return fail(err)
	}
	if err := out.w.Close(ctx); err != nil {
		return fail(fmt.Errorf("output: %w", err))
	}
	if quarantine != nil {
		if err := quarantine.w.Close(ctx); err != nil {
			return fail(fmt.Errorf("quarantine: %w", err))
		}
	}

	// The quarantine is committed first so a failure there leaves the
	// previous output in place.
	if quarantine != nil {
		if err := quarantine.commit(ctx); err != nil {
			return fail(fmt.Errorf("commit quarantine: %w", err))
		}
	}
	if err := out.commit(ctx); err != nil {
		return fail(fmt.Errorf("commit output: %w", err))
	}
	p.Metrics.AddParts(out.w.Parts())

	summary := &Summary{
		RunID:        p.RunID,
		Step:         p.Step.Name(),
		Input:        p.Input.URI,
		Output:       p.Output.URI,
		InputObjects: len(reader.Objects()),
		Parts:        out.w.Parts(),
		Digest:       out.w.Digest(),
	}
	if quarantine != nil {
		summary.Quarantine = p.Quarantine.URI
		summary.QuarantineParts = quarantine.w.Parts()
	}

	p.Metrics.AddElapsed(time.Since(start))
	summary.Metrics = p.Metrics.Snapshot()
	m := summary.Metrics
	p.Logger.Printf("run %s: read=%d kept=%d unparseable=%d below_threshold=%d invalid=%d parts=%d bytes=%d digest=%s elapsed=%s",
		p.RunID, m.RowsRead, m.RowsKept, m.RowsUnparseable, m.RowsBelowThreshold, m.RowsInvalid, m.Parts, m.BytesWritten, summary.Digest, m.Elapsed)
	return summary, nil
}

func (p *Pipeline) process(ctx context.Context, reader *Reader, out, quarantine *sink) error {
	for n := 0; ; n++ {
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		rec, err := reader.Read(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		p.Metrics.IncRead()

		row, keep, reason := p.Step.Apply(rec)
		if keep {
			p.Metrics.IncKept()
			if err := out.w.Write(ctx, row); err != nil {
				return fmt.Errorf("output: %w", err)
			}
			continue
		}
		p.Metrics.IncRejected(reason)
		if quarantine != nil {
			if err := quarantine.w.Write(ctx, append(rec, reason)); err != nil {
				return fmt.Errorf("quarantine: %w", err)
			}
		}
	}
}
