package etl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/chtzvt/csvjob/internal/dataset"
	"github.com/chtzvt/csvjob/internal/job"
	"github.com/chtzvt/csvjob/internal/testutil"
	"github.com/chtzvt/csvjob/internal/transform"
	"github.com/stretchr/testify/require"
)

const scenarioInput = "name,score\na,70\nb,40\nc,abc\nd,50\n"

func newMemPipeline(t *testing.T, store dataset.Store, runID string, opts job.OutputOptions) *Pipeline {
	t.Helper()
	step, err := transform.New("score-filter", nil)
	require.NoError(t, err)
	return &Pipeline{
		Input:   dataset.New(store, "in"),
		Output:  dataset.New(store, "out"),
		Step:    step,
		Options: opts,
		RunID:   runID,
		Logger:  testutil.NewTestLogger(t),
		Metrics: &Metrics{},
	}
}

func TestPipeline_Scenario(t *testing.T) {
	store := dataset.NewMemStore()
	store.Put("in/data.csv", []byte(scenarioInput))

	p := newMemPipeline(t, store, "r1", job.OutputOptions{})
	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	header, rows := readParts(t, store, "out/")
	require.Equal(t, []string{"name", "score"}, header)
	require.Equal(t, [][]string{{"a", "70"}, {"d", "50"}}, rows)

	_, ok := store.Get("out/_SUCCESS")
	require.True(t, ok)

	require.Equal(t, "r1", summary.RunID)
	require.Equal(t, "score-filter", summary.Step)
	require.Equal(t, 1, summary.InputObjects)
	require.Len(t, summary.Parts, 1)
	require.Equal(t, int64(4), summary.Metrics.RowsRead)
	require.Equal(t, int64(2), summary.Metrics.RowsKept)
	require.Equal(t, int64(1), summary.Metrics.RowsUnparseable)
	require.Equal(t, int64(1), summary.Metrics.RowsBelowThreshold)
	require.Equal(t, int64(1), summary.Metrics.Parts)
}

func TestPipeline_Idempotent(t *testing.T) {
	store := dataset.NewMemStore()
	store.Put("in/data.csv", []byte(scenarioInput))

	opts := job.OutputOptions{ChunkRecords: 1}
	first, err := newMemPipeline(t, store, "r1", opts).Run(context.Background())
	require.NoError(t, err)
	_, firstRows := readParts(t, store, "out/")

	second, err := newMemPipeline(t, store, "r2", opts).Run(context.Background())
	require.NoError(t, err)
	_, secondRows := readParts(t, store, "out/")

	require.Equal(t, first.Digest, second.Digest)
	require.Equal(t, firstRows, secondRows)
	require.Equal(t, []string{
		"out/_SUCCESS",
		"out/part-00000-r2.csv",
		"out/part-00001-r2.csv",
	}, objectNames(t, store, "out/"))
}

func TestPipeline_HeaderOnlyInput(t *testing.T) {
	store := dataset.NewMemStore()
	store.Put("in/data.csv", []byte("name,score\n"))

	summary, err := newMemPipeline(t, store, "r1", job.OutputOptions{}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Parts, 1)

	data, ok := store.Get("out/part-00000-r1.csv")
	require.True(t, ok)
	require.Equal(t, "name,score\n", string(data))
}

func TestPipeline_MissingInputLeavesOutput(t *testing.T) {
	store := dataset.NewMemStore()
	store.Put("out/part-00000-old.csv", []byte("name,score\nz,99\n"))
	store.Put("out/_SUCCESS", nil)

	_, err := newMemPipeline(t, store, "r1", job.OutputOptions{}).Run(context.Background())
	require.ErrorIs(t, err, dataset.ErrNotFound)
	require.Equal(t, []string{"out/_SUCCESS", "out/part-00000-old.csv"}, objectNames(t, store, "out/"))
}

func TestPipeline_MissingColumnWritesNothing(t *testing.T) {
	store := dataset.NewMemStore()
	store.Put("in/data.csv", []byte("name,points\na,70\n"))

	_, err := newMemPipeline(t, store, "r1", job.OutputOptions{}).Run(context.Background())
	require.ErrorContains(t, err, `column "score" not found`)
	require.Empty(t, objectNames(t, store, "out"))
}

func TestPipeline_Quarantine(t *testing.T) {
	store := dataset.NewMemStore()
	store.Put("in/data.csv", []byte(scenarioInput))
	store.Put("rejects/part-00000-old.csv", []byte("stale"))

	p := newMemPipeline(t, store, "r1", job.OutputOptions{})
	p.Quarantine = dataset.New(store, "rejects")
	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.QuarantineParts, 1)

	header, rows := readParts(t, store, "rejects/")
	require.Equal(t, []string{"name", "score", RejectReasonColumn}, header)
	require.Equal(t, [][]string{
		{"b", "40", transform.ReasonBelowThreshold},
		{"c", "abc", transform.ReasonUnparseable},
	}, rows)
	_, ok := store.Get("rejects/part-00000-old.csv")
	require.False(t, ok)
}

// failingStore fails to create objects whose name contains failOn.
type failingStore struct {
	*dataset.MemStore
	failOn string
}

func (s *failingStore) Create(ctx context.Context, name string) (dataset.Writer, error) {
	if strings.Contains(name, s.failOn) {
		return nil, errors.New("disk full")
	}
	return s.MemStore.Create(ctx, name)
}

func TestPipeline_FailureRemovesPartialOutput(t *testing.T) {
	mem := dataset.NewMemStore()
	mem.Put("in/data.csv", []byte(scenarioInput))
	mem.Put("out/part-00000-old.csv", []byte("name,score\nz,99\n"))
	store := &failingStore{MemStore: mem, failOn: "part-00001-r1"}

	_, err := newMemPipeline(t, store, "r1", job.OutputOptions{ChunkRecords: 1}).Run(context.Background())
	require.ErrorContains(t, err, "disk full")
	require.Equal(t, []string{"out/part-00000-old.csv"}, objectNames(t, mem, "out/"))
}

// denyDeleteStore refuses to delete the object named denied.
type denyDeleteStore struct {
	*dataset.MemStore
	denied string
}

func (s *denyDeleteStore) Delete(ctx context.Context, names ...string) error {
	if slices.Contains(names, s.denied) {
		return errors.New("access denied")
	}
	return s.MemStore.Delete(ctx, names...)
}

func TestPipeline_FailureKeepsObjectAtOutputPath(t *testing.T) {
	mem := dataset.NewMemStore()
	mem.Put("in/data.csv", []byte(scenarioInput))
	mem.Put("out", []byte("name,score\nold,99\n"))
	store := &failingStore{MemStore: mem, failOn: "part-00000-r1"}

	_, err := newMemPipeline(t, store, "r1", job.OutputOptions{}).Run(context.Background())
	require.ErrorContains(t, err, "disk full")
	data, ok := mem.Get("out")
	require.True(t, ok)
	require.Equal(t, "name,score\nold,99\n", string(data))
}

func TestPipeline_ReplacesObjectAtOutputPath(t *testing.T) {
	store := dataset.NewMemStore()
	store.Put("in/data.csv", []byte(scenarioInput))
	store.Put("out", []byte("name,score\nold,99\n"))

	_, err := newMemPipeline(t, store, "r1", job.OutputOptions{}).Run(context.Background())
	require.NoError(t, err)
	_, ok := store.Get("out")
	require.False(t, ok)
	_, rows := readParts(t, store, "out/")
	require.Equal(t, [][]string{{"a", "70"}, {"d", "50"}}, rows)
}

func TestPipeline_CommitFailureRemovesNewParts(t *testing.T) {
	mem := dataset.NewMemStore()
	mem.Put("in/data.csv", []byte(scenarioInput))
	mem.Put("out/_SUCCESS", nil)
	mem.Put("out/part-00000-old.csv", []byte("name,score\nz,99\n"))
	store := &denyDeleteStore{MemStore: mem, denied: "out/part-00000-old.csv"}

	_, err := newMemPipeline(t, store, "r1", job.OutputOptions{}).Run(context.Background())
	require.ErrorContains(t, err, "commit output")
	require.ErrorContains(t, err, "access denied")
	require.Equal(t, []string{"out/part-00000-old.csv"}, objectNames(t, mem, "out/"))
}

func TestPipeline_QuarantineCommitFailureKeepsOutput(t *testing.T) {
	mem := dataset.NewMemStore()
	mem.Put("in/data.csv", []byte(scenarioInput))
	mem.Put("out/_SUCCESS", nil)
	mem.Put("out/part-00000-old.csv", []byte("name,score\nz,99\n"))
	mem.Put("rejects/part-00000-old.csv", []byte("stale"))
	store := &denyDeleteStore{MemStore: mem, denied: "rejects/part-00000-old.csv"}

	p := newMemPipeline(t, store, "r1", job.OutputOptions{})
	p.Quarantine = dataset.New(store, "rejects")
	_, err := p.Run(context.Background())
	require.ErrorContains(t, err, "commit quarantine")
	require.Equal(t, []string{"out/_SUCCESS", "out/part-00000-old.csv"}, objectNames(t, mem, "out/"))
	require.Equal(t, []string{"rejects/part-00000-old.csv"}, objectNames(t, mem, "rejects/"))
}

func TestPipeline_BareQuotes(t *testing.T) {
	store := dataset.NewMemStore()
	store.Put("in/data.csv", []byte("name,score\nO\"Brien,70\nd,50\n"))

	_, err := newMemPipeline(t, store, "r1", job.OutputOptions{}).Run(context.Background())
	require.NoError(t, err)
	_, rows := readParts(t, store, "out/")
	require.Equal(t, [][]string{{`O"Brien`, "70"}, {"d", "50"}}, rows)
}

func TestPipeline_Cancelled(t *testing.T) {
	store := dataset.NewMemStore()
	store.Put("in/data.csv", []byte(scenarioInput))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newMemPipeline(t, store, "r1", job.OutputOptions{}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, objectNames(t, store, "out"))
}

func TestPipeline_CleanStep(t *testing.T) {
	store := dataset.NewMemStore()
	store.Put("in/raw.csv", []byte("id,name,email,score,date\n"+
		"1,Ann,ann@example.com,70,2024-01-02\n"+
		"2,Bob,bob-at-example,40,2024-01-02\n"+
		"3,Cy,cy@example.com,x,2024-01-02\n"))

	p := newMemPipeline(t, store, "r1", job.OutputOptions{})
	step, err := transform.New("clean", nil)
	require.NoError(t, err)
	p.Step = step

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), summary.Metrics.RowsInvalid)

	_, rows := readParts(t, store, "out/")
	require.Equal(t, [][]string{{"1", "Ann", "ann@example.com", "70", "2024-01-02"}}, rows)
}

func TestNewPipeline_Disk(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "in/part-1.csv", "id,name,score\n1,a,70\n2,b,40\n")
	testutil.WriteFile(t, dir, "in/part-2.csv", "id,name,score\n3,c, 90 \n")
	testutil.WriteFile(t, dir, "out/stale.csv", "old")

	spec := job.NewSpec(job.Args{
		JobName:    "scores",
		InputPath:  filepath.Join(dir, "in"),
		OutputPath: "file://" + filepath.ToSlash(filepath.Join(dir, "out")),
	})
	spec.Options.Output.Compression = "gzip"

	p, err := NewPipeline(spec, nil, nil, "r1", testutil.NewTestLogger(t))
	require.NoError(t, err)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), summary.Metrics.RowsKept)

	entries, err := os.ReadDir(filepath.Join(dir, "out"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.Equal(t, []string{"_SUCCESS", "part-00000-r1.csv.gz"}, names)

	in, err := dataset.Resolve(filepath.Join(dir, "out"), nil, nil)
	require.NoError(t, err)
	r, err := OpenReader(context.Background(), in, nil)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"1", "a", "70"}, {"3", "c", "90"}}, readAll(t, r))
}

func TestNewPipeline_Errors(t *testing.T) {
	_, err := NewPipeline(job.NewSpec(job.Args{JobName: "j", OutputPath: "o"}), nil, nil, "r1", nil)
	require.ErrorIs(t, err, job.ErrMissingArgument)

	spec := job.NewSpec(job.Args{JobName: "j", InputPath: "i", OutputPath: "o"})
	spec.Options.Step = "nope"
	_, err = NewPipeline(spec, nil, nil, "r1", nil)
	require.ErrorContains(t, err, "step not found")

	spec = job.NewSpec(job.Args{JobName: "j", InputPath: "gopher://x/y", OutputPath: "o"})
	_, err = NewPipeline(spec, nil, nil, "r1", nil)
	require.ErrorContains(t, err, "unsupported dataset scheme")

	spec = job.NewSpec(job.Args{JobName: "j", InputPath: "i", OutputPath: "o"})
	spec.Options.Output.Compression = "lzma"
	_, err = NewPipeline(spec, nil, nil, "r1", nil)
	require.Error(t, err)
}
