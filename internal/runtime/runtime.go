// Package runtime tracks the lifecycle of job runs. A run is registered with
// Init before any data is read and is closed exactly once, either by Commit
// after its output has been written or by Fail.
package runtime

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/chtzvt/csvjob/internal/etl"
	"github.com/chtzvt/csvjob/internal/job"
)

var (
	// ErrNotRunning is returned when a run that is no longer running is
	// committed or failed.
	ErrNotRunning = errors.New("run is not running")

	ErrRunNotFound = errors.New("run not found")
)

type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateSucceeded RunState = "succeeded"
	RunStateFailed    RunState = "failed"
)

// RunInfo is the record kept for one run of a job.
type RunInfo struct {
	ID       string       `json:"id" cbor:"id"`
	Job      string       `json:"job" cbor:"job"`
	Args     job.Args     `json:"args" cbor:"args"`
	Host     string       `json:"host" cbor:"host"`
	Status   RunState     `json:"status" cbor:"status"`
	Started  time.Time    `json:"started" cbor:"started"`
	Finished time.Time    `json:"finished,omitempty" cbor:"finished,omitempty"`
	Error    string       `json:"error,omitempty" cbor:"error,omitempty"`
	Summary  *etl.Summary `json:"summary,omitempty" cbor:"summary,omitempty"`
}

// Runtime registers runs of a job.
type Runtime interface {
	Init(ctx context.Context, jobName string, args job.Args) (Handle, error)
	Close() error
}

// Handle is a registered run.
type Handle interface {
	ID() string
	// Commit marks the run succeeded. It is accepted once, while the run is
	// running; afterwards it returns ErrNotRunning.
	Commit(ctx context.Context, summary *etl.Summary) error
	// Fail marks the run failed with cause.
	Fail(ctx context.Context, cause error) error
}

// RunLister is implemented by runtimes that keep run history.
type RunLister interface {
	ListRuns(ctx context.Context, jobName string) ([]RunInfo, error)
	GetRun(ctx context.Context, jobName, runID string) (*RunInfo, error)
}

func newRunInfo(id, jobName string, args job.Args) RunInfo {
	host, _ := os.Hostname()
	return RunInfo{
		ID:      id,
		Job:     jobName,
		Args:    args,
		Host:    host,
		Status:  RunStateRunning,
		Started: time.Now().UTC(),
	}
}

func failCause(err error) error {
	if err == nil {
		return errors.New("run failed")
	}
	return err
}

// finish moves a running record to its final state.
func (r *RunInfo) finish(summary *etl.Summary, cause error) error {
	if r.Status != RunStateRunning {
		return ErrNotRunning
	}
	r.Finished = time.Now().UTC()
	if cause != nil {
		r.Status = RunStateFailed
		r.Error = cause.Error()
		return nil
	}
	r.Status = RunStateSucceeded
	r.Summary = summary
	return nil
}
