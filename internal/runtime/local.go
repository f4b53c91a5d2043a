package runtime

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/chtzvt/csvjob/internal/etl"
	"github.com/chtzvt/csvjob/internal/job"
	"github.com/google/uuid"
)

// Local is an in-process runtime. Runs are logged and kept in memory only.
type Local struct {
	logger *log.Logger
}

func NewLocal(logger *log.Logger) *Local {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Local{logger: logger}
}

func (l *Local) Init(ctx context.Context, jobName string, args job.Args) (Handle, error) {
	if jobName == "" {
		return nil, fmt.Errorf("%w: %s", job.ErrMissingArgument, job.ArgJobName)
	}
	h := &localHandle{info: newRunInfo(uuid.NewString(), jobName, args), logger: l.logger}
	l.logger.Printf("run %s of %s started", h.info.ID, jobName)
	return h, nil
}

func (l *Local) Close() error { return nil }

type localHandle struct {
	mu     sync.Mutex
	info   RunInfo
	logger *log.Logger
}

func (h *localHandle) ID() string { return h.info.ID }

func (h *localHandle) Commit(ctx context.Context, summary *etl.Summary) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.info.finish(summary, nil); err != nil {
		return err
	}
	h.logger.Printf("run %s of %s committed", h.info.ID, h.info.Job)
	return nil
}

func (h *localHandle) Fail(ctx context.Context, cause error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cause = failCause(cause)
	if err := h.info.finish(nil, cause); err != nil {
		return err
	}
	h.logger.Printf("run %s of %s failed: %v", h.info.ID, h.info.Job, cause)
	return nil
}

// Info returns a copy of the run record.
func (h *localHandle) Info() RunInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.info
}
