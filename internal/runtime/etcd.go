package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"

	"github.com/chtzvt/csvjob/internal/etl"
	"github.com/chtzvt/csvjob/internal/job"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const DefaultEtcdPrefix = "/csvjob"

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
}

// Etcd keeps run records in etcd under <prefix>/jobs/<job>/runs/<id>.
type Etcd struct {
	client *clientv3.Client
	prefix string
	logger *log.Logger
}

// NewEtcd keeps run records through client. The client is owned by the
// caller and is not closed by Close.
func NewEtcd(client *clientv3.Client, prefix string, logger *log.Logger) *Etcd {
	if prefix == "" {
		prefix = DefaultEtcdPrefix
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Etcd{client: client, prefix: prefix, logger: logger}
}

func (e *Etcd) Close() error { return nil }

func (e *Etcd) runsPrefix(jobName string) string {
	return fmt.Sprintf("%s/jobs/%s/runs/", e.prefix, jobName)
}

func (e *Etcd) runKey(jobName, runID string) string {
	return e.runsPrefix(jobName) + runID
}

func (e *Etcd) Init(ctx context.Context, jobName string, args job.Args) (Handle, error) {
	if jobName == "" {
		return nil, fmt.Errorf("%w: %s", job.ErrMissingArgument, job.ArgJobName)
	}
	info := newRunInfo(uuid.NewString(), jobName, args)
	val, err := encMode.Marshal(info)
	if err != nil {
		return nil, err
	}
	key := e.runKey(jobName, info.ID)
	resp, err := e.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(val))).
		Commit()
	if err != nil {
		return nil, fmt.Errorf("register run: %w", err)
	}
	if !resp.Succeeded {
		return nil, fmt.Errorf("register run: %s already exists", key)
	}
	e.logger.Printf("run %s of %s started", info.ID, jobName)
	return &etcdHandle{rt: e, key: key, info: info, rev: resp.Header.Revision}, nil
}

// ListRuns returns the runs of a job, most recently started first.
func (e *Etcd) ListRuns(ctx context.Context, jobName string) ([]RunInfo, error) {
	resp, err := e.client.Get(ctx, e.runsPrefix(jobName), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	runs := make([]RunInfo, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var info RunInfo
		if err := cbor.Unmarshal(kv.Value, &info); err != nil {
			e.logger.Printf("skipping undecodable run record %s: %v", kv.Key, err)
			continue
		}
		runs = append(runs, info)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Started.After(runs[j].Started) })
	return runs, nil
}

func (e *Etcd) GetRun(ctx context.Context, jobName, runID string) (*RunInfo, error) {
	resp, err := e.client.Get(ctx, e.runKey(jobName, runID))
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrRunNotFound, jobName, runID)
	}
	var info RunInfo
	if err := cbor.Unmarshal(resp.Kvs[0].Value, &info); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &info, nil
}

type etcdHandle struct {
	rt  *Etcd
	key string

	mu   sync.Mutex
	info RunInfo
	rev  int64 // mod revision of key as last written
}

func (h *etcdHandle) ID() string { return h.info.ID }

func (h *etcdHandle) Commit(ctx context.Context, summary *etl.Summary) error {
	if err := h.transition(ctx, summary, nil); err != nil {
		return err
	}
	h.rt.logger.Printf("run %s of %s committed", h.info.ID, h.info.Job)
	return nil
}

func (h *etcdHandle) Fail(ctx context.Context, cause error) error {
	cause = failCause(cause)
	if err := h.transition(ctx, nil, cause); err != nil {
		return err
	}
	h.rt.logger.Printf("run %s of %s failed: %v", h.info.ID, h.info.Job, cause)
	return nil
}

// transition writes the final state only if the stored record is still the
// one this handle wrote, so a run is closed at most once.
func (h *etcdHandle) transition(ctx context.Context, summary *etl.Summary, cause error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := h.info
	if err := next.finish(summary, cause); err != nil {
		return err
	}
	val, err := encMode.Marshal(next)
	if err != nil {
		return err
	}
	resp, err := h.rt.client.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(h.key), "=", h.rev)).
		Then(clientv3.OpPut(h.key, string(val))).
		Else(clientv3.OpGet(h.key)).
		Commit()
	if err != nil {
		return fmt.Errorf("update run %s: %w", h.info.ID, err)
	}
	if !resp.Succeeded {
		return h.conflict(resp)
	}
	h.info = next
	h.rev = resp.Header.Revision
	return nil
}

func (h *etcdHandle) conflict(resp *clientv3.TxnResponse) error {
	if len(resp.Responses) == 0 {
		return fmt.Errorf("%w: run %s", ErrRunNotFound, h.info.ID)
	}
	kvs := resp.Responses[0].GetResponseRange().Kvs
	if len(kvs) == 0 {
		return fmt.Errorf("%w: run %s", ErrRunNotFound, h.info.ID)
	}
	var stored RunInfo
	if err := cbor.Unmarshal(kvs[0].Value, &stored); err != nil {
		return fmt.Errorf("decode run %s: %w", h.info.ID, err)
	}
	h.info = stored
	h.rev = kvs[0].ModRevision
	if stored.Status != RunStateRunning {
		return fmt.Errorf("%w: run %s is %s", ErrNotRunning, stored.ID, stored.Status)
	}
	return errors.New("run record changed concurrently")
}
