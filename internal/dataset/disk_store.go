package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"github.com/chtzvt/csvjob/internal/secrets"
)

// DiskStore reads and writes files on the local filesystem. Object names are
// file paths.
type DiskStore struct{}

func NewDiskStore(_ *url.URL, _ map[string]interface{}, _ *secrets.Store) (Store, error) {
	return &DiskStore{}, nil
}

func (d *DiskStore) List(ctx context.Context, prefix string) ([]Object, error) {
	info, err := os.Stat(prefix)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []Object{{Name: prefix, Size: info.Size()}}, nil
	}
	var out []Object
	err = filepath.WalkDir(prefix, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			return ctx.Err()
		}
		fi, err := e.Info()
		if err != nil {
			return err
		}
		out = append(out, Object{Name: p, Size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *DiskStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return f, err
}

// Create writes to a hidden temporary file next to name and renames it into
// place on Close.
func (d *DiskStore) Create(ctx context.Context, name string) (Writer, error) {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(name)+".tmp-*")
	if err != nil {
		return nil, err
	}
	return &diskWriter{f: f, name: name}, nil
}

func (d *DiskStore) Delete(ctx context.Context, names ...string) error {
	for _, n := range names {
		if err := os.Remove(n); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

type diskWriter struct {
	f    *os.File
	name string
	done bool
}

func (w *diskWriter) Write(p []byte) (int, error) { return w.f.Write(p) }

func (w *diskWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.f.Close(); err != nil {
		os.Remove(w.f.Name())
		return err
	}
	if err := os.Rename(w.f.Name(), w.name); err != nil {
		os.Remove(w.f.Name())
		return err
	}
	return nil
}

func (w *diskWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.f.Close()
	return os.Remove(w.f.Name())
}

func init() {
	Register("file", NewDiskStore)
}
