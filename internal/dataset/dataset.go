// Package dataset addresses tabular datasets by URI and provides the object
// stores they live in. A dataset is either a single object or every visible
// object under a directory prefix; objects whose base name starts with "_"
// or "." are bookkeeping files and never part of the data.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chtzvt/csvjob/internal/secrets"
)

// ErrNotFound reports a missing dataset or object.
var ErrNotFound = errors.New("dataset not found")

// Object describes one stored object.
type Object struct {
	Name string
	Size int64
}

// Writer is an object being written. Data becomes visible under its name only
// after a successful Close; Abort discards it.
type Writer interface {
	io.WriteCloser
	Abort() error
}

// Store is the interface for object stores (disk, s3, azureblob, memory).
// Names are store-wide keys; for disk they are file paths.
type Store interface {
	// List returns objects whose name starts with prefix, in name order.
	List(ctx context.Context, prefix string) ([]Object, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Create(ctx context.Context, name string) (Writer, error)
	// Delete removes the named objects. Missing objects are not an error.
	Delete(ctx context.Context, names ...string) error
}

// Factory builds a Store for the location named by a dataset URI.
type Factory func(location *url.URL, opts map[string]interface{}, secrets *secrets.Store) (Store, error)

var registry = make(map[string]Factory)

// Register makes a store factory available for a URI scheme.
func Register(scheme string, f Factory) {
	registry[scheme] = f
}

// ForScheme returns the store factory registered for scheme.
func ForScheme(scheme string) (Factory, bool) {
	f, ok := registry[scheme]
	return f, ok
}

// Dataset is a dataset path within a store.
type Dataset struct {
	URI   string
	Store Store
	Path  string
}

// Resolve parses a dataset URI and builds the store behind it. storage holds
// per-scheme store options (for example storage["s3"]["region"]). Bare paths
// and file:// URIs resolve to the local disk.
func Resolve(uri string, storage map[string]map[string]interface{}, sec *secrets.Store) (*Dataset, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, errors.New("empty dataset uri")
	}
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Bare paths, including Windows drive letters.
		u = &url.URL{Scheme: "file", Path: uri}
	}
	scheme := strings.ToLower(u.Scheme)
	factory, ok := ForScheme(scheme)
	if !ok {
		return nil, fmt.Errorf("unsupported dataset scheme: %s", scheme)
	}
	store, err := factory(u, storage[scheme], sec)
	if err != nil {
		return nil, fmt.Errorf("%s store: %w", scheme, err)
	}
	return &Dataset{URI: uri, Store: store, Path: datasetPath(scheme, u)}, nil
}

func datasetPath(scheme string, u *url.URL) string {
	if scheme == "file" {
		p := u.Path
		if u.Host != "" && u.Host != "localhost" {
			p = "//" + u.Host + p
		}
		return filepath.Clean(p)
	}
	return strings.Trim(u.Path, "/")
}

// New wraps an existing store; used when the store is constructed directly.
func New(store Store, p string) *Dataset {
	return &Dataset{URI: p, Store: store, Path: strings.TrimSuffix(p, "/")}
}

// Child returns the store name of an object directly under the dataset.
func (d *Dataset) Child(name string) string {
	if d.Path == "" || d.Path == "." {
		return name
	}
	if _, ok := d.Store.(*DiskStore); ok {
		return filepath.Join(d.Path, name)
	}
	return d.Path + "/" + name
}

func (d *Dataset) childPrefix() string {
	if d.Path == "" || d.Path == "." {
		return ""
	}
	if _, ok := d.Store.(*DiskStore); ok {
		return d.Path + string(filepath.Separator)
	}
	return d.Path + "/"
}

// Existing lists every object that belongs to the dataset path, hidden
// bookkeeping objects included.
func (d *Dataset) Existing(ctx context.Context) ([]Object, error) {
	objs, err := d.Store.List(ctx, d.Path)
	if err != nil {
		return nil, err
	}
	prefix := d.childPrefix()
	out := objs[:0]
	for _, o := range objs {
		if o.Name == d.Path || strings.HasPrefix(o.Name, prefix) {
			out = append(out, o)
		}
	}
	return out, nil
}

// Objects lists the data objects of the dataset in name order. Zero-byte
// objects are included; callers decide whether they carry data.
func (d *Dataset) Objects(ctx context.Context) ([]Object, error) {
	all, err := d.Existing(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.URI, err)
	}
	prefix := d.childPrefix()
	var out []Object
	for _, o := range all {
		if o.Name == d.Path {
			return []Object{o}, nil
		}
		if hidden(strings.TrimPrefix(o.Name, prefix)) {
			continue
		}
		out = append(out, o)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, d.URI)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// hidden reports whether any element of a relative object path is a
// bookkeeping name.
func hidden(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, "_") || strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// Base returns the last element of an object name.
func Base(name string) string {
	return path.Base(filepath.ToSlash(name))
}
