package etl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"

	"github.com/chtzvt/csvjob/internal/dataset"
)

// SuccessMarker is the name of the empty object written on commit.
const SuccessMarker = "_SUCCESS"

const deleteConcurrency = 8

// Committer replaces the contents of an output dataset. New parts are
// written alongside the previous contents; Commit then removes everything
// that is not part of this run, so readers never observe a mix once the
// marker is present. Abort removes this run's parts and leaves the previous
// contents as they were.
type Committer struct {
	ds            *dataset.Dataset
	successMarker bool
	logger        *log.Logger
}

func NewCommitter(ds *dataset.Dataset, successMarker bool, logger *log.Logger) *Committer {
	return &Committer{ds: ds, successMarker: successMarker, logger: logger}
}

// Prepare checks that the output can be listed before any rows are read.
// An object stored at exactly the output path is left in place until Commit.
func (c *Committer) Prepare(ctx context.Context) error {
	existing, err := c.ds.Existing(ctx)
	if err != nil {
		return fmt.Errorf("list %s: %w", c.ds.URI, err)
	}
	for _, o := range existing {
		if o.Name == c.ds.Path {
			c.logger.Printf("object at output path %s will be replaced on commit", o.Name)
		}
	}
	return nil
}

// Commit deletes every object under the output that is not in keep, then
// writes the success marker. A previous marker is deleted before anything
// else, so a commit that fails part way never leaves a marked dataset.
func (c *Committer) Commit(ctx context.Context, keep []string) error {
	existing, err := c.ds.Existing(ctx)
	if err != nil {
		return fmt.Errorf("list %s: %w", c.ds.URI, err)
	}
	marker := c.ds.Child(SuccessMarker)
	var stale []string
	for _, o := range existing {
		if slices.Contains(keep, o.Name) {
			continue
		}
		if o.Name == marker {
			if err := c.ds.Store.Delete(ctx, marker); err != nil {
				return fmt.Errorf("remove %s: %w", marker, err)
			}
			continue
		}
		stale = append(stale, o.Name)
	}
	if len(stale) > 0 {
		c.logger.Printf("removing %d previous objects from %s", len(stale), c.ds.URI)
		if err := dataset.DeleteAll(ctx, c.ds.Store, stale, deleteConcurrency); err != nil {
			return fmt.Errorf("remove previous output: %w", err)
		}
	}
	if !c.successMarker {
		return nil
	}
	w, err := c.ds.Store.Create(ctx, marker)
	if err != nil {
		return fmt.Errorf("create %s: %w", SuccessMarker, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("write %s: %w", SuccessMarker, err)
	}
	return nil
}

// Abort removes the parts written by this run.
func (c *Committer) Abort(ctx context.Context, parts []string) error {
	if len(parts) == 0 {
		return nil
	}
	err := dataset.DeleteAll(ctx, c.ds.Store, parts, deleteConcurrency)
	if err != nil && !errors.Is(err, dataset.ErrNotFound) {
		return fmt.Errorf("remove partial output: %w", err)
	}
	return nil
}
