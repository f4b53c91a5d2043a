package dataset

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"
)

const deleteBatchSize = 1000

// DeleteAll removes names from store in batches, running up to concurrency
// batches at once.
func DeleteAll(ctx context.Context, store Store, names []string, concurrency int) error {
	if len(names) == 0 {
		return nil
	}
	if concurrency < 1 {
		concurrency = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for start := 0; start < len(names); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(names))
		batch := names[start:end]
		g.Go(func() error {
			return store.Delete(ctx, batch...)
		})
	}
	return g.Wait()
}

// Names returns the names of objs.
func Names(objs []Object) []string {
	names := make([]string, len(objs))
	for i, o := range objs {
		names[i] = o.Name
	}
	return names
}

// Helper to support bool/int/bool-string conversion
func toBool(val interface{}) bool {
	switch v := val.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case string:
		return v == "1" || v == "true" || v == "on"
	default:
		return false
	}
}

func optString(opts map[string]interface{}, key string) string {
	s, _ := opts[key].(string)
	return s
}

// Helper to select which endpoint to use
func chooseEndpoint(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".csv"):
		return "text/csv"
	case strings.HasSuffix(name, ".gz"):
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}
