// Package transform holds the row-level steps a job can run over a CSV
// dataset. A step sees the input header once, then every record in order,
// and decides per record whether it is kept and what it looks like.
package transform

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Reject reasons recorded for dropped rows.
const (
	ReasonUnparseable    = "unparseable"
	ReasonBelowThreshold = "below_threshold"
)

// Step transforms and filters CSV records.
type Step interface {
	// Prepare validates the input header and returns the output header.
	Prepare(header []string) ([]string, error)

	// Apply returns the output record and true to keep it, or a reject
	// reason and false to drop it. Apply may modify record in place only
	// when it keeps the row.
	Apply(record []string) (out []string, keep bool, reason string)

	Name() string
}

// Factory builds a step from its options.
type Factory func(opts map[string]interface{}) (Step, error)

var registry = make(map[string]Factory)

func Register(name string, f Factory) {
	registry[name] = f
}

// New builds the step registered under name.
func New(name string, opts map[string]interface{}) (Step, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("step not found: %s", name)
	}
	return f(opts)
}

// Registered lists the names of all registered steps.
func Registered() []string {
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FindColumn resolves a column name against a header. An exact match wins;
// otherwise the name is matched case-insensitively and must be unambiguous.
func FindColumn(header []string, name string) (int, error) {
	for i, h := range header {
		if h == name {
			return i, nil
		}
	}
	idx := -1
	for i, h := range header {
		if strings.EqualFold(h, name) {
			if idx >= 0 {
				return -1, fmt.Errorf("column %q is ambiguous: matches %q and %q", name, header[idx], h)
			}
			idx = i
		}
	}
	if idx < 0 {
		return -1, fmt.Errorf("column %q not found in header [%s]", name, strings.Join(header, ", "))
	}
	return idx, nil
}

func optInt(opts map[string]interface{}, key string, def int64) (int64, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("option %s must be an integer, got %v", key, n)
		}
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("option %s must be an integer: %w", key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("option %s must be an integer, got %T", key, v)
	}
}

func optString(opts map[string]interface{}, key, def string) string {
	if s, ok := opts[key].(string); ok && s != "" {
		return s
	}
	return def
}
