package transform

import "fmt"

const (
	DefaultScoreColumn = "score"
	DefaultMinScore    = 50
)

// ScoreFilter casts one column to an integer and keeps rows whose value is
// at least Min. Rows whose value does not parse are dropped.
type ScoreFilter struct {
	Column string
	Min    int64

	idx int
}

func NewScoreFilter(opts map[string]interface{}) (Step, error) {
	threshold, err := optInt(opts, "min", DefaultMinScore)
	if err != nil {
		return nil, err
	}
	return &ScoreFilter{
		Column: optString(opts, "column", DefaultScoreColumn),
		Min:    threshold,
		idx:    -1,
	}, nil
}

func (f *ScoreFilter) Name() string { return "score-filter" }

func (f *ScoreFilter) Prepare(header []string) ([]string, error) {
	idx, err := FindColumn(header, f.Column)
	if err != nil {
		return nil, fmt.Errorf("score-filter: %w", err)
	}
	f.idx = idx
	return header, nil
}

func (f *ScoreFilter) Apply(record []string) ([]string, bool, string) {
	if f.idx < 0 || f.idx >= len(record) {
		return nil, false, ReasonUnparseable
	}
	v, ok := CastInt(record[f.idx])
	if !ok {
		return nil, false, ReasonUnparseable
	}
	if v < f.Min {
		return nil, false, ReasonBelowThreshold
	}
	record[f.idx] = FormatInt(v)
	return record, true, ""
}

func init() {
	Register("score-filter", NewScoreFilter)
}
