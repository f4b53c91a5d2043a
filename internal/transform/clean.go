package transform

import (
	"net/mail"
	"strings"
	"time"
)

// CleanColumns is the fixed schema the clean step emits.
var CleanColumns = []string{"id", "name", "email", "score", "date"}

var cleanDateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006",
}

// Clean validates raw rows against CleanColumns and projects them onto it.
type Clean struct {
	idx []int
}

func NewClean(opts map[string]interface{}) (Step, error) {
	return &Clean{}, nil
}

func (c *Clean) Name() string { return "clean" }

func (c *Clean) Prepare(header []string) ([]string, error) {
	c.idx = make([]int, len(CleanColumns))
	for i, col := range CleanColumns {
		idx, err := FindColumn(header, col)
		if err != nil {
			return nil, err
		}
		c.idx[i] = idx
	}
	out := make([]string, len(CleanColumns))
	copy(out, CleanColumns)
	return out, nil
}

func (c *Clean) Apply(record []string) ([]string, bool, string) {
	out := make([]string, len(c.idx))
	for i, idx := range c.idx {
		if idx < len(record) {
			out[i] = record[idx]
		}
	}
	for i, col := range CleanColumns {
		if !validField(col, out[i]) {
			return nil, false, "invalid_" + col
		}
	}
	return out, true, ""
}

func validField(col, v string) bool {
	switch col {
	case "id", "name":
		return v != ""
	case "email":
		return validEmail(v)
	case "score":
		return v != "" && allDigits(v)
	case "date":
		return validDate(v)
	}
	return true
}

func validEmail(v string) bool {
	if v == "" || strings.ContainsAny(v, " <>") {
		return false
	}
	addr, err := mail.ParseAddress(v)
	if err != nil || addr.Address != v {
		return false
	}
	_, domain, ok := strings.Cut(v, "@")
	return ok && strings.Contains(domain, ".")
}

func validDate(v string) bool {
	for _, layout := range cleanDateLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}

func init() {
	Register("clean", NewClean)
}
