package transform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	step, err := New("clean", nil)
	require.NoError(t, err)

	header, err := step.Prepare([]string{"date", "email", "extra", "id", "name", "score"})
	require.NoError(t, err)
	require.Equal(t, CleanColumns, header)

	cases := []struct {
		name   string
		row    []string
		keep   bool
		reason string
	}{
		{"valid", []string{"2024-01-02", "a@example.com", "x", "1", "Ann", "70"}, true, ""},
		{"valid timestamp", []string{"2024-01-02T03:04:05Z", "a@example.com", "x", "1", "Ann", "70"}, true, ""},
		{"local timestamp", []string{"2024-01-02T03:04:05", "a@example.com", "x", "1", "Ann", "70"}, true, ""},
		{"us date", []string{"01/02/2024", "a@example.com", "x", "1", "Ann", "70"}, true, ""},
		{"missing id", []string{"2024-01-02", "a@example.com", "x", "", "Ann", "70"}, false, "invalid_id"},
		{"missing name", []string{"2024-01-02", "a@example.com", "x", "1", "", "70"}, false, "invalid_name"},
		{"bad email", []string{"2024-01-02", "not-an-email", "x", "1", "Ann", "70"}, false, "invalid_email"},
		{"display name email", []string{"2024-01-02", "Ann <a@example.com>", "x", "1", "Ann", "70"}, false, "invalid_email"},
		{"signed score", []string{"2024-01-02", "a@example.com", "x", "1", "Ann", "-70"}, false, "invalid_score"},
		{"text score", []string{"2024-01-02", "a@example.com", "x", "1", "Ann", "abc"}, false, "invalid_score"},
		{"bad date", []string{"yesterday", "a@example.com", "x", "1", "Ann", "70"}, false, "invalid_date"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, keep, reason := step.Apply(tc.row)
			require.Equal(t, tc.keep, keep)
			require.Equal(t, tc.reason, reason)
			if keep {
				require.Equal(t, []string{tc.row[3], tc.row[4], tc.row[1], tc.row[5], tc.row[0]}, out)
			}
		})
	}
}

func TestClean_MissingColumn(t *testing.T) {
	step, err := New("clean", nil)
	require.NoError(t, err)
	_, err = step.Prepare([]string{"id", "name", "score", "date"})
	require.ErrorContains(t, err, `column "email" not found`)
}
