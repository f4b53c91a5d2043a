package etl

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"
	"testing"

	"github.com/chtzvt/csvjob/internal/compression"
	"github.com/chtzvt/csvjob/internal/dataset"
	"github.com/stretchr/testify/require"
)

// readParts decodes every part under prefix, in name order, and returns the
// header of the first part plus all data rows.
func readParts(t *testing.T, store *dataset.MemStore, prefix string) ([]string, [][]string) {
	t.Helper()
	objs, err := store.List(context.Background(), prefix)
	require.NoError(t, err)

	var header []string
	var rows [][]string
	for _, o := range objs {
		if !strings.Contains(o.Name, "/part-") {
			continue
		}
		data, _ := store.Get(o.Name)
		rc, err := compression.NewReader(bytes.NewReader(data), compression.FromFilename(o.Name))
		require.NoError(t, err)
		recs, err := csv.NewReader(rc).ReadAll()
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		require.NotEmpty(t, recs, "part %s has no header", o.Name)
		if header == nil {
			header = recs[0]
		} else {
			require.Equal(t, header, recs[0], "part %s header", o.Name)
		}
		rows = append(rows, recs[1:]...)
	}
	return header, rows
}

func objectNames(t *testing.T, store *dataset.MemStore, prefix string) []string {
	t.Helper()
	objs, err := store.List(context.Background(), prefix)
	require.NoError(t, err)
	return dataset.Names(objs)
}

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := compression.NewWriter(&buf, compression.Gzip)
	require.NoError(t, err)
	_, err = io.WriteString(w, s)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}
