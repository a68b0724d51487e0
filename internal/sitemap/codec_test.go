package sitemap

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func sampleRows() []Row {
	return []Row{
		{URL: "https://example.com/p/1", LastModified: strPtr("2026-10-12")},
		{URL: "https://example.com/p/2,with-comma"},
	}
}

func TestCSVRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleRows()))
	require.Contains(t, buf.String(), "URL,Last Modified\n")

	rows, err := ReadCSV(&buf)
	require.NoError(t, err)
	require.Equal(t, sampleRows(), rows)
}

func TestReadCSV_Empty(t *testing.T) {
	t.Parallel()

	rows, err := ReadCSV(bytes.NewReader(nil))
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestParquetRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteParquet(&buf, sampleRows()))

	data := buf.Bytes()
	rows, err := ReadParquet(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Equal(t, sampleRows(), rows)
}
