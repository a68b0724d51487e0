package sitemap

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

var csvHeader = []string{"URL", "Last Modified"}

// WriteCSV writes rows with a `URL,Last Modified` header. A nil LastModified
// becomes an empty cell.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		lastmod := ""
		if row.LastModified != nil {
			lastmod = *row.LastModified
		}
		if err := cw.Write([]string{row.URL, lastmod}); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// ReadCSV reads a file written by WriteCSV.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)
	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return []Row{}, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	rows := []Row{}
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		row := Row{URL: fields[0]}
		if fields[1] != "" {
			lastmod := fields[1]
			row.LastModified = &lastmod
		}
		rows = append(rows, row)
	}
}

// WriteParquet writes rows as a Parquet file with `url` and optional
// `last_modified` columns.
func WriteParquet(w io.Writer, rows []Row) error {
	if err := parquet.Write(w, rows); err != nil {
		return fmt.Errorf("write parquet: %w", err)
	}
	return nil
}

// ReadParquet reads a file written by WriteParquet.
func ReadParquet(r io.ReaderAt, size int64) ([]Row, error) {
	rows, err := parquet.Read[Row](r, size)
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	return rows, nil
}
