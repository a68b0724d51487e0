package crawler

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
)

// DatasetStore keeps the append-only datasets of a single run.
type DatasetStore struct {
	mu   sync.Mutex
	sets map[string][]Record
}

// NewDatasetStore returns an empty store.
func NewDatasetStore() *DatasetStore {
	return &DatasetStore{sets: make(map[string][]Record)}
}

// Push appends record to the named dataset.
func (s *DatasetStore) Push(name string, record Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[name] = append(s.sets[name], record)
}

// Records returns a copy of the named dataset in insertion order.
func (s *DatasetStore) Records(name string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, ok := s.sets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, name)
	}
	return slices.Clone(records), nil
}

// WriteRecordsCSV writes records as CSV. The header is the sorted union of
// record keys; strings are written verbatim, nil as an empty cell and every
// other value as JSON.
func WriteRecordsCSV(w io.Writer, records []Record) error {
	var columns []string
	for _, rec := range records {
		for key := range rec {
			if !slices.Contains(columns, key) {
				columns = append(columns, key)
			}
		}
	}
	slices.Sort(columns)

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	row := make([]string, len(columns))
	for _, rec := range records {
		for i, col := range columns {
			cell, err := encodeCell(rec[col])
			if err != nil {
				return fmt.Errorf("encode column %s: %w", col, err)
			}
			row[i] = cell
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// ReadRecordsCSV reads a file produced by WriteRecordsCSV into header-keyed
// string cells. Callers decode JSON cells themselves.
func ReadRecordsCSV(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	var out []map[string]string
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			row[col] = fields[i]
		}
		out = append(out, row)
	}
}

func encodeCell(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("marshal cell: %w", err)
		}
		return string(data), nil
	}
}
