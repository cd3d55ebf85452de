package mapping

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
)

// Loader produces a mapping table.
type Loader interface {
	Load(ctx context.Context) (*Table, error)
}

// LoadCSV reads from,to rows. Rows with fewer than two fields are ignored, as
// are fields past the second.
func LoadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	var entries []Entry
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("mapping: read csv: %w", err)
		}
		if len(record) < 2 {
			continue
		}
		entries = append(entries, Entry{From: record[0], To: record[1]})
	}
	return NewTable(entries), nil
}

// FileSource loads a table from a CSV file on every call.
type FileSource struct {
	Path string
}

// Load implements Loader.
func (s FileSource) Load(ctx context.Context) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("mapping: open %s: %w", s.Path, err)
	}
	defer f.Close()
	return LoadCSV(f)
}
