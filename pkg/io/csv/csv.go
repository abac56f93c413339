// Package csv provides a CSV feature source and a CSV report sink.
package csv

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/riskforge/iprisk/pkg/feature"
	"github.com/riskforge/iprisk/pkg/report"
)

// Source reads a headered CSV file into a raw feature table. Cells are kept
// as strings so empty cells remain visible as nulls to the matrix builder.
type Source struct {
	path string
}

// NewSource creates a CSV feature source for the given file.
func NewSource(path string) *Source {
	return &Source{path: path}
}

// Fetch reads the whole file. The first record is the header; the csv
// reader enforces a consistent field count across rows.
func (s *Source) Fetch(ctx context.Context) (*feature.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(s.path)
	if err != nil {
		return nil, errors.Wrap(err, "open feature csv")
	}
	defer file.Close()

	r := csv.NewReader(file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "read feature csv")
	}
	if len(records) == 0 {
		return nil, errors.Errorf("feature csv %s has no header row", s.path)
	}

	return &feature.Table{
		Columns: records[0],
		Rows:    records[1:],
	}, nil
}

// Sink writes a report to a CSV file, creating parent directories as
// needed. The header is the report's column schema, so both report
// variants render their exact shape.
type Sink struct {
	path string
}

// NewSink creates a CSV report sink for the given file.
func NewSink(path string) *Sink {
	return &Sink{path: path}
}

// Write renders the report. An empty report still writes its header.
func (s *Sink) Write(ctx context.Context, rep *report.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create output directory")
		}
	}

	file, err := os.Create(s.path)
	if err != nil {
		return errors.Wrap(err, "create report csv")
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(rep.Columns); err != nil {
		return errors.Wrap(err, "write report header")
	}
	record := make([]string, len(rep.Columns))
	for _, row := range rep.Rows {
		for i, col := range rep.Columns {
			record[i] = rep.Cell(row, col)
		}
		if err := w.Write(record); err != nil {
			return errors.Wrap(err, "write report row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "flush report csv")
	}
	return errors.Wrap(file.Close(), "close report csv")
}
