// Package report defines the output artifact of a detection run.
package report

import (
	"strconv"

	"github.com/pkg/errors"
)

// Column names of the report schema.
const (
	ColIP          = "IP"
	ColEvidence    = "evidence"
	ColProbability = "probability"
	ColIsAnomaly   = "is_anomaly"
)

// Row is one IP's entry in the final report.
type Row struct {
	IP          string
	Evidence    string
	Probability float64
	IsAnomaly   bool
}

// Report is an ordered set of rows plus the column schema a sink should
// render. Rows are never mutated after the report is built.
type Report struct {
	Columns []string
	Rows    []Row
}

// Full builds the all-rows variant carrying the anomaly flag.
func Full(rows []Row) *Report {
	return &Report{
		Columns: []string{ColIP, ColEvidence, ColProbability, ColIsAnomaly},
		Rows:    rows,
	}
}

// AnomaliesOnly builds the filtered variant. The schema is fixed even when
// no row was flagged, so an empty report still renders its header.
func AnomaliesOnly(rows []Row) *Report {
	flagged := make([]Row, 0, len(rows))
	for _, r := range rows {
		if r.IsAnomaly {
			flagged = append(flagged, r)
		}
	}
	return &Report{
		Columns: []string{ColIP, ColEvidence, ColProbability},
		Rows:    flagged,
	}
}

// Select restricts the report to the named columns, in the given order.
// Re-selecting the current schema is a no-op apart from copying.
func (r *Report) Select(cols []string) (*Report, error) {
	have := make(map[string]bool, len(r.Columns))
	for _, c := range r.Columns {
		have[c] = true
	}
	selected := make([]string, 0, len(cols))
	for _, c := range cols {
		if !have[c] {
			return nil, errors.Errorf("unknown report column %q", c)
		}
		selected = append(selected, c)
	}
	rows := make([]Row, len(r.Rows))
	copy(rows, r.Rows)
	return &Report{Columns: selected, Rows: rows}, nil
}

// Cell renders one column of a row for tabular sinks.
func (r *Report) Cell(row Row, col string) string {
	switch col {
	case ColIP:
		return row.IP
	case ColEvidence:
		return row.Evidence
	case ColProbability:
		return strconv.FormatFloat(row.Probability, 'g', -1, 64)
	case ColIsAnomaly:
		return strconv.FormatBool(row.IsAnomaly)
	default:
		return ""
	}
}
