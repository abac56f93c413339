// Package feature turns raw per-IP tables into dense numeric matrices.
package feature

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Error kinds surfaced at the pipeline boundary. Match with errors.Is.
var (
	// ErrConfiguration indicates the requested column selection has no
	// overlap with the columns the source actually returned.
	ErrConfiguration = errors.New("configuration error")

	// ErrTransformation indicates the raw table could not be turned into a
	// usable matrix: no rows survive null-dropping, or no numeric columns
	// remain once the IP column is set aside.
	ErrTransformation = errors.New("transformation error")
)

// Table is a raw tabular result from a feature source. Cells stay as
// strings so that nulls (empty cells) survive until Build decides their
// fate. The IP identifier column may be named "ip" or "IP".
type Table struct {
	Columns []string
	Rows    [][]string
}

// Matrix is a dense numeric feature matrix keyed by IP. Every row of Data
// has exactly len(FeatureNames) columns, and IPs[i] identifies Data[i].
type Matrix struct {
	IPs          []string
	FeatureNames []string
	Data         [][]float64
}

// Builder normalizes raw tables into matrices.
type Builder struct {
	log *zap.Logger
}

// NewBuilder creates a Builder. A nil logger disables logging.
func NewBuilder(log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{log: log}
}

// Build restricts the table to the selected columns (all columns when the
// selection is empty), drops rows with a null in any surviving numeric
// column, and coerces the remaining cells to float64. Cells that survive
// null-dropping but fail numeric coercion become 0.0 rather than
// propagating NaN into the model.
func (b *Builder) Build(t *Table, selected []string) (*Matrix, error) {
	ipIdx := ipColumn(t.Columns)
	if ipIdx < 0 {
		return nil, errors.Wrap(ErrTransformation, "table has no ip column")
	}

	featureIdx, err := b.selectColumns(t.Columns, selected, ipIdx)
	if err != nil {
		return nil, err
	}
	if len(featureIdx) == 0 {
		return nil, errors.Wrap(ErrTransformation, "no numeric feature columns remain")
	}

	names := make([]string, len(featureIdx))
	for i, idx := range featureIdx {
		names[i] = t.Columns[idx]
	}

	m := &Matrix{FeatureNames: names}
	dropped := 0
	for _, row := range t.Rows {
		if hasNull(row, featureIdx) {
			dropped++
			continue
		}
		vec := make([]float64, len(featureIdx))
		for i, idx := range featureIdx {
			vec[i] = coerce(row[idx])
		}
		m.IPs = append(m.IPs, row[ipIdx])
		m.Data = append(m.Data, vec)
	}
	if dropped > 0 {
		b.log.Info("dropped incomplete rows", zap.Int("dropped", dropped), zap.Int("kept", len(m.Data)))
	}
	if len(m.Data) == 0 {
		return nil, errors.Wrapf(ErrTransformation, "no rows remain after dropping %d incomplete rows", dropped)
	}
	return m, nil
}

// selectColumns resolves the feature column indices, honoring the order of
// the selection when one is given.
func (b *Builder) selectColumns(columns, selected []string, ipIdx int) ([]int, error) {
	if len(selected) == 0 {
		idx := make([]int, 0, len(columns)-1)
		for i := range columns {
			if i != ipIdx {
				idx = append(idx, i)
			}
		}
		return idx, nil
	}

	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[c] = i
	}

	var idx []int
	found := 0
	for _, sel := range selected {
		i, ok := pos[sel]
		if !ok {
			b.log.Warn("selected column not in table", zap.String("column", sel))
			continue
		}
		found++
		if i != ipIdx {
			idx = append(idx, i)
		}
	}
	if found == 0 {
		return nil, errors.Wrapf(ErrConfiguration, "none of the %d selected columns exist in the table", len(selected))
	}
	return idx, nil
}

// ipColumn returns the index of the identifier column, or -1.
func ipColumn(columns []string) int {
	for i, c := range columns {
		if strings.EqualFold(c, "ip") {
			return i
		}
	}
	return -1
}

// hasNull reports whether any of the given columns is an empty cell.
func hasNull(row []string, idx []int) bool {
	for _, i := range idx {
		if i >= len(row) || strings.TrimSpace(row[i]) == "" {
			return true
		}
	}
	return false
}

// coerce parses a cell to float64, imputing 0.0 for anything that is not a
// finite number.
func coerce(cell string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0.0
	}
	return v
}
