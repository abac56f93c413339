// Package explain ranks per-feature deviations from the normal-population
// baseline and renders them as human-readable evidence.
package explain

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/riskforge/iprisk/pkg/feature"
)

// Style selects the evidence label convention.
type Style string

const (
	// StyleLabeled prefixes every row with "Outlier - " or "Inlier - ".
	StyleLabeled Style = "labeled"
	// StylePlain renders the bare detail list for anomalies and the
	// literal "Normal" for everything else.
	StylePlain Style = "plain"
)

// ParseStyle validates a style name from configuration.
func ParseStyle(s string) (Style, error) {
	switch st := Style(s); st {
	case StyleLabeled, StylePlain:
		return st, nil
	default:
		return "", errors.Errorf("unknown evidence style %q", s)
	}
}

// epsilon keeps the deviation finite when a feature has zero spread in the
// baseline population.
const epsilon = 1e-5

// DefaultTopK is the number of features surfaced per row.
const DefaultTopK = 3

// Evidence is one feature's contribution to a row's classification.
type Evidence struct {
	Feature   string
	Actual    float64
	Baseline  float64
	Deviation float64
}

// Explainer computes evidence for every row of a matrix.
type Explainer struct {
	topK  int
	style Style
}

// New creates an Explainer. Non-positive topK falls back to DefaultTopK and
// an empty style to StyleLabeled.
func New(topK int, style Style) *Explainer {
	if topK < 1 {
		topK = DefaultTopK
	}
	if style == "" {
		style = StyleLabeled
	}
	return &Explainer{topK: topK, style: style}
}

// Explain returns the top-k deviating features for every row, anomalous or
// not. The baseline is the mean/stddev of the rows not flagged anomalous;
// when every row is flagged it falls back to the global statistics.
func (e *Explainer) Explain(m *feature.Matrix, anomalous []bool) ([][]Evidence, error) {
	if len(anomalous) != len(m.Data) {
		return nil, errors.Errorf("labels/rows length mismatch: %d vs %d", len(anomalous), len(m.Data))
	}

	mean, std := baseline(m, anomalous)

	out := make([][]Evidence, len(m.Data))
	for i, row := range m.Data {
		ev := make([]Evidence, len(row))
		for j, actual := range row {
			ev[j] = Evidence{
				Feature:   m.FeatureNames[j],
				Actual:    actual,
				Baseline:  mean[j],
				Deviation: math.Abs(actual-mean[j]) / std[j],
			}
		}
		// Stable sort keeps the original feature order on ties.
		sort.SliceStable(ev, func(a, b int) bool { return ev[a].Deviation > ev[b].Deviation })
		if len(ev) > e.topK {
			ev = ev[:e.topK]
		}
		out[i] = ev
	}
	return out, nil
}

// Format renders one row's evidence according to the configured style.
func (e *Explainer) Format(ev []Evidence, isAnomaly bool) string {
	details := make([]string, len(ev))
	for i, item := range ev {
		details[i] = fmt.Sprintf("%s: %.2f vs %.2f (deviation: %.2f)",
			item.Feature, item.Actual, item.Baseline, item.Deviation)
	}
	joined := strings.Join(details, ", ")

	switch e.style {
	case StylePlain:
		if isAnomaly {
			return joined
		}
		return "Normal"
	default:
		if isAnomaly {
			return "Outlier - " + joined
		}
		return "Inlier - " + joined
	}
}

// baseline computes per-feature mean and stddev (plus epsilon) over the
// non-anomalous rows, falling back to all rows when none are normal.
func baseline(m *feature.Matrix, anomalous []bool) (mean, std []float64) {
	normalCount := 0
	for _, a := range anomalous {
		if !a {
			normalCount++
		}
	}

	nFeatures := len(m.FeatureNames)
	mean = make([]float64, nFeatures)
	std = make([]float64, nFeatures)
	col := make([]float64, 0, len(m.Data))

	for j := 0; j < nFeatures; j++ {
		col = col[:0]
		for i, row := range m.Data {
			if normalCount == 0 || !anomalous[i] {
				col = append(col, row[j])
			}
		}
		mean[j] = stat.Mean(col, nil)
		std[j] = stat.PopStdDev(col, nil) + epsilon
	}
	return mean, std
}
