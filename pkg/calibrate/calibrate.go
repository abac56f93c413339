// Package calibrate maps raw anomaly scores onto bounded, monotonic
// probability scales. All strategies share one invariant: a more anomalous
// (more negative) decision score never yields a lower probability.
package calibrate

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// Method selects a calibration strategy.
type Method string

const (
	// SeverityRanking is a linear min-max rescale of the inverted score.
	SeverityRanking Method = "severity_ranking"
	// PercentileWithinAnomalies is rank-based with average-rank ties.
	PercentileWithinAnomalies Method = "percentile_within_anomalies"
	// ExponentialSeverity emphasizes extreme outliers with a convex rescale.
	ExponentialSeverity Method = "exponential_severity"
	// SigmoidCentered is a logistic rescale centered on the median.
	SigmoidCentered Method = "sigmoid_centered"
	// ThresholdBased maps quartile tiers to fixed probabilities.
	ThresholdBased Method = "threshold_based"
)

// Degenerate constants. The asymmetry between the all-rows and
// anomalies-only modes is intentional and mirrors the upstream system.
const (
	degenerateAll       = 0.5
	degenerateAnomalies = 0.75
)

// sigmoidSlope is the slope factor of the logistic rescale.
const sigmoidSlope = 2.0

// expCurvature controls how sharply ExponentialSeverity emphasizes the
// extreme end of the score range.
const expCurvature = 2.0

// tier probabilities for ThresholdBased, least to most severe.
var tiers = [4]float64{0.6, 0.7, 0.8, 0.95}

// ParseMethod validates a method name from configuration.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case SeverityRanking, PercentileWithinAnomalies, ExponentialSeverity, SigmoidCentered, ThresholdBased:
		return m, nil
	default:
		return "", errors.Errorf("unknown calibration method %q", s)
	}
}

// Calibrate maps the decision scores of the anomaly subset onto [0.5, 1].
// A zero-spread input yields the documented constant for every row.
func Calibrate(m Method, scores []float64) ([]float64, error) {
	if len(scores) == 0 {
		return []float64{}, nil
	}

	inv := invert(scores)
	var probs []float64
	switch m {
	case SeverityRanking:
		probs = upperHalf(minMax(inv))
	case PercentileWithinAnomalies:
		probs = upperHalf(rankFractions(inv))
	case ExponentialSeverity:
		probs = upperHalf(exponential(minMax(inv)))
	case SigmoidCentered:
		probs = upperHalf(sigmoid(inv))
	case ThresholdBased:
		probs = thresholdTiers(inv)
	default:
		return nil, errors.Errorf("unknown calibration method %q", m)
	}

	// Zero spread collapses min-max and sigmoid rescales; every row gets
	// the anomalies-only constant.
	if probs == nil {
		probs = make([]float64, len(scores))
		for i := range probs {
			probs[i] = degenerateAnomalies
		}
	}
	return probs, nil
}

// CalibrateFull covers the all-rows report: the anomaly subset is
// calibrated with the requested method into [0.5, 1] and the non-anomalous
// subset with the severity-ranking lower half into [0, 0.5]. When every
// score in the batch is equal the whole batch gets the all-rows constant.
func CalibrateFull(m Method, scores []float64, anomalous []bool) ([]float64, error) {
	if len(scores) != len(anomalous) {
		return nil, errors.Errorf("scores/labels length mismatch: %d vs %d", len(scores), len(anomalous))
	}
	if len(scores) == 0 {
		return []float64{}, nil
	}

	if allEqual(scores) {
		out := make([]float64, len(scores))
		for i := range out {
			out[i] = degenerateAll
		}
		return out, nil
	}

	var anomalyScores, normalScores []float64
	for i, s := range scores {
		if anomalous[i] {
			anomalyScores = append(anomalyScores, s)
		} else {
			normalScores = append(normalScores, s)
		}
	}

	anomalyProbs, err := Calibrate(m, anomalyScores)
	if err != nil {
		return nil, err
	}
	normalProbs := lowerHalf(minMaxOrConstant(invert(normalScores)))

	out := make([]float64, len(scores))
	ai, ni := 0, 0
	for i := range scores {
		if anomalous[i] {
			out[i] = anomalyProbs[ai]
			ai++
		} else {
			out[i] = normalProbs[ni]
			ni++
		}
	}
	return out, nil
}

// invert flips decision scores so that larger means more anomalous.
func invert(scores []float64) []float64 {
	inv := make([]float64, len(scores))
	for i, s := range scores {
		inv[i] = -s
	}
	return inv
}

func allEqual(v []float64) bool {
	for _, x := range v[1:] {
		if x != v[0] {
			return false
		}
	}
	return true
}

// minMax rescales to [0, 1]; a zero-spread input returns nil so callers can
// substitute their degenerate constant.
func minMax(inv []float64) []float64 {
	lo, hi := inv[0], inv[0]
	for _, v := range inv[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		return nil
	}
	out := make([]float64, len(inv))
	for i, v := range inv {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}

// minMaxOrConstant is minMax with the zero-spread case pinned to the
// interval midpoint.
func minMaxOrConstant(inv []float64) []float64 {
	if len(inv) == 0 {
		return nil
	}
	if out := minMax(inv); out != nil {
		return out
	}
	out := make([]float64, len(inv))
	for i := range out {
		out[i] = 0.5
	}
	return out
}

// upperHalf remaps [0, 1] onto [0.5, 1], passing nil (zero spread) through.
func upperHalf(p01 []float64) []float64 {
	if p01 == nil {
		return nil
	}
	out := make([]float64, len(p01))
	for i, p := range p01 {
		out[i] = 0.5 + 0.5*p
	}
	return out
}

// lowerHalf remaps [0, 1] onto [0, 0.5].
func lowerHalf(p01 []float64) []float64 {
	out := make([]float64, len(p01))
	for i, p := range p01 {
		out[i] = 0.5 * p
	}
	return out
}

// rankFractions assigns average ranks (ties share the mean of their rank
// range) scaled by the row count, yielding values in (0, 1]. A zero-spread
// input returns nil so callers can substitute their degenerate constant.
func rankFractions(inv []float64) []float64 {
	if allEqual(inv) {
		return nil
	}
	n := len(inv)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return inv[idx[a]] < inv[idx[b]] })

	out := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && inv[idx[j]] == inv[idx[i]] {
			j++
		}
		// ranks are 1-based; ties get the average rank of the run
		avg := float64(i+1+j) / 2
		for k := i; k < j; k++ {
			out[idx[k]] = avg / float64(n)
		}
		i = j
	}
	return out
}

// exponential applies a convex rescale to min-max-normalized values.
func exponential(p01 []float64) []float64 {
	if p01 == nil {
		return nil
	}
	out := make([]float64, len(p01))
	denom := math.Exp(expCurvature) - 1
	for i, p := range p01 {
		out[i] = (math.Exp(expCurvature*p) - 1) / denom
	}
	return out
}

// sigmoid applies a logistic rescale centered on the median with the
// configured slope factor. Zero spread returns nil for the degenerate
// constant.
func sigmoid(inv []float64) []float64 {
	if len(inv) < 2 {
		return nil
	}
	med := median(inv)
	spread := stat.PopStdDev(inv, nil)
	if spread == 0 || math.IsNaN(spread) {
		return nil
	}
	out := make([]float64, len(inv))
	for i, v := range inv {
		out[i] = 1 / (1 + math.Exp(-sigmoidSlope*(v-med)/spread))
	}
	return out
}

// thresholdTiers maps each value to one of four fixed severities keyed to
// the quartiles of the inverted scores.
func thresholdTiers(inv []float64) []float64 {
	sorted := make([]float64, len(inv))
	copy(sorted, inv)
	sort.Float64s(sorted)

	q25 := stat.Quantile(0.25, stat.Empirical, sorted, nil)
	q50 := stat.Quantile(0.50, stat.Empirical, sorted, nil)
	q75 := stat.Quantile(0.75, stat.Empirical, sorted, nil)

	out := make([]float64, len(inv))
	for i, v := range inv {
		switch {
		case v <= q25:
			out[i] = tiers[0]
		case v <= q50:
			out[i] = tiers[1]
		case v <= q75:
			out[i] = tiers[2]
		default:
			out[i] = tiers[3]
		}
	}
	return out
}

func median(v []float64) float64 {
	sorted := make([]float64, len(v))
	copy(sorted, v)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
