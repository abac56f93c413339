// Package detectors provides unsupervised anomaly detection primitives.
package detectors

import "github.com/pkg/errors"

// ErrModel indicates the underlying model failed on non-degenerate input.
// Retrying with identical input is pointless for a deterministic model, so
// callers should propagate this rather than retry.
var ErrModel = errors.New("model error")

// FitScorer is the contract the pipeline consumes: one fit-and-score pass
// over a batch. Scores follow the decision-function convention (lower /
// more negative = more anomalous); labels mark flagged rows. Output order
// matches input row order.
type FitScorer interface {
	FitScore(data [][]float64) (scores []float64, labels []bool, err error)
}

// Detector is the wider interface for models that separate training from
// scoring and support persistence.
type Detector interface {
	FitScorer

	// Fit trains the detector on historical data.
	// data is a 2D slice where each row is a sample and each column is a feature.
	Fit(data [][]float64) error

	// Scores returns decision scores for the given samples.
	Scores(data [][]float64) ([]float64, error)

	// ScoreOne returns the decision score for a single sample.
	ScoreOne(sample []float64) (float64, error)

	// Save serializes the trained model to bytes.
	Save() ([]byte, error)

	// Load deserializes a trained model from bytes.
	Load(data []byte) error
}

// Config holds common configuration for detectors.
type Config struct {
	// Contamination is the expected proportion of anomalies in the batch.
	// It is a prior fed to the model, not a hard cap on flagged rows.
	Contamination float64
	// RandomSeed for reproducibility.
	RandomSeed int64
	// Workers bounds model-internal parallelism. -1 means all cores.
	Workers int
}

// DefaultConfig returns sensible defaults for detector configuration.
func DefaultConfig() Config {
	return Config{
		Contamination: 0.02,
		RandomSeed:    42,
		Workers:       -1,
	}
}
