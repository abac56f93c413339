// Package iforest implements the Isolation Forest algorithm for anomaly detection.
package iforest

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/riskforge/iprisk/pkg/detectors"
)

// IsolationForest implements unsupervised anomaly detection using isolation
// trees. Scores returned to callers follow the decision-function
// convention: 0.5 minus the native isolation score, so lower (negative)
// values are more anomalous.
type IsolationForest struct {
	mu sync.RWMutex

	// Configuration
	nTrees        int
	sampleSize    int
	contamination float64
	workers       int
	seed          int64
	maxDepth      int

	// Trained model
	trees   []*iTree
	trained bool

	// Statistics from training
	avgPathLength float64
	// threshold on the native score; strictly greater flags an anomaly
	threshold float64
}

// iTree represents a single isolation tree. Fields are exported for gob.
type iTree struct {
	Root *node
}

// node is a node in the isolation tree.
type node struct {
	// Split parameters (for internal nodes)
	SplitFeature int
	SplitValue   float64

	// Children
	Left  *node
	Right *node

	// Leaf information
	Size int // number of samples that reached this leaf
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.nTrees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) {
		f.sampleSize = n
	}
}

// WithContamination sets the expected proportion of anomalies.
func WithContamination(c float64) Option {
	return func(f *IsolationForest) {
		f.contamination = c
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.seed = seed
	}
}

// WithWorkers bounds the number of goroutines used to build trees.
// Values <= 0 mean all cores. The fit result is identical for any worker
// count: each tree draws from its own seeded generator.
func WithWorkers(n int) Option {
	return func(f *IsolationForest) {
		f.workers = n
	}
}

// New creates a new IsolationForest with the given options.
func New(opts ...Option) *IsolationForest {
	f := &IsolationForest{
		nTrees:        100,
		sampleSize:    256,
		contamination: 0.02,
		seed:          42,
		workers:       -1,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

var _ detectors.Detector = (*IsolationForest)(nil)

// FitScore trains on the batch and returns decision scores and labels in
// input row order. Degenerate input (fewer than 2 distinct rows) yields all
// rows non-anomalous with constant scores rather than an error.
func (f *IsolationForest) FitScore(data [][]float64) ([]float64, []bool, error) {
	if degenerate(data) {
		scores := make([]float64, len(data))
		for i := range scores {
			scores[i] = 0.5
		}
		return scores, make([]bool, len(data)), nil
	}

	if err := f.Fit(data); err != nil {
		return nil, nil, errors.Wrap(detectors.ErrModel, err.Error())
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	raw := f.rawScores(data)
	scores := make([]float64, len(raw))
	labels := make([]bool, len(raw))
	for i, s := range raw {
		scores[i] = 0.5 - s
		labels[i] = s > f.threshold
	}
	return scores, labels, nil
}

// Fit trains the Isolation Forest on the provided data.
func (f *IsolationForest) Fit(data [][]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(data) == 0 {
		return errors.New("empty training data")
	}

	nSamples := len(data)
	nFeatures := len(data[0])

	// Adjust sample size if needed
	sampleSize := f.sampleSize
	if sampleSize > nSamples {
		sampleSize = nSamples
	}
	f.maxDepth = int(math.Ceil(math.Log2(float64(sampleSize))))
	if f.maxDepth < 1 {
		f.maxDepth = 1
	}

	// One seed per tree, drawn up front so the fit is reproducible for any
	// worker count.
	master := rand.New(rand.NewSource(f.seed))
	seeds := make([]int64, f.nTrees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	workers := f.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > f.nTrees {
		workers = f.nTrees
	}

	f.trees = make([]*iTree, f.nTrees)
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i := 0; i < f.nTrees; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			rng := rand.New(rand.NewSource(seeds[i]))
			indices := rng.Perm(nSamples)[:sampleSize]
			sample := make([][]float64, sampleSize)
			for j, idx := range indices {
				sample[j] = data[idx]
			}
			f.trees[i] = &iTree{Root: f.buildNode(rng, sample, nFeatures, 0)}
		}(i)
	}
	wg.Wait()

	// Average path length for normalization
	f.avgPathLength = averagePathLength(float64(sampleSize))
	f.trained = true

	// Threshold based on contamination: the native score at the
	// 100*(1-contamination) percentile of the training batch.
	if f.contamination > 0 {
		scores := f.rawScores(data)
		f.threshold = percentile(scores, 100*(1-f.contamination))
	}

	return nil
}

func (f *IsolationForest) buildNode(rng *rand.Rand, data [][]float64, nFeatures, depth int) *node {
	n := len(data)

	// Terminal conditions
	if depth >= f.maxDepth || n <= 1 {
		return &node{Size: n}
	}

	// Random feature and split value
	feature := rng.Intn(nFeatures)

	// Find min/max for this feature
	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}

	// If all values are the same, return leaf
	if minVal == maxVal {
		return &node{Size: n}
	}

	// Random split value
	splitValue := minVal + rng.Float64()*(maxVal-minVal)

	// Partition data
	var leftData, rightData [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			leftData = append(leftData, row)
		} else {
			rightData = append(rightData, row)
		}
	}

	return &node{
		SplitFeature: feature,
		SplitValue:   splitValue,
		Left:         f.buildNode(rng, leftData, nFeatures, depth+1),
		Right:        f.buildNode(rng, rightData, nFeatures, depth+1),
	}
}

// Scores returns decision scores for the given samples.
func (f *IsolationForest) Scores(data [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, errors.New("model not trained")
	}

	raw := f.rawScores(data)
	scores := make([]float64, len(raw))
	for i, s := range raw {
		scores[i] = 0.5 - s
	}
	return scores, nil
}

func (f *IsolationForest) rawScores(data [][]float64) []float64 {
	scores := make([]float64, len(data))
	for i, sample := range data {
		scores[i] = f.rawScoreOne(sample)
	}
	return scores
}

// ScoreOne returns the decision score for a single sample.
func (f *IsolationForest) ScoreOne(sample []float64) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return 0, errors.New("model not trained")
	}

	return 0.5 - f.rawScoreOne(sample), nil
}

func (f *IsolationForest) rawScoreOne(sample []float64) float64 {
	// Average path length across all trees
	var totalPath float64
	for _, tree := range f.trees {
		totalPath += pathLength(sample, tree.Root, 0)
	}
	avgPath := totalPath / float64(len(f.trees))

	// Native anomaly score: 2^(-avgPath / c(n)), higher = more anomalous
	return math.Pow(2, -avgPath/f.avgPathLength)
}

// pathLength calculates the path length for a sample in a tree.
func pathLength(sample []float64, n *node, currentDepth int) float64 {
	if n.Left == nil && n.Right == nil {
		// Leaf node: add expected path length for remaining isolation
		return float64(currentDepth) + averagePathLength(float64(n.Size))
	}

	if sample[n.SplitFeature] < n.SplitValue {
		return pathLength(sample, n.Left, currentDepth+1)
	}
	return pathLength(sample, n.Right, currentDepth+1)
}

// averagePathLength returns the average path length of unsuccessful search in BST.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	// c(n) = 2*H(n-1) - 2*(n-1)/n, where H is harmonic number
	// Approximation: H(n) = ln(n) + 0.5772156649 (Euler-Mascheroni constant)
	return 2*(math.Log(n-1)+0.5772156649) - 2*(n-1)/n
}

// degenerate reports whether the batch has fewer than two distinct rows.
func degenerate(data [][]float64) bool {
	if len(data) < 2 {
		return true
	}
	first := data[0]
	for _, row := range data[1:] {
		if len(row) != len(first) {
			return false
		}
		for j := range row {
			if row[j] != first[j] {
				return false
			}
		}
	}
	return true
}

// Save serializes the trained model.
func (f *IsolationForest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, errors.New("model not trained")
	}

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(f.nTrees); err != nil {
		return nil, err
	}
	if err := enc.Encode(f.sampleSize); err != nil {
		return nil, err
	}
	if err := enc.Encode(f.contamination); err != nil {
		return nil, err
	}
	if err := enc.Encode(f.threshold); err != nil {
		return nil, err
	}
	if err := enc.Encode(f.avgPathLength); err != nil {
		return nil, err
	}
	if err := enc.Encode(f.maxDepth); err != nil {
		return nil, err
	}
	if err := enc.Encode(f.trees); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (f *IsolationForest) Load(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := bytes.NewBuffer(data)
	dec := gob.NewDecoder(buf)

	if err := dec.Decode(&f.nTrees); err != nil {
		return err
	}
	if err := dec.Decode(&f.sampleSize); err != nil {
		return err
	}
	if err := dec.Decode(&f.contamination); err != nil {
		return err
	}
	if err := dec.Decode(&f.threshold); err != nil {
		return err
	}
	if err := dec.Decode(&f.avgPathLength); err != nil {
		return err
	}
	if err := dec.Decode(&f.maxDepth); err != nil {
		return err
	}
	if err := dec.Decode(&f.trees); err != nil {
		return err
	}

	f.trained = true

	return nil
}

// Threshold returns the native-score threshold set during training.
func (f *IsolationForest) Threshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.threshold
}

// percentile calculates the p-th percentile of the data.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)-1) * p / 100)
	return sorted[idx]
}
