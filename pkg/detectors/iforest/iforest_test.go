package iforest

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsolationForest(t *testing.T) {
	tests := []struct {
		name       string
		opts       []Option
		wantNTrees int
	}{
		{
			name:       "default configuration",
			opts:       nil,
			wantNTrees: 100,
		},
		{
			name:       "custom trees",
			opts:       []Option{WithTrees(50)},
			wantNTrees: 50,
		},
		{
			name:       "multiple options",
			opts:       []Option{WithTrees(200), WithContamination(0.05), WithSeed(123)},
			wantNTrees: 200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.opts...)
			assert.Equal(t, tt.wantNTrees, f.nTrees)
		})
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		name    string
		data    [][]float64
		wantErr bool
	}{
		{
			name:    "empty data",
			data:    [][]float64{},
			wantErr: true,
		},
		{
			name:    "single sample",
			data:    [][]float64{{1.0, 2.0, 3.0}},
			wantErr: false,
		},
		{
			name:    "normal data",
			data:    generateTestData(100, 5),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(WithTrees(10), WithSeed(42))
			err := f.Fit(tt.data)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.True(t, f.trained)
				assert.Len(t, f.trees, f.nTrees)
			}
		})
	}
}

func TestFitScoreDeterminism(t *testing.T) {
	data := generateTestData(300, 4)

	first := New(WithTrees(50), WithSampleSize(128), WithSeed(7))
	scores1, labels1, err := first.FitScore(data)
	require.NoError(t, err)

	second := New(WithTrees(50), WithSampleSize(128), WithSeed(7))
	scores2, labels2, err := second.FitScore(data)
	require.NoError(t, err)

	assert.Equal(t, scores1, scores2)
	assert.Equal(t, labels1, labels2)
}

func TestFitScoreWorkerIndependence(t *testing.T) {
	data := generateTestData(300, 4)

	serial := New(WithTrees(40), WithSeed(11), WithWorkers(1))
	scores1, labels1, err := serial.FitScore(data)
	require.NoError(t, err)

	parallel := New(WithTrees(40), WithSeed(11), WithWorkers(8))
	scores2, labels2, err := parallel.FitScore(data)
	require.NoError(t, err)

	assert.Equal(t, scores1, scores2)
	assert.Equal(t, labels1, labels2)
}

func TestFitScoreDegenerate(t *testing.T) {
	tests := []struct {
		name string
		data [][]float64
	}{
		{
			name: "empty batch",
			data: [][]float64{},
		},
		{
			name: "single row",
			data: [][]float64{{1, 2, 3}},
		},
		{
			name: "all rows identical",
			data: [][]float64{{5, 5}, {5, 5}, {5, 5}, {5, 5}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(WithSeed(42))
			scores, labels, err := f.FitScore(tt.data)

			require.NoError(t, err)
			assert.Len(t, scores, len(tt.data))
			assert.Len(t, labels, len(tt.data))
			for i := range tt.data {
				assert.False(t, labels[i])
				assert.Equal(t, 0.5, scores[i])
			}
		})
	}
}

func TestFitScoreFlagsObviousOutlier(t *testing.T) {
	// Four identical typical rows and one far outlier.
	data := [][]float64{
		{1, 1},
		{1, 1},
		{1, 1},
		{1, 1},
		{100, 100},
	}

	f := New(WithContamination(0.2), WithSeed(0))
	scores, labels, err := f.FitScore(data)
	require.NoError(t, err)

	assert.Equal(t, []bool{false, false, false, false, true}, labels)
	// Decision convention: the outlier scores lower than every typical row.
	for i := 0; i < 4; i++ {
		assert.Less(t, scores[4], scores[i])
	}
}

func TestScoresBeforeFit(t *testing.T) {
	untrained := New()
	_, err := untrained.Scores(generateTestData(10, 3))
	assert.Error(t, err)

	_, err = untrained.ScoreOne([]float64{1, 2, 3})
	assert.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	trainData := generateTestData(200, 4)
	original := New(WithTrees(30), WithContamination(0.15), WithSeed(42))
	require.NoError(t, original.Fit(trainData))

	// Get scores before save
	testData := generateTestData(50, 4)
	originalScores, err := original.Scores(testData)
	require.NoError(t, err)

	// Save
	data, err := original.Save()
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	// Load into new instance
	loaded := New()
	err = loaded.Load(data)
	require.NoError(t, err)

	// Scores should match
	loadedScores, err := loaded.Scores(testData)
	require.NoError(t, err)

	assert.Equal(t, originalScores, loadedScores)
	assert.Equal(t, original.Threshold(), loaded.Threshold())
}

func TestContaminationControlsFlaggedFraction(t *testing.T) {
	data := generateTestData(1000, 3)

	f := New(WithTrees(50), WithContamination(0.1), WithSeed(3))
	_, labels, err := f.FitScore(data)
	require.NoError(t, err)

	flagged := 0
	for _, a := range labels {
		if a {
			flagged++
		}
	}
	// The prior is not a hard cap, but on a smooth score distribution the
	// flagged fraction lands near it.
	assert.InDelta(t, 100, flagged, 30)
}

func BenchmarkFit(b *testing.B) {
	data := generateTestData(10000, 10)
	f := New(WithTrees(100), WithSampleSize(256))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Fit(data)
	}
}

func BenchmarkFitScore(b *testing.B) {
	data := generateTestData(5000, 10)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f := New(WithTrees(100), WithSampleSize(256))
		f.FitScore(data)
	}
}

func generateTestData(n, features int) [][]float64 {
	rng := rand.New(rand.NewSource(1))
	data := make([][]float64, n)
	for i := 0; i < n; i++ {
		data[i] = make([]float64, features)
		for j := 0; j < features; j++ {
			data[i][j] = rng.NormFloat64()
		}
	}
	return data
}
