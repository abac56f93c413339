package pipeline

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskforge/iprisk/pkg/feature"
	"github.com/riskforge/iprisk/pkg/io"
	"github.com/riskforge/iprisk/pkg/report"
)

// scenarioTable is the canonical 5-IP batch: four identical typical rows
// and one far outlier.
func scenarioTable() *feature.Table {
	return &feature.Table{
		Columns: []string{"ip", "requests", "bytes"},
		Rows: [][]string{
			{"A", "1", "1"},
			{"B", "1", "1"},
			{"C", "1", "1"},
			{"D", "1", "1"},
			{"E", "100", "100"},
		},
	}
}

func tableSource(t *feature.Table) io.Source {
	return io.SourceFunc(func(ctx context.Context) (*feature.Table, error) {
		return t, nil
	})
}

func scenarioConfig() Config {
	cfg := DefaultConfig()
	cfg.Contamination = 0.2
	cfg.Seed = 0
	return cfg
}

func TestRunScenarioAnomaliesOnly(t *testing.T) {
	p := New(scenarioConfig(), tableSource(scenarioTable()), nil, nil)

	rep, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{report.ColIP, report.ColEvidence, report.ColProbability}, rep.Columns)
	require.Len(t, rep.Rows, 1)

	row := rep.Rows[0]
	assert.Equal(t, "E", row.IP)
	assert.True(t, row.IsAnomaly)
	// A single flagged row is a degenerate calibration batch: exactly the
	// documented constant, not a min-max-scaled value.
	assert.Equal(t, 0.75, row.Probability)
	// Both features deviate from the typical population's baseline of 1.
	assert.Contains(t, row.Evidence, "requests: 100.00 vs 1.00")
	assert.Contains(t, row.Evidence, "bytes: 100.00 vs 1.00")
	assert.Contains(t, row.Evidence, "Outlier - ")
}

func TestRunScenarioFullReport(t *testing.T) {
	cfg := scenarioConfig()
	cfg.FullReport = true
	p := New(cfg, tableSource(scenarioTable()), nil, nil)

	rep, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t,
		[]string{report.ColIP, report.ColEvidence, report.ColProbability, report.ColIsAnomaly},
		rep.Columns)
	require.Len(t, rep.Rows, 5)

	for _, row := range rep.Rows {
		if row.IP == "E" {
			assert.True(t, row.IsAnomaly)
			assert.Equal(t, 0.75, row.Probability)
			assert.Contains(t, row.Evidence, "Outlier - ")
		} else {
			assert.False(t, row.IsAnomaly)
			// The typical rows share one score, so they sit at the lower
			// half's midpoint.
			assert.Equal(t, 0.25, row.Probability)
			assert.Contains(t, row.Evidence, "Inlier - ")
		}
	}
}

func TestRunDeterminism(t *testing.T) {
	cfg := scenarioConfig()
	cfg.FullReport = true

	first, err := New(cfg, tableSource(scenarioTable()), nil, nil).Run(context.Background())
	require.NoError(t, err)
	second, err := New(cfg, tableSource(scenarioTable()), nil, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRunNoAnomalies(t *testing.T) {
	table := &feature.Table{
		Columns: []string{"ip", "a", "b"},
		Rows: [][]string{
			{"A", "2", "3"},
			{"B", "2", "3"},
			{"C", "2", "3"},
		},
	}

	p := New(scenarioConfig(), tableSource(table), nil, nil)
	rep, err := p.Run(context.Background())
	require.NoError(t, err)

	// Degenerate batch: nothing flagged, but the report keeps its schema.
	assert.Empty(t, rep.Rows)
	assert.Equal(t, []string{report.ColIP, report.ColEvidence, report.ColProbability}, rep.Columns)
}

func TestRunReportRoundTrip(t *testing.T) {
	cfg := scenarioConfig()
	cfg.FullReport = true

	rep, err := New(cfg, tableSource(scenarioTable()), nil, nil).Run(context.Background())
	require.NoError(t, err)

	same, err := rep.Select([]string{
		report.ColIP, report.ColEvidence, report.ColProbability, report.ColIsAnomaly,
	})
	require.NoError(t, err)
	assert.Equal(t, rep, same)
}

func TestRunColumnSelection(t *testing.T) {
	cfg := scenarioConfig()
	cfg.Columns = []string{"IP", "requests"}

	rep, err := New(cfg, tableSource(scenarioTable()), nil, nil).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, rep.Rows, 1)
	assert.NotContains(t, rep.Rows[0].Evidence, "bytes")
}

func TestRunConfigurationErrorPropagates(t *testing.T) {
	cfg := scenarioConfig()
	cfg.Columns = []string{"no_such_column"}

	_, err := New(cfg, tableSource(scenarioTable()), nil, nil).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, feature.ErrConfiguration), "got %v", err)
}

func TestRunSourceErrorPropagates(t *testing.T) {
	src := io.SourceFunc(func(ctx context.Context) (*feature.Table, error) {
		return nil, errors.New("query engine unavailable")
	})

	_, err := New(scenarioConfig(), src, nil, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query engine unavailable")
}

func TestRunWritesToSink(t *testing.T) {
	var written *report.Report
	sink := io.SinkFunc(func(ctx context.Context, rep *report.Report) error {
		written = rep
		return nil
	})

	rep, err := New(scenarioConfig(), tableSource(scenarioTable()), sink, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rep, written)
}

func TestRunSinkErrorPropagates(t *testing.T) {
	sink := io.SinkFunc(func(ctx context.Context, rep *report.Report) error {
		return errors.New("disk full")
	})

	_, err := New(scenarioConfig(), tableSource(scenarioTable()), sink, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
