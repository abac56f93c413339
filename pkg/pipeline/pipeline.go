// Package pipeline runs one batch detection pass: fetch a raw table, build
// the feature matrix, fit-and-score the outlier model, calibrate the
// scores, explain every row and emit the report.
package pipeline

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/riskforge/iprisk/pkg/calibrate"
	"github.com/riskforge/iprisk/pkg/detectors/iforest"
	"github.com/riskforge/iprisk/pkg/explain"
	"github.com/riskforge/iprisk/pkg/feature"
	"github.com/riskforge/iprisk/pkg/io"
	"github.com/riskforge/iprisk/pkg/report"
)

// Config are the knobs of one run. A run is a pure function of its input
// table and this configuration, so identical inputs reproduce identical
// reports.
type Config struct {
	Contamination float64
	Seed          int64
	Workers       int
	Trees         int
	SampleSize    int

	// Columns restricts the feature set; empty means all columns.
	Columns []string

	Method calibrate.Method
	TopK   int
	Style  explain.Style

	// FullReport carries every row (with its anomaly flag) instead of only
	// the flagged ones.
	FullReport bool
}

// DefaultConfig mirrors the documented configuration surface.
func DefaultConfig() Config {
	return Config{
		Contamination: 0.02,
		Seed:          42,
		Workers:       -1,
		Trees:         100,
		SampleSize:    256,
		Method:        calibrate.SeverityRanking,
		TopK:          explain.DefaultTopK,
		Style:         explain.StyleLabeled,
	}
}

// Pipeline wires a Source and an optional Sink to the scoring core.
type Pipeline struct {
	cfg  Config
	src  io.Source
	sink io.Sink
	log  *zap.Logger
}

// New creates a Pipeline. The sink may be nil when the caller only wants
// the returned report; a nil logger disables logging.
func New(cfg Config, src io.Source, sink io.Sink, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, src: src, sink: sink, log: log}
}

// Run executes one batch. Each phase either fully succeeds or fails
// atomically; failures propagate with their phase attached and the
// original cause preserved.
func (p *Pipeline) Run(ctx context.Context) (*report.Report, error) {
	table, err := p.src.Fetch(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "fetch features")
	}
	p.log.Info("fetched feature table",
		zap.Int("rows", len(table.Rows)),
		zap.Int("columns", len(table.Columns)))

	matrix, err := feature.NewBuilder(p.log).Build(table, p.cfg.Columns)
	if err != nil {
		return nil, errors.WithMessage(err, "build feature matrix")
	}

	forest := iforest.New(
		iforest.WithTrees(p.cfg.Trees),
		iforest.WithSampleSize(p.cfg.SampleSize),
		iforest.WithContamination(p.cfg.Contamination),
		iforest.WithSeed(p.cfg.Seed),
		iforest.WithWorkers(p.cfg.Workers),
	)
	scores, labels, err := forest.FitScore(matrix.Data)
	if err != nil {
		return nil, errors.WithMessage(err, "fit outlier model")
	}

	flagged := 0
	for _, a := range labels {
		if a {
			flagged++
		}
	}
	if flagged == 0 {
		p.log.Warn("no anomalies detected", zap.Int("rows", len(labels)))
	} else {
		p.log.Info("scored batch",
			zap.Int("rows", len(labels)),
			zap.Int("anomalies", flagged))
	}

	explainer := explain.New(p.cfg.TopK, p.cfg.Style)
	evidence, err := explainer.Explain(matrix, labels)
	if err != nil {
		return nil, errors.WithMessage(err, "explain rows")
	}

	rep, err := p.assemble(matrix, scores, labels, evidence, explainer)
	if err != nil {
		return nil, err
	}

	if p.sink != nil {
		if err := p.sink.Write(ctx, rep); err != nil {
			return nil, errors.WithMessage(err, "write report")
		}
	}
	return rep, nil
}

// assemble calibrates probabilities and renders the configured report
// variant.
func (p *Pipeline) assemble(matrix *feature.Matrix, scores []float64, labels []bool,
	evidence [][]explain.Evidence, explainer *explain.Explainer) (*report.Report, error) {

	if p.cfg.FullReport {
		probs, err := calibrate.CalibrateFull(p.cfg.Method, scores, labels)
		if err != nil {
			return nil, errors.WithMessage(err, "calibrate scores")
		}
		rows := make([]report.Row, len(matrix.IPs))
		for i := range rows {
			rows[i] = report.Row{
				IP:          matrix.IPs[i],
				Evidence:    explainer.Format(evidence[i], labels[i]),
				Probability: probs[i],
				IsAnomaly:   labels[i],
			}
		}
		return report.Full(rows), nil
	}

	var anomalyScores []float64
	for i, a := range labels {
		if a {
			anomalyScores = append(anomalyScores, scores[i])
		}
	}
	probs, err := calibrate.Calibrate(p.cfg.Method, anomalyScores)
	if err != nil {
		return nil, errors.WithMessage(err, "calibrate scores")
	}

	var rows []report.Row
	pi := 0
	for i, a := range labels {
		if !a {
			continue
		}
		rows = append(rows, report.Row{
			IP:          matrix.IPs[i],
			Evidence:    explainer.Format(evidence[i], true),
			Probability: probs[pi],
			IsAnomaly:   true,
		})
		pi++
	}
	return report.AnomaliesOnly(rows), nil
}
