// Package io provides input/output contracts for feature tables and reports.
package io

import (
	"context"

	"github.com/riskforge/iprisk/pkg/feature"
	"github.com/riskforge/iprisk/pkg/report"
)

// Source is the feature-source collaborator: anything that can produce a
// raw per-IP table. Blocking work (files, network, query engines) lives
// behind this seam, which is why Fetch takes a context.
type Source interface {
	Fetch(ctx context.Context) (*feature.Table, error)
}

// Sink is the report collaborator: anything that can accept a finished
// report.
type Sink interface {
	Write(ctx context.Context, rep *report.Report) error
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (*feature.Table, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context) (*feature.Table, error) { return f(ctx) }

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, rep *report.Report) error

// Write calls f.
func (f SinkFunc) Write(ctx context.Context, rep *report.Report) error { return f(ctx, rep) }
