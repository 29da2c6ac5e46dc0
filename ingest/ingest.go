package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/giygas/drug-registry/interfaces"
	"github.com/giygas/drug-registry/knowledge"
	"github.com/giygas/drug-registry/logging"
	"github.com/giygas/drug-registry/validation"
)

// Report describes one ingestion run.
type Report struct {
	Source   string                         `json:"source"`
	Format   Format                         `json:"format"`
	Stats    Stats                          `json:"stats"`
	Quality  *validation.BatchQualityReport `json:"quality"`
	Result   knowledge.BatchResult          `json:"result"`
	Duration string                         `json:"duration"`
}

// Runner loads observation files into the knowledge base.
type Runner struct {
	kb        interfaces.Knowledge
	vocab     interfaces.Indexer
	validator *validation.DataValidatorImpl
	timeout   time.Duration
}

// NewRunner creates a runner. vocab, when set, is rebuilt after every run so new
// drug names become matchable.
func NewRunner(kb interfaces.Knowledge, vocab interfaces.Indexer, timeout time.Duration) *Runner {
	return &Runner{
		kb:        kb,
		vocab:     vocab,
		validator: validation.NewDataValidator(),
		timeout:   timeout,
	}
}

// Run fetches src, parses it and records every valid observation in one
// transaction.
func (r *Runner) Run(ctx context.Context, src string) (Report, error) {
	start := time.Now()
	report := Report{Source: src}

	body, err := Fetch(ctx, src, r.timeout)
	if err != nil {
		return report, err
	}

	report.Format = DetectFormat(src, body)
	batch, stats, err := Parse(report.Format, body)
	report.Stats = stats
	if err != nil {
		return report, fmt.Errorf("failed to parse %s: %w", src, err)
	}

	report.Quality, report.Result, err = r.Apply(ctx, batch)
	report.Duration = time.Since(start).String()
	if err != nil {
		return report, err
	}

	logging.Info("Ingestion completed",
		"source", src,
		"format", report.Format,
		"created", report.Result.Created,
		"incremented", report.Result.Incremented,
		"skipped", report.Result.Skipped,
		"duration", report.Duration,
	)
	return report, nil
}

// Apply validates and records an already parsed batch.
func (r *Runner) Apply(ctx context.Context, batch []knowledge.Observation) (*validation.BatchQualityReport, knowledge.BatchResult, error) {
	quality := r.validator.ReportBatchQuality(batch)
	if quality.Invalid > 0 {
		logging.Warn("Invalid observations skipped", "count", quality.Invalid, "rows", quality.InvalidRows)
	}
	if quality.WithoutRole > 0 {
		logging.Warn("Observations without role", "count", quality.WithoutRole, "rows", quality.WithoutRoleRows)
	}

	valid := make([]knowledge.Observation, 0, len(batch))
	for i := range batch {
		if r.validator.ValidateObservation(&batch[i]) == nil {
			valid = append(valid, batch[i])
		}
	}

	res, err := r.kb.IngestBatch(ctx, valid)
	if err != nil {
		return quality, knowledge.BatchResult{}, fmt.Errorf("failed to ingest observations: %w", err)
	}
	res.Skipped += quality.Invalid

	if r.vocab != nil {
		if err := r.vocab.Rebuild(ctx); err != nil {
			logging.Error("Failed to rebuild knowledge-base vocabulary", "error", err)
		}
	}
	return quality, res, nil
}
