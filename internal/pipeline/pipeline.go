// Package pipeline runs the journal classification flow: resolve input into
// transactions, classify them, encode the ledger export and optionally
// persist the results. Per-item failures are collected in Result.Errors.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/journal-classifier/internal/classifier"
	"github.com/dvloznov/journal-classifier/internal/domain"
	"github.com/dvloznov/journal-classifier/internal/infra/bigquery"
	"github.com/dvloznov/journal-classifier/internal/journal"
	"github.com/dvloznov/journal-classifier/internal/loader"
	"github.com/dvloznov/journal-classifier/internal/logger"
	"github.com/dvloznov/journal-classifier/internal/masters"
)

// Input selects the payload to classify. Transactions wins over
// PendingJournalData, which wins over InferredAccounts.
type Input struct {
	Transactions       any
	PendingJournalData any
	InferredAccounts   any
	OCRData            map[string]any
	FileName           string

	TenantID   string
	SkipExport bool
	Persist    bool
	Strict     bool
}

// Result is returned for every run, including partial failures.
type Result struct {
	Transactions      []*domain.Transaction
	Sources           []map[string]any
	CSV               string
	HasCSV            bool
	PersistedCount    int
	PersistedEntryIDs []string
	Errors            []string
}

// PipelineStep represents a single step in the classification pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Input  Input
	Batch  *loader.Batch
	Result Result

	// Done stops the remaining steps without an error.
	Done bool
}

func (s *PipelineState) addError(format string, args ...any) {
	s.Result.Errors = append(s.Result.Errors, fmt.Sprintf(format, args...))
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if state.Done {
			return nil
		}
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// Persister stores predictions and the ledger entries derived from them.
type Persister interface {
	SavePrediction(ctx context.Context, tenantID string, p journal.Prediction) (string, error)
	SaveJournalEntry(ctx context.Context, tenantID string, e journal.Entry) (string, error)
}

// AuditInserter mirrors saved predictions to an audit sink.
type AuditInserter interface {
	InsertPredictionAudit(ctx context.Context, row *bigquery.PredictionAuditRow) error
}

// CatalogFunc loads master catalogs for a run.
type CatalogFunc func(ctx context.Context) (*masters.Catalogs, error)

// ClassifierFunc resolves a classifier lazily for a tenant. Returning an
// error means classification is skipped for the run.
type ClassifierFunc func(ctx context.Context, tenantID string) (classifier.Classifier, error)

// Deps are the collaborators of a Runner. All are optional.
type Deps struct {
	Classifier        classifier.Classifier
	ResolveClassifier ClassifierFunc
	Catalogs          CatalogFunc
	Persister         Persister
	Auditor           AuditInserter
	Now               func() time.Time
}

// Runner wires Deps into the standard four-step pipeline.
type Runner struct {
	pipeline *Pipeline
}

// NewRunner creates the standard resolve, classify, export, persist
// pipeline.
func NewRunner(deps Deps) *Runner {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		pipeline: NewPipeline(
			&ResolveStep{},
			&ClassifyStep{
				Classifier: deps.Classifier,
				Resolve:    deps.ResolveClassifier,
				Catalogs:   deps.Catalogs,
			},
			&ExportStep{},
			&PersistStep{
				Persister: deps.Persister,
				Auditor:   deps.Auditor,
				Now:       now,
			},
		),
	}
}

// Run executes the pipeline. The returned Result is never nil; the error is
// non-nil only when strict persistence failed.
func (r *Runner) Run(ctx context.Context, in Input) (*Result, error) {
	ctx = logger.WithTenant(ctx, in.TenantID)
	state := &PipelineState{Input: in}

	if err := r.pipeline.Execute(ctx, state); err != nil {
		return &state.Result, err
	}
	return &state.Result, nil
}
