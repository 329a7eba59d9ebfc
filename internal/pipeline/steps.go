package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/journal-classifier/internal/classifier"
	"github.com/dvloznov/journal-classifier/internal/domain"
	"github.com/dvloznov/journal-classifier/internal/export"
	"github.com/dvloznov/journal-classifier/internal/infra/bigquery"
	"github.com/dvloznov/journal-classifier/internal/journal"
	"github.com/dvloznov/journal-classifier/internal/loader"
	"github.com/dvloznov/journal-classifier/internal/logger"
	"github.com/dvloznov/journal-classifier/internal/masters"
)

// Step 1: ResolveStep turns the input payload into normalized transactions.
type ResolveStep struct{}

func (s *ResolveStep) Execute(ctx context.Context, state *PipelineState) error {
	batch := Resolve(state.Input)

	state.Batch = batch
	state.Result.Transactions = batch.Transactions
	state.Result.Sources = batch.Sources

	if batch.Len() == 0 {
		ctxLog := logger.FromContext(ctx)
		ctxLog.Info().Msg("pipeline.resolve.empty")
		state.Done = true
	}
	return nil
}

// Resolve loads the input payload into a normalized batch without running
// any other step.
func Resolve(in Input) *loader.Batch {
	var batch *loader.Batch
	switch {
	case in.Transactions != nil:
		batch = loader.FromTransactions(in.Transactions)
	case in.PendingJournalData != nil:
		batch = loader.FromPendingJournal(in.PendingJournalData)
	default:
		batch = loader.FromInferredAccounts(in.InferredAccounts, in.OCRData, in.FileName)
	}

	// A second normalization pass keeps records identical regardless of
	// which loader produced them.
	txs := make([]*domain.Transaction, 0, batch.Len())
	for _, tx := range batch.Transactions {
		if n, ok := domain.Normalize(tx.ToMap()); ok {
			txs = append(txs, n)
		}
	}
	batch.Transactions = txs
	return batch
}

// Step 2: ClassifyStep asks the classifier for every transaction in order.
// A missing classifier skips the step.
type ClassifyStep struct {
	Classifier classifier.Classifier
	Resolve    ClassifierFunc
	Catalogs   CatalogFunc
}

func (s *ClassifyStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)

	clf := s.Classifier
	if clf == nil && s.Resolve != nil {
		resolved, err := s.Resolve(ctx, state.Input.TenantID)
		if err != nil {
			log.Info().Err(err).Msg("pipeline.classify.unavailable")
			return nil
		}
		clf = resolved
	}
	if clf == nil {
		log.Debug().Msg("pipeline.classify.skipped")
		return nil
	}

	var cat *masters.Catalogs
	if s.Catalogs != nil {
		loaded, err := s.Catalogs(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("pipeline.classify.masters_unavailable")
		} else {
			cat = loaded
		}
	}

	txs := state.Result.Transactions
	failed := 0
	var first error
	for i, tx := range txs {
		pred, err := clf.Classify(ctx, tx, cat)
		if err != nil {
			failed++
			if first == nil {
				first = err
			}
			log.Warn().Err(err).Int("tx_index", i+1).Msg("pipeline.classify.failed")
			continue
		}
		classifier.Apply(tx, pred, cat)
		classifier.WriteBack(tx, state.Batch.Sources)
	}

	if failed > 0 {
		state.addError("classification_failed: %d/%d transactions: %v", failed, len(txs), first)
	}
	return nil
}

// Step 3: ExportStep encodes the ledger CSV. Encoding failures leave the
// export absent.
type ExportStep struct{}

func (s *ExportStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Input.SkipExport {
		return nil
	}

	text, err := export.CSV(state.Result.Transactions)
	if err != nil {
		ctxLog := logger.FromContext(ctx)
		ctxLog.Error().Err(err).Msg("pipeline.export.failed")
		return nil
	}
	state.Result.CSV = text
	state.Result.HasCSV = true
	return nil
}

// Step 4: PersistStep saves a prediction and a ledger entry per
// transaction. Failures are collected; in strict mode they are returned as
// a PersistError once every transaction has been attempted.
type PersistStep struct {
	Persister Persister
	Auditor   AuditInserter
	Now       func() time.Time
}

func (s *PersistStep) Execute(ctx context.Context, state *PipelineState) error {
	in := state.Input
	if !in.Persist {
		return nil
	}
	log := logger.FromContext(ctx)

	var precondition error
	switch {
	case s.Persister == nil:
		precondition = ErrNoPersister
	case in.TenantID == "":
		precondition = ErrMissingTenant
	}
	if precondition != nil {
		log.Error().Err(precondition).Msg("pipeline.persist.unavailable")
		state.addError("persist_failed: %v", precondition)
		if in.Strict {
			return precondition
		}
		return nil
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ts := now()

	txs := state.Result.Transactions
	var failures []string
	for i, tx := range txs {
		idx := i + 1
		entryID, err := s.persistOne(ctx, in.TenantID, tx, ts)
		if err != nil {
			msg := fmt.Sprintf("tx=%d: %v", idx, err)
			failures = append(failures, msg)
			state.Result.Errors = append(state.Result.Errors, msg)
			log.Error().Err(err).Int("tx_index", idx).Msg("pipeline.persist.failed")
			continue
		}
		if entryID != "" {
			state.Result.PersistedEntryIDs = append(state.Result.PersistedEntryIDs, entryID)
		}
		state.Result.PersistedCount++
	}

	log.Info().
		Int("persisted", state.Result.PersistedCount).
		Int("failed", len(failures)).
		Msg("pipeline.persist.done")

	if in.Strict && len(failures) > 0 {
		return &PersistError{Failed: len(failures), Total: len(txs), First: failures[0]}
	}
	return nil
}

func (s *PersistStep) persistOne(ctx context.Context, tenantID string, tx *domain.Transaction, now time.Time) (string, error) {
	pred := journal.PredictionFromTransaction(tx, now)
	predictionID, err := s.Persister.SavePrediction(ctx, tenantID, pred)
	if err != nil {
		return "", fmt.Errorf("save prediction: %w", err)
	}

	if s.Auditor != nil {
		row := bigquery.NewPredictionAuditRow(tenantID, predictionID, pred)
		if err := s.Auditor.InsertPredictionAudit(ctx, row); err != nil {
			ctxLog := logger.FromContext(ctx)
			ctxLog.Warn().Err(err).
				Str("prediction_id", predictionID).
				Msg("pipeline.persist.audit_failed")
		}
	}

	entry := journal.FromTransaction(tx, predictionID, now)
	entryID, err := s.Persister.SaveJournalEntry(ctx, tenantID, entry)
	if err != nil {
		return "", fmt.Errorf("save journal entry: %w", err)
	}
	return entryID, nil
}
