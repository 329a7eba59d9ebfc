// Package classifier assigns ledger accounts to transactions. The model
// backed implementation narrows catalog candidates, asks the model for a
// JSON verdict and reconciles it; FallbackClassifier needs no credentials.
package classifier

import (
	"context"

	"github.com/dvloznov/journal-classifier/internal/domain"
	"github.com/dvloznov/journal-classifier/internal/masters"
)

// Classifier predicts the ledger account for one transaction. An error
// means no prediction could be made; the transaction keeps its values.
type Classifier interface {
	Classify(ctx context.Context, tx *domain.Transaction, cat *masters.Catalogs) (domain.AccountPrediction, error)
}

// FallbackClassifier returns the direction default for every transaction.
// The CLI uses it for offline runs where no model key is available.
type FallbackClassifier struct{}

// Classify implements Classifier.
func (FallbackClassifier) Classify(_ context.Context, tx *domain.Transaction, _ *masters.Catalogs) (domain.AccountPrediction, error) {
	return domain.FallbackPrediction(tx.Direction), nil
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, tx *domain.Transaction, cat *masters.Catalogs) (domain.AccountPrediction, error)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(ctx context.Context, tx *domain.Transaction, cat *masters.Catalogs) (domain.AccountPrediction, error) {
	return f(ctx, tx, cat)
}

var (
	_ Classifier = FallbackClassifier{}
	_ Classifier = ClassifierFunc(nil)
)
