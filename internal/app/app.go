// Package app builds the collaborators shared by the api and cli binaries
// from configuration.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/journal-classifier/internal/classifier"
	"github.com/dvloznov/journal-classifier/internal/config"
	"github.com/dvloznov/journal-classifier/internal/logger"
	"github.com/dvloznov/journal-classifier/internal/masters"
	"github.com/dvloznov/journal-classifier/internal/pipeline"
)

// GeneratorFactory creates a model client for one API key.
type GeneratorFactory func(ctx context.Context, apiKey string) (classifier.Generator, error)

// ClassifierResolver picks the model key for a tenant and keeps one
// classifier per key.
type ClassifierResolver struct {
	cfg          *config.Config
	newGenerator GeneratorFactory

	mu    sync.Mutex
	byKey map[string]classifier.Classifier
}

// NewClassifierResolver creates a resolver. A nil factory uses the Gemini
// client.
func NewClassifierResolver(cfg *config.Config, factory GeneratorFactory) *ClassifierResolver {
	if factory == nil {
		factory = classifier.NewGenaiGenerator
	}
	return &ClassifierResolver{
		cfg:          cfg,
		newGenerator: factory,
		byKey:        make(map[string]classifier.Classifier),
	}
}

// Resolve implements pipeline.ClassifierFunc.
func (r *ClassifierResolver) Resolve(ctx context.Context, tenantID string) (classifier.Classifier, error) {
	key, err := r.cfg.TenantAPIKey(tenantID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if clf, ok := r.byKey[key]; ok {
		return clf, nil
	}

	gen, err := r.newGenerator(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("Resolve: %w", err)
	}
	clf := classifier.NewGeminiClassifier(gen,
		classifier.WithModel(r.cfg.LLM.Model),
		classifier.WithMaxTokens(r.cfg.LLM.MaxTokens),
		classifier.WithTemperature(r.cfg.LLM.Temperature),
	)
	r.byKey[key] = clf

	ctxLog := logger.FromContext(ctx)
	ctxLog.Info().Str("model", clf.Model()).Msg("app.classifier.created")
	return clf, nil
}

var _ pipeline.ClassifierFunc = (*ClassifierResolver)(nil).Resolve

// CatalogSource reads catalogs from the GCS prefix when one is configured,
// otherwise from the local directory.
func CatalogSource(cfg config.MastersConfig, fetcher masters.Fetcher) masters.Source {
	if cfg.GCSPrefix != "" && fetcher != nil {
		return masters.GCSSource{Fetcher: fetcher, Prefix: cfg.GCSPrefix}
	}
	return masters.DirSource{Dir: cfg.Dir}
}

// Catalogs loads both catalogs from src on every call. Inactive vendors are
// dropped.
func Catalogs(src masters.Source) pipeline.CatalogFunc {
	return func(ctx context.Context) (*masters.Catalogs, error) {
		return masters.Load(ctx, src, masters.Options{ActiveVendorsOnly: true})
	}
}
