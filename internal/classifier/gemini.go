package classifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/journal-classifier/internal/domain"
	"github.com/dvloznov/journal-classifier/internal/logger"
	"github.com/dvloznov/journal-classifier/internal/masters"
	"google.golang.org/genai"
)

// Defaults for model calls.
const (
	DefaultModelName   = "gemini-2.5-flash"
	DefaultMaxTokens   = 500
	DefaultTemperature = 0.0
)

// ErrMissingAPIKey is returned when a model client is built without a key.
var ErrMissingAPIKey = errors.New("classifier: model API key is required")

// GenerateRequest is one model call.
type GenerateRequest struct {
	Model       string
	System      string
	User        string
	MaxTokens   int32
	Temperature float32
}

// GenerateResult is the model's text reply and token usage.
type GenerateResult struct {
	Text       string
	TokensUsed int
}

// Generator sends a prompt to a model. It enables swapping the model client
// in tests.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
}

// genaiGenerator is the Gemini implementation of Generator.
type genaiGenerator struct {
	client *genai.Client
}

// NewGenaiGenerator creates a Gemini client for apiKey.
func NewGenaiGenerator(ctx context.Context, apiKey string) (Generator, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGenaiGenerator: create genai client: %w", err)
	}
	return &genaiGenerator{client: client}, nil
}

func (g *genaiGenerator) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		MaxOutputTokens:   req.MaxTokens,
		Temperature:       genai.Ptr(req.Temperature),
	}

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.User), cfg)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("Generate: generate content: %w", err)
	}

	out := GenerateResult{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}

// GeminiClassifier classifies transactions with a Gemini model.
type GeminiClassifier struct {
	gen         Generator
	model       string
	maxTokens   int32
	temperature float32
}

// Option configures a GeminiClassifier.
type Option func(*GeminiClassifier)

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(c *GeminiClassifier) {
		if model != "" {
			c.model = model
		}
	}
}

// WithMaxTokens overrides the output token limit.
func WithMaxTokens(n int32) Option {
	return func(c *GeminiClassifier) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float32) Option {
	return func(c *GeminiClassifier) { c.temperature = t }
}

// NewGeminiClassifier wraps gen.
func NewGeminiClassifier(gen Generator, opts ...Option) *GeminiClassifier {
	c := &GeminiClassifier{
		gen:         gen,
		model:       DefaultModelName,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model name.
func (c *GeminiClassifier) Model() string {
	return c.model
}

// Classify implements Classifier. Transport errors are returned; a reply
// that cannot be interpreted yields the fallback prediction.
func (c *GeminiClassifier) Classify(ctx context.Context, tx *domain.Transaction, cat *masters.Catalogs) (domain.AccountPrediction, error) {
	log := logger.FromContext(ctx)

	var vendors []masters.Vendor
	var accounts []masters.Account
	if cat != nil {
		vendors = SelectVendorCandidates(tx.Vendor, cat.Vendors, VendorCandidateLimit)
		accounts = SelectAccountCandidates(tx.Vendor, tx.Description, tx.Direction, cat.Accounts, AccountCandidateLimit)
	}

	user, err := BuildUserPrompt(tx, vendors, accounts)
	if err != nil {
		return domain.AccountPrediction{}, fmt.Errorf("Classify: build prompt: %w", err)
	}

	log.Debug().
		Str("model", c.model).
		Str("vendor", tx.Vendor).
		Str("amount", tx.Amount.String()).
		Str("direction", string(tx.Direction)).
		Int("vendor_candidates", len(vendors)).
		Int("account_candidates", len(accounts)).
		Msg("classifier.classify.request")

	res, err := c.gen.Generate(ctx, GenerateRequest{
		Model:       c.model,
		System:      systemPrompt,
		User:        user,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return domain.AccountPrediction{}, fmt.Errorf("Classify: %w", err)
	}

	pred := ParseReply(res.Text, tx.Direction, cat)
	pred.Model = c.model
	pred.TokensUsed = res.TokensUsed

	if pred.IsFallback() {
		log.Warn().Str("model", c.model).Msg("classifier.classify.fallback")
	}
	return pred, nil
}

var _ Classifier = (*GeminiClassifier)(nil)
