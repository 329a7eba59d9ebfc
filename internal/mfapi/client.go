package mfapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/journal-classifier/internal/logger"
	"github.com/google/uuid"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "https://api.biz.moneyforward.com"

const journalsPath = "/api/v1/journals"

// ErrMissingToken is returned by NewClient without an access token.
var ErrMissingToken = errors.New("mfapi: access token is required")

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mfapi: status %d: %s", e.StatusCode, e.Body)
}

// CreateJournalResult is the decoded response of a journal creation.
type CreateJournalResult struct {
	ID   string
	Body json.RawMessage
}

// Client calls the MoneyForward journal API with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a client for baseURL. An empty baseURL uses
// DefaultBaseURL.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateJournal posts payload to the journals endpoint.
func (c *Client) CreateJournal(ctx context.Context, payload JournalPayload) (*CreateJournalResult, error) {
	log := logger.FromContext(ctx)
	reqID := uuid.New().String()
	start := time.Now()

	bs, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("CreateJournal: encode payload: %w", err)
	}

	url := c.baseURL + journalsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		return nil, fmt.Errorf("CreateJournal: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		log.Error().Err(err).Str("req_id", reqID).Int64("elapsed_ms", time.Since(start).Milliseconds()).Msg("mfapi.journal.send_error")
		return nil, fmt.Errorf("CreateJournal: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			log.Warn().Err(err).Str("req_id", reqID).Msg("mfapi.journal.body_close_error")
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("CreateJournal: read response: %w", err)
	}

	log.Info().
		Str("req_id", reqID).
		Int("status", resp.StatusCode).
		Int("bytes", len(raw)).
		Int64("elapsed_ms", time.Since(start).Milliseconds()).
		Msg("mfapi.journal.response")

	if resp.StatusCode/100 != 2 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	result := &CreateJournalResult{Body: raw}
	var decoded struct {
		ID      any `json:"id"`
		Journal struct {
			ID any `json:"id"`
		} `json:"journal"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("CreateJournal: decode response: %w", err)
		}
	}
	switch {
	case decoded.ID != nil:
		result.ID = fmt.Sprint(decoded.ID)
	case decoded.Journal.ID != nil:
		result.ID = fmt.Sprint(decoded.Journal.ID)
	}
	return result, nil
}
