// Package handlers implements the HTTP endpoints of the journal classifier.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dvloznov/journal-classifier/internal/api/middleware"
	"github.com/dvloznov/journal-classifier/internal/pipeline"
)

// maxBodyBytes bounds request bodies; OCR payloads can be large.
const maxBodyBytes = 10 << 20

// Runner executes the classification pipeline.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input) (*pipeline.Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, in pipeline.Input) (*pipeline.Result, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, in pipeline.Input) (*pipeline.Result, error) {
	return f(ctx, in)
}

// ExportMarker flags ledger entries as downloaded.
type ExportMarker interface {
	MarkExported(ctx context.Context, tenantID string, entryIDs []string) (int64, error)
}

// RegisterRequest is the body of the register endpoints. Both camelCase
// and snake_case keys are accepted.
type RegisterRequest struct {
	TenantID           string         `json:"tenantId"`
	Transactions       any            `json:"transactions,omitempty"`
	InferredAccounts   any            `json:"inferredAccounts,omitempty"`
	PendingJournalData any            `json:"pendingJournalData,omitempty"`
	OCRData            map[string]any `json:"ocrData,omitempty"`
	FileName           string         `json:"fileName,omitempty"`
	Persist            *bool          `json:"persist,omitempty"`
	Strict             bool           `json:"strict,omitempty"`
}

// UnmarshalJSON accepts the snake_case aliases used by older callers.
func (r *RegisterRequest) UnmarshalJSON(data []byte) error {
	type plain RegisterRequest
	var aliases struct {
		plain
		TenantIDSnake           string         `json:"tenant_id"`
		InferredAccountsSnake   any            `json:"inferred_accounts"`
		PendingJournalDataSnake any            `json:"pending_journal_data"`
		OCRDataSnake            map[string]any `json:"ocr_data"`
		FileNameSnake           string         `json:"file_name"`
	}
	if err := json.Unmarshal(data, &aliases); err != nil {
		return err
	}
	*r = RegisterRequest(aliases.plain)
	if r.TenantID == "" {
		r.TenantID = aliases.TenantIDSnake
	}
	if r.InferredAccounts == nil {
		r.InferredAccounts = aliases.InferredAccountsSnake
	}
	if r.PendingJournalData == nil {
		r.PendingJournalData = aliases.PendingJournalDataSnake
	}
	if r.OCRData == nil {
		r.OCRData = aliases.OCRDataSnake
	}
	if r.FileName == "" {
		r.FileName = aliases.FileNameSnake
	}
	return nil
}

func (r *RegisterRequest) input(persist bool) pipeline.Input {
	return pipeline.Input{
		Transactions:       r.Transactions,
		PendingJournalData: r.PendingJournalData,
		InferredAccounts:   r.InferredAccounts,
		OCRData:            r.OCRData,
		FileName:           r.FileName,
		TenantID:           r.TenantID,
		Persist:            persist,
		Strict:             r.Strict,
	}
}

// requestError carries an HTTP status for client-caused failures.
type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string { return e.message }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, message: fmt.Sprintf(format, args...)}
}

// writeErr maps err onto a JSON error response.
func writeErr(w http.ResponseWriter, err error, fallback string) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		middleware.WriteError(w, reqErr.status, reqErr.message)
		return
	}
	middleware.WriteError(w, http.StatusInternalServerError, fallback)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, badRequest("Invalid request body")
	}
	return body, nil
}

func decodeRegisterRequest(body []byte) (*RegisterRequest, error) {
	var req RegisterRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, badRequest("Invalid request body")
	}
	if req.TenantID == "" {
		return nil, badRequest("tenantId is required (in JSON body)")
	}
	return &req, nil
}
