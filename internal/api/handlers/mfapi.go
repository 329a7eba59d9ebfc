package handlers

import (
	"context"
	"net/http"

	"github.com/dvloznov/journal-classifier/internal/api/middleware"
	"github.com/dvloznov/journal-classifier/internal/logger"
	"github.com/dvloznov/journal-classifier/internal/mfapi"
)

// JournalPoster creates journals in MoneyForward.
type JournalPoster interface {
	CreateJournal(ctx context.Context, payload mfapi.JournalPayload) (*mfapi.CreateJournalResult, error)
}

// PostResult reports the outcome for one transaction.
type PostResult struct {
	Index     int    `json:"index"`
	Success   bool   `json:"success"`
	JournalID string `json:"journal_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// MFAPIHandler classifies transactions and posts them to the MoneyForward
// journal API.
type MFAPIHandler struct {
	runner Runner
	poster JournalPoster
}

// NewMFAPIHandler creates the handler. poster may be nil when the API is
// not configured.
func NewMFAPIHandler(runner Runner, poster JournalPoster) *MFAPIHandler {
	return &MFAPIHandler{runner: runner, poster: poster}
}

// PostJournals handles POST /api/mf/register/mf-api
func (h *MFAPIHandler) PostJournals(w http.ResponseWriter, r *http.Request) {
	if h.poster == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "MoneyForward API is not configured")
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeErr(w, err, "")
		return
	}
	req, err := decodeRegisterRequest(body)
	if err != nil {
		writeErr(w, err, "")
		return
	}

	ctx := logger.WithTenant(r.Context(), req.TenantID)
	log := logger.FromContext(ctx)

	in := req.input(false)
	in.SkipExport = true
	res, err := h.runner.Run(ctx, in)
	if err != nil {
		log.Error().Err(err).Msg("api.mfapi.pipeline_failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Classification failed")
		return
	}
	if len(res.Transactions) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "No transactions extracted")
		return
	}

	results := make([]PostResult, 0, len(res.Transactions))
	succeeded := 0
	for i, tx := range res.Transactions {
		pr := PostResult{Index: i + 1}
		payload, err := mfapi.BuildJournalPayload(tx)
		if err == nil {
			var created *mfapi.CreateJournalResult
			created, err = h.poster.CreateJournal(ctx, payload)
			if err == nil {
				pr.Success = true
				pr.JournalID = created.ID
				succeeded++
			}
		}
		if err != nil {
			pr.Error = err.Error()
			log.Warn().Err(err).Int("tx_index", i+1).Msg("api.mfapi.post_failed")
		}
		results = append(results, pr)
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"success":       succeeded == len(results),
		"success_count": succeeded,
		"failure_count": len(results) - succeeded,
		"details":       results,
		"errors":        nonNil(res.Errors),
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
