package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dvloznov/journal-classifier/internal/api/middleware"
	"github.com/dvloznov/journal-classifier/internal/export"
	"github.com/dvloznov/journal-classifier/internal/exportcache"
	"github.com/dvloznov/journal-classifier/internal/logger"
	"github.com/dvloznov/journal-classifier/internal/pipeline"
)

// Values of RegisterResponse.DBPersistence.
const (
	PersistenceEnabled = "enabled"
	PersistenceSkipped = "skipped"
)

// RegisterResponse is returned by POST /api/mf/register.
type RegisterResponse struct {
	Count             int              `json:"count"`
	PersistedCount    int              `json:"persisted_count"`
	DBPersistence     string           `json:"db_persistence"`
	CSVText           string           `json:"csv_text"`
	CSVExportID       string           `json:"csv_export_id"`
	CSVDownloadURL    *string          `json:"csv_download_url"`
	Transactions      []map[string]any `json:"transactions"`
	Errors            []string         `json:"errors"`
	PersistedEntryIDs []string         `json:"-"`
}

// RegisterHandler runs the pipeline for register requests.
type RegisterHandler struct {
	runner        Runner
	cache         *exportcache.Cache
	persistence   bool
	publicBaseURL string
}

// NewRegisterHandler creates a register handler. persistence reports
// whether a database is configured; publicBaseURL, when set, is used to
// build download links.
func NewRegisterHandler(runner Runner, cache *exportcache.Cache, persistence bool, publicBaseURL string) *RegisterHandler {
	return &RegisterHandler{
		runner:        runner,
		cache:         cache,
		persistence:   persistence,
		publicBaseURL: publicBaseURL,
	}
}

// Register handles POST /api/mf/register. With as_json=false the CSV is
// returned directly as a UTF-8 download.
func (h *RegisterHandler) Register(w http.ResponseWriter, r *http.Request) {
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

	asJSON := true
	if v := r.URL.Query().Get("as_json"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			asJSON = parsed
		}
	}

	ctx := logger.WithTenant(r.Context(), req.TenantID)
	if !asJSON {
		res, err := h.run(ctx, req)
		if err != nil {
			writeErr(w, err, "Registration failed")
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(export.WithUTF8BOM(res.CSV))
		return
	}

	resp, err := h.register(ctx, req)
	if err != nil {
		writeErr(w, err, "Registration failed")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// Validate handles POST /api/mf/validate. The payload is resolved the same
// way as for Register but not classified.
func (h *RegisterHandler) Validate(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeErr(w, err, "")
		return
	}
	var req RegisterRequest
	if err := req.UnmarshalJSON(body); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	txs := pipeline.Resolve(req.input(false)).Transactions
	messages := export.Validate(txs)
	if messages == nil {
		messages = []string{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"valid":    len(messages) == 0,
		"count":    len(txs),
		"messages": messages,
	})
}

// persist reports whether the request should be written to the database.
func (h *RegisterHandler) persist(req *RegisterRequest) bool {
	return h.persistence && (req.Persist == nil || *req.Persist)
}

func (h *RegisterHandler) run(ctx context.Context, req *RegisterRequest) (*pipeline.Result, error) {
	res, err := h.runner.Run(ctx, req.input(h.persist(req)))
	if err != nil {
		var perr *pipeline.PersistError
		if errors.As(err, &perr) {
			return nil, &requestError{status: http.StatusBadGateway, message: perr.Error()}
		}
		return nil, fmt.Errorf("run pipeline: %w", err)
	}
	if len(res.Transactions) == 0 {
		return nil, badRequest("No transactions extracted. Provide `transactions` or a valid `pendingJournalData` JSON array.")
	}
	if !res.HasCSV {
		return nil, badRequest("MF CSV generation failed (no output)")
	}
	return res, nil
}

// register runs the pipeline and stores the export for download.
func (h *RegisterHandler) register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	log := logger.FromContext(ctx)

	res, err := h.run(ctx, req)
	if err != nil {
		log.Error().Err(err).Msg("api.register.failed")
		return nil, err
	}

	entry, err := h.cache.Put(req.TenantID, res.CSV, res.PersistedEntryIDs)
	if err != nil {
		return nil, fmt.Errorf("store export: %w", err)
	}

	resp := &RegisterResponse{
		Count:             len(res.Transactions),
		PersistedCount:    res.PersistedCount,
		DBPersistence:     PersistenceSkipped,
		CSVText:           res.CSV,
		CSVExportID:       entry.ID,
		Transactions:      make([]map[string]any, 0, len(res.Transactions)),
		Errors:            res.Errors,
		PersistedEntryIDs: res.PersistedEntryIDs,
	}
	if h.persist(req) {
		resp.DBPersistence = PersistenceEnabled
	}
	if resp.Errors == nil {
		resp.Errors = []string{}
	}
	if h.publicBaseURL != "" {
		link := h.downloadURL(entry)
		resp.CSVDownloadURL = &link
	}
	for _, tx := range res.Transactions {
		resp.Transactions = append(resp.Transactions, tx.ToMap())
	}

	log.Info().
		Int("count", resp.Count).
		Int("persisted", resp.PersistedCount).
		Int("errors", len(resp.Errors)).
		Str("export_id", entry.ID).
		Msg("api.register.completed")
	return resp, nil
}

func (h *RegisterHandler) downloadURL(e exportcache.Entry) string {
	return fmt.Sprintf("%s/api/mf/exports/%s.csv?token=%s", h.publicBaseURL, url.PathEscape(e.ID), url.QueryEscape(e.Token))
}
