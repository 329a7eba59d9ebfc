package handlers

import (
	"net/http"
	"time"

	"github.com/dvloznov/journal-classifier/internal/api/middleware"
	"github.com/dvloznov/journal-classifier/internal/logger"
	"github.com/dvloznov/journal-classifier/internal/masters"
	"github.com/dvloznov/journal-classifier/internal/pipeline"
)

// MastersHandler exposes the loaded catalogs.
type MastersHandler struct {
	catalogs pipeline.CatalogFunc
}

// NewMastersHandler creates a masters handler.
func NewMastersHandler(catalogs pipeline.CatalogFunc) *MastersHandler {
	return &MastersHandler{catalogs: catalogs}
}

// ListMasters handles GET /api/masters
func (h *MastersHandler) ListMasters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cat, err := h.catalogs(ctx)
	if err != nil {
		ctxLog := logger.FromContext(ctx)
		ctxLog.Error().Err(err).Msg("api.masters.load_failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load master data")
		return
	}
	if cat == nil {
		cat = &masters.Catalogs{}
	}
	accounts, vendors := cat.Accounts, cat.Vendors
	if accounts == nil {
		accounts = []masters.Account{}
	}
	if vendors == nil {
		vendors = []masters.Vendor{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts":      accounts,
		"vendors":       vendors,
		"account_count": len(accounts),
		"vendor_count":  len(vendors),
	})
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
