package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dvloznov/journal-classifier/internal/api/middleware"
	"github.com/dvloznov/journal-classifier/internal/export"
	"github.com/dvloznov/journal-classifier/internal/exportcache"
	"github.com/dvloznov/journal-classifier/internal/logger"
	"github.com/gorilla/mux"
)

const (
	formatCSV  = "csv"
	formatXLSX = "xlsx"

	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ExportsHandler serves cached ledger exports.
type ExportsHandler struct {
	cache  *exportcache.Cache
	marker ExportMarker
}

// NewExportsHandler creates an exports handler. marker may be nil when no
// database is configured.
func NewExportsHandler(cache *exportcache.Cache, marker ExportMarker) *ExportsHandler {
	return &ExportsHandler{cache: cache, marker: marker}
}

// Download handles GET /api/mf/exports/{id}. The id may carry a .csv or
// .xlsx suffix; the download token travels in the query string.
func (h *ExportsHandler) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	id := mux.Vars(r)["id"]
	format := formatCSV
	switch {
	case strings.HasSuffix(id, ".xlsx"):
		id, format = strings.TrimSuffix(id, ".xlsx"), formatXLSX
	case strings.HasSuffix(id, ".csv"):
		id = strings.TrimSuffix(id, ".csv")
	}

	query := r.URL.Query()
	if f := strings.ToLower(query.Get("format")); f != "" {
		if f != formatCSV && f != formatXLSX {
			middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", f))
			return
		}
		format = f
	}
	enc, err := export.ParseEncoding(query.Get("encoding"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := h.cache.Get(id, query.Get("token"))
	switch {
	case errors.Is(err, exportcache.ErrNotFound), errors.Is(err, exportcache.ErrExpired):
		middleware.WriteError(w, http.StatusNotFound, "CSV export not found (expired or invalid id)")
		return
	case errors.Is(err, exportcache.ErrTokenMismatch):
		middleware.WriteError(w, http.StatusForbidden, "Invalid or expired download token")
		return
	case err != nil:
		log.Error().Err(err).Str("export_id", id).Msg("api.export.lookup_failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load export")
		return
	}

	var (
		body        []byte
		contentType string
	)
	if format == formatXLSX {
		rows, err := export.ParseCSV(entry.CSV)
		if err == nil {
			body, err = export.XLSX(rows)
		}
		if err != nil {
			log.Error().Err(err).Str("export_id", id).Msg("api.export.xlsx_failed")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to render workbook")
			return
		}
		contentType = contentTypeXLSX
	} else {
		body, err = export.Encode(entry.CSV, enc)
		if err != nil {
			log.Error().Err(err).Str("export_id", id).Msg("api.export.encode_failed")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to encode export")
			return
		}
		contentType = "text/csv; charset=utf-8"
		if enc == export.EncodingCP932 {
			contentType = "text/csv; charset=Shift_JIS"
		}
	}

	if h.marker != nil && entry.TenantID != "" && len(entry.EntryIDs) > 0 {
		n, err := h.marker.MarkExported(logger.WithTenant(ctx, entry.TenantID), entry.TenantID, entry.EntryIDs)
		if err != nil {
			log.Error().Err(err).Str("export_id", id).Msg("api.export.mark_failed")
		} else {
			log.Info().Str("export_id", id).Int64("marked", n).Msg("api.export.marked")
		}
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="mf_journal_%s.%s"`, id, format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
