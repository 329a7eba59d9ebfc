package handlers

import (
	"net/http"

	"github.com/dvloznov/journal-classifier/internal/api/middleware"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Handlers groups the endpoint handlers mounted by NewRouter. Nil members
// leave their routes unmounted.
type Handlers struct {
	Register *RegisterHandler
	Exports  *ExportsHandler
	Jobs     *JobsHandler
	MFAPI    *MFAPIHandler
	Masters  *MastersHandler
}

// RouterOptions configures the middleware chain.
type RouterOptions struct {
	Log       zerolog.Logger
	AuthToken string
}

// NewRouter mounts all routes and wraps them in the middleware chain.
func NewRouter(h Handlers, opts RouterOptions) http.Handler {
	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})

	r.HandleFunc("/health", Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	if h.Register != nil {
		api.HandleFunc("/mf/register", h.Register.Register).Methods(http.MethodPost)
		api.HandleFunc("/mf/journal/csv", h.Register.Register).Methods(http.MethodPost)
		api.HandleFunc("/mf/validate", h.Register.Validate).Methods(http.MethodPost)
	}
	if h.Exports != nil {
		api.HandleFunc("/mf/exports/{id}", h.Exports.Download).Methods(http.MethodGet)
	}
	if h.Jobs != nil {
		api.HandleFunc("/mf/register/jobs", h.Jobs.EnqueueRegister).Methods(http.MethodPost)
		api.HandleFunc("/jobs", h.Jobs.ListJobs).Methods(http.MethodGet)
		api.HandleFunc("/jobs/{id}", h.Jobs.GetJob).Methods(http.MethodGet)
	}
	if h.MFAPI != nil {
		api.HandleFunc("/mf/register/mf-api", h.MFAPI.PostJournals).Methods(http.MethodPost)
	}
	if h.Masters != nil {
		api.HandleFunc("/masters", h.Masters.ListMasters).Methods(http.MethodGet)
	}

	// Downloads authenticate with their own token.
	public := func(req *http.Request) bool {
		var match mux.RouteMatch
		if !r.Match(req, &match) || match.Route == nil {
			return false
		}
		tpl, _ := match.Route.GetPathTemplate()
		return tpl == "/health" || tpl == "/api/mf/exports/{id}"
	}

	return middleware.Recovery(opts.Log)(
		middleware.RequestID(
			middleware.Logger(opts.Log)(
				middleware.CORS(
					middleware.Auth(opts.AuthToken, public)(r),
				),
			),
		),
	)
}
