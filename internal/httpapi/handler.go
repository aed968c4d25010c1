// Package httpapi serves the local UI: JSON endpoints for every user action,
// snapshot reads for each view, and a websocket stream carrying full view
// rebuilds. The browser holds no state of its own; it renders what this
// package hands it.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"sigmap/internal/engine"
	"sigmap/internal/filter"
	"sigmap/internal/metrics"
	"sigmap/internal/queryapi"
	"sigmap/internal/savedloc"
	"sigmap/internal/state"
)

// ThemeStore is the persisted key-value slot theme preferences live in.
// *prefstore.Store satisfies this.
type ThemeStore interface {
	Get(key string) (string, bool, error)
	Put(key, value string) error
}

const themeKey = "theme.v1"

type Handler struct {
	log       zerolog.Logger
	engine    *engine.Engine
	locations *savedloc.Repo
	theme     ThemeStore
	metrics   *metrics.Metrics
	stream    *Stream
}

func NewHandler(log zerolog.Logger, eng *engine.Engine, locations *savedloc.Repo, theme ThemeStore, m *metrics.Metrics) *Handler {
	return &Handler{
		log:       log,
		engine:    eng,
		locations: locations,
		theme:     theme,
		metrics:   m,
		stream:    NewStream(log),
	}
}

// Stream returns the websocket hub so callers can register it as a view.
func (h *Handler) Stream() *Stream {
	return h.stream
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)

	// Metrics
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Route("/query", func(r chi.Router) {
				r.Post("/nearby", h.handleQueryNearby)
				r.Post("/search", h.handleQuerySearch)
				r.Post("/towers", h.handleQueryTowers)
				r.Post("/towercells", h.handleQueryTowerCells)
			})

			r.Get("/results", h.handleResults)
			r.Get("/markers", h.handleMarkers)
			r.Get("/towers", h.handleTowers)
			r.Get("/viewport", h.handleViewport)

			r.Get("/filters", h.handleGetFilters)
			r.Put("/filters", h.handlePutFilters)
			r.Post("/clear", h.handleClear)

			r.Route("/selection", func(r chi.Router) {
				r.Get("/", h.handleGetSelection)
				r.Post("/", h.handleActivate)
				r.Delete("/", h.handleCloseSelection)
				r.Get("/raw", h.handleSelectionRaw)
			})

			r.Get("/export", h.handleExport)
			r.Get("/providers", h.handleProviders)

			r.Route("/locations", func(r chi.Router) {
				r.Get("/", h.handleListLocations)
				r.Post("/", h.handleAddLocation)
				r.Route("/{id}", func(r chi.Router) {
					r.Delete("/", h.handleRemoveLocation)
					r.Post("/activate", h.handleActivateLocation)
				})
			})

			r.Get("/theme", h.handleGetTheme)
			r.Put("/theme", h.handlePutTheme)

			r.Get("/stream", h.stream.Handle)
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		h.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), elapsed)

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

// writeActionError maps the action-layer error taxonomy onto HTTP statuses.
func (h *Handler) writeActionError(w http.ResponseWriter, err error) {
	var verr *engine.ValidationError
	var berr *engine.BusyError
	var rerr *queryapi.RequestError
	var perr *savedloc.PersistenceError
	switch {
	case errors.As(err, &verr):
		h.writeError(w, http.StatusBadRequest, "validation_failed", verr.Msg, nil)
	case errors.As(err, &berr):
		h.writeError(w, http.StatusConflict, "busy", berr.Error(), map[string]any{"family": berr.Family})
	case errors.As(err, &rerr):
		details := map[string]any{}
		if rerr.CorrelationID != "" {
			details["request_id"] = rerr.CorrelationID
		}
		if rerr.Status != 0 {
			details["upstream_status"] = rerr.Status
		}
		h.writeError(w, http.StatusBadGateway, "upstream_error", rerr.Message, details)
	case errors.As(err, &perr):
		h.writeError(w, http.StatusInternalServerError, "persistence_error", "failed to persist saved locations", nil)
	default:
		h.log.Error().Err(err).Msg("unhandled action error")
		h.writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Queries

type coordQuery struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Mode string  `json:"mode,omitempty"`
}

type searchQuery struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

func (h *Handler) handleQueryNearby(w http.ResponseWriter, r *http.Request) {
	var req coordQuery
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if err := h.engine.Nearby(r.Context(), req.Lat, req.Lon, req.Mode); err != nil {
		h.writeActionError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

func (h *Handler) handleQuerySearch(w http.ResponseWriter, r *http.Request) {
	var req searchQuery
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if err := h.engine.Search(r.Context(), req.Type, req.Query); err != nil {
		h.writeActionError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

func (h *Handler) handleQueryTowers(w http.ResponseWriter, r *http.Request) {
	h.runTowerQuery(w, r, h.engine.Towers)
}

func (h *Handler) handleQueryTowerCells(w http.ResponseWriter, r *http.Request) {
	h.runTowerQuery(w, r, h.engine.TowerCells)
}

func (h *Handler) runTowerQuery(w http.ResponseWriter, r *http.Request, run func(ctx context.Context, lat, lon float64) error) {
	var req coordQuery
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if err := run(r.Context(), req.Lat, req.Lon); err != nil {
		h.writeActionError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

// Snapshot views

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"rows":        snap.Rows,
		"placeholder": snap.Placeholder,
		"status":      snap.Status,
	})
}

func (h *Handler) handleMarkers(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	h.writeJSON(w, http.StatusOK, map[string]any{"markers": snap.Markers})
}

func (h *Handler) handleTowers(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	h.writeJSON(w, http.StatusOK, map[string]any{"towers": snap.Towers})
}

func (h *Handler) handleViewport(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"viewport": snap.Viewport,
		"focus":    snap.Focus,
	})
}

// Filters

type filtersBody struct {
	Text  string   `json:"text"`
	Types []string `json:"types"`
}

func (h *Handler) handleGetFilters(w http.ResponseWriter, r *http.Request) {
	c := h.engine.Criteria()
	h.writeJSON(w, http.StatusOK, filtersBody{Text: c.Text, Types: c.Types})
}

func (h *Handler) handlePutFilters(w http.ResponseWriter, r *http.Request) {
	var req filtersBody
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	h.engine.SetCriteria(filter.Criteria{Text: req.Text, Types: req.Types})
	c := h.engine.Criteria()
	h.writeJSON(w, http.StatusOK, filtersBody{Text: c.Text, Types: c.Types})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	h.engine.Clear()
	h.writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

// Selection

type selectionResponse struct {
	Open   bool   `json:"open"`
	Title  string `json:"title,omitempty"`
	Entity any    `json:"entity,omitempty"`
}

func toSelectionResponse(sel state.Selection) selectionResponse {
	resp := selectionResponse{Open: sel.Open}
	if sel.Open {
		resp.Title = sel.Title
		resp.Entity = sel.Entity
	}
	return resp
}

func (h *Handler) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, toSelectionResponse(h.engine.Selection()))
}

type activateBody struct {
	Index int `json:"index"`
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateBody
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	sel, err := h.engine.Activate(req.Index)
	if err != nil {
		h.writeActionError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toSelectionResponse(sel))
}

func (h *Handler) handleCloseSelection(w http.ResponseWriter, r *http.Request) {
	h.engine.CloseDetail()
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleSelectionRaw serves the verbatim attribute block of the selected
// entity, pretty-printed, for the detail drawer and clipboard copy.
func (h *Handler) handleSelectionRaw(w http.ResponseWriter, r *http.Request) {
	sel := h.engine.Selection()
	if !sel.Open || sel.Entity == nil {
		h.writeError(w, http.StatusNotFound, "no_selection", "no entity is selected", nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sel.Entity.PrettyJSON()))
}

// Export

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	exp, err := h.engine.Export()
	if err != nil {
		var verr *engine.ValidationError
		if errors.As(err, &verr) {
			h.writeError(w, http.StatusNotFound, "no_export", verr.Msg, nil)
			return
		}
		h.writeActionError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+exp.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(exp.Payload)
}

// Providers

func (h *Handler) handleProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.engine.Providers(r.Context())
	if err != nil {
		h.writeActionError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

// Saved locations

type locationCreate struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

func (h *Handler) handleListLocations(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"locations": h.locations.List()})
}

func (h *Handler) handleAddLocation(w http.ResponseWriter, r *http.Request) {
	var req locationCreate
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if !finite(req.Lat) || !finite(req.Lon) {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "Latitude/Longitude must be valid numbers.", nil)
		return
	}
	loc, err := h.locations.Add(req.Name, req.Lat, req.Lon)
	if err != nil {
		h.writeActionError(w, err)
		return
	}
	h.metrics.IncSavedLocationOp("add")
	h.writeJSON(w, http.StatusCreated, loc)
}

func (h *Handler) handleRemoveLocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.locations.Remove(id); err != nil {
		h.writeActionError(w, err)
		return
	}
	h.metrics.IncSavedLocationOp("remove")
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleActivateLocation recenters on the bookmark and hands its coordinates
// back for the input fields. It never issues a query.
func (h *Handler) handleActivateLocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	loc, ok := h.locations.Find(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "saved location not found", map[string]any{"id": id})
		return
	}
	if err := h.engine.FocusCoordinate(loc.Lat, loc.Lon); err != nil {
		h.writeActionError(w, err)
		return
	}
	h.metrics.IncSavedLocationOp("activate")
	h.writeJSON(w, http.StatusOK, map[string]any{
		"location": loc,
		"viewport": h.engine.Snapshot().Viewport,
	})
}

// Theme

type themeBody struct {
	Theme string `json:"theme"`
}

func (h *Handler) handleGetTheme(w http.ResponseWriter, r *http.Request) {
	value, ok, err := h.theme.Get(themeKey)
	if err != nil || !ok || !validTheme(value) {
		value = "dark"
	}
	h.writeJSON(w, http.StatusOK, themeBody{Theme: value})
}

func (h *Handler) handlePutTheme(w http.ResponseWriter, r *http.Request) {
	var req themeBody
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if !validTheme(req.Theme) {
		h.writeError(w, http.StatusBadRequest, "validation_failed", `theme must be "dark" or "light"`, nil)
		return
	}
	if err := h.theme.Put(themeKey, req.Theme); err != nil {
		h.log.Error().Err(err).Msg("persist theme failed")
		h.writeError(w, http.StatusInternalServerError, "persistence_error", "failed to persist theme", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

func validTheme(v string) bool {
	return v == "dark" || v == "light"
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
