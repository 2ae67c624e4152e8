package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/parity/internal/httpapi"
	"github.com/kalambet/parity/internal/privileged"
	"github.com/kalambet/parity/internal/reconcile"
	"github.com/kalambet/parity/internal/state"
	"github.com/kalambet/parity/internal/storage"
)

// Reconciler is the engine surface consumed by the HTTP and MCP layers.
type Reconciler interface {
	Groups() []reconcile.Group
	Items() []reconcile.Record
	Record(id string) (reconcile.Record, bool)
	Apply(ctx context.Context, id string, target state.State) error
	SaveCurrentAsCustom(ctx context.Context, id string) error
	Mode() privileged.Mode
	SetMode(ctx context.Context, m privileged.Mode) error
	Refresh(ctx context.Context) error
	Capabilities(ctx context.Context) privileged.Capabilities
	History(id string, limit int) ([]storage.HistoryEntry, error)
}

type AppDeps struct {
	Engine Reconciler
	Token  string
	Logger *slog.Logger
}

type applyRequest struct {
	State string `json:"state"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type modeResponse struct {
	Mode  string   `json:"mode"`
	Modes []string `json:"modes"`
}

// NewAppHandler returns the authenticated API used by the CLI and other
// local front ends.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(httpapi.BearerAuth(httpapi.NewTokens(deps.Token), http.StatusUnauthorized))

		r.Get("/items", handleListItems(deps))
		r.Get("/items/{id}", handleGetItem(deps))
		r.Post("/items/{id}/apply", handleApply(deps))
		r.Post("/items/{id}/save-custom", handleSaveCustom(deps))
		r.Get("/mode", handleGetMode(deps))
		r.Put("/mode", handleSetMode(deps))
		r.Post("/refresh", handleRefresh(deps))
		r.Get("/capabilities", handleCapabilities(deps))
		r.Get("/history", handleHistory(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleListItems(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, groupViews(deps.Engine.Groups()))
	}
}

func handleGetItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rec, ok := deps.Engine.Record(id)
		if !ok {
			httpapi.Error(w, http.StatusNotFound, "not_found", "unknown item %q", id)
			return
		}
		httpapi.WriteJSON(w, http.StatusOK, itemView(rec))
	}
}

func handleApply(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req applyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpapi.Error(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		target, err := state.ParseState(req.State)
		if err != nil {
			httpapi.Error(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		id := chi.URLParam(r, "id")
		if err := deps.Engine.Apply(r.Context(), id, target); err != nil {
			deps.Logger.Debug("apply request failed", "item", id, "state", target, "error", err)
			writeFailure(w, err)
			return
		}
		rec, _ := deps.Engine.Record(id)
		httpapi.WriteJSON(w, http.StatusOK, itemView(rec))
	}
}

func handleSaveCustom(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Engine.SaveCurrentAsCustom(r.Context(), id); err != nil {
			writeFailure(w, err)
			return
		}
		rec, _ := deps.Engine.Record(id)
		httpapi.WriteJSON(w, http.StatusOK, itemView(rec))
	}
}

func currentMode(e Reconciler) modeResponse {
	modes := make([]string, len(privileged.Modes))
	for i, m := range privileged.Modes {
		modes[i] = string(m)
	}
	return modeResponse{Mode: string(e.Mode()), Modes: modes}
}

func handleGetMode(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, currentMode(deps.Engine))
	}
}

func handleSetMode(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req modeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpapi.Error(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		m, err := privileged.ParseMode(req.Mode)
		if err != nil {
			httpapi.Error(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err := deps.Engine.SetMode(r.Context(), m); err != nil {
			writeFailure(w, err)
			return
		}
		httpapi.WriteJSON(w, http.StatusOK, currentMode(deps.Engine))
	}
}

func handleRefresh(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Engine.Refresh(r.Context()); err != nil {
			writeFailure(w, err)
			return
		}
		httpapi.WriteJSON(w, http.StatusOK, groupViews(deps.Engine.Groups()))
	}
}

func handleCapabilities(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, deps.Engine.Capabilities(r.Context()))
	}
}

func handleHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 200)
		entries, err := deps.Engine.History(r.URL.Query().Get("item"), limit)
		if err != nil {
			writeFailure(w, err)
			return
		}
		httpapi.WriteJSON(w, http.StatusOK, historyViews(entries))
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
