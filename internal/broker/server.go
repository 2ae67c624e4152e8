// Package broker implements the permission broker: a small daemon, run as a
// privileged user, that executes shell commands for clients holding a granted
// token, and the client used by the privileged.Broker backend.
package broker

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/parity/internal/httpapi"
	"github.com/kalambet/parity/internal/privileged"
)

const maxExecBodySize = 64 << 10 // 64KB

// ExecRequest is the body of POST /exec.
type ExecRequest struct {
	Command string `json:"command"`
}

// ExecResponse carries the raw result; clients apply their own failure rule.
type ExecResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// ServerDeps configures the daemon handler.
type ServerDeps struct {
	Runner privileged.Runner
	// Tokens are the granted client tokens. An empty list grants nobody.
	Tokens []string
	// Shell runs each command as Shell -c <command>. Defaults to "sh".
	Shell  string
	Logger *slog.Logger
}

// NewHandler returns the daemon's HTTP handler.
func NewHandler(deps ServerDeps) http.Handler {
	if deps.Shell == "" {
		deps.Shell = "sh"
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/ping", handlePing)
	r.Group(func(r chi.Router) {
		r.Use(httpapi.BearerAuth(httpapi.NewTokens(deps.Tokens...), http.StatusForbidden))
		r.Get("/permission", handlePermission)
		r.Post("/exec", handleExec(deps))
	})
	return r
}

func handlePing(w http.ResponseWriter, _ *http.Request) {
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handlePermission(w http.ResponseWriter, _ *http.Request) {
	httpapi.WriteJSON(w, http.StatusOK, map[string]bool{"granted": true})
}

func handleExec(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxExecBodySize)
		var req ExecRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpapi.Error(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Command) == "" {
			httpapi.Error(w, http.StatusBadRequest, "invalid_request_error", "command is required")
			return
		}

		out, err := deps.Runner.Run(r.Context(), "", deps.Shell, "-c", req.Command)
		if err != nil {
			deps.Logger.Warn("broker exec failed", "error", err)
			httpapi.Error(w, http.StatusInternalServerError, "api_error", "spawning shell: %v", err)
			return
		}
		deps.Logger.Debug("broker exec", "command", req.Command, "exit_code", out.ExitCode)
		httpapi.WriteJSON(w, http.StatusOK, ExecResponse{Stdout: out.Stdout, Stderr: out.Stderr, ExitCode: out.ExitCode})
	}
}
