package api

import (
	"encoding/json"
	"net/http"

	"github.com/ethpandaops/testcycle/pkg/execution"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeInternalError logs err and writes a generic 500.
func (s *server) writeInternalError(
	w http.ResponseWriter, err error, msg string,
) {
	s.log.WithError(err).Error(msg)
	writeJSON(w, http.StatusInternalServerError,
		errorResponse{"internal error"})
}

// handleHealth reports ok while the database answers.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.WithError(err).Warn("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable,
			map[string]string{"status": "database unavailable"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConfig returns the public auth and lifecycle configuration.
func (s *server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	states := make([]map[string]any, 0, len(execution.AllStates))
	for _, st := range execution.AllStates {
		states = append(states, map[string]any{
			"value": int(st),
			"name":  st.String(),
		})
	}

	caps := make([]string, 0, len(execution.AllCapabilities))
	for _, c := range execution.AllCapabilities {
		caps = append(caps, c.String())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"auth": map[string]any{
			"basic_enabled":  s.cfg.Auth.Basic.Enabled,
			"anonymous_read": s.cfg.Auth.AnonymousRead,
		},
		"lifecycle": map[string]any{
			"default_page_size": s.lcCfg.DefaultPageSize,
			"max_page_size":     s.lcCfg.MaxPageSize,
			"states":            states,
			"actions":           execution.AllActions,
			"capabilities":      caps,
			"result_statuses":   execution.AllResultStatuses,
		},
		"metrics_enabled": s.cfg.Metrics.Enabled,
	})
}
