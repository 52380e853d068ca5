package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ethpandaops/testcycle/pkg/api/store"
	"github.com/ethpandaops/testcycle/pkg/execution"
)

// Admin endpoints manage project memberships and execution maintenance.
// Accounts themselves are defined in config.

type membershipRequest struct {
	Username     string   `json:"username"`
	ProjectID    int64    `json:"project_id"`
	Capabilities []string `json:"capabilities"`
}

// handleListMemberships returns memberships, optionally for one project.
func (s *server) handleListMemberships(
	w http.ResponseWriter, r *http.Request,
) {
	var projectID int64

	if v := r.URL.Query().Get("project_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"invalid project_id"})

			return
		}

		projectID = id
	}

	members, err := s.store.ListMemberships(r.Context(), projectID)
	if err != nil {
		s.writeInternalError(w, err, "Failed to list memberships")

		return
	}

	writeJSON(w, http.StatusOK, members)
}

// handleUpsertMembership grants one or more capabilities to a user in a
// project. Existing grants are left untouched.
func (s *server) handleUpsertMembership(
	w http.ResponseWriter, r *http.Request,
) {
	var req membershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.Username == "" || req.ProjectID <= 0 || len(req.Capabilities) == 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"username, project_id and capabilities are required"})

		return
	}

	caps := make([]execution.Capability, 0, len(req.Capabilities))

	for _, name := range req.Capabilities {
		c, err := execution.ParseCapability(name)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

			return
		}

		caps = append(caps, c)
	}

	user, err := s.store.UserByUsername(r.Context(), req.Username)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"user not found"})

		return
	} else if err != nil {
		s.writeInternalError(w, err, "Failed to load user")

		return
	}

	granted := make([]*store.ProjectMember, 0, len(caps))

	for _, c := range caps {
		m, err := s.store.UpsertMembership(r.Context(), user.ID, req.ProjectID, c)
		if err != nil {
			s.writeInternalError(w, err, "Failed to upsert membership")

			return
		}

		granted = append(granted, m)
	}

	s.log.WithField("user", user.Username).
		WithField("project_id", req.ProjectID).
		WithField("capabilities", req.Capabilities).
		Info("Membership granted")

	writeJSON(w, http.StatusOK, granted)
}

// handleDeleteMembership revokes one capability grant by ID.
func (s *server) handleDeleteMembership(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if err := s.store.DeleteMembership(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"membership not found"})

			return
		}

		s.writeInternalError(w, err, "Failed to delete membership")

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Execution maintenance ---

// handleDeleteExecution soft-deletes an execution, freeing its cycle
// number for reuse.
func (s *server) handleDeleteExecution(
	w http.ResponseWriter, r *http.Request,
) {
	id := chi.URLParam(r, "executionID")

	if err := s.store.DeleteExecution(r.Context(), id); err != nil {
		if errors.Is(err, execution.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"execution not found"})

			return
		}

		s.writeInternalError(w, err, "Failed to delete execution")

		return
	}

	s.log.WithField("execution_id", id).
		WithField("user", userFromContext(r.Context()).Username).
		Info("Execution deleted")

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseIDParam extracts and validates the {id} URL parameter.
func parseIDParam(r *http.Request) (uint, error) {
	idStr := chi.URLParam(r, "id")
	if idStr == "" {
		return 0, fmt.Errorf("id parameter is required")
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id: %w", err)
	}

	return uint(id), nil
}
