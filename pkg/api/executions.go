package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ethpandaops/testcycle/pkg/execution"
	"github.com/ethpandaops/testcycle/pkg/guard"
	"github.com/ethpandaops/testcycle/pkg/lifecycle"
)

// lifecycleErrorResponse carries the machine-readable kind of a rejected
// lifecycle operation and, for stale writes, the current record.
type lifecycleErrorResponse struct {
	Error   string            `json:"error"`
	Kind    string            `json:"kind"`
	Current *execution.Record `json:"current,omitempty"`
}

var kindStatus = map[execution.ErrorKind]int{
	execution.KindValidation:          http.StatusBadRequest,
	execution.KindForbidden:           http.StatusForbidden,
	execution.KindNotFound:            http.StatusNotFound,
	execution.KindInvalidTransition:   http.StatusConflict,
	execution.KindStaleWrite:          http.StatusConflict,
	execution.KindAllocationExhausted: http.StatusServiceUnavailable,
}

// writeLifecycleError maps a controller error onto an HTTP response.
// Errors without a kind are internal and their text is not exposed.
func (s *server) writeLifecycleError(w http.ResponseWriter, err error) {
	var lerr *execution.Error
	if !errors.As(err, &lerr) {
		s.writeInternalError(w, err, "Lifecycle operation failed")

		return
	}

	status, ok := kindStatus[lerr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, lifecycleErrorResponse{
		Error:   lerr.Error(),
		Kind:    string(lerr.Kind),
		Current: lerr.Current,
	})
}

type executionResponse struct {
	Execution        *execution.Record       `json:"execution"`
	Capabilities     execution.CapabilitySet `json:"capabilities"`
	AvailableActions []execution.Action      `json:"available_actions"`
}

type transitionBody struct {
	ExpectedVersion int64  `json:"expected_version"`
	Comment         string `json:"comment"`
	Decision        string `json:"decision"`
}

// handleListExecutions returns one page of executions matching the query.
func (s *server) handleListExecutions(
	w http.ResponseWriter, r *http.Request,
) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, lifecycleErrorResponse{
			Error: err.Error(),
			Kind:  string(execution.KindValidation),
		})

		return
	}

	page, err := s.controller.ListExecutions(r.Context(), f)
	if err != nil {
		s.writeLifecycleError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, page)
}

// handleNextCycle reports the cycle number a new attempt would receive.
func (s *server) handleNextCycle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	testcaseID, err1 := optionalInt(q, "testcase_id")
	runID, err2 := optionalInt(q, "run_id")

	if err := errors.Join(err1, err2); err != nil {
		writeJSON(w, http.StatusBadRequest, lifecycleErrorResponse{
			Error: err.Error(),
			Kind:  string(execution.KindValidation),
		})

		return
	}

	key := execution.CycleKey{
		TestcaseID: derefInt(testcaseID),
		RunID:      derefInt(runID),
		CycleType:  q.Get("cycle_type"),
	}

	next, err := s.controller.NextCycleNumber(r.Context(), key)
	if err != nil {
		s.writeLifecycleError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"testcase_id":  key.TestcaseID,
		"run_id":       key.RunID,
		"cycle_type":   execution.NormalizeCycleType(key.CycleType),
		"cycle_number": next,
	})
}

// handleGetExecution returns one execution with the actions the caller
// may perform on it.
func (s *server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	rec, err := s.controller.Get(r.Context(), chi.URLParam(r, "executionID"))
	if err != nil {
		s.writeLifecycleError(w, err)

		return
	}

	caps, err := s.controller.ResolveCapabilities(
		r.Context(), actorFromContext(r.Context()), rec.ProjectID,
	)
	if err != nil {
		s.writeInternalError(w, err, "Failed to resolve capabilities")

		return
	}

	writeJSON(w, http.StatusOK, executionResponse{
		Execution:        rec,
		Capabilities:     caps,
		AvailableActions: guard.AvailableActions(rec.LifecycleState, caps),
	})
}

// handleSubmitExecution creates or updates a draft. It answers 201 when a
// new cycle was recorded.
func (s *server) handleSubmitExecution(
	w http.ResponseWriter, r *http.Request,
) {
	var req lifecycle.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	res, err := s.controller.SubmitDraft(r.Context(), actorFromContext(r.Context()), req)
	if err != nil {
		s.writeLifecycleError(w, err)

		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}

	writeJSON(w, status, res.Record)
}

// handleSendForReview moves a draft to PendingReview.
func (s *server) handleSendForReview(
	w http.ResponseWriter, r *http.Request,
) {
	s.handleTransition(w, r, func(transitionBody) (execution.Action, error) {
		return execution.ActionSendForReview, nil
	})
}

// handleReview records a reviewer decision: approve or reject.
func (s *server) handleReview(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, func(body transitionBody) (execution.Action, error) {
		switch body.Decision {
		case "approve":
			return execution.ActionReviewApprove, nil
		case "reject":
			return execution.ActionReviewReject, nil
		default:
			return "", errors.New(`decision must be "approve" or "reject"`)
		}
	})
}

// handleApproval records an approver decision: approve or return.
func (s *server) handleApproval(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, func(body transitionBody) (execution.Action, error) {
		switch body.Decision {
		case "approve":
			return execution.ActionApprove, nil
		case "return":
			return execution.ActionReturnToReview, nil
		default:
			return "", errors.New(`decision must be "approve" or "return"`)
		}
	})
}

// handleReopen sends an execution back to Draft.
func (s *server) handleReopen(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, func(transitionBody) (execution.Action, error) {
		return execution.ActionReopen, nil
	})
}

func (s *server) handleTransition(
	w http.ResponseWriter,
	r *http.Request,
	action func(body transitionBody) (execution.Action, error),
) {
	var body transitionBody

	// An empty body is allowed; the transition then runs unversioned.
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	a, err := action(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, lifecycleErrorResponse{
			Error: err.Error(),
			Kind:  string(execution.KindValidation),
		})

		return
	}

	rec, err := s.controller.Transition(r.Context(), actorFromContext(r.Context()),
		lifecycle.TransitionRequest{
			ExecutionID:     chi.URLParam(r, "executionID"),
			Action:          a,
			Comment:         body.Comment,
			ExpectedVersion: body.ExpectedVersion,
		})
	if err != nil {
		s.writeLifecycleError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleProjectCapabilities returns the caller's capabilities in a project.
func (s *server) handleProjectCapabilities(
	w http.ResponseWriter, r *http.Request,
) {
	projectID, err := strconv.ParseInt(chi.URLParam(r, "projectID"), 10, 64)
	if err != nil || projectID <= 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid project id"})

		return
	}

	caps, err := s.controller.ResolveCapabilities(
		r.Context(), actorFromContext(r.Context()), projectID,
	)
	if err != nil {
		s.writeInternalError(w, err, "Failed to resolve capabilities")

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"project_id":   projectID,
		"capabilities": caps,
	})
}

// parseFilter builds an execution filter from query parameters.
func parseFilter(q url.Values) (execution.Filter, error) {
	var f execution.Filter

	projectID, err1 := optionalInt(q, "project_id")
	testcaseID, err2 := optionalInt(q, "testcase_id")
	runID, err3 := optionalInt(q, "run_id")

	if err := errors.Join(err1, err2, err3); err != nil {
		return f, err
	}

	f.ProjectID = projectID
	f.TestcaseID = testcaseID
	f.RunID = runID
	f.CycleType = q.Get("cycle_type")
	f.SortBy = execution.SortField(q.Get("sort_by"))
	f.SortOrder = q.Get("sort_order")

	if v := q.Get("lifecycle_state"); v != "" {
		st, err := execution.ParseState(v)
		if err != nil {
			return f, err
		}

		f.LifecycleState = &st
	}

	for name, dst := range map[string]*int{"page": &f.Page, "page_size": &f.PageSize} {
		v := q.Get(name)
		if v == "" {
			continue
		}

		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid %s %q", name, v)
		}

		*dst = n
	}

	return f, nil
}

func optionalInt(q url.Values, name string) (*int64, error) {
	v := q.Get(name)
	if v == "" {
		return nil, nil
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", name, v)
	}

	return &n, nil
}

func derefInt(v *int64) int64 {
	if v == nil {
		return 0
	}

	return *v
}
