// Package lifecycle orchestrates execution records through their review
// and approval workflow. It validates input, resolves the caller's
// capabilities, consults the transition guard, allocates cycle numbers and
// performs versioned writes against the execution store.
package lifecycle

import (
	"context"

	"github.com/ethpandaops/testcycle/pkg/cycle"
	"github.com/ethpandaops/testcycle/pkg/execution"
)

// ExecutionStore persists execution records.
type ExecutionStore interface {
	cycle.Store

	// FindExecution returns execution.ErrRecordNotFound when no live
	// record has the id.
	FindExecution(ctx context.Context, id string) (*execution.Record, error)

	// QueryExecutions returns one page of records matching a normalised
	// filter.
	QueryExecutions(ctx context.Context, f execution.Filter) (*execution.Page, error)

	// UpdateExecution writes rec if the stored version equals
	// expectedVersion, then sets rec.Version to the new version. It
	// returns execution.ErrVersionMismatch or execution.ErrRecordNotFound.
	UpdateExecution(ctx context.Context, rec *execution.Record, expectedVersion int64) error

	// LatestExecution returns the record with the highest cycle number
	// for key, or execution.ErrRecordNotFound.
	LatestExecution(ctx context.Context, key execution.CycleKey) (*execution.Record, error)
}

// RoleResolver answers whether a user holds a capability in a project.
type RoleResolver interface {
	HasCapability(
		ctx context.Context,
		username string,
		projectID int64,
		capability execution.Capability,
	) (bool, error)
}

// Actor identifies the authenticated caller.
type Actor struct {
	Username string
}

// SubmitRequest creates or updates a draft execution.
type SubmitRequest struct {
	ProjectID  int64  `json:"project_id"`
	TestcaseID int64  `json:"testcase_id"`
	RunID      int64  `json:"run_id"`
	CycleType  string `json:"cycle_type"`

	// CycleNumber is the number the client displayed. It is a hint only.
	CycleNumber int `json:"cycle_number,omitempty"`

	CycleChoice     execution.CycleChoice `json:"cycle_choice,omitempty"`
	ExecutionID     string                `json:"execution_id,omitempty"`
	ExpectedVersion int64                 `json:"expected_version,omitempty"`
	Action          execution.Action      `json:"action,omitempty"`

	Fields execution.Fields `json:"fields"`
}

// Key returns the request's cycle key, normalised.
func (r *SubmitRequest) Key() execution.CycleKey {
	return execution.CycleKey{
		TestcaseID: r.TestcaseID,
		RunID:      r.RunID,
		CycleType:  r.CycleType,
	}.Normalize()
}

// SubmitResult is the stored record and whether it was newly created.
type SubmitResult struct {
	Record  *execution.Record
	Created bool
}

// TransitionRequest moves an existing record through the lifecycle.
type TransitionRequest struct {
	ExecutionID string           `json:"execution_id"`
	Action      execution.Action `json:"action"`
	Comment     string           `json:"comment,omitempty"`

	// ExpectedVersion, when positive, must match the stored version.
	ExpectedVersion int64 `json:"expected_version,omitempty"`
}
