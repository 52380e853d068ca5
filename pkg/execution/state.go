package execution

import (
	"fmt"
	"strconv"
	"strings"
)

// LifecycleState is the review/approval state of an execution record.
// The numeric values are persisted and exposed on the wire.
type LifecycleState int

const (
	StateRejected        LifecycleState = -1
	StateDraft           LifecycleState = 0
	StatePendingReview   LifecycleState = 1
	StateUnderReview     LifecycleState = 2
	StatePendingApproval LifecycleState = 3
	StateApproved        LifecycleState = 4
)

var stateNames = map[LifecycleState]string{
	StateRejected:        "rejected",
	StateDraft:           "draft",
	StatePendingReview:   "pending_review",
	StateUnderReview:     "under_review",
	StatePendingApproval: "pending_approval",
	StateApproved:        "approved",
}

// AllStates lists every lifecycle state in numeric order.
var AllStates = []LifecycleState{
	StateRejected,
	StateDraft,
	StatePendingReview,
	StateUnderReview,
	StatePendingApproval,
	StateApproved,
}

// String returns the snake_case name of the state.
func (s LifecycleState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("unknown(%d)", int(s))
}

// Valid reports whether s is one of the defined lifecycle states.
func (s LifecycleState) Valid() bool {
	_, ok := stateNames[s]

	return ok
}

// Editable reports whether result fields may be changed in this state.
func (s LifecycleState) Editable() bool {
	return s == StateDraft || s == StateRejected
}

// ParseState accepts either the numeric value or the snake_case name.
func ParseState(v string) (LifecycleState, error) {
	v = strings.TrimSpace(v)

	if n, err := strconv.Atoi(v); err == nil {
		s := LifecycleState(n)
		if !s.Valid() {
			return 0, fmt.Errorf("unknown lifecycle state %d", n)
		}

		return s, nil
	}

	for s, name := range stateNames {
		if strings.EqualFold(name, v) {
			return s, nil
		}
	}

	return 0, fmt.Errorf("unknown lifecycle state %q", v)
}

// ResultStatus is the outcome recorded for an execution.
type ResultStatus string

const (
	ResultUntested       ResultStatus = "untested"
	ResultPassed         ResultStatus = "passed"
	ResultFailed         ResultStatus = "failed"
	ResultInProgress     ResultStatus = "in_progress"
	ResultBlocked        ResultStatus = "blocked"
	ResultRetest         ResultStatus = "retest"
	ResultSkipped        ResultStatus = "skipped"
	ResultNotImplemented ResultStatus = "not_implemented"
	ResultEnhancement    ResultStatus = "enhancement"
)

// AllResultStatuses lists the known result statuses in display order.
var AllResultStatuses = []ResultStatus{
	ResultUntested,
	ResultPassed,
	ResultFailed,
	ResultInProgress,
	ResultBlocked,
	ResultRetest,
	ResultSkipped,
	ResultNotImplemented,
	ResultEnhancement,
}

var validResults = map[ResultStatus]struct{}{
	ResultUntested:       {},
	ResultPassed:         {},
	ResultFailed:         {},
	ResultInProgress:     {},
	ResultBlocked:        {},
	ResultRetest:         {},
	ResultSkipped:        {},
	ResultNotImplemented: {},
	ResultEnhancement:    {},
}

// Valid reports whether r is a known result status.
func (r ResultStatus) Valid() bool {
	_, ok := validResults[r]

	return ok
}

// Action is a request to move (or keep) an execution in the lifecycle.
type Action string

const (
	ActionSave           Action = "save"
	ActionSendForReview  Action = "send_for_review"
	ActionReviewApprove  Action = "review_approve"
	ActionReviewReject   Action = "review_reject"
	ActionApprove        Action = "approve"
	ActionReturnToReview Action = "return_to_review"
	ActionReopen         Action = "reopen"
)

// AllActions lists every action the guard understands.
var AllActions = []Action{
	ActionSave,
	ActionSendForReview,
	ActionReviewApprove,
	ActionReviewReject,
	ActionApprove,
	ActionReturnToReview,
	ActionReopen,
}

// IsReview reports whether the action is a reviewer decision.
func (a Action) IsReview() bool {
	return a == ActionReviewApprove || a == ActionReviewReject
}

// IsApproval reports whether the action is an approver decision.
func (a Action) IsApproval() bool {
	return a == ActionApprove || a == ActionReturnToReview
}

// CycleChoice selects between updating the current attempt and recording
// a new one when a draft is submitted.
type CycleChoice string

const (
	CycleCurrent CycleChoice = "current"
	CycleNew     CycleChoice = "new"
)
