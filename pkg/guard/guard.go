// Package guard decides whether a lifecycle action is permitted for an
// execution record, given its current state and the caller's capabilities.
// Every function in this package is pure.
package guard

import (
	"fmt"

	"github.com/ethpandaops/testcycle/pkg/execution"
)

// Decision is the outcome of a guard check.
type Decision struct {
	Allowed bool
	Next    execution.LifecycleState

	// Kind and Reason are set when the action is denied.
	Kind   execution.ErrorKind
	Reason string
}

// Err converts a denial into an *execution.Error. It returns nil when the
// action is allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}

	return &execution.Error{Kind: d.Kind, Reason: d.Reason}
}

type rule struct {
	from     []execution.LifecycleState
	requires []execution.Capability
	to       func(from execution.LifecycleState) execution.LifecycleState
}

var (
	authors   = []execution.Capability{execution.CapDeveloper, execution.CapLead, execution.CapManager}
	reviewers = []execution.Capability{execution.CapReviewer, execution.CapLead, execution.CapManager}
	approvers = []execution.Capability{execution.CapApprover, execution.CapLead, execution.CapManager}
	leads     = []execution.Capability{execution.CapLead, execution.CapManager}

	editable  = []execution.LifecycleState{execution.StateDraft, execution.StateRejected}
	inReview  = []execution.LifecycleState{execution.StatePendingReview, execution.StateUnderReview}
	reopening = []execution.LifecycleState{
		execution.StatePendingReview,
		execution.StateUnderReview,
		execution.StatePendingApproval,
		execution.StateApproved,
	}
)

func same(from execution.LifecycleState) execution.LifecycleState { return from }

func to(s execution.LifecycleState) func(execution.LifecycleState) execution.LifecycleState {
	return func(execution.LifecycleState) execution.LifecycleState { return s }
}

var rules = map[execution.Action]rule{
	execution.ActionSave: {
		from: editable, requires: authors, to: same,
	},
	execution.ActionSendForReview: {
		from: editable, requires: authors, to: to(execution.StatePendingReview),
	},
	execution.ActionReviewApprove: {
		from: inReview, requires: reviewers, to: to(execution.StatePendingApproval),
	},
	execution.ActionReviewReject: {
		from: inReview, requires: reviewers, to: to(execution.StateRejected),
	},
	execution.ActionApprove: {
		from:     []execution.LifecycleState{execution.StatePendingApproval},
		requires: approvers, to: to(execution.StateApproved),
	},
	execution.ActionReturnToReview: {
		from:     []execution.LifecycleState{execution.StatePendingApproval},
		requires: approvers, to: to(execution.StateUnderReview),
	},
	execution.ActionReopen: {
		from: reopening, requires: leads, to: to(execution.StateDraft),
	},
}

// Decide reports whether action may be performed from state by a caller
// holding caps. The state check runs first, so an action that is not
// defined for the state is always InvalidTransition regardless of caps.
func Decide(
	state execution.LifecycleState,
	action execution.Action,
	caps execution.CapabilitySet,
) Decision {
	r, ok := rules[action]
	if !ok {
		return deny(execution.KindInvalidTransition,
			fmt.Sprintf("unknown action %q", action))
	}

	if !contains(r.from, state) {
		return deny(execution.KindInvalidTransition,
			fmt.Sprintf("%s is not allowed from state %s", action, state))
	}

	if !caps.HasAny(r.requires...) {
		return deny(execution.KindForbidden,
			fmt.Sprintf("%s requires one of %s, caller has %s",
				action, execution.NewCapabilitySet(r.requires...), caps))
	}

	return Decision{Allowed: true, Next: r.to(state)}
}

// Allowed is shorthand for Decide(...).Allowed.
func Allowed(
	state execution.LifecycleState,
	action execution.Action,
	caps execution.CapabilitySet,
) bool {
	return Decide(state, action, caps).Allowed
}

// CanEditResults reports whether result, remark and environment fields may
// be written.
func CanEditResults(
	state execution.LifecycleState, caps execution.CapabilitySet,
) bool {
	return Allowed(state, execution.ActionSave, caps)
}

// CanWriteReview reports whether reviewer identity and comments may be
// written.
func CanWriteReview(
	state execution.LifecycleState, caps execution.CapabilitySet,
) bool {
	return contains(inReview, state) && caps.HasAny(reviewers...)
}

// CanWriteApproval reports whether approver identity and comments may be
// written.
func CanWriteApproval(
	state execution.LifecycleState, caps execution.CapabilitySet,
) bool {
	return state == execution.StatePendingApproval && caps.HasAny(approvers...)
}

// AvailableActions lists the actions caps may perform from state, in
// execution.AllActions order.
func AvailableActions(
	state execution.LifecycleState, caps execution.CapabilitySet,
) []execution.Action {
	out := make([]execution.Action, 0, len(execution.AllActions))

	for _, a := range execution.AllActions {
		if Allowed(state, a, caps) {
			out = append(out, a)
		}
	}

	return out
}

func deny(kind execution.ErrorKind, reason string) Decision {
	return Decision{Kind: kind, Reason: reason}
}

func contains(states []execution.LifecycleState, s execution.LifecycleState) bool {
	for _, v := range states {
		if v == s {
			return true
		}
	}

	return false
}
