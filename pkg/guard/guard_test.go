package guard_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/testcycle/pkg/execution"
	"github.com/ethpandaops/testcycle/pkg/guard"
)

var (
	developer = execution.NewCapabilitySet(execution.CapDeveloper)
	reviewer  = execution.NewCapabilitySet(execution.CapReviewer)
	approver  = execution.NewCapabilitySet(execution.CapApprover)
	lead      = execution.NewCapabilitySet(execution.CapLead)
	manager   = execution.NewCapabilitySet(execution.CapManager)
	nobody    = execution.CapabilitySet(0)
)

// allCapabilitySets enumerates every subset of the five capabilities.
func allCapabilitySets() []execution.CapabilitySet {
	sets := make([]execution.CapabilitySet, 0, 32)
	for i := 0; i < 32; i++ {
		sets = append(sets, execution.CapabilitySet(i))
	}

	return sets
}

func TestDecide_Table(t *testing.T) {
	tests := []struct {
		name   string
		from   execution.LifecycleState
		action execution.Action
		caps   execution.CapabilitySet
		want   execution.LifecycleState
	}{
		{"developer saves draft", execution.StateDraft, execution.ActionSave, developer, execution.StateDraft},
		{"developer saves rejected", execution.StateRejected, execution.ActionSave, developer, execution.StateRejected},
		{"lead saves draft", execution.StateDraft, execution.ActionSave, lead, execution.StateDraft},
		{"developer sends draft", execution.StateDraft, execution.ActionSendForReview, developer, execution.StatePendingReview},
		{"manager sends rejected", execution.StateRejected, execution.ActionSendForReview, manager, execution.StatePendingReview},
		{"reviewer approves pending", execution.StatePendingReview, execution.ActionReviewApprove, reviewer, execution.StatePendingApproval},
		{"reviewer approves under review", execution.StateUnderReview, execution.ActionReviewApprove, reviewer, execution.StatePendingApproval},
		{"reviewer rejects", execution.StatePendingReview, execution.ActionReviewReject, reviewer, execution.StateRejected},
		{"lead rejects under review", execution.StateUnderReview, execution.ActionReviewReject, lead, execution.StateRejected},
		{"approver approves", execution.StatePendingApproval, execution.ActionApprove, approver, execution.StateApproved},
		{"approver returns", execution.StatePendingApproval, execution.ActionReturnToReview, approver, execution.StateUnderReview},
		{"manager approves", execution.StatePendingApproval, execution.ActionApprove, manager, execution.StateApproved},
		{"lead reopens approved", execution.StateApproved, execution.ActionReopen, lead, execution.StateDraft},
		{"manager reopens pending review", execution.StatePendingReview, execution.ActionReopen, manager, execution.StateDraft},
		{"lead reopens pending approval", execution.StatePendingApproval, execution.ActionReopen, lead, execution.StateDraft},
		{"lead reopens under review", execution.StateUnderReview, execution.ActionReopen, lead, execution.StateDraft},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := guard.Decide(tt.from, tt.action, tt.caps)
			require.True(t, d.Allowed, d.Reason)
			assert.Equal(t, tt.want, d.Next)
			assert.NoError(t, d.Err())
		})
	}
}

func TestDecide_ForbiddenVersusInvalid(t *testing.T) {
	tests := []struct {
		name   string
		from   execution.LifecycleState
		action execution.Action
		caps   execution.CapabilitySet
		want   execution.ErrorKind
	}{
		{"developer reviews", execution.StatePendingReview, execution.ActionReviewApprove, developer, execution.KindForbidden},
		{"reviewer approves", execution.StatePendingApproval, execution.ActionApprove, reviewer, execution.KindForbidden},
		{"approver saves draft", execution.StateDraft, execution.ActionSave, approver, execution.KindForbidden},
		{"developer reopens", execution.StateApproved, execution.ActionReopen, developer, execution.KindForbidden},
		{"reviewer reopens", execution.StateApproved, execution.ActionReopen, reviewer, execution.KindForbidden},
		{"nobody sends", execution.StateDraft, execution.ActionSendForReview, nobody, execution.KindForbidden},
		{"reopen draft", execution.StateDraft, execution.ActionReopen, lead, execution.KindInvalidTransition},
		{"reopen rejected", execution.StateRejected, execution.ActionReopen, manager, execution.KindInvalidTransition},
		{"review a draft", execution.StateDraft, execution.ActionReviewApprove, reviewer, execution.KindInvalidTransition},
		{"send approved", execution.StateApproved, execution.ActionSendForReview, lead, execution.KindInvalidTransition},
		{"return from review", execution.StateUnderReview, execution.ActionReturnToReview, approver, execution.KindInvalidTransition},
		{"unknown action", execution.StateDraft, execution.Action("archive"), lead, execution.KindInvalidTransition},
		{"unknown state", execution.LifecycleState(9), execution.ActionSave, lead, execution.KindInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := guard.Decide(tt.from, tt.action, tt.caps)
			require.False(t, d.Allowed)
			assert.Equal(t, tt.want, d.Kind)
			assert.NotEmpty(t, d.Reason)
			assert.Equal(t, tt.want, execution.KindOf(d.Err()))
		})
	}
}

func TestDecide_IsDeterministic(t *testing.T) {
	for _, s := range execution.AllStates {
		for _, a := range execution.AllActions {
			for _, caps := range allCapabilitySets() {
				first := guard.Decide(s, a, caps)
				second := guard.Decide(s, a, caps)
				assert.Equal(t, first, second, "%s/%s/%s", s, a, caps)
			}
		}
	}
}

func TestDecide_SaveOnlyInEditableStates(t *testing.T) {
	for _, s := range execution.AllStates {
		if s.Editable() {
			continue
		}

		for _, caps := range allCapabilitySets() {
			d := guard.Decide(s, execution.ActionSave, caps)
			assert.False(t, d.Allowed, "save allowed from %s with %s", s, caps)
			assert.Equal(t, execution.KindInvalidTransition, d.Kind)
			assert.False(t, guard.CanEditResults(s, caps))
		}
	}
}

func TestDecide_ApproveOnlyFromPendingApproval(t *testing.T) {
	for _, s := range execution.AllStates {
		if s == execution.StatePendingApproval {
			continue
		}

		for _, caps := range allCapabilitySets() {
			d := guard.Decide(s, execution.ActionApprove, caps)
			assert.Equal(t, execution.KindInvalidTransition, d.Kind,
				"approve from %s with %s", s, caps)
		}
	}
}

func TestFieldWritePredicates(t *testing.T) {
	assert.True(t, guard.CanEditResults(execution.StateDraft, developer))
	assert.False(t, guard.CanEditResults(execution.StateDraft, reviewer))

	assert.True(t, guard.CanWriteReview(execution.StatePendingReview, reviewer))
	assert.True(t, guard.CanWriteReview(execution.StateUnderReview, lead))
	assert.False(t, guard.CanWriteReview(execution.StatePendingApproval, reviewer))
	assert.False(t, guard.CanWriteReview(execution.StatePendingReview, approver))

	assert.True(t, guard.CanWriteApproval(execution.StatePendingApproval, approver))
	assert.True(t, guard.CanWriteApproval(execution.StatePendingApproval, manager))
	assert.False(t, guard.CanWriteApproval(execution.StateApproved, approver))
	assert.False(t, guard.CanWriteApproval(execution.StatePendingApproval, developer))
}

func TestAvailableActions(t *testing.T) {
	assert.Equal(t,
		[]execution.Action{execution.ActionSave, execution.ActionSendForReview},
		guard.AvailableActions(execution.StateDraft, developer))

	assert.Equal(t,
		[]execution.Action{execution.ActionApprove, execution.ActionReturnToReview, execution.ActionReopen},
		guard.AvailableActions(execution.StatePendingApproval, lead))

	assert.Empty(t, guard.AvailableActions(execution.StateApproved, developer))
}
