package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/testcycle/pkg/execution"
)

func TestApplyTransition_StampWritePermissions(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := &Controller{now: func() time.Time { return at }}

	developer := execution.NewCapabilitySet(execution.CapDeveloper)
	reviewer := execution.NewCapabilitySet(execution.CapReviewer)
	approver := execution.NewCapabilitySet(execution.CapApprover)

	tests := []struct {
		name   string
		state  execution.LifecycleState
		action execution.Action
		caps   execution.CapabilitySet
		to     execution.LifecycleState
		allow  bool
	}{
		{"reviewer stamps review", execution.StatePendingReview, execution.ActionReviewApprove, reviewer, execution.StatePendingApproval, true},
		{"developer cannot stamp review", execution.StatePendingReview, execution.ActionReviewApprove, developer, execution.StatePendingApproval, false},
		{"review stamps outside review", execution.StatePendingApproval, execution.ActionReviewReject, reviewer, execution.StateRejected, false},
		{"approver stamps approval", execution.StatePendingApproval, execution.ActionApprove, approver, execution.StateApproved, true},
		{"reviewer cannot stamp approval", execution.StatePendingApproval, execution.ActionApprove, reviewer, execution.StateApproved, false},
		{"approval stamps after approval", execution.StateApproved, execution.ActionReturnToReview, approver, execution.StatePendingReview, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &execution.Record{LifecycleState: tt.state}

			err := c.applyTransition(rec, Actor{Username: "sam"}, tt.caps,
				TransitionRequest{Action: tt.action, Comment: "ok"}, tt.to)

			if !tt.allow {
				require.ErrorIs(t, err, execution.ErrForbidden)
				assert.Equal(t, tt.state, rec.LifecycleState, "state is untouched")
				assert.Empty(t, rec.ReviewedBy)
				assert.Empty(t, rec.ApprovedBy)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.to, rec.LifecycleState)

			if tt.action.IsReview() {
				assert.Equal(t, "sam", rec.ReviewedBy)
				assert.Equal(t, &at, rec.ReviewDate)
			} else {
				assert.Equal(t, "sam", rec.ApprovedBy)
				assert.Equal(t, "ok", rec.ApproverComments)
			}
		})
	}
}
