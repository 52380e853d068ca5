package lifecycle

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/testcycle/pkg/execution"
	"github.com/ethpandaops/testcycle/pkg/guard"
)

// Transition applies req.Action to an existing record. The record is read,
// the caller's capabilities in its project are resolved, the guard decides
// and the result is written against the version that was read. When
// req.ExpectedVersion is set and no longer matches, nothing is written and
// a stale write error carrying the stored record is returned.
func (c *Controller) Transition(
	ctx context.Context, actor Actor, req TransitionRequest,
) (rec *execution.Record, err error) {
	start := time.Now()

	defer func() { c.observe(req.Action, start, err) }()

	if err := validateTransition(actor, req); err != nil {
		return nil, err
	}

	current, err := c.find(ctx, req.ExecutionID)
	if err != nil {
		return nil, err
	}

	caps, err := c.ResolveCapabilities(ctx, actor, current.ProjectID)
	if err != nil {
		return nil, err
	}

	d := guard.Decide(current.LifecycleState, req.Action, caps)
	if !d.Allowed {
		return nil, d.Err()
	}

	if req.ExpectedVersion > 0 && req.ExpectedVersion != current.Version {
		return nil, stale(req.ExpectedVersion, current)
	}

	next := current.Clone()
	if err := c.applyTransition(next, actor, caps, req, d.Next); err != nil {
		return nil, err
	}

	if err := c.write(ctx, next, current.Version); err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"execution_id": next.ExecutionID,
		"action":       req.Action,
		"from":         current.LifecycleState,
		"to":           next.LifecycleState,
		"user":         actor.Username,
	}).Info("Execution transitioned")

	return next, nil
}

// SendForReview moves a Draft or Rejected record to PendingReview.
func (c *Controller) SendForReview(
	ctx context.Context, actor Actor, req TransitionRequest,
) (*execution.Record, error) {
	req.Action = execution.ActionSendForReview

	return c.Transition(ctx, actor, req)
}

// ReviewDecision approves a record under review into PendingApproval or
// rejects it back to the author.
func (c *Controller) ReviewDecision(
	ctx context.Context, actor Actor, req TransitionRequest, approve bool,
) (*execution.Record, error) {
	req.Action = execution.ActionReviewReject
	if approve {
		req.Action = execution.ActionReviewApprove
	}

	return c.Transition(ctx, actor, req)
}

// ApprovalDecision gives final approval or returns the record to review.
func (c *Controller) ApprovalDecision(
	ctx context.Context, actor Actor, req TransitionRequest, approve bool,
) (*execution.Record, error) {
	req.Action = execution.ActionReturnToReview
	if approve {
		req.Action = execution.ActionApprove
	}

	return c.Transition(ctx, actor, req)
}

// Reopen sends a record back to Draft and clears its review and approval
// stamps.
func (c *Controller) Reopen(
	ctx context.Context, actor Actor, req TransitionRequest,
) (*execution.Record, error) {
	req.Action = execution.ActionReopen

	return c.Transition(ctx, actor, req)
}

func validateTransition(actor Actor, req TransitionRequest) error {
	if actor.Username == "" {
		return execution.Errorf(execution.KindForbidden, "authentication required")
	}

	if req.ExecutionID == "" {
		return execution.Errorf(execution.KindValidation, "execution id is required")
	}

	switch req.Action {
	case "":
		return execution.Errorf(execution.KindValidation, "action is required")
	case execution.ActionSave:
		return execution.Errorf(execution.KindValidation,
			"save is performed by submitting the draft")
	}

	if req.ExpectedVersion < 0 {
		return execution.Errorf(execution.KindValidation,
			"expected version must not be negative")
	}

	return execution.ValidateComment(req.Comment)
}

// applyTransition moves next to state `to` and stamps the side effects of
// req.Action. Reviewer and approver stamps are only written when caps may
// write them in the state next is leaving.
func (c *Controller) applyTransition(
	next *execution.Record,
	actor Actor,
	caps execution.CapabilitySet,
	req TransitionRequest,
	to execution.LifecycleState,
) error {
	from := next.LifecycleState
	now := c.now()

	switch {
	case req.Action == execution.ActionSendForReview:
		if next.PreparationEnd == nil {
			next.PreparationEnd = &now
		}
	case req.Action.IsReview():
		if !guard.CanWriteReview(from, caps) {
			return execution.Errorf(execution.KindForbidden,
				"review fields are not writable in state %s with %s", from, caps)
		}

		next.ReviewedBy = actor.Username
		next.ReviewDate = &now
		next.ReviewerComments = req.Comment
	case req.Action.IsApproval():
		if !guard.CanWriteApproval(from, caps) {
			return execution.Errorf(execution.KindForbidden,
				"approval fields are not writable in state %s with %s", from, caps)
		}

		next.ApprovedBy = actor.Username
		next.ApprovalDate = &now
		next.ApproverComments = req.Comment
	case req.Action == execution.ActionReopen:
		next.ClearReview()
		next.ClearApproval()
	}

	next.LifecycleState = to

	return nil
}
