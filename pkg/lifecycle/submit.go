package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/testcycle/pkg/execution"
	"github.com/ethpandaops/testcycle/pkg/guard"
)

// SubmitDraft creates or updates an execution from the developer's form.
//
// With an execution id the identified record is updated. Without one,
// CycleChoice decides: "new" (the default) allocates the next cycle number
// for the key and inserts a Draft, "current" updates the latest record of
// the key, or creates cycle 1 when the key has none. Action
// send_for_review additionally moves the record to PendingReview.
func (c *Controller) SubmitDraft(
	ctx context.Context, actor Actor, req SubmitRequest,
) (res *SubmitResult, err error) {
	start := time.Now()

	if req.Action == "" {
		req.Action = execution.ActionSave
	}

	defer func() { c.observe(req.Action, start, err) }()

	if err := validateSubmit(actor, &req); err != nil {
		return nil, err
	}

	key := req.Key()

	switch {
	case req.ExecutionID != "":
		current, err := c.find(ctx, req.ExecutionID)
		if err != nil {
			return nil, err
		}

		if current.ProjectID != req.ProjectID || current.Key() != key {
			return nil, execution.Errorf(execution.KindValidation,
				"execution %q belongs to a different test cycle", req.ExecutionID)
		}

		rec, err := c.update(ctx, actor, current, &req)
		if err != nil {
			return nil, err
		}

		return &SubmitResult{Record: rec}, nil
	case req.CycleChoice == execution.CycleCurrent:
		latest, err := c.store.LatestExecution(ctx, key)

		switch {
		case errors.Is(err, execution.ErrRecordNotFound):
			// Nothing to continue; start the first cycle.
		case err != nil:
			return nil, fmt.Errorf("loading latest execution: %w", err)
		default:
			if req.ExpectedVersion <= 0 {
				return nil, execution.Errorf(execution.KindValidation,
					"expected version is required to continue cycle %d", latest.CycleNumber)
			}

			rec, err := c.update(ctx, actor, latest, &req)
			if err != nil {
				return nil, err
			}

			return &SubmitResult{Record: rec}, nil
		}
	}

	rec, err := c.create(ctx, actor, &req, key)
	if err != nil {
		return nil, err
	}

	return &SubmitResult{Record: rec, Created: true}, nil
}

func validateSubmit(actor Actor, req *SubmitRequest) error {
	if actor.Username == "" {
		return execution.Errorf(execution.KindForbidden, "authentication required")
	}

	switch req.Action {
	case execution.ActionSave, execution.ActionSendForReview:
	default:
		return execution.Errorf(execution.KindValidation,
			"action must be %s or %s, got %q",
			execution.ActionSave, execution.ActionSendForReview, req.Action)
	}

	switch req.CycleChoice {
	case "":
		req.CycleChoice = execution.CycleNew
	case execution.CycleNew, execution.CycleCurrent:
	default:
		return execution.Errorf(execution.KindValidation,
			"cycle choice must be %s or %s, got %q",
			execution.CycleCurrent, execution.CycleNew, req.CycleChoice)
	}

	if req.ExpectedVersion < 0 {
		return execution.Errorf(execution.KindValidation,
			"expected version must not be negative")
	}

	if req.ExecutionID != "" && req.ExpectedVersion == 0 {
		return execution.Errorf(execution.KindValidation,
			"expected version is required when updating an execution")
	}

	if err := execution.ValidateKey(req.ProjectID, req.Key()); err != nil {
		return err
	}

	req.Fields.Normalize()

	return req.Fields.Validate()
}

// create inserts a new record at the next free cycle number for key. A
// record sent for review on creation is inserted directly in PendingReview,
// so the insert is the only write.
func (c *Controller) create(
	ctx context.Context, actor Actor, req *SubmitRequest, key execution.CycleKey,
) (*execution.Record, error) {
	caps, err := c.ResolveCapabilities(ctx, actor, req.ProjectID)
	if err != nil {
		return nil, err
	}

	if !guard.CanEditResults(execution.StateDraft, caps) {
		return nil, guard.Decide(execution.StateDraft, execution.ActionSave, caps).Err()
	}

	rec := &execution.Record{
		ProjectID:      req.ProjectID,
		TestcaseID:     key.TestcaseID,
		RunID:          key.RunID,
		CycleType:      key.CycleType,
		LifecycleState: execution.StateDraft,
		PreparedBy:     actor.Username,
	}

	req.Fields.Apply(rec)
	stampExecutor(rec, actor)

	if req.Action == execution.ActionSendForReview {
		send := guard.Decide(execution.StateDraft, req.Action, caps)
		if !send.Allowed {
			return nil, send.Err()
		}

		err := c.applyTransition(rec, actor, caps, TransitionRequest{Action: req.Action}, send.Next)
		if err != nil {
			return nil, err
		}
	}

	if _, err := c.allocator.Allocate(ctx, rec, req.CycleNumber); err != nil {
		return nil, err
	}

	c.metrics.ExecutionCreated(rec.CycleType)

	c.log.WithFields(logrus.Fields{
		"execution_id": rec.ExecutionID,
		"key":          key.String(),
		"cycle":        rec.CycleNumber,
		"state":        rec.LifecycleState,
		"user":         actor.Username,
	}).Info("Execution created")

	return rec, nil
}

// update applies the submitted fields to current in a single versioned
// write, advancing the state too when the draft is being sent for review.
func (c *Controller) update(
	ctx context.Context, actor Actor, current *execution.Record, req *SubmitRequest,
) (*execution.Record, error) {
	caps, err := c.ResolveCapabilities(ctx, actor, current.ProjectID)
	if err != nil {
		return nil, err
	}

	if !guard.CanEditResults(current.LifecycleState, caps) {
		return nil, guard.Decide(current.LifecycleState, execution.ActionSave, caps).Err()
	}

	var send guard.Decision
	if req.Action == execution.ActionSendForReview {
		if send = guard.Decide(current.LifecycleState, req.Action, caps); !send.Allowed {
			return nil, send.Err()
		}
	}

	if req.ExpectedVersion != current.Version {
		return nil, stale(req.ExpectedVersion, current)
	}

	next := current.Clone()
	req.Fields.Apply(next)
	stampExecutor(next, actor)

	if req.Action == execution.ActionSendForReview {
		err := c.applyTransition(next, actor, caps, TransitionRequest{Action: req.Action}, send.Next)
		if err != nil {
			return nil, err
		}
	}

	if err := c.write(ctx, next, current.Version); err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"execution_id": next.ExecutionID,
		"version":      next.Version,
		"action":       req.Action,
		"user":         actor.Username,
	}).Debug("Execution updated")

	return next, nil
}

// stampExecutor records the actor as executor once a result is entered.
func stampExecutor(rec *execution.Record, actor Actor) {
	if rec.ExecutedBy == "" && rec.ResultStatus != execution.ResultUntested {
		rec.ExecutedBy = actor.Username
	}
}
