package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/testcycle/pkg/config"
	"github.com/ethpandaops/testcycle/pkg/cycle"
	"github.com/ethpandaops/testcycle/pkg/execution"
	"github.com/ethpandaops/testcycle/pkg/metrics"
)

// Controller is the single entry point for creating, updating, listing and
// transitioning execution records. It holds no record state between calls.
type Controller struct {
	log       logrus.FieldLogger
	cfg       config.LifecycleConfig
	store     ExecutionStore
	roles     RoleResolver
	allocator *cycle.Allocator
	metrics   metrics.Sink
	now       func() time.Time
}

// NewController creates a controller. A nil sink disables metrics.
func NewController(
	log logrus.FieldLogger,
	cfg config.LifecycleConfig,
	store ExecutionStore,
	roles RoleResolver,
	sink metrics.Sink,
) *Controller {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}

	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = config.DefaultPageSize
	}

	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = config.DefaultMaxPageSize
	}

	return &Controller{
		log:       log.WithField("component", "lifecycle"),
		cfg:       cfg,
		store:     store,
		roles:     roles,
		allocator: cycle.NewAllocator(log, store, sink, cfg.MaxAllocationAttempts),
		metrics:   sink,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ResolveCapabilities returns the capabilities actor holds in projectID.
// Each capability is looked up concurrently and all lookups complete
// before the set is returned.
func (c *Controller) ResolveCapabilities(
	ctx context.Context, actor Actor, projectID int64,
) (execution.CapabilitySet, error) {
	if actor.Username == "" {
		return 0, nil
	}

	held := make([]bool, len(execution.AllCapabilities))

	g, gctx := errgroup.WithContext(ctx)

	for i, capability := range execution.AllCapabilities {
		g.Go(func() error {
			ok, err := c.roles.HasCapability(gctx, actor.Username, projectID, capability)
			if err != nil {
				return fmt.Errorf("resolving %s capability: %w", capability, err)
			}

			held[i] = ok

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	var set execution.CapabilitySet

	for i, ok := range held {
		if ok {
			set = set.With(execution.AllCapabilities[i])
		}
	}

	return set, nil
}

// Get returns the live record with the given id.
func (c *Controller) Get(ctx context.Context, id string) (*execution.Record, error) {
	if id == "" {
		return nil, execution.Errorf(execution.KindValidation, "execution id is required")
	}

	return c.find(ctx, id)
}

// NextCycleNumber returns the cycle number a new attempt for key would
// receive now. The answer is advisory; the number is fixed at insert time.
func (c *Controller) NextCycleNumber(
	ctx context.Context, key execution.CycleKey,
) (int, error) {
	key = key.Normalize()

	if err := key.Validate(); err != nil {
		return 0, err
	}

	return c.allocator.Next(ctx, key)
}

// ListExecutions returns one page of records matching f, newest first
// unless another order is requested.
func (c *Controller) ListExecutions(
	ctx context.Context, f execution.Filter,
) (*execution.Page, error) {
	if err := f.Normalize(c.cfg.DefaultPageSize, c.cfg.MaxPageSize); err != nil {
		return nil, err
	}

	page, err := c.store.QueryExecutions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}

	return page, nil
}

func (c *Controller) find(ctx context.Context, id string) (*execution.Record, error) {
	rec, err := c.store.FindExecution(ctx, id)
	if err != nil {
		if errors.Is(err, execution.ErrRecordNotFound) {
			return nil, execution.Errorf(execution.KindNotFound,
				"execution %q does not exist", id)
		}

		return nil, fmt.Errorf("loading execution: %w", err)
	}

	return rec, nil
}

// write performs a versioned update of next, which must be a modified
// clone of a record read at expectedVersion. A lost race is reported as a
// stale write carrying the freshest stored record.
func (c *Controller) write(
	ctx context.Context, next *execution.Record, expectedVersion int64,
) error {
	err := c.store.UpdateExecution(ctx, next, expectedVersion)
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, execution.ErrVersionMismatch):
		current, findErr := c.store.FindExecution(ctx, next.ExecutionID)
		if findErr != nil {
			current = nil
		}

		c.log.WithFields(logrus.Fields{
			"execution_id": next.ExecutionID,
			"expected":     expectedVersion,
		}).Info("Execution changed concurrently")

		return stale(expectedVersion, current)
	case errors.Is(err, execution.ErrRecordNotFound):
		return execution.Errorf(execution.KindNotFound,
			"execution %q does not exist", next.ExecutionID)
	default:
		c.log.WithError(err).WithField("execution_id", next.ExecutionID).
			Error("Failed to update execution")

		return fmt.Errorf("updating execution: %w", err)
	}
}

func stale(expected int64, current *execution.Record) error {
	e := execution.Errorf(execution.KindStaleWrite,
		"execution was modified since version %d", expected)
	e.Current = current

	if current != nil {
		e.Reason = fmt.Sprintf(
			"execution was modified: expected version %d, stored version %d",
			expected, current.Version)
	}

	return e
}

// outcome maps an error to its metrics label.
func outcome(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}

	switch execution.KindOf(err) {
	case execution.KindForbidden:
		return metrics.OutcomeForbidden
	case execution.KindInvalidTransition:
		return metrics.OutcomeInvalidTransition
	case execution.KindStaleWrite:
		return metrics.OutcomeStaleWrite
	case execution.KindValidation:
		return metrics.OutcomeValidation
	case execution.KindNotFound:
		return metrics.OutcomeNotFound
	case execution.KindAllocationExhausted:
		return metrics.OutcomeAllocationExhausted
	default:
		return metrics.OutcomeError
	}
}

func (c *Controller) observe(action execution.Action, start time.Time, err error) {
	c.metrics.TransitionCompleted(string(action), outcome(err), time.Since(start))

	if err == nil {
		return
	}

	if kind := execution.KindOf(err); kind != "" {
		c.log.WithFields(logrus.Fields{
			"action": action,
			"kind":   kind,
		}).WithError(err).Debug("Lifecycle request rejected")
	}
}
