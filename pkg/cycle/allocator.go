// Package cycle allocates gap-free cycle numbers for execution records.
//
// The number a client computes for a new attempt is advisory only. The
// authoritative allocation happens at insert time: the store's unique index
// on the natural key rejects a duplicate, and the allocator retries with the
// next number a bounded number of times.
package cycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/testcycle/pkg/execution"
	"github.com/ethpandaops/testcycle/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// DefaultMaxAttempts bounds the commit retries of a single allocation.
const DefaultMaxAttempts = 5

// ErrCycleConflict is returned by Commit when the requested cycle number is
// already taken for the key.
var ErrCycleConflict = errors.New("cycle number already taken")

// Store is the persistence the allocator needs.
type Store interface {
	// MaxCycleNumber returns the highest cycle number stored for key among
	// records that are not soft-deleted, or 0.
	MaxCycleNumber(ctx context.Context, key execution.CycleKey) (int, error)

	// InsertExecution inserts rec atomically, returning
	// execution.ErrNaturalKeyConflict when the natural key is taken.
	InsertExecution(ctx context.Context, rec *execution.Record) error
}

// Allocator hands out cycle numbers per cycle key.
type Allocator struct {
	log         logrus.FieldLogger
	store       Store
	metrics     metrics.Sink
	maxAttempts int
}

// NewAllocator creates an allocator. A non-positive maxAttempts selects
// DefaultMaxAttempts.
func NewAllocator(
	log logrus.FieldLogger,
	store Store,
	sink metrics.Sink,
	maxAttempts int,
) *Allocator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	if sink == nil {
		sink = metrics.NewNoopSink()
	}

	return &Allocator{
		log:         log.WithField("component", "cycle-allocator"),
		store:       store,
		metrics:     sink,
		maxAttempts: maxAttempts,
	}
}

// MaxAttempts returns the configured attempt bound.
func (a *Allocator) MaxAttempts() int {
	return a.maxAttempts
}

// Next returns the cycle number a new record for key would receive right
// now. The value is a hint and must be re-validated at write time.
func (a *Allocator) Next(ctx context.Context, key execution.CycleKey) (int, error) {
	highest, err := a.store.MaxCycleNumber(ctx, key.Normalize())
	if err != nil {
		return 0, fmt.Errorf("reading max cycle number: %w", err)
	}

	return highest + 1, nil
}

// Commit makes a single attempt to insert rec with cycle number n. It
// returns ErrCycleConflict if another record already holds n for the key.
// On success rec carries the store-assigned id and version.
func (a *Allocator) Commit(
	ctx context.Context, rec *execution.Record, n int,
) error {
	if n <= 0 {
		return fmt.Errorf("cycle number must be positive, got %d", n)
	}

	rec.CycleNumber = n

	err := a.store.InsertExecution(ctx, rec)

	switch {
	case err == nil:
		a.metrics.AllocationAttempt(false)

		return nil
	case errors.Is(err, execution.ErrNaturalKeyConflict):
		a.metrics.AllocationAttempt(true)
		rec.ExecutionID = ""
		rec.Version = 0

		return ErrCycleConflict
	default:
		return fmt.Errorf("inserting execution: %w", err)
	}
}

// Allocate inserts rec under a fresh cycle number and returns the number
// committed. requested is the caller's hint; the allocator starts from the
// number current at write time so a stale hint can neither leave a gap nor
// burn attempts. Each conflict advances to the next number, and after
// MaxAttempts conflicts an AllocationExhausted error is returned.
func (a *Allocator) Allocate(
	ctx context.Context, rec *execution.Record, requested int,
) (int, error) {
	key := rec.Key().Normalize()

	n, err := a.Next(ctx, key)
	if err != nil {
		return 0, err
	}

	if requested > 0 && requested != n {
		a.log.WithFields(logrus.Fields{
			"key":       key.String(),
			"requested": requested,
			"next":      n,
		}).Debug("Requested cycle number is stale, using current next")
	}

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		err := a.Commit(ctx, rec, n)
		if err == nil {
			return n, nil
		}

		if !errors.Is(err, ErrCycleConflict) {
			return 0, err
		}

		a.log.WithFields(logrus.Fields{
			"key":     key.String(),
			"cycle":   n,
			"attempt": attempt,
		}).Info("Cycle number taken concurrently, retrying")

		n++
	}

	a.metrics.AllocationExhausted()

	a.log.WithFields(logrus.Fields{
		"key":      key.String(),
		"attempts": a.maxAttempts,
	}).Warn("Cycle allocation exhausted")

	return 0, execution.Errorf(execution.KindAllocationExhausted,
		"could not allocate a cycle number for %s after %d attempts",
		key, a.maxAttempts)
}
