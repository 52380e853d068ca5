package cycle_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/testcycle/pkg/cycle"
	"github.com/ethpandaops/testcycle/pkg/execution"
	"github.com/ethpandaops/testcycle/pkg/metrics"
)

// memStore enforces the natural key the way the database index does.
type memStore struct {
	mu      sync.Mutex
	records map[string]*execution.Record
	seq     int

	// conflicts forces the next N inserts to fail as if raced.
	conflicts int
	failWith  error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*execution.Record, 16)}
}

func naturalKey(r *execution.Record) string {
	return fmt.Sprintf("%d/%d/%s/%d",
		r.TestcaseID, r.RunID, r.CycleType, r.CycleNumber)
}

func (m *memStore) MaxCycleNumber(
	_ context.Context, key execution.CycleKey,
) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	highest := 0

	for _, r := range m.records {
		if r.Key() == key && r.CycleNumber > highest {
			highest = r.CycleNumber
		}
	}

	return highest, nil
}

func (m *memStore) InsertExecution(
	_ context.Context, rec *execution.Record,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return m.failWith
	}

	if m.conflicts > 0 {
		m.conflicts--

		return execution.ErrNaturalKeyConflict
	}

	k := naturalKey(rec)
	if _, ok := m.records[k]; ok {
		return execution.ErrNaturalKeyConflict
	}

	m.seq++
	rec.ExecutionID = fmt.Sprintf("exec-%d", m.seq)
	rec.Version = 1
	m.records[k] = rec.Clone()

	return nil
}

func newRecord() *execution.Record {
	return &execution.Record{
		ProjectID:  1,
		TestcaseID: 42,
		RunID:      7,
		CycleType:  "Regression",
	}
}

func newAllocator(store cycle.Store, attempts int) *cycle.Allocator {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return cycle.NewAllocator(log, store, metrics.NewNoopSink(), attempts)
}

func TestAllocator_NextStartsAtOne(t *testing.T) {
	a := newAllocator(newMemStore(), 0)

	n, err := a.Next(context.Background(), newRecord().Key())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, cycle.DefaultMaxAttempts, a.MaxAttempts())
}

func TestAllocator_AllocateSequential(t *testing.T) {
	store := newMemStore()
	a := newAllocator(store, 0)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		rec := newRecord()
		n, err := a.Allocate(ctx, rec, 0)
		require.NoError(t, err)
		assert.Equal(t, want, n)
		assert.Equal(t, want, rec.CycleNumber)
		assert.NotEmpty(t, rec.ExecutionID)
	}

	// A different cycle type is a different key.
	other := newRecord()
	other.CycleType = "Sanity"
	n, err := a.Allocate(ctx, other, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAllocator_StaleHintIsRevalidated(t *testing.T) {
	store := newMemStore()
	a := newAllocator(store, 0)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := a.Allocate(ctx, newRecord(), 0)
		require.NoError(t, err)
	}

	// Hint of 1 is far behind; hint of 9 would leave a gap.
	n, err := a.Allocate(ctx, newRecord(), 1)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = a.Allocate(ctx, newRecord(), 9)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestAllocator_RetriesOnConflict(t *testing.T) {
	store := newMemStore()
	store.conflicts = 2

	a := newAllocator(store, 0)

	n, err := a.Allocate(context.Background(), newRecord(), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestAllocator_Exhausted(t *testing.T) {
	store := newMemStore()
	store.conflicts = cycle.DefaultMaxAttempts

	a := newAllocator(store, 0)
	rec := newRecord()

	_, err := a.Allocate(context.Background(), rec, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, execution.ErrAllocationExhausted)
	assert.Empty(t, rec.ExecutionID)
}

func TestAllocator_StoreErrorIsNotRetried(t *testing.T) {
	store := newMemStore()
	store.failWith = errors.New("disk on fire")

	a := newAllocator(store, 0)

	_, err := a.Allocate(context.Background(), newRecord(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.NotErrorIs(t, err, execution.ErrAllocationExhausted)
}

func TestAllocator_CommitRejectsNonPositive(t *testing.T) {
	a := newAllocator(newMemStore(), 0)

	require.Error(t, a.Commit(context.Background(), newRecord(), 0))
}

func TestAllocator_ConcurrentCommitSameNumber(t *testing.T) {
	store := newMemStore()
	a := newAllocator(store, 0)

	const workers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed int
		conflicts int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := a.Commit(context.Background(), newRecord(), 1)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				committed++
			case errors.Is(err, cycle.ErrCycleConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, committed)
	assert.Equal(t, workers-1, conflicts)
}

func TestAllocator_ConcurrentAllocateIsGapFree(t *testing.T) {
	const workers = 10

	store := newMemStore()
	a := newAllocator(store, workers)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = make([]int, 0, workers)
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			n, err := a.Allocate(context.Background(), newRecord(), 0)
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			numbers = append(numbers, n)
			mu.Unlock()
		}()
	}

	wg.Wait()

	sort.Ints(numbers)

	want := make([]int, 0, workers)
	for i := 1; i <= workers; i++ {
		want = append(want, i)
	}

	assert.Equal(t, want, numbers)
}
