package lifecycle_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethpandaops/testcycle/pkg/execution"
)

// memStore is an in-memory execution store that enforces the natural key
// and record versions the way the database does.
type memStore struct {
	mu      sync.Mutex
	records map[string]*execution.Record
	seq     int
	clock   time.Time
	calls   int

	// updateErr, when set, fails every UpdateExecution.
	updateErr error
	updates   int
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[string]*execution.Record, 16),
		clock:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) touch() {
	m.calls++
	m.clock = m.clock.Add(time.Second)
}

func (m *memStore) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

func (m *memStore) FindExecution(
	_ context.Context, id string,
) (*execution.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.touch()

	r, ok := m.records[id]
	if !ok {
		return nil, execution.ErrRecordNotFound
	}

	return r.Clone(), nil
}

func (m *memStore) InsertExecution(
	_ context.Context, rec *execution.Record,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.touch()

	for _, r := range m.records {
		if r.Key() == rec.Key() && r.CycleNumber == rec.CycleNumber {
			return execution.ErrNaturalKeyConflict
		}
	}

	m.seq++
	rec.ExecutionID = fmt.Sprintf("exec-%03d", m.seq)
	rec.Version = 1
	rec.CreatedAt = m.clock
	rec.UpdatedAt = m.clock
	m.records[rec.ExecutionID] = rec.Clone()

	return nil
}

func (m *memStore) UpdateExecution(
	_ context.Context, rec *execution.Record, expectedVersion int64,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.touch()
	m.updates++

	if m.updateErr != nil {
		return m.updateErr
	}

	cur, ok := m.records[rec.ExecutionID]
	if !ok {
		return execution.ErrRecordNotFound
	}

	if cur.Version != expectedVersion {
		return execution.ErrVersionMismatch
	}

	rec.Version = expectedVersion + 1
	rec.CreatedAt = cur.CreatedAt
	rec.UpdatedAt = m.clock
	m.records[rec.ExecutionID] = rec.Clone()

	return nil
}

func (m *memStore) MaxCycleNumber(
	_ context.Context, key execution.CycleKey,
) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.touch()

	highest := 0

	for _, r := range m.records {
		if r.Key() == key && r.CycleNumber > highest {
			highest = r.CycleNumber
		}
	}

	return highest, nil
}

func (m *memStore) LatestExecution(
	_ context.Context, key execution.CycleKey,
) (*execution.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.touch()

	var latest *execution.Record

	for _, r := range m.records {
		if r.Key() == key && (latest == nil || r.CycleNumber > latest.CycleNumber) {
			latest = r
		}
	}

	if latest == nil {
		return nil, execution.ErrRecordNotFound
	}

	return latest.Clone(), nil
}

func (m *memStore) QueryExecutions(
	_ context.Context, f execution.Filter,
) (*execution.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.touch()

	items := make([]*execution.Record, 0, len(m.records))

	for _, r := range m.records {
		if f.TestcaseID != nil && r.TestcaseID != *f.TestcaseID {
			continue
		}

		if f.CycleType != "" && r.CycleType != f.CycleType {
			continue
		}

		if f.LifecycleState != nil && r.LifecycleState != *f.LifecycleState {
			continue
		}

		items = append(items, r.Clone())
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	total := int64(len(items))
	lo := min(f.Offset(), len(items))
	hi := min(lo+f.PageSize, len(items))

	return &execution.Page{
		Items:    items[lo:hi],
		Total:    total,
		Page:     f.Page,
		PageSize: f.PageSize,
	}, nil
}

// memRoles grants capability sets per (user, project).
type memRoles struct {
	grants map[string]execution.CapabilitySet
	err    error
}

func newMemRoles() *memRoles {
	return &memRoles{grants: make(map[string]execution.CapabilitySet, 8)}
}

func (r *memRoles) grant(user string, project int64, caps ...execution.Capability) {
	r.grants[fmt.Sprintf("%s/%d", user, project)] = execution.NewCapabilitySet(caps...)
}

func (r *memRoles) HasCapability(
	ctx context.Context, user string, project int64, c execution.Capability,
) (bool, error) {
	if r.err != nil {
		return false, r.err
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}

	return r.grants[fmt.Sprintf("%s/%d", user, project)].Has(c), nil
}

// recordingSink captures transition outcomes.
type recordingSink struct {
	mu       sync.Mutex
	outcomes []string
	created  int
}

func (s *recordingSink) TransitionCompleted(action, outcome string, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcomes = append(s.outcomes, action+":"+outcome)
}

func (s *recordingSink) AllocationAttempt(bool) {}
func (s *recordingSink) AllocationExhausted()   {}

func (s *recordingSink) ExecutionCreated(string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.created++
}
