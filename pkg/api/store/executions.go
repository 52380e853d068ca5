package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ethpandaops/testcycle/pkg/execution"
)

// updatableFields are the execution columns a versioned update may write.
// Identity and the natural key never change after insert.
var updatableFields = []string{
	"ResultStatus",
	"IncludeInRun",
	"Remarks",
	"TestData",
	"Environment",
	"RequirementIDs",
	"BugIDs",
	"AttachmentRefs",
	"LifecycleState",
	"PreparedBy",
	"PreparationStart",
	"PreparationEnd",
	"ExecutedBy",
	"ExecutionStart",
	"ExecutionEnd",
	"ReviewedBy",
	"ReviewDate",
	"ReviewerComments",
	"ApprovedBy",
	"ApprovalDate",
	"ApproverComments",
	"Version",
	"UpdatedAt",
}

func (s *store) FindExecution(
	ctx context.Context, id string,
) (*execution.Record, error) {
	var rec execution.Record
	if err := s.db.WithContext(ctx).
		Where("execution_id = ?", id).
		First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, execution.ErrRecordNotFound
		}

		return nil, fmt.Errorf("getting execution: %w", err)
	}

	return &rec, nil
}

// InsertExecution stores rec under a new id at version 1. A taken natural
// key yields execution.ErrNaturalKeyConflict and leaves rec without an id.
func (s *store) InsertExecution(
	ctx context.Context, rec *execution.Record,
) error {
	rec.ExecutionID = uuid.NewString()
	rec.Version = 1
	rec.CycleType = execution.NormalizeCycleType(rec.CycleType)

	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		rec.ExecutionID = ""
		rec.Version = 0

		if isDuplicateKeyError(err) {
			return execution.ErrNaturalKeyConflict
		}

		return fmt.Errorf("inserting execution: %w", err)
	}

	return nil
}

// UpdateExecution writes the mutable columns of rec in a single statement
// guarded by the expected version.
func (s *store) UpdateExecution(
	ctx context.Context, rec *execution.Record, expectedVersion int64,
) error {
	prevVersion, prevUpdated := rec.Version, rec.UpdatedAt

	rec.Version = expectedVersion + 1
	rec.UpdatedAt = time.Now().UTC()

	result := s.db.WithContext(ctx).
		Model(rec).
		Where("version = ?", expectedVersion).
		Select(updatableFields).
		Updates(rec)

	if result.Error == nil && result.RowsAffected == 1 {
		return nil
	}

	rec.Version, rec.UpdatedAt = prevVersion, prevUpdated

	if result.Error != nil {
		return fmt.Errorf("updating execution: %w", result.Error)
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&execution.Record{}).
		Where("execution_id = ?", rec.ExecutionID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("checking execution: %w", err)
	}

	if count == 0 {
		return execution.ErrRecordNotFound
	}

	return execution.ErrVersionMismatch
}

func (s *store) MaxCycleNumber(
	ctx context.Context, key execution.CycleKey,
) (int, error) {
	var highest int
	if err := whereKey(s.db.WithContext(ctx).Model(&execution.Record{}), key).
		Select("COALESCE(MAX(cycle_number), 0)").
		Scan(&highest).Error; err != nil {
		return 0, fmt.Errorf("getting max cycle number: %w", err)
	}

	return highest, nil
}

func (s *store) LatestExecution(
	ctx context.Context, key execution.CycleKey,
) (*execution.Record, error) {
	var rec execution.Record
	if err := whereKey(s.db.WithContext(ctx), key).
		Order("cycle_number DESC").
		First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, execution.ErrRecordNotFound
		}

		return nil, fmt.Errorf("getting latest execution: %w", err)
	}

	return &rec, nil
}

// QueryExecutions returns one page of live records. The filter must
// already be normalised.
func (s *store) QueryExecutions(
	ctx context.Context, f execution.Filter,
) (*execution.Page, error) {
	if !f.SortBy.Valid() {
		return nil, fmt.Errorf("unknown sort column %q", f.SortBy)
	}

	dir := "DESC"
	if f.SortOrder == "asc" {
		dir = "ASC"
	}

	var total int64
	if err := whereFilter(s.db.WithContext(ctx).Model(&execution.Record{}), f).
		Count(&total).Error; err != nil {
		return nil, fmt.Errorf("counting executions: %w", err)
	}

	q := whereFilter(s.db.WithContext(ctx), f).
		Order(fmt.Sprintf("%s %s", f.SortBy, dir))

	if f.SortBy != execution.SortCycleNumber {
		q = q.Order("cycle_number " + dir)
	}

	items := make([]*execution.Record, 0, f.PageSize)
	if err := q.Order("execution_id ASC").
		Offset(f.Offset()).
		Limit(f.PageSize).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}

	return &execution.Page{
		Items:    items,
		Total:    total,
		Page:     f.Page,
		PageSize: f.PageSize,
	}, nil
}

// DeleteExecution soft-deletes a record, freeing its natural key.
func (s *store) DeleteExecution(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).
		Where("execution_id = ?", id).
		Delete(&execution.Record{})
	if result.Error != nil {
		return fmt.Errorf("deleting execution: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return execution.ErrRecordNotFound
	}

	return nil
}

func whereKey(tx *gorm.DB, key execution.CycleKey) *gorm.DB {
	key = key.Normalize()

	return tx.Where("testcase_id = ? AND run_id = ? AND cycle_type = ?",
		key.TestcaseID, key.RunID, key.CycleType)
}

func whereFilter(tx *gorm.DB, f execution.Filter) *gorm.DB {
	if f.ProjectID != nil {
		tx = tx.Where("project_id = ?", *f.ProjectID)
	}

	if f.TestcaseID != nil {
		tx = tx.Where("testcase_id = ?", *f.TestcaseID)
	}

	if f.RunID != nil {
		tx = tx.Where("run_id = ?", *f.RunID)
	}

	if ct := strings.TrimSpace(f.CycleType); ct != "" {
		tx = tx.Where("cycle_type = ?", execution.NormalizeCycleType(ct))
	}

	if f.LifecycleState != nil {
		tx = tx.Where("lifecycle_state = ?", int(*f.LifecycleState))
	}

	return tx
}
