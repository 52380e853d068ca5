package execution

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Record is one attempt to execute one test case against one build at one
// cycle. The natural key (testcase, run, cycle type, cycle number) is unique
// across records that are not soft-deleted.
type Record struct {
	ExecutionID string `gorm:"primaryKey;size:36" json:"execution_id"`
	ProjectID   int64  `gorm:"not null;index" json:"project_id"`
	TestcaseID  int64  `gorm:"not null;index;uniqueIndex:idx_executions_natural_key,where:deleted_at IS NULL" json:"testcase_id"`
	RunID       int64  `gorm:"not null;uniqueIndex:idx_executions_natural_key,where:deleted_at IS NULL" json:"run_id"`
	CycleType   string `gorm:"not null;size:64;uniqueIndex:idx_executions_natural_key,where:deleted_at IS NULL" json:"cycle_type"`
	CycleNumber int    `gorm:"not null;uniqueIndex:idx_executions_natural_key,where:deleted_at IS NULL" json:"cycle_number"`

	ResultStatus   ResultStatus                `gorm:"not null;size:32" json:"result_status"`
	IncludeInRun   bool                        `gorm:"not null" json:"include_in_run"`
	Remarks        string                      `gorm:"type:text" json:"remarks"`
	TestData       string                      `gorm:"type:text" json:"test_data"`
	Environment    string                      `json:"environment"`
	RequirementIDs datatypes.JSONSlice[string] `json:"requirement_ids"`
	BugIDs         datatypes.JSONSlice[string] `json:"bug_ids"`
	AttachmentRefs datatypes.JSONSlice[string] `json:"attachment_refs"`

	LifecycleState   LifecycleState `gorm:"not null;index" json:"lifecycle_state"`
	PreparedBy       string         `json:"prepared_by"`
	PreparationStart *time.Time     `json:"preparation_start"`
	PreparationEnd   *time.Time     `json:"preparation_end"`
	ExecutedBy       string         `json:"executed_by"`
	ExecutionStart   *time.Time     `json:"execution_start"`
	ExecutionEnd     *time.Time     `json:"execution_end"`
	ReviewedBy       string         `json:"reviewed_by"`
	ReviewDate       *time.Time     `json:"review_date"`
	ReviewerComments string         `gorm:"type:text" json:"reviewer_comments"`
	ApprovedBy       string         `json:"approved_by"`
	ApprovalDate     *time.Time     `json:"approval_date"`
	ApproverComments string         `gorm:"type:text" json:"approver_comments"`

	Version   int64          `gorm:"not null" json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName pins the table name independent of gorm's pluraliser.
func (Record) TableName() string {
	return "executions"
}

// Key returns the cycle key the record belongs to.
func (r *Record) Key() CycleKey {
	return CycleKey{
		TestcaseID: r.TestcaseID,
		RunID:      r.RunID,
		CycleType:  r.CycleType,
	}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	c.RequirementIDs = cloneStrings(r.RequirementIDs)
	c.BugIDs = cloneStrings(r.BugIDs)
	c.AttachmentRefs = cloneStrings(r.AttachmentRefs)
	c.PreparationStart = cloneTime(r.PreparationStart)
	c.PreparationEnd = cloneTime(r.PreparationEnd)
	c.ExecutionStart = cloneTime(r.ExecutionStart)
	c.ExecutionEnd = cloneTime(r.ExecutionEnd)
	c.ReviewDate = cloneTime(r.ReviewDate)
	c.ApprovalDate = cloneTime(r.ApprovalDate)

	return &c
}

// ClearReview removes the reviewer stamp.
func (r *Record) ClearReview() {
	r.ReviewedBy = ""
	r.ReviewDate = nil
	r.ReviewerComments = ""
}

// ClearApproval removes the approver stamp.
func (r *Record) ClearApproval() {
	r.ApprovedBy = ""
	r.ApprovalDate = nil
	r.ApproverComments = ""
}

// CycleKey scopes cycle-number allocation.
type CycleKey struct {
	TestcaseID int64
	RunID      int64
	CycleType  string
}

// Normalize returns the key with its cycle type normalised.
func (k CycleKey) Normalize() CycleKey {
	k.CycleType = NormalizeCycleType(k.CycleType)

	return k
}

func (k CycleKey) String() string {
	return fmt.Sprintf("testcase=%d run=%d cycle_type=%q",
		k.TestcaseID, k.RunID, k.CycleType)
}

// NormalizeCycleType trims surrounding whitespace and applies NFC so that
// visually identical labels map to the same cycle key.
func NormalizeCycleType(v string) string {
	return norm.NFC.String(strings.TrimSpace(v))
}

func cloneStrings(in datatypes.JSONSlice[string]) datatypes.JSONSlice[string] {
	if in == nil {
		return nil
	}

	out := make(datatypes.JSONSlice[string], len(in))
	copy(out, in)

	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	c := *t

	return &c
}
