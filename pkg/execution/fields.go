package execution

import (
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
)

const (
	maxCycleTypeLen = 64
	maxTextLen      = 64 << 10
)

// Fields are the result, remark and environment values a developer edits
// while an execution is in Draft or Rejected.
type Fields struct {
	ResultStatus   ResultStatus `json:"result_status"`
	IncludeInRun   bool         `json:"include_in_run"`
	Remarks        string       `json:"remarks"`
	TestData       string       `json:"test_data"`
	Environment    string       `json:"environment"`
	RequirementIDs []string     `json:"requirement_ids"`
	BugIDs         []string     `json:"bug_ids"`
	AttachmentRefs []string     `json:"attachment_refs"`

	PreparedBy       string     `json:"prepared_by"`
	PreparationStart *time.Time `json:"preparation_start"`
	PreparationEnd   *time.Time `json:"preparation_end"`
	ExecutedBy       string     `json:"executed_by"`
	ExecutionStart   *time.Time `json:"execution_start"`
	ExecutionEnd     *time.Time `json:"execution_end"`
}

// Normalize fills defaults and removes duplicate bug ids in place.
func (f *Fields) Normalize() {
	if f.ResultStatus == "" {
		f.ResultStatus = ResultUntested
	}

	f.BugIDs = dedupe(f.BugIDs)
	f.RequirementIDs = trimAll(f.RequirementIDs)
	f.AttachmentRefs = trimAll(f.AttachmentRefs)
	f.PreparedBy = strings.TrimSpace(f.PreparedBy)
	f.ExecutedBy = strings.TrimSpace(f.ExecutedBy)
}

// Validate checks the field values without touching any collaborator.
func (f *Fields) Validate() error {
	if !f.ResultStatus.Valid() {
		return Errorf(KindValidation, "unknown result status %q", f.ResultStatus)
	}

	if len(f.Remarks) > maxTextLen {
		return Errorf(KindValidation, "remarks exceed %d bytes", maxTextLen)
	}

	if len(f.TestData) > maxTextLen {
		return Errorf(KindValidation, "test data exceeds %d bytes", maxTextLen)
	}

	if endsBefore(f.PreparationStart, f.PreparationEnd) {
		return Errorf(KindValidation, "preparation end is before preparation start")
	}

	if endsBefore(f.ExecutionStart, f.ExecutionEnd) {
		return Errorf(KindValidation, "execution end is before execution start")
	}

	return nil
}

// Apply copies the field values onto r.
func (f *Fields) Apply(r *Record) {
	r.ResultStatus = f.ResultStatus
	r.IncludeInRun = f.IncludeInRun
	r.Remarks = f.Remarks
	r.TestData = f.TestData
	r.Environment = f.Environment
	r.RequirementIDs = datatypes.JSONSlice[string](f.RequirementIDs)
	r.BugIDs = datatypes.JSONSlice[string](f.BugIDs)
	r.AttachmentRefs = datatypes.JSONSlice[string](f.AttachmentRefs)
	r.PreparationStart = f.PreparationStart
	r.PreparationEnd = f.PreparationEnd
	r.ExecutionStart = f.ExecutionStart
	r.ExecutionEnd = f.ExecutionEnd

	if f.PreparedBy != "" {
		r.PreparedBy = f.PreparedBy
	}

	if f.ExecutedBy != "" {
		r.ExecutedBy = f.ExecutedBy
	}
}

// ValidateKey checks the identifying fields of a submission.
func ValidateKey(projectID int64, key CycleKey) error {
	if projectID <= 0 {
		return Errorf(KindValidation, "project is required")
	}

	return key.Validate()
}

// Validate checks that the key names a test case, a build and a cycle type.
func (k CycleKey) Validate() error {
	if k.TestcaseID <= 0 {
		return Errorf(KindValidation, "test case is required")
	}

	if k.RunID <= 0 {
		return Errorf(KindValidation, "no build selected")
	}

	if k.CycleType == "" {
		return Errorf(KindValidation, "cycle type is required")
	}

	if utf8.RuneCountInString(k.CycleType) > maxCycleTypeLen {
		return Errorf(KindValidation,
			"cycle type exceeds %d characters", maxCycleTypeLen)
	}

	return nil
}

// ValidateComment checks a reviewer or approver comment.
func ValidateComment(c string) error {
	if len(c) > maxTextLen {
		return Errorf(KindValidation, "comment exceeds %d bytes", maxTextLen)
	}

	return nil
}

func endsBefore(start, end *time.Time) bool {
	return start != nil && end != nil && end.Before(*start)
}

func trimAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}

	out := make([]string, 0, len(in))

	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}

	return out
}

// dedupe trims, drops blanks and keeps the first occurrence of each value.
func dedupe(in []string) []string {
	in = trimAll(in)
	if len(in) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(in))
	out := in[:0]

	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}

		seen[v] = struct{}{}
		out = append(out, v)
	}

	return out
}
