package enquiry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"enquiry-workers/internal/common/logger"
	"enquiry-workers/internal/common/sheets"
	"enquiry-workers/internal/models"
)

var (
	ErrRowNotFound    = errors.New("ROW_NOT_FOUND")
	ErrColumnNotFound = errors.New("COLUMN_NOT_FOUND")
)

// RowNotFoundError matches ErrRowNotFound and names the missing key.
type RowNotFoundError struct {
	Table string
	Key   string
}

func (e *RowNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s in %s", ErrRowNotFound, e.Key, e.Table)
}

func (e *RowNotFoundError) Unwrap() error {
	return ErrRowNotFound
}

// keyColumnFallback is column B, where the indent number sits when the header is missing.
const keyColumnFallback = 1

// TableService is the subset of the table service the reconciler writes through.
type TableService interface {
	Fetch(ctx context.Context, table string) (*sheets.Table, error)
	Insert(ctx context.Context, table string, row []string) error
	UpdateCell(ctx context.Context, table string, rowIndex, columnIndex int, value string) error
}

type PatchState string

const (
	PatchApplied PatchState = "applied"
	PatchSkipped PatchState = "skipped"
	PatchFailed  PatchState = "failed"
)

// Patch is one requisition cell update and what happened to it.
type Patch struct {
	Column string     `json:"column"`
	Row    int        `json:"row,omitempty"`
	Col    int        `json:"col,omitempty"`
	Value  string     `json:"value,omitempty"`
	State  PatchState `json:"state"`
	Error  string     `json:"error,omitempty"`

	err error
}

// PatchReport describes a MarkIndentComplete run.
type PatchReport struct {
	IndentNumber string  `json:"indentNumber"`
	Row          int     `json:"row"`
	Patches      []Patch `json:"patches"`
}

// Applied reports whether the Status cell now reads Complete.
func (r *PatchReport) Applied() bool {
	for _, p := range r.Patches {
		if p.Column == HeaderStatus {
			return p.State == PatchApplied
		}
	}
	return false
}

// StatusState is the state of the Status patch, skipped when none was attempted.
func (r *PatchReport) StatusState() PatchState {
	for _, p := range r.Patches {
		if p.Column == HeaderStatus {
			return p.State
		}
	}
	return PatchSkipped
}

// Err joins the errors of failed patches, or nil when none failed.
func (r *PatchReport) Err() error {
	var errs []error
	for _, p := range r.Patches {
		if p.State == PatchFailed {
			errs = append(errs, fmt.Errorf("patch %s: %w", p.Column, p.err))
		}
	}
	return errors.Join(errs...)
}

type Reconciler struct {
	tables   TableService
	location *time.Location
	now      func() time.Time
	logger   logger.Logger
}

func NewReconciler(tables TableService, location *time.Location, log logger.Logger) *Reconciler {
	if location == nil {
		location = time.Local
	}
	return &Reconciler{
		tables:   tables,
		location: location,
		now:      time.Now,
		logger:   log.WithFields(map[string]interface{}{"component": "reconciler"}),
	}
}

// SubmitEnquiry appends record to ENQUIRY. With headers the values are placed
// by column name, otherwise in the fixed A..T order.
func (r *Reconciler) SubmitEnquiry(ctx context.Context, record models.SubmissionRecord, headers []string) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = r.now()
	}

	row := CanonicalRow(record, r.location)
	if len(headers) > 0 {
		named, missing := RowForHeaders(record, r.location, headers)
		if len(missing) == 0 {
			row = named
		} else {
			r.logger.Warn("ENQUIRY headers lack columns, writing canonical order", map[string]interface{}{
				"missing": strings.Join(missing, ", "),
			})
		}
	}

	if err := r.tables.Insert(ctx, sheets.TableEnquiry, row); err != nil {
		return fmt.Errorf("insert enquiry %s: %w", record.CandidateEnquiryNumber, err)
	}

	r.logger.Info("enquiry appended", map[string]interface{}{
		"candidateEnquiryNumber": record.CandidateEnquiryNumber,
		"indentNumber":           record.IndentNumber,
	})
	return nil
}

// EnquiryRecorded re-reads ENQUIRY and reports whether a row already carries
// candidateNumber. It also returns the current header row.
func (r *Reconciler) EnquiryRecorded(ctx context.Context, candidateNumber string) (bool, []string, error) {
	table, err := r.tables.Fetch(ctx, sheets.TableEnquiry)
	if err != nil {
		return false, nil, fmt.Errorf("fetch %s: %w", sheets.TableEnquiry, err)
	}
	return CandidateIDTaken(candidateNumber, EnquirySummaries(table)), table.Headers(), nil
}

// MarkIndentComplete re-reads INDENT, finds the requisition row and sets its
// Status and Actual 2 cells with two independent calls. A missing column skips
// its patch. A failed patch is recorded in the report and does not stop the other.
func (r *Reconciler) MarkIndentComplete(ctx context.Context, indentNumber string) (*PatchReport, error) {
	indentNumber = strings.TrimSpace(indentNumber)
	if indentNumber == "" {
		return nil, &RowNotFoundError{Table: sheets.TableIndent, Key: indentNumber}
	}

	table, err := r.tables.Fetch(ctx, sheets.TableIndent)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", sheets.TableIndent, err)
	}

	headers := table.Headers()
	keyCol := sheets.ColumnIndex(headers, HeaderIndentNumber)
	if keyCol < 0 {
		keyCol = keyColumnFallback
	}

	rowIndex := -1
	for _, row := range table.AllRows() {
		key := row.Get(keyCol)
		if strings.TrimSpace(key) == "" {
			continue
		}
		if key == indentNumber {
			rowIndex = row.Index
			break
		}
	}
	if rowIndex < 0 {
		return nil, &RowNotFoundError{Table: sheets.TableIndent, Key: indentNumber}
	}

	report := &PatchReport{IndentNumber: indentNumber, Row: rowIndex}
	for _, p := range []struct{ column, value string }{
		{HeaderStatus, string(models.StatusComplete)},
		{HeaderActual2, FormatActual(r.now())},
	} {
		report.Patches = append(report.Patches, r.patch(ctx, headers, rowIndex, p.column, p.value))
	}
	return report, nil
}

func (r *Reconciler) patch(ctx context.Context, headers []string, rowIndex int, column, value string) Patch {
	idx := sheets.ColumnIndex(headers, column)
	if idx < 0 {
		r.logger.Debug("column not found, skipping patch", map[string]interface{}{
			"column": column,
			"error":  ErrColumnNotFound.Error(),
		})
		return Patch{Column: column, State: PatchSkipped}
	}

	p := Patch{Column: column, Row: rowIndex, Col: idx + 1, Value: value}
	if err := r.tables.UpdateCell(ctx, sheets.TableIndent, p.Row, p.Col, value); err != nil {
		r.logger.Error("requisition patch failed", map[string]interface{}{
			"column": column,
			"row":    rowIndex,
			"error":  err.Error(),
		})
		p.State = PatchFailed
		p.Error = err.Error()
		p.err = err
		return p
	}

	p.State = PatchApplied
	return p
}
