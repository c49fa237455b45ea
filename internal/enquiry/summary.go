package enquiry

import (
	"enquiry-workers/internal/common/sheets"
	"enquiry-workers/internal/models"
)

// Header names shared by the ENQUIRY and INDENT sheets.
const (
	HeaderTimestamp              = "Timestamp"
	HeaderIndentNumber           = "Indent Number"
	HeaderCandidateEnquiryNumber = "Candidate Enquiry Number"
	HeaderPost                   = "Post"
	HeaderDepartment             = "Department"
	HeaderStatus                 = "Status"
	HeaderActual2                = "Actual 2"
)

// IndentSummaries reads the INDENT data rows by header name.
func IndentSummaries(t *sheets.Table) []models.IndentSummary {
	if t == nil {
		return nil
	}
	indentCol := t.Column(HeaderIndentNumber)
	postCol := t.Column(HeaderPost)
	deptCol := t.Column(HeaderDepartment)

	rows := t.DataRows()
	out := make([]models.IndentSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.IndentSummary{
			IndentNumber: r.Get(indentCol),
			Post:         r.Get(postCol),
			Department:   r.Get(deptCol),
		})
	}
	return out
}

// EnquirySummaries reads the ENQUIRY data rows by header name.
func EnquirySummaries(t *sheets.Table) []models.EnquirySummary {
	if t == nil {
		return nil
	}
	candidateCol := t.Column(HeaderCandidateEnquiryNumber)
	indentCol := t.Column(HeaderIndentNumber)

	rows := t.DataRows()
	out := make([]models.EnquirySummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.EnquirySummary{
			CandidateEnquiryNumber: r.Get(candidateCol),
			IndentNumber:           r.Get(indentCol),
		})
	}
	return out
}

// LookupIndent returns the first summary whose indent number equals indentNumber exactly.
func LookupIndent(indents []models.IndentSummary, indentNumber string) (models.IndentSummary, bool) {
	for _, s := range indents {
		if s.IndentNumber == indentNumber {
			return s, true
		}
	}
	return models.IndentSummary{}, false
}
