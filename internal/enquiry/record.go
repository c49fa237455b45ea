package enquiry

import (
	"fmt"
	"strings"
	"time"

	"enquiry-workers/internal/common/sheets"
	"enquiry-workers/internal/models"
)

// EnquiryColumns is the ENQUIRY sheet layout, columns A through T.
var EnquiryColumns = []string{
	HeaderTimestamp,
	HeaderIndentNumber,
	HeaderCandidateEnquiryNumber,
	"Applying For the Post",
	"Candidate Name",
	"DOB",
	"Candidate Phone Number",
	"Candidate Email",
	"Previous Company Name",
	"Job Experience",
	HeaderDepartment,
	"Previous Position",
	"Reason For Leaving",
	"Marital Status",
	"Last Employer Mobile",
	"Candidate Photo",
	"Reference By",
	"Present Address",
	"Aadhar No",
	"Candidate Resume",
}

const (
	rowTimestampLayout = "02/01/2006 15:04:05"
	actualLayout       = "2006-01-02T15:04:05.000Z"
	dobInputLayout     = "2006-01-02"
)

// FormatTimestamp renders the row timestamp as dd/mm/yyyy hh:mm:ss in loc.
func FormatTimestamp(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(rowTimestampLayout)
}

// FormatDOB turns 1995-03-05 into 5-March-95. Anything unparseable is kept as typed.
func FormatDOB(dob string) string {
	dob = strings.TrimSpace(dob)
	if dob == "" {
		return ""
	}
	d, err := time.Parse(dobInputLayout, dob)
	if err != nil {
		return dob
	}
	return fmt.Sprintf("%d-%s-%s", d.Day(), d.Month(), d.Format("06"))
}

// FormatActual renders the completion time written to the requisition row.
func FormatActual(t time.Time) string {
	return t.UTC().Format(actualLayout)
}

// recordValues maps each ENQUIRY column to its value for r.
func recordValues(r models.SubmissionRecord, loc *time.Location) map[string]string {
	c := r.Candidate
	values := []string{
		FormatTimestamp(r.Timestamp, loc),
		r.IndentNumber,
		r.CandidateEnquiryNumber,
		r.Post,
		c.Name,
		FormatDOB(c.DOB),
		c.Phone,
		c.Email,
		c.PreviousCompany,
		c.JobExperience,
		c.Department,
		c.PreviousPosition,
		c.ReasonForLeaving,
		c.MaritalStatus,
		c.LastEmployerMobile,
		r.PhotoURL,
		c.ReferenceBy,
		c.PresentAddress,
		c.AadharNo,
		r.ResumeURL,
	}

	out := make(map[string]string, len(EnquiryColumns))
	for i, col := range EnquiryColumns {
		out[col] = values[i]
	}
	return out
}

// CanonicalRow serializes r in the fixed A..T order.
func CanonicalRow(r models.SubmissionRecord, loc *time.Location) []string {
	values := recordValues(r, loc)
	row := make([]string, len(EnquiryColumns))
	for i, col := range EnquiryColumns {
		row[i] = values[col]
	}
	return row
}

// RowForHeaders places each value under the header carrying its column name.
// It returns the columns holding a value that have no header; callers should
// not write a row with missing columns.
func RowForHeaders(r models.SubmissionRecord, loc *time.Location, headers []string) ([]string, []string) {
	values := recordValues(r, loc)

	width := len(headers)
	for width > 0 && headers[width-1] == "" {
		width--
	}
	row := make([]string, width)

	var missing []string
	for _, col := range EnquiryColumns {
		idx := sheets.ColumnIndex(headers[:width], col)
		if idx < 0 {
			if values[col] != "" {
				missing = append(missing, col)
			}
			continue
		}
		row[idx] = values[col]
	}
	return row, missing
}
