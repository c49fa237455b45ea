// internal/models/enquiry.go
package models

import "time"

// Status is chosen once by the submitter and never revisited.
type Status string

const (
	StatusNeedMore Status = "NeedMore"
	StatusComplete Status = "Complete"
)

// IndentSummary is one requisition row reduced to the fields the form needs.
type IndentSummary struct {
	IndentNumber string `json:"indentNumber"`
	Post         string `json:"post"`
	Department   string `json:"department"`
}

// EnquirySummary is one candidate enquiry row reduced to its two keys.
type EnquirySummary struct {
	CandidateEnquiryNumber string `json:"candidateEnquiryNumber"`
	IndentNumber           string `json:"indentNumber"`
}

// Candidate holds the applicant fields captured by the enquiry form.
type Candidate struct {
	Name               string `json:"name" validate:"required"`
	DOB                string `json:"dob,omitempty"`
	Phone              string `json:"phone" validate:"required"`
	Email              string `json:"email" validate:"required,email"`
	PreviousCompany    string `json:"previousCompany,omitempty"`
	JobExperience      string `json:"jobExperience,omitempty"`
	Department         string `json:"department,omitempty"`
	PreviousPosition   string `json:"previousPosition,omitempty"`
	ReasonForLeaving   string `json:"reasonForLeaving,omitempty"`
	MaritalStatus      string `json:"maritalStatus,omitempty"`
	LastEmployerMobile string `json:"lastEmployerMobile,omitempty"`
	ReferenceBy        string `json:"referenceBy,omitempty"`
	PresentAddress     string `json:"presentAddress,omitempty"`
	AadharNo           string `json:"aadharNo,omitempty"`
}

// Upload is one file attached to a submission. Data is base64 in JSON.
type Upload struct {
	Name     string `json:"name" validate:"required"`
	MimeType string `json:"mimeType,omitempty"`
	Data     []byte `json:"data"`
}

func (u *Upload) Size() int64 {
	return int64(len(u.Data))
}

// SubmissionRecord is the row appended to ENQUIRY.
type SubmissionRecord struct {
	Timestamp              time.Time `json:"timestamp"`
	IndentNumber           string    `json:"indentNumber"`
	CandidateEnquiryNumber string    `json:"candidateEnquiryNumber"`
	Post                   string    `json:"post"`
	Candidate              Candidate `json:"candidate"`
	PhotoURL               string    `json:"photoUrl,omitempty"`
	ResumeURL              string    `json:"resumeUrl,omitempty"`
}
