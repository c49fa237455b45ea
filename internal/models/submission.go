package models

import "time"

// Submission is one candidate enquiry as handed to the submission saga.
type Submission struct {
	ID                     string    `json:"submissionId"`
	SessionID              string    `json:"sessionId,omitempty"`
	Status                 Status    `json:"status" validate:"omitempty,oneof=NeedMore Complete"`
	IndentNumber           string    `json:"indentNumber" validate:"required"`
	CandidateEnquiryNumber string    `json:"candidateEnquiryNumber,omitempty"`
	Post                   string    `json:"post,omitempty"`
	Candidate              Candidate `json:"candidate"`
	Photo                  *Upload   `json:"photo,omitempty"`
	Resume                 *Upload   `json:"resume,omitempty"`
}

// EffectiveStatus defaults an unset status to NeedMore.
func (s *Submission) EffectiveStatus() Status {
	if s.Status == "" {
		return StatusNeedMore
	}
	return s.Status
}

type StepName string

const (
	StepUploadPhoto    StepName = "upload_photo"
	StepUploadResume   StepName = "upload_resume"
	StepInsertEnquiry  StepName = "insert_enquiry"
	StepCompleteIndent StepName = "complete_indent"
)

// SubmissionSteps is the fixed execution order.
var SubmissionSteps = []StepName{StepUploadPhoto, StepUploadResume, StepInsertEnquiry, StepCompleteIndent}

type StepState string

const (
	StepOK      StepState = "ok"
	StepFailed  StepState = "failed"
	StepSkipped StepState = "skipped"
	// StepPending marks a write whose outcome is unknown; Detail carries the
	// key it was attempted with.
	StepPending StepState = "pending"
)

// StepResult is one journal entry. Detail carries the step output (a file URL,
// the candidate number) or the failure message, never candidate fields.
type StepResult struct {
	SubmissionID string    `json:"submissionId" db:"submission_id"`
	Step         StepName  `json:"step" db:"step"`
	State        StepState `json:"state" db:"state"`
	Detail       string    `json:"detail,omitempty" db:"detail"`
	RecordedAt   time.Time `json:"recordedAt" db:"recorded_at"`
}

// SubmissionOutcome is what the submit worker and CLI report back.
type SubmissionOutcome struct {
	SubmissionID           string       `json:"submissionId"`
	CandidateEnquiryNumber string       `json:"candidateEnquiryNumber"`
	PhotoURL               string       `json:"photoUrl"`
	ResumeURL              string       `json:"resumeUrl"`
	IndentPatched          bool         `json:"indentPatched"`
	IndentError            string       `json:"indentError,omitempty"`
	Steps                  []StepResult `json:"steps"`
}

