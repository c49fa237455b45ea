package indexcandidate

import (
	"time"

	"enquiry-workers/internal/models"
)

type Input struct {
	CandidateEnquiryNumber string           `json:"candidateEnquiryNumber"`
	IndentNumber           string           `json:"indentNumber"`
	Status                 string           `json:"status,omitempty"`
	Post                   string           `json:"post,omitempty"`
	PhotoURL               string           `json:"photoUrl,omitempty"`
	ResumeURL              string           `json:"resumeUrl,omitempty"`
	Candidate              models.Candidate `json:"candidate"`
}

// Document is what gets indexed. Identity numbers are left out.
type Document struct {
	CandidateEnquiryNumber string    `json:"candidate_enquiry_number"`
	IndentNumber           string    `json:"indent_number"`
	Status                 string    `json:"status"`
	Post                   string    `json:"post,omitempty"`
	Name                   string    `json:"name"`
	Phone                  string    `json:"phone"`
	Email                  string    `json:"email"`
	Department             string    `json:"department,omitempty"`
	PreviousCompany        string    `json:"previous_company,omitempty"`
	PreviousPosition       string    `json:"previous_position,omitempty"`
	JobExperience          string    `json:"job_experience,omitempty"`
	PhotoURL               string    `json:"photo_url,omitempty"`
	ResumeURL              string    `json:"resume_url,omitempty"`
	IndexedAt              time.Time `json:"indexed_at"`
}

type Output struct {
	Indexed    bool   `json:"indexed"`
	DocumentID string `json:"documentId"`
	Result     string `json:"indexResult,omitempty"`
	Version    int64  `json:"indexVersion,omitempty"`
}
