package notifyoutcome

const (
	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusDisabled = "disabled"
)

const (
	TypeSubmissionSucceeded = "submission_succeeded"
	TypeSubmissionFailed    = "submission_failed"
)

type Input struct {
	Success                bool   `json:"success"`
	SubmissionID           string `json:"submissionId,omitempty"`
	CandidateEnquiryNumber string `json:"candidateEnquiryNumber,omitempty"`
	IndentNumber           string `json:"indentNumber,omitempty"`
	ErrorMessage           string `json:"errorMessage,omitempty"`
	IndentError            string `json:"indentError,omitempty"`
	RecipientPhone         string `json:"recipientPhone,omitempty"`
}

type Output struct {
	NotificationID   string `json:"notificationId"`
	NotificationType string `json:"notificationType"`
	Status           string `json:"status"`
	Message          string `json:"notificationMessage"`
	SentAt           string `json:"sentAt"`
}
