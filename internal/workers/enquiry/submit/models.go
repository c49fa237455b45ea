package submit

import "enquiry-workers/internal/models"

// Input is the submission as carried in the process variables. Upload data is
// base64 in JSON.
type Input struct {
	models.Submission
}

type Output struct {
	*models.SubmissionOutcome
	Status string `json:"submissionStatus"`
}
