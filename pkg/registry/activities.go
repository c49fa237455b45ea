// pkg/registry/activities.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"enquiry-workers/internal/common/validation"
)

const (
	TaskGenerateIdentifiers = "enquiry.generate-identifiers"
	TaskSubmit              = "enquiry.submit"
	TaskCompleteIndent      = "enquiry.complete-indent"
	TaskIndexCandidate      = "enquiry.index-candidate"
	TaskNotifyOutcome       = "communication.notify-outcome"
)

var uploadSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"name", "data"},
	"properties": map[string]interface{}{
		"name":     map[string]interface{}{"type": "string", "minLength": 1},
		"mimeType": map[string]interface{}{"type": "string"},
		"data":     map[string]interface{}{"type": "string", "description": "base64 file content"},
	},
}

var candidateSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"name", "phone", "email"},
	"properties": map[string]interface{}{
		"name":  map[string]interface{}{"type": "string", "minLength": 1},
		"phone": map[string]interface{}{"type": "string", "minLength": 1},
		"email": map[string]interface{}{"type": "string", "minLength": 3},
		"dob":   map[string]interface{}{"type": "string"},
	},
}

var activities = []Activity{
	{
		ID:          TaskGenerateIdentifiers,
		DisplayName: "Generate Enquiry Identifiers",
		Description: "Loads the session snapshot and computes the next AAP and ENQ numbers, autofilling post and department for a known indent",
		Category:    "enquiry",
		Version:     "1.0.0",
		TaskType:    TaskGenerateIdentifiers,
		Status:      "completed",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"sessionId":    map[string]interface{}{"type": "string"},
				"indentNumber": map[string]interface{}{"type": "string"},
			},
		},
		OutputSchema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"candidateEnquiryNumber", "indentNumber"},
		},
		ErrorCodes: []string{"REMOTE_UNREACHABLE", "REMOTE_REJECTED", "VALIDATION_FAILED"},
		Timeout:    "30s",
		Retries:    3,
		Tags:       []string{"sheets", "identifiers"},
	},
	{
		ID:          TaskSubmit,
		DisplayName: "Submit Candidate Enquiry",
		Description: "Uploads attachments, appends the ENQUIRY row and, for Complete submissions, patches the requisition row",
		Category:    "enquiry",
		Version:     "1.0.0",
		TaskType:    TaskSubmit,
		Status:      "completed",
		InputSchema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"indentNumber", "candidate"},
			"properties": map[string]interface{}{
				"submissionId":           map[string]interface{}{"type": "string"},
				"sessionId":              map[string]interface{}{"type": "string"},
				"status":                 map[string]interface{}{"type": "string", "enum": []interface{}{"NeedMore", "Complete"}},
				"indentNumber":           map[string]interface{}{"type": "string", "minLength": 1},
				"candidateEnquiryNumber": map[string]interface{}{"type": "string"},
				"post":                   map[string]interface{}{"type": "string"},
				"candidate":              candidateSchema,
				"photo":                  uploadSchema,
				"resume":                 uploadSchema,
			},
		},
		OutputSchema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"submissionId", "candidateEnquiryNumber", "indentPatched", "steps"},
		},
		ErrorCodes: []string{"REMOTE_UNREACHABLE", "REMOTE_REJECTED", "FILE_TOO_LARGE", "VALIDATION_FAILED", "LOCK_NOT_OBTAINED", "JOURNAL_FAILED"},
		Timeout:    "60s",
		Retries:    3,
		Tags:       []string{"sheets", "saga"},
	},
	{
		ID:          TaskCompleteIndent,
		DisplayName: "Complete Indent",
		Description: "Marks a requisition row Complete and stamps Actual 2",
		Category:    "enquiry",
		Version:     "1.0.0",
		TaskType:    TaskCompleteIndent,
		Status:      "completed",
		InputSchema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"indentNumber"},
			"properties": map[string]interface{}{
				"indentNumber": map[string]interface{}{"type": "string", "minLength": 1},
			},
		},
		OutputSchema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"indentPatched", "patches"},
		},
		ErrorCodes: []string{"REMOTE_UNREACHABLE", "REMOTE_REJECTED", "ROW_NOT_FOUND", "VALIDATION_FAILED"},
		Timeout:    "30s",
		Retries:    3,
		Tags:       []string{"sheets"},
	},
	{
		ID:          TaskIndexCandidate,
		DisplayName: "Index Candidate",
		Description: "Indexes the submitted candidate summary for enquiry search",
		Category:    "enquiry",
		Version:     "1.0.0",
		TaskType:    TaskIndexCandidate,
		Status:      "completed",
		InputSchema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"candidateEnquiryNumber", "indentNumber"},
			"properties": map[string]interface{}{
				"candidateEnquiryNumber": map[string]interface{}{"type": "string", "minLength": 1},
				"indentNumber":           map[string]interface{}{"type": "string", "minLength": 1},
				"status":                 map[string]interface{}{"type": "string"},
				"post":                   map[string]interface{}{"type": "string"},
				"photoUrl":               map[string]interface{}{"type": "string"},
				"resumeUrl":              map[string]interface{}{"type": "string"},
				"candidate":              map[string]interface{}{"type": "object"},
			},
		},
		OutputSchema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"indexed", "documentId"},
		},
		ErrorCodes: []string{"INDEXING_FAILED", "VALIDATION_FAILED"},
		Timeout:    "10s",
		Retries:    3,
		Tags:       []string{"elasticsearch"},
	},
	{
		ID:          TaskNotifyOutcome,
		DisplayName: "Notify Submission Outcome",
		Description: "Sends the single success or failure notification for a submission",
		Category:    "communication",
		Version:     "1.0.0",
		TaskType:    TaskNotifyOutcome,
		Status:      "completed",
		InputSchema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"success"},
			"properties": map[string]interface{}{
				"success":                map[string]interface{}{"type": "boolean"},
				"submissionId":           map[string]interface{}{"type": "string"},
				"candidateEnquiryNumber": map[string]interface{}{"type": "string"},
				"indentNumber":           map[string]interface{}{"type": "string"},
				"errorMessage":           map[string]interface{}{"type": "string"},
				"indentError":            map[string]interface{}{"type": "string"},
				"recipientPhone":         map[string]interface{}{"type": "string"},
			},
		},
		OutputSchema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"notificationId", "status"},
		},
		ErrorCodes: []string{"NOTIFICATION_SEND_FAILED", "VALIDATION_FAILED"},
		Timeout:    "30s",
		Retries:    3,
		Tags:       []string{"ses", "sns"},
	},
}

// Default returns the activities this module implements.
func Default() *ActivityRegistry {
	out := make([]Activity, len(activities))
	copy(out, activities)
	return &ActivityRegistry{
		Version:     "1.0.0",
		LastUpdated: "2024-03-01T00:00:00Z",
		Activities:  out,
	}
}

// Find returns the activity registered for taskType.
func (r *ActivityRegistry) Find(taskType string) (*Activity, bool) {
	for i := range r.Activities {
		if r.Activities[i].TaskType == taskType {
			return &r.Activities[i], true
		}
	}
	return nil, false
}

// Validate checks ids are unique and every activity is complete and named domain.action.
func (r *ActivityRegistry) Validate() error {
	if len(r.Activities) == 0 {
		return fmt.Errorf("registry contains no activities")
	}

	ids := make(map[string]bool)
	for _, activity := range r.Activities {
		if activity.ID == "" {
			return fmt.Errorf("activity missing required field: ID")
		}
		if ids[activity.ID] {
			return fmt.Errorf("duplicate activity ID: %s", activity.ID)
		}
		ids[activity.ID] = true

		if activity.DisplayName == "" {
			return fmt.Errorf("activity %s missing required field: DisplayName", activity.ID)
		}
		if activity.TaskType == "" {
			return fmt.Errorf("activity %s missing required field: TaskType", activity.ID)
		}
		if activity.Category == "" {
			return fmt.Errorf("activity %s missing required field: Category", activity.ID)
		}
		if err := validation.ValidateActivityNaming(activity.ID); err != nil {
			return fmt.Errorf("activity %s: %w", activity.ID, err)
		}
		if _, err := activity.JobTimeout(); err != nil {
			return err
		}
	}
	return nil
}

// InputSchemaJSON renders the input schema for gojsonschema.
func (a *Activity) InputSchemaJSON() (string, error) {
	data, err := json.Marshal(a.InputSchema)
	if err != nil {
		return "", fmt.Errorf("marshal input schema for %s: %w", a.ID, err)
	}
	return string(data), nil
}

// ValidateVariables checks raw job variables against the input schema of taskType.
func ValidateVariables(taskType string, variables []byte) (*validation.ValidationResult, error) {
	activity, ok := Default().Find(taskType)
	if !ok {
		return nil, fmt.Errorf("unknown task type %s", taskType)
	}
	schema, err := activity.InputSchemaJSON()
	if err != nil {
		return nil, err
	}
	return validation.ValidateJSON(variables, schema)
}

// Save writes the registry as indented JSON, creating the directory if needed.
func (r *ActivityRegistry) Save(path string) error {
	r.LastUpdated = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	return nil
}
