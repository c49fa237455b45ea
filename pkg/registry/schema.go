// pkg/registry/schema.go
package registry

import (
	"fmt"
	"time"
)

// Schema is a JSON Schema document held in decoded form so it can be
// exported as-is and handed to gojsonschema.
type Schema = map[string]interface{}

// ActivityRegistry is the catalogue of job types the worker host serves.
type ActivityRegistry struct {
	Version     string     `json:"version"`
	LastUpdated string     `json:"lastUpdated"`
	Activities  []Activity `json:"activities"`
}

// Activity describes one job type: the variables it accepts, what it
// returns and the error codes its handler raises.
type Activity struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"displayName"`
	Description  string   `json:"description,omitempty"`
	Category     string   `json:"category"`
	Version      string   `json:"version"`
	TaskType     string   `json:"taskType"`
	Status       string   `json:"implementationStatus"`
	InputSchema  Schema   `json:"inputSchema"`
	OutputSchema Schema   `json:"outputSchema,omitempty"`
	ErrorCodes   []string `json:"errorCodes,omitempty"`
	Timeout      string   `json:"timeout,omitempty"`
	Retries      int      `json:"retries"`
	Tags         []string `json:"tags,omitempty"`
}

// JobTimeout parses Timeout. Zero means the worker's configured timeout applies.
func (a *Activity) JobTimeout() (time.Duration, error) {
	if a.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(a.Timeout)
	if err != nil {
		return 0, fmt.Errorf("activity %s timeout: %w", a.ID, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("activity %s timeout must be positive", a.ID)
	}
	return d, nil
}
