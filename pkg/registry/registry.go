// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LoadRegistry reads a registry file written by Save.
func LoadRegistry(path string) (*ActivityRegistry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	defer f.Close()
	return DecodeRegistry(f)
}

// DecodeRegistry rejects unknown fields, so a misspelt key in a hand-edited
// file fails instead of silently dropping the value.
func DecodeRegistry(r io.Reader) (*ActivityRegistry, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var reg ActivityRegistry
	if err := dec.Decode(&reg); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	return &reg, nil
}

// Missing returns the task types this build serves that r does not list.
func (r *ActivityRegistry) Missing() []string {
	var out []string
	for _, a := range activities {
		if _, ok := r.Find(a.TaskType); !ok {
			out = append(out, a.TaskType)
		}
	}
	return out
}
