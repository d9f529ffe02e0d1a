package agent

import (
	"fmt"
)

// Input bounds. Oversized submissions are rejected up front so a
// single request cannot blow the per-session memory budget.
const (
	maxDescriptionBytes = 50 * 1024
	maxContextFiles     = 50
	maxContextBytes     = 10 * 1024 * 1024
)

func validateRequest(req Request) error {
	if req.ErrorDescription == "" {
		return fmt.Errorf("error_description is required")
	}
	if len(req.ErrorDescription) > maxDescriptionBytes {
		return fmt.Errorf("error_description exceeds %d bytes", maxDescriptionBytes)
	}

	files, ok := req.Context["files"].([]any)
	if !ok {
		return nil
	}
	if len(files) > maxContextFiles {
		return fmt.Errorf("context exceeds %d files", maxContextFiles)
	}
	total := 0
	for _, f := range files {
		entry, ok := f.(map[string]any)
		if !ok {
			continue
		}
		if content, ok := entry["content"].(string); ok {
			total += len(content)
		}
	}
	if total > maxContextBytes {
		return fmt.Errorf("context content exceeds %d bytes", maxContextBytes)
	}
	return nil
}
