package blueprint

import (
	"fmt"
	"os"
	"path/filepath"
)

// ValidationResult carries errors and warnings from candidate validation.
// Promotion fails only on errors.
type ValidationResult struct {
	Passed   bool     `json:"passed"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ValidateCandidate loads the candidate blueprint for id and checks it
// against the promotion gate rules.
func (r *Registry) ValidateCandidate(id string) (*ValidationResult, error) {
	bp, err := r.Load(id, true)
	if err != nil {
		return nil, err
	}
	result := r.validate(bp, id)
	return result, nil
}

func (r *Registry) validate(bp *Blueprint, filenameID string) *ValidationResult {
	result := &ValidationResult{}

	if bp.ID != filenameID {
		result.Errors = append(result.Errors,
			fmt.Sprintf("blueprint id %q does not match filename %q", bp.ID, filenameID))
	}

	for _, sf := range bp.SourceFiles {
		path := sf.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(r.sourceRoot, path)
		}
		if _, err := os.Stat(path); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("declared source file %q does not exist", sf.Path))
		}
	}

	if len(bp.Interfaces) == 0 {
		result.Warnings = append(result.Warnings, "blueprint declares no interfaces")
	}
	if bp.Intent.Purpose == "" {
		result.Warnings = append(result.Warnings, "blueprint declares no intent")
	}
	for section, level := range bp.Meta.Confidence {
		if level == ConfidenceLow {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("confidence for section %q is low", section))
		}
	}

	result.Passed = len(result.Errors) == 0
	return result
}
