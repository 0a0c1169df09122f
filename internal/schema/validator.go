// Package schema validates pipeline events before publication.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"voice-form-service/internal/models"
)

var (
	// ErrInvalidIntent indicates an intent outside the known set.
	ErrInvalidIntent = errors.New("invalid intent")
	// ErrInvalidField indicates an unknown or malformed detected field.
	ErrInvalidField = errors.New("invalid field")
	// ErrDuplicateField indicates more than one entry for a field kind.
	ErrDuplicateField = errors.New("duplicate field")
	// ErrInvalidConfidence indicates a confidence outside [0, 1].
	ErrInvalidConfidence = errors.New("confidence out of range")
)

// Validator checks pipeline events against their invariants.
type Validator struct{}

// New creates a validator.
func New() *Validator {
	return &Validator{}
}

// ValidateUnderstanding enforces the Understanding contract: a known
// intent, at most one detected field per kind, every kind from the
// closed set, non-blank values, and confidences in [0, 1].
func (v *Validator) ValidateUnderstanding(u models.Understanding) error {
	if !u.Intent.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidIntent, u.Intent)
	}

	seen := make(map[models.FieldKind]bool, len(u.DetectedFields))
	for _, f := range u.DetectedFields {
		if !f.Field.Valid() {
			return fmt.Errorf("%w: unknown kind %q", ErrInvalidField, f.Field)
		}
		if seen[f.Field] {
			return fmt.Errorf("%w: %q", ErrDuplicateField, f.Field)
		}
		seen[f.Field] = true
		if strings.TrimSpace(f.Value) == "" {
			return fmt.Errorf("%w: blank value for %q", ErrInvalidField, f.Field)
		}
		if f.Confidence < 0 || f.Confidence > 1 {
			return fmt.Errorf("%w: %q has %v", ErrInvalidConfidence, f.Field, f.Confidence)
		}
	}
	return nil
}

// ValidateRecord enforces the submission record contract: values must
// be trimmed.
func (v *Validator) ValidateRecord(r models.ContactRecord) error {
	for name, value := range map[string]string{
		"name":    r.Name,
		"email":   r.Email,
		"phone":   r.Phone,
		"address": r.Address,
	} {
		if value != strings.TrimSpace(value) {
			return fmt.Errorf("%w: %q is not trimmed", ErrInvalidField, name)
		}
	}
	return nil
}
