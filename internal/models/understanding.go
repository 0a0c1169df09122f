// Package models defines the data structures for the voice understanding pipeline.
package models

import "strings"

// Utterance represents one bounded span of recognized speech.
// Interim utterances are transient and overwritten; final utterances
// are immutable once emitted.
type Utterance struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// FieldKind identifies one of the contact form inputs. The set is
// closed; the form has exactly one input per kind.
type FieldKind string

const (
	FieldName    FieldKind = "name"
	FieldEmail   FieldKind = "email"
	FieldPhone   FieldKind = "phone"
	FieldAddress FieldKind = "address"
)

// FieldKinds lists every known kind in canonical order.
var FieldKinds = []FieldKind{FieldName, FieldEmail, FieldPhone, FieldAddress}

// Valid returns true if the kind is one of the closed set.
func (k FieldKind) Valid() bool {
	switch k {
	case FieldName, FieldEmail, FieldPhone, FieldAddress:
		return true
	default:
		return false
	}
}

// Intent is the user's high-level goal for an utterance.
type Intent string

const (
	IntentProvideInfo Intent = "provide_info"
	IntentSubmit      Intent = "submit"
	IntentClear       Intent = "clear"
	IntentUnknown     Intent = "unknown"
)

// Valid returns true if the intent is one of the known values.
func (i Intent) Valid() bool {
	switch i {
	case IntentProvideInfo, IntentSubmit, IntentClear, IntentUnknown:
		return true
	default:
		return false
	}
}

// DetectedField is a (field, value, confidence) triple extracted from
// an utterance. Confidence is in [0, 1].
type DetectedField struct {
	Field      FieldKind `json:"field"`
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
}

// Understanding is the sole output contract of the pipeline: one
// immutable value per final utterance. DetectedFields holds at most
// one entry per FieldKind, in order of detection.
type Understanding struct {
	Intent         Intent          `json:"intent"`
	DetectedFields []DetectedField `json:"detectedFields"`
	OriginalText   string          `json:"originalText"`
}

// Field returns the detected value for the given kind, if present.
func (u Understanding) Field(kind FieldKind) (DetectedField, bool) {
	for _, f := range u.DetectedFields {
		if f.Field == kind {
			return f, true
		}
	}
	return DetectedField{}, false
}

// ContactRecord is the flat record handed to the storage collaborator
// on submit. All values are trimmed; no field is required.
type ContactRecord struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// Empty returns true if every field of the record is blank.
func (r ContactRecord) Empty() bool {
	return strings.TrimSpace(r.Name) == "" &&
		strings.TrimSpace(r.Email) == "" &&
		strings.TrimSpace(r.Phone) == "" &&
		strings.TrimSpace(r.Address) == ""
}
