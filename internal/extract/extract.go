// Package extract provides deterministic field and intent extraction
// from utterance text. All functions are pure and total: they never
// fail, and return the trimmed input unmodified when no pattern or
// prefix applies.
//
// It serves two roles: post-processing for generative backend output,
// and the offline fallback when the backend is disabled, rate limited,
// or unreachable.
package extract

import (
	"regexp"
	"strings"

	"voice-form-service/internal/models"
)

// Fixed fallback confidences per field kind.
const (
	NameConfidence    = 0.8
	EmailConfidence   = 0.9
	PhoneConfidence   = 0.9
	AddressConfidence = 0.7
	SubmitConfidence  = 0.9
)

// Conversational prefixes, first-match-wins. Longer variants come
// before their substrings so "i am called" wins over "i am".
var (
	namePrefixes = []string{
		"my name is",
		"i'm called",
		"i am called",
		"call me",
		"this is",
		"i'm",
		"i am",
		"name is",
	}
	emailPrefixes = []string{
		"my email is",
		"my email address is",
		"email is",
		"you can email me at",
		"my email's",
	}
	phonePrefixes = []string{
		"my phone number is",
		"my number is",
		"phone number is",
		"you can call me at",
		"my phone is",
	}
	addressPrefixes = []string{
		"my address is",
		"i live at",
		"i live in",
		"address is",
	}

	// Leading greeting filler like "hi," or "hello there,".
	greetingRe = regexp.MustCompile(`(?i)^(?:hi|hello|hey)(?:\s+there)?[,.!]?\s+`)

	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	// Phone shapes: 555-123-4567, (555) 123-4567, 5551234567.
	phoneRes = []*regexp.Regexp{
		regexp.MustCompile(`\(\d{3}\)\s?\d{3}[-.\s]?\d{4}`),
		regexp.MustCompile(`\d{3}[-.]\d{3}[-.]\d{4}`),
		regexp.MustCompile(`\d{10}`),
	}
	phoneCharRe = regexp.MustCompile(`[^\d\s\-+().]`)

	submitRe = regexp.MustCompile(`(?i)\b(submit|send|done|finish|complete)\b`)
	clearRe  = regexp.MustCompile(`(?i)\b(clear|reset)\b`)

	// Lightweight capture patterns for the no-AI path. The value stops
	// at a conjunction or clause boundary so compound utterances like
	// "my name is Bob and my email is ..." split cleanly.
	nameCaptureRe    = regexp.MustCompile(`(?i)(?:my name is|i'?m called|i am called|call me|this is)\s+(.+?)(?:\s+and\b|[,.]|$)`)
	addressCaptureRe = regexp.MustCompile(`(?i)(?:my address is|i live at|i live in)\s+(.+?)(?:\s+and\s+my\b|$)`)
)

// stripPrefix removes the first matching conversational prefix
// (case-insensitive, whole leading phrase) and any greeting filler
// before it. Casing of the remainder is preserved.
func stripPrefix(text string, prefixes []string) string {
	trimmed := strings.TrimSpace(text)
	trimmed = greetingRe.ReplaceAllString(trimmed, "")

	lower := strings.ToLower(trimmed)
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			rest := trimmed[len(p):]
			return strings.TrimSpace(strings.TrimLeft(rest, " \t:,"))
		}
	}
	return trimmed
}

// Name strips leading conversational prefixes and trims whitespace.
// Internal casing is untouched.
func Name(text string) string {
	return stripPrefix(text, namePrefixes)
}

// Email returns an email-shaped token verbatim if one is present,
// otherwise the prefix-stripped remainder.
func Email(text string) string {
	if m := emailRe.FindString(text); m != "" {
		return m
	}
	return stripPrefix(text, emailPrefixes)
}

// Phone returns a recognizable phone token if one is present,
// otherwise strips prefixes and removes every character that is not a
// digit, whitespace, or one of -+().
func Phone(text string) string {
	for _, re := range phoneRes {
		if m := re.FindString(text); m != "" {
			return m
		}
	}
	rest := stripPrefix(text, phonePrefixes)
	return strings.TrimSpace(phoneCharRe.ReplaceAllString(rest, ""))
}

// Address strips leading address prefixes and trims whitespace.
func Address(text string) string {
	return stripPrefix(text, addressPrefixes)
}

// Value dispatches to the per-kind extractor.
func Value(kind models.FieldKind, text string) string {
	switch kind {
	case models.FieldName:
		return Name(text)
	case models.FieldEmail:
		return Email(text)
	case models.FieldPhone:
		return Phone(text)
	case models.FieldAddress:
		return Address(text)
	default:
		return strings.TrimSpace(text)
	}
}

// SubmitIntent reports whether the text contains submit, send, done,
// finish, or complete as a whole word, case-insensitively.
func SubmitIntent(text string) bool {
	return submitRe.MatchString(text)
}

// ClearIntent reports whether the text contains clear or reset as a
// whole word, case-insensitively.
func ClearIntent(text string) bool {
	return clearRe.MatchString(text)
}

// AllFields applies a lightweight pattern per field kind and returns
// the detections with their fixed confidences, in detection order
// (name, email, phone, address). Fields that do not match are absent.
func AllFields(text string) []models.DetectedField {
	var fields []models.DetectedField

	if m := nameCaptureRe.FindStringSubmatch(text); m != nil {
		if v := strings.TrimSpace(m[1]); v != "" {
			fields = append(fields, models.DetectedField{
				Field: models.FieldName, Value: v, Confidence: NameConfidence,
			})
		}
	}
	if m := emailRe.FindString(text); m != "" {
		fields = append(fields, models.DetectedField{
			Field: models.FieldEmail, Value: m, Confidence: EmailConfidence,
		})
	}
	for _, re := range phoneRes {
		if m := re.FindString(text); m != "" {
			fields = append(fields, models.DetectedField{
				Field: models.FieldPhone, Value: m, Confidence: PhoneConfidence,
			})
			break
		}
	}
	if m := addressCaptureRe.FindStringSubmatch(text); m != nil {
		if v := strings.TrimSpace(m[1]); v != "" {
			fields = append(fields, models.DetectedField{
				Field: models.FieldAddress, Value: v, Confidence: AddressConfidence,
			})
		}
	}

	return fields
}
