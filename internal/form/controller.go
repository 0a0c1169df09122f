// Package form tracks the state of the contact form driven by voice
// understanding results. The tracked state is the single source of
// truth for submission.
package form

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"voice-form-service/internal/models"
	"voice-form-service/internal/observability/metrics"
)

// Result describes what one Understanding did to the form.
type Result struct {
	Applied   []models.FieldKind `json:"applied,omitempty"`
	Focus     models.FieldKind   `json:"focus,omitempty"`
	Cleared   bool               `json:"cleared"`
	Submitted bool               `json:"submitted"`

	// Record is set only when Submitted is true.
	Record *models.ContactRecord `json:"record,omitempty"`
}

// Controller holds the tracked form values and applies Understanding
// results to them. Safe for concurrent use.
type Controller struct {
	mu      sync.Mutex
	values  map[models.FieldKind]string
	focus   models.FieldKind
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// New creates an empty form controller.
func New(log zerolog.Logger, m *metrics.Metrics) *Controller {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Controller{
		values:  make(map[models.FieldKind]string),
		log:     log,
		metrics: m,
	}
}

// Apply mutates the form according to one Understanding. Detected
// fields are written first so that an utterance like "my email is
// x@y.com, submit" lands the value before the record is built.
func (c *Controller) Apply(u models.Understanding) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res Result

	if u.Intent == models.IntentClear {
		c.clearLocked()
		res.Cleared = true
		c.metrics.RecordClear()
		c.log.Info().Str("intent", string(u.Intent)).Msg("form cleared")
		return res
	}

	res.Applied, res.Focus = c.applyFieldsLocked(u.DetectedFields)

	if u.Intent == models.IntentSubmit {
		rec := c.recordLocked()
		c.clearLocked()
		res.Submitted = true
		res.Record = &rec
		c.metrics.RecordSubmission()
		c.log.Info().Str("intent", string(u.Intent)).Msg("form submitted")
	}
	return res
}

// applyFieldsLocked writes detected values and picks the field to
// focus: highest confidence wins, first detected wins an exact tie.
func (c *Controller) applyFieldsLocked(fields []models.DetectedField) ([]models.FieldKind, models.FieldKind) {
	var applied []models.FieldKind
	var focus models.FieldKind
	best := -1.0

	for _, f := range fields {
		if !f.Field.Valid() || strings.TrimSpace(f.Value) == "" {
			continue
		}
		c.values[f.Field] = strings.TrimSpace(f.Value)
		applied = append(applied, f.Field)
		c.metrics.RecordFieldApplied(string(f.Field))
		if f.Confidence > best {
			best = f.Confidence
			focus = f.Field
		}
	}
	if focus != "" {
		c.focus = focus
	}
	return applied, focus
}

// Snapshot returns the current form values and focus.
func (c *Controller) Snapshot() (map[models.FieldKind]string, models.FieldKind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[models.FieldKind]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out, c.focus
}

// Record builds the flat submission record from the tracked values
// without mutating the form.
func (c *Controller) Record() models.ContactRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordLocked()
}

// Clear empties the form.
func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
	c.metrics.RecordClear()
}

func (c *Controller) recordLocked() models.ContactRecord {
	return models.ContactRecord{
		Name:    strings.TrimSpace(c.values[models.FieldName]),
		Email:   strings.TrimSpace(c.values[models.FieldEmail]),
		Phone:   strings.TrimSpace(c.values[models.FieldPhone]),
		Address: strings.TrimSpace(c.values[models.FieldAddress]),
	}
}

func (c *Controller) clearLocked() {
	c.values = make(map[models.FieldKind]string)
	c.focus = ""
}
