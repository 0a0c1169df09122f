// Package understand turns a final utterance into exactly one
// Understanding. It prefers the generative backend for field quality
// and degrades deterministically: local regex extraction covers every
// failure mode, and submit/clear intents never depend on the backend
// at all.
package understand

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"voice-form-service/internal/extract"
	"voice-form-service/internal/models"
	"voice-form-service/internal/observability/logging"
	"voice-form-service/internal/observability/metrics"
	"voice-form-service/internal/ratelimit"
)

// Sentinel errors an Analyzer implementation reports back.
var (
	// ErrRateLimited marks an HTTP 429 from the backend. The only
	// failure that feeds the backoff controller.
	ErrRateLimited = errors.New("backend rate limited")
	// ErrUnparseable marks a successful backend response whose payload
	// did not follow the field schema. The attempt still counts as a
	// success for rate-limit purposes.
	ErrUnparseable = errors.New("backend response unparseable")
)

// FieldGuess is one backend detection before normalization.
type FieldGuess struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Analysis is the parsed backend response: detected fields keyed by
// name, plus an optional submit signal. Missing keys mean "not
// detected", not an error.
type Analysis struct {
	Fields map[string]FieldGuess
	Submit *FieldGuess
}

// Analyzer is the capability interface for the generative backend.
type Analyzer interface {
	// AnalyzeFields classifies utterance text into form fields.
	AnalyzeFields(ctx context.Context, text string) (*Analysis, error)

	// Probe performs a lightweight availability check.
	Probe(ctx context.Context) error
}

const (
	// DefaultAnalyzeTimeout bounds a field/intent analysis call.
	DefaultAnalyzeTimeout = 5 * time.Second
	// DefaultProbeTimeout bounds the availability probe.
	DefaultProbeTimeout = 3 * time.Second
)

// Service orchestrates the per-utterance pipeline:
// local intent check, optional remote attempt gated by the rate-limit
// controller, then deterministic fallback.
type Service struct {
	analyzer  Analyzer // nil when AI processing is disabled
	limiter   *ratelimit.Controller
	aiEnabled bool

	analyzeTimeout time.Duration
	probeTimeout   time.Duration

	metrics *metrics.Metrics
	log     zerolog.Logger
}

// Config holds service construction parameters.
type Config struct {
	Analyzer       Analyzer
	Limiter        *ratelimit.Controller
	AIEnabled      bool
	AnalyzeTimeout time.Duration
	ProbeTimeout   time.Duration
	Metrics        *metrics.Metrics
}

// New constructs an understanding service. A nil analyzer or disabled
// AI flag yields a purely deterministic service.
func New(cfg Config) *Service {
	s := &Service{
		analyzer:       cfg.Analyzer,
		limiter:        cfg.Limiter,
		aiEnabled:      cfg.AIEnabled && cfg.Analyzer != nil,
		analyzeTimeout: cfg.AnalyzeTimeout,
		probeTimeout:   cfg.ProbeTimeout,
		metrics:        cfg.Metrics,
		log:            logging.WithComponent("understand"),
	}
	if s.limiter == nil {
		s.limiter = ratelimit.New()
	}
	if s.analyzeTimeout <= 0 {
		s.analyzeTimeout = DefaultAnalyzeTimeout
	}
	if s.probeTimeout <= 0 {
		s.probeTimeout = DefaultProbeTimeout
	}
	if s.metrics == nil {
		s.metrics = metrics.DefaultMetrics
	}
	return s
}

// Limiter exposes the rate-limit controller for observability.
func (s *Service) Limiter() *ratelimit.Controller {
	return s.limiter
}

// Understand produces exactly one Understanding for the utterance
// text. It never fails: every backend problem is converted into the
// deterministic fallback.
func (s *Service) Understand(ctx context.Context, text string) models.Understanding {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return models.Understanding{Intent: models.IntentUnknown, OriginalText: text}
	}

	// Local intent check runs unconditionally: submit and clear must
	// stay usable when the backend and the AI toggle are both gone.
	if extract.SubmitIntent(trimmed) {
		s.record(models.IntentSubmit, false)
		return models.Understanding{Intent: models.IntentSubmit, OriginalText: trimmed}
	}
	if extract.ClearIntent(trimmed) {
		s.record(models.IntentClear, false)
		return models.Understanding{Intent: models.IntentClear, OriginalText: trimmed}
	}

	if s.aiEnabled && !s.limiter.IsRateLimited() {
		if u, ok := s.tryRemote(ctx, trimmed); ok {
			s.record(u.Intent, false)
			return u
		}
	}

	u := s.fallback(trimmed)
	s.record(u.Intent, true)
	return u
}

// tryRemote attempts one backend call. The second return value is
// false whenever the caller should fall back.
func (s *Service) tryRemote(ctx context.Context, text string) (models.Understanding, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.analyzeTimeout)
	defer cancel()

	s.metrics.RecordRemoteAttempt()
	analysis, err := s.analyzer.AnalyzeFields(ctx, text)

	switch {
	case err == nil:
		s.limiter.RecordSuccess()
	case errors.Is(err, ErrRateLimited):
		// The only failure that grows backoff.
		s.limiter.RecordFailure()
		s.metrics.RecordRemoteFailure("rate_limited")
		s.metrics.RecordBackoff(s.limiter.Snapshot().Backoff)
		s.log.Warn().Err(err).Msg("Backend rate limited, entering cooldown")
		return models.Understanding{}, false
	case errors.Is(err, ErrUnparseable):
		// The backend answered; only its payload was unusable.
		s.limiter.RecordSuccess()
		s.metrics.RecordRemoteFailure("unparseable")
		s.log.Debug().Err(err).Msg("Backend payload unparseable, falling back")
		return models.Understanding{}, false
	default:
		// Transport error or timeout: a network hiccup is not evidence
		// of server-side throttling, so rate-limit state is untouched.
		s.metrics.RecordRemoteFailure("transport")
		s.log.Debug().Err(err).Msg("Backend unreachable, falling back")
		return models.Understanding{}, false
	}

	if analysis == nil {
		return models.Understanding{}, false
	}

	u := s.resolve(text, analysis)
	if u.Intent == models.IntentUnknown {
		// Nothing detected remotely; let the fallback try.
		return models.Understanding{}, false
	}
	return u, true
}

// resolve normalizes a parsed backend analysis into an Understanding:
// values trimmed, confidences clamped to [0, 1], at most one entry per
// field kind, unknown field names dropped.
func (s *Service) resolve(text string, analysis *Analysis) models.Understanding {
	var fields []models.DetectedField
	seen := map[models.FieldKind]bool{}

	for _, kind := range models.FieldKinds {
		guess, ok := analysis.Fields[string(kind)]
		if !ok || seen[kind] {
			continue
		}
		value := strings.TrimSpace(guess.Value)
		if value == "" {
			continue
		}
		fields = append(fields, models.DetectedField{
			Field:      kind,
			Value:      extract.Value(kind, value),
			Confidence: clamp01(guess.Confidence),
		})
		seen[kind] = true
	}

	intent := models.IntentUnknown
	switch {
	case analysis.Submit != nil:
		intent = models.IntentSubmit
	case len(fields) > 0:
		intent = models.IntentProvideInfo
	}

	return models.Understanding{
		Intent:         intent,
		DetectedFields: fields,
		OriginalText:   text,
	}
}

// fallback is the deterministic no-AI path.
func (s *Service) fallback(text string) models.Understanding {
	fields := extract.AllFields(text)

	intent := models.IntentUnknown
	switch {
	case extract.SubmitIntent(text):
		intent = models.IntentSubmit
	case len(fields) > 0:
		intent = models.IntentProvideInfo
	}

	return models.Understanding{
		Intent:         intent,
		DetectedFields: fields,
		OriginalText:   text,
	}
}

// Available reports backend availability for the UI. Only a 429
// mutates rate-limit state; probe success and probe transport errors
// leave the controller untouched so polling cannot reset a live
// backoff window.
func (s *Service) Available(ctx context.Context) bool {
	if !s.aiEnabled {
		return false
	}
	if s.limiter.IsRateLimited() {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	err := s.analyzer.Probe(ctx)
	if err == nil {
		return true
	}
	if errors.Is(err, ErrRateLimited) {
		s.limiter.RecordFailure()
		s.metrics.RecordRemoteFailure("rate_limited")
	}
	return false
}

// RateLimited reports whether the backend is currently in cooldown,
// for the soft UI notice.
func (s *Service) RateLimited() bool {
	return s.limiter.IsRateLimited()
}

func (s *Service) record(intent models.Intent, fellBack bool) {
	s.metrics.RecordUnderstanding(string(intent))
	if fellBack {
		s.metrics.RecordFallback()
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
