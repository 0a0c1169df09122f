package understand

import (
	"context"
	"errors"
	"testing"
	"time"

	"voice-form-service/internal/models"
	"voice-form-service/internal/ratelimit"
)

// fakeAnalyzer implements Analyzer with scripted responses.
type fakeAnalyzer struct {
	analysis *Analysis
	err      error
	probeErr error
	calls    int
}

func (f *fakeAnalyzer) AnalyzeFields(ctx context.Context, text string) (*Analysis, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.analysis, nil
}

func (f *fakeAnalyzer) Probe(ctx context.Context) error {
	return f.probeErr
}

func newTestService(analyzer Analyzer, aiEnabled bool) *Service {
	return New(Config{
		Analyzer:  analyzer,
		Limiter:   ratelimit.New(),
		AIEnabled: aiEnabled,
	})
}

func TestUnderstand_AIDisabled_CompoundUtterance(t *testing.T) {
	s := newTestService(nil, false)

	u := s.Understand(context.Background(), "my name is Bob and my email is bob@x.com")

	if u.Intent != models.IntentProvideInfo {
		t.Errorf("expected provide_info, got %s", u.Intent)
	}
	if len(u.DetectedFields) != 2 {
		t.Fatalf("expected 2 fields, got %+v", u.DetectedFields)
	}
	name, ok := u.Field(models.FieldName)
	if !ok || name.Value != "Bob" || name.Confidence != 0.8 {
		t.Errorf("unexpected name field: %+v", name)
	}
	email, ok := u.Field(models.FieldEmail)
	if !ok || email.Value != "bob@x.com" || email.Confidence != 0.9 {
		t.Errorf("unexpected email field: %+v", email)
	}
}

func TestUnderstand_SubmitShortCircuits(t *testing.T) {
	// The analyzer would blow up if called; submit must never reach it.
	analyzer := &fakeAnalyzer{err: errors.New("must not be called")}
	s := newTestService(analyzer, true)

	u := s.Understand(context.Background(), "submit")

	if u.Intent != models.IntentSubmit {
		t.Errorf("expected submit, got %s", u.Intent)
	}
	if len(u.DetectedFields) != 0 {
		t.Errorf("expected no fields, got %+v", u.DetectedFields)
	}
	if analyzer.calls != 0 {
		t.Errorf("expected no remote calls, got %d", analyzer.calls)
	}
}

func TestUnderstand_ClearShortCircuits(t *testing.T) {
	analyzer := &fakeAnalyzer{err: errors.New("must not be called")}
	s := newTestService(analyzer, true)

	u := s.Understand(context.Background(), "clear the form")

	if u.Intent != models.IntentClear {
		t.Errorf("expected clear, got %s", u.Intent)
	}
	if analyzer.calls != 0 {
		t.Errorf("expected no remote calls, got %d", analyzer.calls)
	}
}

func TestUnderstand_EmptyTextIsUnknown(t *testing.T) {
	s := newTestService(nil, false)

	for _, in := range []string{"", "   ", "\t\n"} {
		u := s.Understand(context.Background(), in)
		if u.Intent != models.IntentUnknown {
			t.Errorf("Understand(%q): expected unknown, got %s", in, u.Intent)
		}
		if len(u.DetectedFields) != 0 {
			t.Errorf("Understand(%q): expected no fields", in)
		}
	}
}

func TestUnderstand_RemoteSuccess(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: &Analysis{
		Fields: map[string]FieldGuess{
			"name":  {Value: "  Jane Doe  ", Confidence: 0.95},
			"email": {Value: "jane@example.com", Confidence: 1.7}, // clamped
			"fax":   {Value: "ignored", Confidence: 0.5},          // unknown kind dropped
		},
	}}
	s := newTestService(analyzer, true)

	u := s.Understand(context.Background(), "I'm Jane Doe, jane@example.com")

	if u.Intent != models.IntentProvideInfo {
		t.Errorf("expected provide_info, got %s", u.Intent)
	}
	if len(u.DetectedFields) != 2 {
		t.Fatalf("expected 2 fields, got %+v", u.DetectedFields)
	}
	name, _ := u.Field(models.FieldName)
	if name.Value != "Jane Doe" {
		t.Errorf("expected trimmed name, got %q", name.Value)
	}
	email, _ := u.Field(models.FieldEmail)
	if email.Confidence != 1.0 {
		t.Errorf("expected confidence clamped to 1.0, got %v", email.Confidence)
	}
	if s.Limiter().Snapshot().ConsecutiveErrors != 0 {
		t.Error("success should not record errors")
	}
}

func TestUnderstand_RemoteSubmitSignal(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: &Analysis{
		Fields: map[string]FieldGuess{},
		Submit: &FieldGuess{Value: "true", Confidence: 0.9},
	}}
	s := newTestService(analyzer, true)

	u := s.Understand(context.Background(), "that would be all")

	if u.Intent != models.IntentSubmit {
		t.Errorf("expected submit from remote signal, got %s", u.Intent)
	}
}

func TestUnderstand_RateLimited429_FallsBackAndBacksOff(t *testing.T) {
	analyzer := &fakeAnalyzer{err: ErrRateLimited}
	s := newTestService(analyzer, true)

	// Three consecutive 429s.
	for i := 0; i < 3; i++ {
		u := s.Understand(context.Background(), "my name is Bob")
		if u.Intent != models.IntentProvideInfo {
			t.Errorf("call %d: expected fallback provide_info, got %s", i, u.Intent)
		}
		// Cooldown blocks the next remote attempt, so only the first
		// utterance reaches the analyzer... unless the tiny floor
		// window elapsed between iterations, which a 1s floor makes
		// impossible inside this test.
	}

	if !s.Limiter().IsRateLimited() {
		t.Error("expected rate limited after 429")
	}
	if analyzer.calls != 1 {
		t.Errorf("expected exactly 1 remote call while in cooldown, got %d", analyzer.calls)
	}

	// The next utterance resolves by fallback without a remote call.
	u := s.Understand(context.Background(), "my email is bob@x.com")
	if u.Intent != models.IntentProvideInfo {
		t.Errorf("expected fallback provide_info, got %s", u.Intent)
	}
	if analyzer.calls != 1 {
		t.Errorf("expected no further remote calls, got %d", analyzer.calls)
	}
}

func TestUnderstand_TransportError_NoRateLimitChange(t *testing.T) {
	analyzer := &fakeAnalyzer{err: errors.New("connection refused")}
	s := newTestService(analyzer, true)

	u := s.Understand(context.Background(), "my name is Bob")

	if u.Intent != models.IntentProvideInfo {
		t.Errorf("expected fallback provide_info, got %s", u.Intent)
	}
	if s.Limiter().IsRateLimited() {
		t.Error("transport error must not enter cooldown")
	}
	if s.Limiter().Snapshot().ConsecutiveErrors != 0 {
		t.Error("transport error must not count as a rate-limit failure")
	}
}

func TestUnderstand_UnparseableCountsAsSuccess(t *testing.T) {
	analyzer := &fakeAnalyzer{err: ErrUnparseable}
	s := newTestService(analyzer, true)

	// Seed an error streak, then show an unparseable-but-successful
	// response resets it.
	s.Limiter().RecordFailure()
	u := s.Understand(context.Background(), "call me Alice")

	if u.Intent != models.IntentProvideInfo {
		t.Errorf("expected fallback provide_info, got %s", u.Intent)
	}
	snap := s.Limiter().Snapshot()
	if snap.ConsecutiveErrors != 0 {
		t.Errorf("expected error streak reset, got %d", snap.ConsecutiveErrors)
	}
	if snap.Backoff != ratelimit.FloorBackoff {
		t.Errorf("expected floor backoff, got %v", snap.Backoff)
	}
}

func TestUnderstand_NoDetections_IsUnknown(t *testing.T) {
	s := newTestService(nil, false)

	u := s.Understand(context.Background(), "what a lovely day")

	if u.Intent != models.IntentUnknown {
		t.Errorf("expected unknown, got %s", u.Intent)
	}
}

func TestAvailable_ProbeDoesNotResetBackoff(t *testing.T) {
	analyzer := &fakeAnalyzer{probeErr: errors.New("timeout")}
	s := New(Config{
		Analyzer:     analyzer,
		Limiter:      ratelimit.New(),
		AIEnabled:    true,
		ProbeTimeout: 100 * time.Millisecond,
	})

	s.Limiter().RecordFailure()
	backoffBefore := s.Limiter().Snapshot().Backoff

	// While in cooldown the probe short-circuits to unavailable.
	if s.Available(context.Background()) {
		t.Error("expected unavailable while rate limited")
	}
	if s.Limiter().Snapshot().Backoff != backoffBefore {
		t.Error("probe must not change backoff")
	}
}

func TestAvailable_Probe429RecordsFailure(t *testing.T) {
	analyzer := &fakeAnalyzer{probeErr: ErrRateLimited}
	s := newTestService(analyzer, true)

	if s.Available(context.Background()) {
		t.Error("expected unavailable on 429")
	}
	if !s.Limiter().IsRateLimited() {
		t.Error("probe 429 must enter cooldown")
	}
}

func TestAvailable_DisabledAI(t *testing.T) {
	s := newTestService(nil, false)

	if s.Available(context.Background()) {
		t.Error("expected unavailable when AI is disabled")
	}
}

func TestRateLimited_ReportsCooldown(t *testing.T) {
	s := newTestService(&fakeAnalyzer{}, true)

	if s.RateLimited() {
		t.Error("expected no cooldown initially")
	}
	s.Limiter().RecordFailure()
	if !s.RateLimited() {
		t.Error("expected cooldown reported")
	}
}
