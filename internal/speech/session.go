package speech

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voice-form-service/internal/models"
	"voice-form-service/internal/observability/logging"
	"voice-form-service/internal/observability/metrics"
)

// State is the session's lifecycle state.
type State int

const (
	// StateIdle - no recognition stream is active.
	StateIdle State = iota
	// StateListening - the device is streaming results.
	StateListening
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Understander classifies one final utterance.
type Understander interface {
	Understand(ctx context.Context, text string) models.Understanding
}

// DefaultRestartDelay absorbs platform-level auto-stop before the
// stream is reacquired.
const DefaultRestartDelay = 100 * time.Millisecond

const queueCapacity = 64

// Config holds session construction parameters.
type Config struct {
	Recognizer   Recognizer
	Understander Understander

	// Sink receives every non-stale Understanding, in utterance order.
	Sink func(models.Understanding)
	// OnError receives surfaced device errors (terminal and
	// recoverable alike, minus suppressed aborts).
	OnError func(err error)

	RestartDelay time.Duration
	// WakeWord is stripped from the start of final utterances.
	WakeWord string

	Metrics *metrics.Metrics
}

// Session is the continuous speech-capture state machine.
//
//	IDLE → LISTENING → (IDLE | LISTENING)
//
// Unsolicited stream termination while the session still intends to
// listen triggers an automatic restart after a short delay. Explicit
// stops do not restart, and drop any classification still in flight.
type Session struct {
	id string

	mu         sync.Mutex
	state      State
	listening  bool // intent to listen; survives device restarts
	pending    int  // classifications queued or in flight
	hearing    string
	generation int // bumped by explicit stop; stale results are dropped
	closed     bool

	recognizer   Recognizer
	understander Understander
	sink         func(models.Understanding)
	onError      func(err error)

	queue        chan queuedUtterance
	workerOnce   sync.Once
	// ctx spans the session's whole life; request contexts from the
	// API must not outlive-bind recognition or classification.
	ctx          context.Context
	cancel       context.CancelFunc
	restartDelay time.Duration
	restartTimer *time.Timer
	wakeWordRe   *regexp.Regexp

	metrics *metrics.Metrics
	log     zerolog.Logger
}

type queuedUtterance struct {
	text       string
	generation int
}

// NewSession creates an idle session.
func NewSession(id string, cfg Config) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           id,
		state:        StateIdle,
		recognizer:   cfg.Recognizer,
		understander: cfg.Understander,
		sink:         cfg.Sink,
		onError:      cfg.OnError,
		queue:        make(chan queuedUtterance, queueCapacity),
		ctx:          ctx,
		cancel:       cancel,
		restartDelay: cfg.RestartDelay,
		metrics:      cfg.Metrics,
		log:          logging.WithSession(id),
	}
	if s.restartDelay <= 0 {
		s.restartDelay = DefaultRestartDelay
	}
	if s.metrics == nil {
		s.metrics = metrics.DefaultMetrics
	}
	if s.sink == nil {
		s.sink = func(models.Understanding) {}
	}
	if s.onError == nil {
		s.onError = func(error) {}
	}

	wake := cfg.WakeWord
	if wake == "" {
		wake = "hey form"
	}
	s.wakeWordRe = regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(wake) + `[,.!]?\s*`)

	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Start acquires the recognition device and begins listening.
// Rejected while an utterance is being classified. The device runs
// under the session's own context, never the caller's.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.pending > 0 {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.listening {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.recognizer.Start(s.ctx, s); err != nil {
		if errors.Is(err, ErrUnsupported) {
			return err
		}
		return fmt.Errorf("failed to start recognition: %w", err)
	}

	s.mu.Lock()
	s.listening = true
	s.state = StateListening
	s.mu.Unlock()

	s.workerOnce.Do(func() { go s.classifyLoop() })
	s.metrics.RecordSessionStart()
	s.log.Info().Msg("Session listening")
	return nil
}

// Stop ends listening. No restart is attempted, and any classification
// still in flight is dropped when it resolves (its rate-limit outcome
// has already been applied by then).
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.listening {
		s.mu.Unlock()
		return nil
	}
	s.listening = false
	s.state = StateIdle
	s.generation++
	s.hearing = ""
	s.cancelRestartLocked()
	s.mu.Unlock()

	err := s.recognizer.Stop()
	s.metrics.RecordSessionStop()
	s.log.Info().Msg("Session stopped")
	if err != nil {
		return fmt.Errorf("failed to stop recognition: %w", err)
	}
	return nil
}

// Close releases the session and its device.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.listening {
		s.listening = false
		s.state = StateIdle
		s.metrics.RecordSessionStop()
	}
	s.generation++
	s.cancelRestartLocked()
	close(s.queue)
	s.mu.Unlock()

	s.cancel()
	return s.recognizer.Close()
}

// SendAudio forwards audio bytes to the recognition device.
func (s *Session) SendAudio(ctx context.Context, audio []byte) error {
	s.mu.Lock()
	listening := s.listening && !s.closed
	s.mu.Unlock()

	if !listening {
		return fmt.Errorf("session %s is not listening", s.id)
	}
	return s.recognizer.SendAudio(ctx, audio)
}

// Ingest feeds an utterance that arrived outside the device path
// (for text-only clients). It follows the same normalization and
// ordering rules as device results.
func (s *Session) Ingest(u models.Utterance) error {
	s.mu.Lock()
	listening := s.listening && !s.closed
	s.mu.Unlock()

	if !listening {
		return fmt.Errorf("session %s is not listening", s.id)
	}
	if u.IsFinal {
		s.OnFinal(u.Text, 1.0)
	} else {
		s.OnInterim(u.Text)
	}
	return nil
}

// Snapshot is a point-in-time view of session state for the API.
type Snapshot struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	Hearing    string `json:"hearing"`
	Processing bool   `json:"processing"`
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		ID:         s.id,
		State:      s.state.String(),
		Hearing:    s.hearing,
		Processing: s.pending > 0,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Processing reports whether a classification is queued or in flight.
func (s *Session) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending > 0
}

// --- Callback implementation (device events) ---

// OnInterim updates the transient "currently hearing" projection.
func (s *Session) OnInterim(text string) {
	s.mu.Lock()
	s.hearing = text
	s.mu.Unlock()
	s.metrics.RecordInterimUtterance()
}

// OnFinal normalizes a final transcript and queues it for
// classification. Empty results after normalization are ignored.
func (s *Session) OnFinal(text string, confidence float64) {
	normalized := s.normalize(text)
	if normalized == "" {
		s.metrics.RecordUtteranceDropped("empty")
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	item := queuedUtterance{text: normalized, generation: s.generation}
	select {
	case s.queue <- item:
		s.pending++
	default:
		// Queue saturated; better to lose one utterance than block the
		// device callback.
		s.metrics.RecordUtteranceDropped("backlog")
	}
	s.mu.Unlock()

	s.metrics.RecordFinalUtterance()
}

// OnError applies the device error taxonomy.
func (s *Session) OnError(err error) {
	switch {
	case errors.Is(err, ErrAborted):
		// Caused by an explicit stop; expected, not an error.
		return
	case Terminal(err):
		s.mu.Lock()
		s.listening = false
		s.state = StateIdle
		s.cancelRestartLocked()
		s.mu.Unlock()
		s.metrics.RecordSessionStop()
		s.metrics.RecordSessionError(errorKind(err))
		s.log.Error().Err(err).Msg("Terminal recognition error")
		s.onError(err)
	default:
		// no-speech, network and the like: report, leave state alone.
		s.metrics.RecordSessionError(errorKind(err))
		s.log.Warn().Err(err).Msg("Recoverable recognition error")
		s.onError(err)
	}
}

// OnEnd handles stream termination. If the session still intends to
// listen, the device terminated on its own and is restarted after a
// short delay; after an explicit stop nothing happens.
func (s *Session) OnEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.listening || s.closed {
		return
	}
	s.cancelRestartLocked()
	s.restartTimer = time.AfterFunc(s.restartDelay, s.restart)
}

// restart reacquires the device after an unsolicited termination.
func (s *Session) restart() {
	s.mu.Lock()
	if !s.listening || s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.recognizer.Start(s.ctx, s); err != nil {
		s.mu.Lock()
		s.listening = false
		s.state = StateIdle
		s.mu.Unlock()
		s.metrics.RecordSessionStop()
		s.log.Warn().Err(err).Msg("Recognizer restart failed")
		s.onError(fmt.Errorf("failed to restart recognition: %w", err))
		return
	}

	s.metrics.RecordSessionRestart()
	s.log.Debug().Msg("Recognizer restarted after unsolicited end")
}

// classifyLoop drains the utterance queue one at a time, preserving
// emission order.
func (s *Session) classifyLoop() {
	for item := range s.queue {
		start := time.Now()
		u := s.understander.Understand(s.ctx, item.text)
		s.metrics.RecordUnderstandLatency(time.Since(start).Seconds())

		s.mu.Lock()
		s.pending--
		s.hearing = ""
		stale := item.generation != s.generation
		s.mu.Unlock()

		if stale {
			// The user explicitly stopped the session since this
			// utterance was queued. Rate-limit state has already been
			// updated; the understanding itself must not be applied.
			s.metrics.RecordUtteranceDropped("stale")
			s.log.Debug().Str("utterance", item.text).Msg("Dropping stale understanding")
			continue
		}

		s.log.Debug().
			Str("utterance", item.text).
			Str("intent", string(u.Intent)).
			Int("fields", len(u.DetectedFields)).
			Msg("Utterance classified")
		s.sink(u)
	}
}

// normalize collapses internal whitespace and strips a leading wake
// word.
func (s *Session) normalize(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	return strings.TrimSpace(s.wakeWordRe.ReplaceAllString(collapsed, ""))
}

// cancelRestartLocked stops a pending restart timer. Callers hold mu.
func (s *Session) cancelRestartLocked() {
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrNotAllowed):
		return "not_allowed"
	case errors.Is(err, ErrNoSpeech):
		return "no_speech"
	case errors.Is(err, ErrNetwork):
		return "network"
	default:
		return "other"
	}
}
