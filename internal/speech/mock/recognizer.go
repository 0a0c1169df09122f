// Package mock provides a mock recognition device for running the
// pipeline without cloud credentials. It simulates realistic
// recognizer behavior with progressive interim transcripts, exactly
// one final transcript per utterance, and an end event once the
// scripted utterances run out.
package mock

import (
	"context"
	"sync"
	"time"

	"voice-form-service/internal/speech"
)

// SimulatedUtterance represents a scripted utterance with progressive
// transcripts.
type SimulatedUtterance struct {
	Interims   []string // Progressive interim transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for the final
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Interims:   []string{"my name", "my name is", "my name is Bob"},
		Final:      "my name is Bob Smith",
		Confidence: 0.94,
	},
	{
		Interims:   []string{"my email", "my email is bob"},
		Final:      "my email is bob.smith@example.com",
		Confidence: 0.91,
	},
	{
		Interims:   []string{"my phone", "my phone number is"},
		Final:      "my phone number is 555-123-4567",
		Confidence: 0.93,
	},
	{
		Interims:   []string{"i live", "i live at 12"},
		Final:      "i live at 12 Main Street Springfield",
		Confidence: 0.88,
	},
	{
		Interims:   []string{"submit"},
		Final:      "submit the form",
		Confidence: 0.97,
	},
}

// Recognizer implements speech.Recognizer with scripted responses.
// Each SendAudio call advances the script: interims first, then the
// final, then the next utterance. When the script is exhausted an end
// event fires, which exercises the session's restart path.
type Recognizer struct {
	mu         sync.Mutex
	cb         speech.Callback
	utterances []SimulatedUtterance
	uttIndex   int
	interimIdx int
	stopped    bool
	closed     bool

	// Delay before each simulated result, to mimic device latency.
	resultDelay time.Duration
}

// New creates a mock recognizer cycling through the default script.
func New() *Recognizer {
	return NewScripted(DefaultUtterances)
}

// NewScripted creates a mock recognizer with a custom script.
func NewScripted(utterances []SimulatedUtterance) *Recognizer {
	return &Recognizer{
		utterances:  utterances,
		resultDelay: 20 * time.Millisecond,
	}
}

// Start begins a mock recognition stream.
func (r *Recognizer) Start(ctx context.Context, cb speech.Callback) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return speech.ErrUnsupported
	}
	r.cb = cb
	r.stopped = false
	return nil
}

// SendAudio advances the script by one step.
func (r *Recognizer) SendAudio(ctx context.Context, audio []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.stopped || r.cb == nil {
		return nil
	}

	if r.uttIndex >= len(r.utterances) {
		// Script exhausted: the device goes quiet and terminates on
		// its own, like platform auto-stop.
		cb := r.cb
		go func() {
			time.Sleep(r.resultDelay)
			cb.OnEnd()
		}()
		return nil
	}

	utt := r.utterances[r.uttIndex]
	if r.interimIdx < len(utt.Interims) {
		text := utt.Interims[r.interimIdx]
		r.interimIdx++
		r.deliver(func(cb speech.Callback) { cb.OnInterim(text) })
		return nil
	}

	// Interims exhausted: emit the final and move to the next
	// utterance.
	r.uttIndex++
	r.interimIdx = 0
	r.deliver(func(cb speech.Callback) { cb.OnFinal(utt.Final, utt.Confidence) })
	return nil
}

// Stop ends the mock stream; the device acknowledges with an aborted
// error followed by an end event, like a real device does.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	if r.stopped || r.closed {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	cb := r.cb
	r.mu.Unlock()

	if cb != nil {
		cb.OnError(speech.ErrAborted)
		cb.OnEnd()
	}
	return nil
}

// Close releases the mock device.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// deliver invokes the callback off the caller's goroutine after the
// simulated device latency.
func (r *Recognizer) deliver(fn func(cb speech.Callback)) {
	cb := r.cb
	delay := r.resultDelay
	go func() {
		time.Sleep(delay)
		r.mu.Lock()
		stale := r.closed || r.stopped
		r.mu.Unlock()
		if !stale {
			fn(cb)
		}
	}()
}
