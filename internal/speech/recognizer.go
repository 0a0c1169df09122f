// Package speech owns the continuous speech session: it drives an
// abstract recognition device, buffers interim transcripts, and feeds
// normalized final utterances into the understanding pipeline.
package speech

import (
	"context"
	"errors"
)

// Callback receives recognition results from the device.
type Callback interface {
	// OnInterim is called for a transient "currently hearing"
	// transcript. It is overwritten by the next interim or final.
	OnInterim(text string)

	// OnFinal is called when the device emits a final transcript.
	OnFinal(text string, confidence float64)

	// OnError is called when the device reports an error; see the
	// taxonomy below.
	OnError(err error)

	// OnEnd is called when the device stops producing results, whether
	// requested or not.
	OnEnd()
}

// Recognizer is the narrow capability interface for a speech
// recognition device (cloud streaming recognizer, mock, ...).
type Recognizer interface {
	// Start begins a recognition stream delivering results to cb.
	Start(ctx context.Context, cb Callback) error

	// SendAudio sends audio bytes to the device.
	SendAudio(ctx context.Context, audio []byte) error

	// Stop ends the current stream. The device emits OnEnd.
	Stop() error

	// Close releases device resources.
	Close() error
}

// Device error taxonomy. Adapters translate provider errors into these
// so the session can decide between terminal and recoverable handling.
var (
	// ErrUnsupported means the platform offers no recognition
	// capability. Permanent, non-retryable.
	ErrUnsupported = errors.New("speech recognition not available")
	// ErrNotAllowed means microphone permission was denied. Permanent
	// until the user re-grants permission.
	ErrNotAllowed = errors.New("microphone permission denied")
	// ErrNoSpeech means the device detected no speech. Recoverable.
	ErrNoSpeech = errors.New("no speech detected")
	// ErrNetwork means a network problem interrupted recognition.
	// Recoverable.
	ErrNetwork = errors.New("network error during recognition")
	// ErrAborted means the stream ended because of an explicit stop.
	// Expected, suppressed by the session.
	ErrAborted = errors.New("recognition aborted")

	// ErrBusy rejects a start issued while an utterance is being
	// classified.
	ErrBusy = errors.New("session is processing an utterance")
	// ErrClosed rejects operations on a closed session.
	ErrClosed = errors.New("session closed")
)

// Terminal reports whether a device error ends the session for good.
func Terminal(err error) bool {
	return errors.Is(err, ErrUnsupported) || errors.Is(err, ErrNotAllowed)
}
