// Package google provides a recognition device backed by Google Cloud
// Speech-to-Text streaming recognition.
//
// Requires the GOOGLE_APPLICATION_CREDENTIALS environment variable.
package google

import (
	"context"
	"errors"
	"io"
	"sync"

	speechapi "cloud.google.com/go/speech/apiv1"
	speechpb "google.golang.org/genproto/googleapis/cloud/speech/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"voice-form-service/internal/speech"
)

// Config holds recognition stream parameters.
type Config struct {
	LanguageCode   string
	SampleRateHz   int32
	InterimResults bool
}

// DefaultConfig returns the stream parameters used by the service.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   16000,
		InterimResults: true,
	}
}

// Recognizer implements speech.Recognizer using Google Cloud
// Speech-to-Text.
type Recognizer struct {
	client *speechapi.Client
	cfg    Config

	mu     sync.Mutex
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc
}

// New creates a Google recognition device.
func New(ctx context.Context, cfg Config) (*Recognizer, error) {
	c, err := speechapi.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Recognizer{client: c, cfg: cfg}, nil
}

// Start begins a streaming recognition session and sends the initial
// config. Results are delivered to cb from a reader goroutine.
func (r *Recognizer) Start(ctx context.Context, cb speech.Callback) error {
	streamCtx, cancel := context.WithCancel(ctx)

	stream, err := r.client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return translateError(err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: r.cfg.SampleRateHz,
					LanguageCode:    r.cfg.LanguageCode,
				},
				InterimResults: r.cfg.InterimResults,
			},
		},
	}); err != nil {
		cancel()
		return translateError(err)
	}

	r.mu.Lock()
	r.stream = stream
	r.cancel = cancel
	r.mu.Unlock()

	go r.listen(stream, cb)
	return nil
}

// SendAudio sends audio bytes to the recognition stream.
func (r *Recognizer) SendAudio(ctx context.Context, audio []byte) error {
	r.mu.Lock()
	stream := r.stream
	r.mu.Unlock()

	if stream == nil {
		return speech.ErrNetwork
	}
	return stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Stop ends the current recognition stream.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	stream := r.stream
	cancel := r.cancel
	r.stream = nil
	r.cancel = nil
	r.mu.Unlock()

	if stream == nil {
		return nil
	}
	err := stream.CloseSend()
	if cancel != nil {
		cancel()
	}
	return err
}

// Close releases the underlying client.
func (r *Recognizer) Close() error {
	_ = r.Stop()
	return r.client.Close()
}

// listen receives transcript responses and invokes callbacks until the
// stream ends.
func (r *Recognizer) listen(stream speechpb.Speech_StreamingRecognizeClient, cb speech.Callback) {
	for {
		resp, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				cb.OnError(translateError(err))
			}
			cb.OnEnd()
			return
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			alt := result.Alternatives[0]
			if result.IsFinal {
				cb.OnFinal(alt.Transcript, float64(alt.Confidence))
			} else {
				cb.OnInterim(alt.Transcript)
			}
		}
	}
}

// translateError maps provider errors onto the device taxonomy.
func translateError(err error) error {
	switch status.Code(err) {
	case codes.Canceled:
		return speech.ErrAborted
	case codes.PermissionDenied, codes.Unauthenticated:
		return speech.ErrNotAllowed
	case codes.Unimplemented, codes.NotFound:
		return speech.ErrUnsupported
	case codes.Unavailable, codes.DeadlineExceeded:
		return speech.ErrNetwork
	default:
		return err
	}
}
