package ports

import (
	"context"
	"errors"

	"hotmic/internal/domain"
)

// ErrPermissionDenied is returned by adapters when the platform refuses
// microphone access.
var ErrPermissionDenied = errors.New("microphone permission denied")

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
	ChunkSize   int
}

// MediaStream is a live microphone input. It may outlive several
// recognition sessions and is owned by the session controller.
type MediaStream interface {
	ID() string
	// Live reports whether the underlying capture is still producing audio.
	Live() bool
	// Subscribe returns a channel of PCM chunks and a cancel func. The
	// channel is closed by cancel or when the stream ends. Slow subscribers
	// drop chunks rather than stall the capture.
	Subscribe(buffer int) (<-chan []byte, func())
	Release() error
}

// MediaSource acquires microphone streams.
type MediaSource interface {
	Acquire(ctx context.Context, cfg AudioConfig) (MediaStream, error)
}

// RecognitionConfig describes provider-agnostic recognition settings.
type RecognitionConfig struct {
	Language       string
	Continuous     bool
	InterimResults bool
	SampleRate     int
	Channels       int
	Encoding       string
}

// RecognitionSession is one open speech-to-text session. Its Events channel
// is closed when the session ends for any reason.
type RecognitionSession interface {
	Events() <-chan domain.RecognitionEvent
	// Stop asks the engine to finish gracefully.
	Stop() error
	// Abort tears the session down immediately.
	Abort() error
}

// Recognizer opens continuous recognition sessions over a media stream.
type Recognizer interface {
	Open(ctx context.Context, stream MediaStream, cfg RecognitionConfig) (RecognitionSession, error)
}

// Playback is one in-flight utterance.
type Playback interface {
	// Done is closed when playback finishes or is cancelled.
	Done() <-chan struct{}
	Cancel() error
}

// Synthesizer speaks text.
type Synthesizer interface {
	Voices(ctx context.Context) ([]domain.Voice, error)
	Speak(ctx context.Context, utterance domain.Utterance) (Playback, error)
}

// PermissionQuery reads and requests microphone permission.
type PermissionQuery interface {
	// Query reports the current state without prompting the user.
	Query(ctx context.Context) (domain.PermissionState, error)
	// Request prompts the user when the platform supports prompting.
	Request(ctx context.Context) (domain.PermissionState, error)
	// Watch registers fn for external permission changes and returns a
	// func that unregisters it.
	Watch(fn func(domain.PermissionState)) func()
}

// CapabilityProbe reports what the runtime environment offers.
type CapabilityProbe interface {
	RecognitionSupported() bool
	SynthesisSupported() bool
}

// RulesEngine rewrites transcript text using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// EventSink receives controller notifications. Calls are delivered in order
// from a single goroutine and may call back into the controller.
type EventSink interface {
	StateChanged(phase domain.Phase, reason domain.StateReason)
	ListeningChanged(listening bool)
	SpeakingChanged(speaking bool)
	TranscriptChanged(final string, interim string)
	WakeWordDetected(phrase string)
	CommandFired(event domain.CommandEvent)
	SessionError(err domain.SessionError)
}
