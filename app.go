package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"hotmic/internal/domain"
)

// App is the terminal front end. It receives controller events, logs them
// and writes fired commands to out as JSON lines so other tools can consume
// them.
type App struct {
	logger atomic.Pointer[zerolog.Logger]

	outMu sync.Mutex
	out   io.Writer

	done     chan struct{}
	doneOnce sync.Once
}

func NewApp(out io.Writer, logger zerolog.Logger) *App {
	a := &App{out: out, done: make(chan struct{})}
	a.setLogger(logger)
	return a
}

// setLogger swaps the logger once configuration is known. Events may
// already be arriving.
func (a *App) setLogger(logger zerolog.Logger) {
	l := logger.With().Str("component", "app").Logger()
	a.logger.Store(&l)
}

func (a *App) log() *zerolog.Logger {
	return a.logger.Load()
}

// Done is closed once the session has ended for good. Denied counts: the
// terminal front end has no way to grant access mid-run.
func (a *App) Done() <-chan struct{} {
	return a.done
}

func (a *App) finish() {
	a.doneOnce.Do(func() { close(a.done) })
}

// StateChanged logs session lifecycle updates.
func (a *App) StateChanged(phase domain.Phase, reason domain.StateReason) {
	a.log().Info().
		Str("phase", string(phase)).
		Str("reason", string(reason)).
		Msg(sessionReasonMessage(reason))

	switch phase {
	case domain.PhaseStopped, domain.PhaseUnsupported, domain.PhaseDenied:
		a.finish()
	}
}

func (a *App) ListeningChanged(listening bool) {
	a.log().Debug().Bool("listening", listening).Msg("listening changed")
}

func (a *App) SpeakingChanged(speaking bool) {
	a.log().Debug().Bool("speaking", speaking).Msg("speaking changed")
}

func (a *App) TranscriptChanged(final string, interim string) {
	a.log().Debug().Str("final", final).Str("interim", interim).Msg("transcript")
}

func (a *App) WakeWordDetected(phrase string) {
	a.log().Info().Str("phrase", phrase).Msg("wake word detected")
}

// CommandFired writes the event to out.
func (a *App) CommandFired(event domain.CommandEvent) {
	a.log().Info().Str("key", event.Key).Str("text", event.Text).Bool("custom", event.Custom).Msg("command")

	line, err := json.Marshal(event)
	if err != nil {
		a.log().Warn().Err(err).Msg("failed to encode command")
		return
	}
	a.outMu.Lock()
	defer a.outMu.Unlock()
	if _, err := fmt.Fprintln(a.out, string(line)); err != nil {
		a.log().Warn().Err(err).Msg("failed to write command")
	}
}

// SessionError logs caller-visible errors with their remedy.
func (a *App) SessionError(err domain.SessionError) {
	level := zerolog.WarnLevel
	if err.Kind == domain.ErrorKindUnknown {
		level = zerolog.ErrorLevel
	}
	a.log().WithLevel(level).
		Str("kind", string(err.Kind)).
		Str("code", string(err.Code)).
		Str("remedy", err.Remedy).
		Msg(errorMessage(err))
}

func sessionReasonMessage(reason domain.StateReason) string {
	switch reason {
	case domain.ReasonCreated:
		return "Ready"
	case domain.ReasonStartRequested:
		return "Starting microphone"
	case domain.ReasonSessionOpened:
		return "Listening"
	case domain.ReasonSessionReopened:
		return "Listening again"
	case domain.ReasonSessionEnded:
		return "Recognition session ended"
	case domain.ReasonNoSpeech:
		return "No speech heard; restarting"
	case domain.ReasonPaused:
		return "Paused"
	case domain.ReasonResumed:
		return "Resumed"
	case domain.ReasonStopRequested:
		return "Stopped"
	case domain.ReasonStopCommand:
		return "Stopped by voice command"
	case domain.ReasonRestartExhausted:
		return "Gave up restarting recognition"
	case domain.ReasonStartFailed:
		return "Could not start listening"
	case domain.ReasonPermissionDenied:
		return "Microphone access denied"
	case domain.ReasonPermissionGranted:
		return "Microphone access granted"
	case domain.ReasonCapabilityMissing:
		return "Voice control unavailable"
	case domain.ReasonControllerShutdown:
		return "Shut down"
	default:
		return "State changed"
	}
}

func errorMessage(err domain.SessionError) string {
	if err.Message != "" {
		return err.Message
	}
	switch err.Kind {
	case domain.ErrorKindUnsupported:
		return "Voice control is not supported"
	case domain.ErrorKindPermissionDenied:
		return "Microphone permission denied"
	case domain.ErrorKindRecoverable:
		return "Recognition interrupted"
	default:
		return "Unknown error"
	}
}
