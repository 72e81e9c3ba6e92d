package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotmic/internal/domain"
)

func TestSessionReasonMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.StateReason]string{
		domain.ReasonSessionOpened:      "Listening",
		domain.ReasonNoSpeech:           "No speech heard; restarting",
		domain.ReasonStopCommand:        "Stopped by voice command",
		domain.ReasonRestartExhausted:   "Gave up restarting recognition",
		domain.ReasonPermissionDenied:   "Microphone access denied",
		domain.ReasonCapabilityMissing:  "Voice control unavailable",
		domain.ReasonControllerShutdown: "Shut down",
	}
	for reason, want := range cases {
		assert.Equal(t, want, sessionReasonMessage(reason), string(reason))
	}
	assert.Equal(t, "State changed", sessionReasonMessage("unknown"))
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "detail", errorMessage(domain.SessionError{Kind: domain.ErrorKindUnknown, Message: "detail"}))
	assert.Equal(t, "Microphone permission denied", errorMessage(domain.SessionError{Kind: domain.ErrorKindPermissionDenied}))
	assert.Equal(t, "Voice control is not supported", errorMessage(domain.SessionError{Kind: domain.ErrorKindUnsupported}))
	assert.Equal(t, "Unknown error", errorMessage(domain.SessionError{}))
}

func TestCommandFiredWritesJSONLine(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	app := NewApp(&out, zerolog.Nop())
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	app.CommandFired(domain.CommandEvent{Key: "templates", Text: "show templates", FiredAt: at})
	app.CommandFired(domain.CommandEvent{Key: "deploy", Text: "ship it", Custom: true, FiredAt: at})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var event domain.CommandEvent
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &event))
	assert.Equal(t, "deploy", event.Key)
	assert.True(t, event.Custom)
	assert.True(t, at.Equal(event.FiredAt))
}

func TestAppDoneOnTerminalPhases(t *testing.T) {
	t.Parallel()

	for _, phase := range []domain.Phase{domain.PhaseStopped, domain.PhaseUnsupported, domain.PhaseDenied} {
		app := NewApp(&bytes.Buffer{}, zerolog.Nop())
		app.StateChanged(domain.PhaseStarting, domain.ReasonStartRequested)
		app.StateChanged(domain.PhaseListening, domain.ReasonSessionOpened)
		app.StateChanged(domain.PhasePaused, domain.ReasonPaused)
		select {
		case <-app.Done():
			t.Fatalf("done before %s", phase)
		default:
		}

		app.StateChanged(phase, domain.ReasonStopRequested)
		app.StateChanged(phase, domain.ReasonControllerShutdown)
		select {
		case <-app.Done():
		default:
			t.Fatalf("expected done after %s", phase)
		}
	}
}

func TestAppLogsThroughSwappedLogger(t *testing.T) {
	t.Parallel()

	app := NewApp(&bytes.Buffer{}, zerolog.Nop())
	var logs bytes.Buffer
	app.setLogger(zerolog.New(&logs))

	app.SessionError(domain.SessionError{
		Kind:    domain.ErrorKindPermissionDenied,
		Code:    domain.ErrorCodeNotAllowed,
		Message: "microphone access was denied",
		Remedy:  "allow it",
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "app", entry["component"])
	assert.Equal(t, "allow it", entry["remedy"])
	assert.Equal(t, "microphone access was denied", entry["message"])
}

func TestRootCommandHasListen(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	listen, _, err := root.Find([]string{"listen"})
	require.NoError(t, err)
	assert.Equal(t, "listen", listen.Name())
	assert.NotNil(t, listen.Flags().Lookup("direct"))
	assert.NotNil(t, listen.Flags().Lookup("metrics-addr"))
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}
