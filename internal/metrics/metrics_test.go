package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RestartAttempted()
	r.RestartAttempted()
	r.CommandFired("builtin")
	r.CommandSuppressed("cooldown")
	r.SetListening(true)

	if got := testutil.ToFloat64(r.restarts); got != 2 {
		t.Fatalf("expected 2 restarts, got %v", got)
	}
	if got := testutil.ToFloat64(r.commandsFired.WithLabelValues("builtin")); got != 1 {
		t.Fatalf("expected 1 builtin command, got %v", got)
	}
	if got := testutil.ToFloat64(r.listening); got != 1 {
		t.Fatalf("expected listening gauge 1, got %v", got)
	}

	r.SetListening(false)
	if got := testutil.ToFloat64(r.listening); got != 0 {
		t.Fatalf("expected listening gauge 0, got %v", got)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	t.Parallel()

	var r *Recorder
	r.RestartAttempted()
	r.RestartExhausted()
	r.SessionOpened()
	r.CommandFired("story")
	r.CommandSuppressed("echo")
	r.UtteranceSpoken()
	r.UtteranceDropped()
	r.RecognitionError("unknown")
	r.SetListening(true)
	r.SetAudioLevel(0.5)
}
