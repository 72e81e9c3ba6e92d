// Package metrics exposes prometheus instruments for the voice session.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder groups every instrument. A nil *Recorder is valid and records
// nothing.
type Recorder struct {
	restarts           prometheus.Counter
	restartsExhausted  prometheus.Counter
	sessionsOpened     prometheus.Counter
	commandsFired      *prometheus.CounterVec
	commandsSuppressed *prometheus.CounterVec
	utterancesSpoken   prometheus.Counter
	utterancesDropped  prometheus.Counter
	recognitionErrors  *prometheus.CounterVec
	listening          prometheus.Gauge
	audioLevel         prometheus.Gauge
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		restarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "hotmic_restarts_total",
			Help: "Recognition session restart attempts",
		}),
		restartsExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "hotmic_restarts_exhausted_total",
			Help: "Times the restart policy gave up",
		}),
		sessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "hotmic_recognition_sessions_opened_total",
			Help: "Recognition sessions opened",
		}),
		commandsFired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hotmic_commands_fired_total",
			Help: "Commands fired by precedence level",
		}, []string{"kind"}),
		commandsSuppressed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hotmic_commands_suppressed_total",
			Help: "Utterances not acted on, by reason",
		}, []string{"reason"}),
		utterancesSpoken: factory.NewCounter(prometheus.CounterOpts{
			Name: "hotmic_utterances_spoken_total",
			Help: "Spoken responses started",
		}),
		utterancesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "hotmic_utterances_dropped_total",
			Help: "Spoken responses dropped by the output rate limit",
		}),
		recognitionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hotmic_recognition_errors_total",
			Help: "Recognition errors by kind",
		}, []string{"kind"}),
		listening: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hotmic_listening",
			Help: "1 while a recognition session is open",
		}),
		audioLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hotmic_audio_level",
			Help: "Most recent normalized input amplitude",
		}),
	}
}

func (r *Recorder) RestartAttempted() {
	if r != nil {
		r.restarts.Inc()
	}
}

func (r *Recorder) RestartExhausted() {
	if r != nil {
		r.restartsExhausted.Inc()
	}
}

func (r *Recorder) SessionOpened() {
	if r != nil {
		r.sessionsOpened.Inc()
	}
}

func (r *Recorder) CommandFired(kind string) {
	if r != nil {
		r.commandsFired.WithLabelValues(kind).Inc()
	}
}

func (r *Recorder) CommandSuppressed(reason string) {
	if r != nil {
		r.commandsSuppressed.WithLabelValues(reason).Inc()
	}
}

func (r *Recorder) UtteranceSpoken() {
	if r != nil {
		r.utterancesSpoken.Inc()
	}
}

func (r *Recorder) UtteranceDropped() {
	if r != nil {
		r.utterancesDropped.Inc()
	}
}

func (r *Recorder) RecognitionError(kind string) {
	if r != nil {
		r.recognitionErrors.WithLabelValues(kind).Inc()
	}
}

func (r *Recorder) SetListening(listening bool) {
	if r == nil {
		return
	}
	if listening {
		r.listening.Set(1)
		return
	}
	r.listening.Set(0)
}

func (r *Recorder) SetAudioLevel(level float64) {
	if r != nil {
		r.audioLevel.Set(level)
	}
}
