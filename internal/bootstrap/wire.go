package bootstrap

import (
	"context"
	"io"
	"os/exec"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"hotmic/internal/audio"
	"hotmic/internal/command"
	"hotmic/internal/config"
	"hotmic/internal/domain"
	"hotmic/internal/grammar"
	"hotmic/internal/logging"
	"hotmic/internal/metrics"
	"hotmic/internal/ports"
	"hotmic/internal/providers/deepgram"
	"hotmic/internal/providers/systemtts"
	"hotmic/internal/rewrite"
	"hotmic/internal/usecase"
)

// Options customise Build. Zero values are fine.
type Options struct {
	ConfigPath string
	LogOutput  io.Writer
	// Registerer receives the metrics. Nil creates a private registry.
	Registerer prometheus.Registerer
	// Actions bind grammar command keys to callbacks.
	Actions map[string]command.Action
}

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Config     config.Config
	Logger     zerolog.Logger
	Registry   *prometheus.Registry

	actions map[string]command.Action
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink, opts Options) (*Services, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: opts.LogOutput,
	})

	services := &Services{Config: cfg, Logger: logger, actions: opts.Actions}
	reg := opts.Registerer
	if reg == nil {
		services.Registry = prometheus.NewRegistry()
		reg = services.Registry
	}

	g, err := grammar.Load(cfg.Grammar.Path)
	if err != nil {
		return nil, err
	}

	rules, err := rewrite.Load(cfg.Rewrite.Path, cfg.Rewrite.IterationLimit)
	if err != nil {
		return nil, err
	}
	if len(g.Rewrites) > 0 {
		if rules, err = rules.With(g.Rewrites); err != nil {
			return nil, err
		}
	}

	wakeWord := cfg.Voice.WakeWord
	if g.WakeWord != "" {
		wakeWord = g.WakeWord
	}

	audioCfg := ports.AudioConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
		ChunkSize:   cfg.Audio.ChunkSize,
	}
	source := audio.NewFFMPEGSource(cfg.Audio.RecorderCommand, audioCfg, logger)
	recognizer := deepgram.NewRecognizer(deepgram.Config{
		APIKey:      cfg.Deepgram.APIKey,
		APIBaseURL:  cfg.Deepgram.APIBaseURL,
		Model:       cfg.Deepgram.Model,
		Language:    cfg.Voice.Language,
		SmartFormat: cfg.Deepgram.SmartFormat,
	}, logger)
	synth := systemtts.New(systemtts.Config{
		Command:        cfg.TTS.Command,
		WordsPerMinute: cfg.TTS.WordsPerMinute,
	}, logger)

	probe := capabilityProbe{
		recognition: recognizer.Configured() && commandExists(cfg.Audio.RecorderCommand),
		synthesis:   synth.Available(),
	}
	if !probe.recognition {
		logger.Warn().
			Bool("apiKey", recognizer.Configured()).
			Str("recorder", cfg.Audio.RecorderCommand).
			Msg("speech recognition unavailable")
	}

	services.Controller = usecase.NewSessionController(
		usecase.Config{
			WakeWord:       wakeWord,
			Language:       cfg.Voice.Language,
			Continuous:     cfg.Voice.Continuous,
			AutoRestart:    cfg.Voice.AutoRestart,
			InterimResults: cfg.Voice.InterimResults,
			SpeakResponses: cfg.Voice.SpeakResponses,
			Personality:    domain.Personality(cfg.Voice.Personality),
			Commands:       g.Descriptors(opts.Actions),
			Audio:          audioCfg,
			Speech: usecase.SpeechConfig{
				Voice:  cfg.Voice.Voice,
				Rate:   cfg.Voice.Rate,
				Pitch:  cfg.Voice.Pitch,
				Volume: cfg.Voice.Volume,
			},
		},
		usecase.Dependencies{
			Media:        source,
			Recognizer:   recognizer,
			Synthesizer:  synth,
			Permissions:  source.Permissions(),
			Capabilities: probe,
			Rules:        rules,
			Events:       eventSink,
			Logger:       logger,
			Metrics:      metrics.New(reg),
		},
	)

	return services, nil
}

// WatchGrammar reloads custom commands whenever the grammar file changes.
// It blocks until ctx is done and returns immediately when watching is
// disabled.
func (s *Services) WatchGrammar(ctx context.Context) error {
	if !s.Config.Grammar.Watch || strings.TrimSpace(s.Config.Grammar.Path) == "" {
		return nil
	}
	return grammar.Watch(ctx, s.Config.Grammar.Path, 0, s.Logger, func(g grammar.Grammar) {
		if err := s.Controller.ReplaceCommands(g.Descriptors(s.actions)); err != nil {
			s.Logger.Warn().Err(err).Msg("failed to apply reloaded grammar")
		}
	})
}

type capabilityProbe struct {
	recognition bool
	synthesis   bool
}

func (p capabilityProbe) RecognitionSupported() bool { return p.recognition }
func (p capabilityProbe) SynthesisSupported() bool   { return p.synthesis }

func commandExists(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	_, err := exec.LookPath(name)
	return err == nil
}
