package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"hotmic/internal/clock"
	"hotmic/internal/domain"
	"hotmic/internal/ports"
)

// DefaultVoiceHints ranks voice names that usually indicate a natural,
// high-quality voice.
var DefaultVoiceHints = []string{"natural", "neural", "premium", "enhanced", "samantha", "daniel", "karen", "moira", "alex", "mbrola"}

// SpeechConfig tunes spoken output.
type SpeechConfig struct {
	// Voice pins a voice by id or name. Empty selects by ranking.
	Voice      string
	VoiceHints []string
	Rate       float64
	Pitch      float64
	Volume     float64
}

// SpeakOptions overrides SpeechConfig for a single utterance.
type SpeakOptions struct {
	Voice  string
	Rate   float64
	Pitch  float64
	Volume float64
}

type activeUtterance struct {
	id       string
	playback ports.Playback
}

// speechOutput plays one utterance at a time and remembers when output last
// started so recognition can ignore the system's own voice. It is owned by
// the control loop.
type speechOutput struct {
	synth      ports.Synthesizer
	clock      clock.Clock
	post       func(func()) bool
	cfg        SpeechConfig
	language   string
	window     time.Duration
	echoWindow time.Duration
	logger     zerolog.Logger
	onSpeaking func(bool)

	voices    []domain.Voice
	lastStart time.Time
	current   *activeUtterance
}

// Speak starts text unless another utterance started less than the output
// window ago, in which case the request is dropped and false is returned.
func (s *speechOutput) Speak(ctx context.Context, text string, opts SpeakOptions) (bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return false, nil
	}

	now := s.clock.Now()
	if !s.lastStart.IsZero() && now.Sub(s.lastStart) < s.window {
		s.logger.Debug().Str("text", text).Msg("utterance dropped by output window")
		return false, nil
	}

	wasSpeaking := s.current != nil
	s.cancelCurrent()

	utterance := domain.Utterance{
		ID:     uuid.NewString(),
		Text:   text,
		Voice:  selectVoice(s.voices, s.language, firstNonEmpty(opts.Voice, s.cfg.Voice), s.cfg.VoiceHints),
		Rate:   firstPositive(opts.Rate, s.cfg.Rate, 1),
		Pitch:  firstPositive(opts.Pitch, s.cfg.Pitch, 1),
		Volume: firstPositive(opts.Volume, s.cfg.Volume, 1),
	}
	playback, err := s.synth.Speak(ctx, utterance)
	if err != nil {
		if wasSpeaking {
			s.onSpeaking(false)
		}
		return false, fmt.Errorf("speak: %w", err)
	}

	s.lastStart = now
	s.current = &activeUtterance{id: utterance.ID, playback: playback}
	go func() {
		<-playback.Done()
		s.post(func() { s.finished(utterance.ID) })
	}()
	if !wasSpeaking {
		s.onSpeaking(true)
	}
	return true, nil
}

// Stop cancels the in-flight utterance, if any.
func (s *speechOutput) Stop() {
	if s.current == nil {
		return
	}
	s.cancelCurrent()
	s.onSpeaking(false)
}

func (s *speechOutput) Speaking() bool {
	return s.current != nil
}

// Echoing reports whether input arriving at now may be the system's own voice.
func (s *speechOutput) Echoing(now time.Time) bool {
	return !s.lastStart.IsZero() && now.Sub(s.lastStart) < s.echoWindow
}

func (s *speechOutput) SetVoices(voices []domain.Voice) {
	s.voices = voices
}

func (s *speechOutput) finished(id string) {
	if s.current == nil || s.current.id != id {
		return
	}
	s.current = nil
	s.onSpeaking(false)
}

func (s *speechOutput) cancelCurrent() {
	if s.current == nil {
		return
	}
	if err := s.current.playback.Cancel(); err != nil {
		s.logger.Debug().Err(err).Msg("cancel playback")
	}
	s.current = nil
}

// selectVoice returns the pinned voice when present, otherwise the first voice
// matching a quality hint in the configured language, then the language's
// default voice, then any voice in the language, then the first voice.
func selectVoice(voices []domain.Voice, language, pinned string, hints []string) domain.Voice {
	if len(voices) == 0 {
		return domain.Voice{}
	}
	if pinned != "" {
		if v, ok := lo.Find(voices, func(v domain.Voice) bool {
			return strings.EqualFold(v.ID, pinned) || strings.EqualFold(v.Name, pinned)
		}); ok {
			return v
		}
	}

	inLanguage := lo.Filter(voices, func(v domain.Voice, _ int) bool {
		return sameLanguage(v.Language, language)
	})
	for _, hint := range hints {
		if v, ok := lo.Find(inLanguage, func(v domain.Voice) bool {
			return strings.Contains(strings.ToLower(v.Name), strings.ToLower(hint))
		}); ok {
			return v
		}
	}
	if v, ok := lo.Find(inLanguage, func(v domain.Voice) bool { return v.Default }); ok {
		return v
	}
	if len(inLanguage) > 0 {
		return inLanguage[0]
	}
	return voices[0]
}

func sameLanguage(a, b string) bool {
	if b == "" {
		return true
	}
	return primarySubtag(a) == primarySubtag(b)
}

func primarySubtag(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return tag
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...float64) float64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
