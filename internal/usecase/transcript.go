package usecase

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"hotmic/internal/command"
	"hotmic/internal/domain"
	"hotmic/internal/ports"
)

const (
	historyLimit        = 20
	similarityThreshold = 0.7
	minCommandChars     = 2
)

// timerArmer schedules callbacks that run on the control loop.
type timerArmer interface {
	arm(slot *timerSlot, d time.Duration, fn func())
	disarm(slot *timerSlot)
}

// transcriptProcessor keeps display text, rejects repeated fragments and
// debounces command input. It is owned by the control loop.
type transcriptProcessor struct {
	rules  ports.RulesEngine
	timers timerArmer
	window time.Duration
	logger zerolog.Logger

	final      string
	interim    string
	confidence float64

	last    string
	history []string

	pending  string
	debounce timerSlot
}

func newTranscriptProcessor(rules ports.RulesEngine, timers timerArmer, window time.Duration, logger zerolog.Logger) *transcriptProcessor {
	return &transcriptProcessor{
		rules:  rules,
		timers: timers,
		window: window,
		logger: logger,
	}
}

// Ingest updates display text from one result event and returns the
// finalized fragments in arrival order.
func (p *transcriptProcessor) Ingest(fragments []domain.Fragment) []string {
	var (
		interim []string
		finals  []string
	)
	for _, fragment := range fragments {
		text := strings.TrimSpace(fragment.Text)
		if text == "" {
			continue
		}
		if !fragment.Final {
			interim = append(interim, text)
			continue
		}
		finals = append(finals, text)
		p.final = joinText(p.final, text)
		if fragment.Confidence > 0 {
			p.confidence = fragment.Confidence
		}
	}
	p.interim = strings.Join(interim, " ")
	return finals
}

// Accept rewrites and normalizes a finalized fragment. It returns false for
// empty fragments and for repeats of recent input.
func (p *transcriptProcessor) Accept(text string) (string, bool) {
	if p.rules != nil {
		rewritten, err := p.rules.Apply(text)
		if err != nil {
			p.logger.Warn().Err(err).Msg("rewrite rules failed; using raw fragment")
		} else {
			text = rewritten
		}
	}

	normalized := command.Normalize(text)
	if normalized == "" {
		return "", false
	}
	if p.last != "" && similar(normalized, p.last) {
		return "", false
	}
	if lo.Contains(p.history, normalized) {
		return "", false
	}

	p.last = normalized
	p.history = append(p.history, normalized)
	if len(p.history) > historyLimit {
		p.history = p.history[len(p.history)-historyLimit:]
	}
	return normalized, true
}

// Hold buffers text for the debounce window. Text arriving before the window
// closes is appended and restarts the window.
func (p *transcriptProcessor) Hold(text string, fire func(string)) {
	p.pending = joinText(p.pending, text)
	p.timers.arm(&p.debounce, p.window, func() {
		held := p.pending
		p.pending = ""
		if held != "" {
			fire(held)
		}
	})
}

// CancelPending drops debounced text that has not fired yet.
func (p *transcriptProcessor) CancelPending() {
	p.timers.disarm(&p.debounce)
	p.pending = ""
}

// Reset forgets dedup history. Display text is kept.
func (p *transcriptProcessor) Reset() {
	p.CancelPending()
	p.last = ""
	p.history = nil
}

func (p *transcriptProcessor) ClearDisplay() {
	p.final = ""
	p.interim = ""
	p.confidence = 0
}

// similar reports whether either text contains the other or whether the
// shared vocabulary exceeds the threshold of the longer fragment.
func similar(a, b string) bool {
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	wordsA := strings.Fields(a)
	wordsB := strings.Fields(b)
	longer := max(len(wordsA), len(wordsB))
	if longer == 0 {
		return false
	}
	shared := len(lo.Intersect(lo.Uniq(wordsA), lo.Uniq(wordsB)))
	return float64(shared)/float64(longer) > similarityThreshold
}

// stripPhrase removes every occurrence of phrase from text.
func stripPhrase(text, phrase string) (string, bool) {
	if phrase == "" || !strings.Contains(text, phrase) {
		return text, false
	}
	return command.Normalize(strings.ReplaceAll(text, phrase, " ")), true
}

func joinText(existing, next string) string {
	if existing == "" {
		return next
	}
	return existing + " " + next
}
