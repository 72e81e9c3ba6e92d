// Package command matches utterances against a command grammar.
package command

import (
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"

	"hotmic/internal/domain"
)

// Action is invoked when a command fires.
type Action func(event domain.CommandEvent)

// Descriptor is one command of the grammar. Custom and built-in commands
// share this shape.
type Descriptor struct {
	Key      string
	Patterns []string
	Action   Action
	Response string
}

// Kind identifies which precedence level produced a match.
type Kind string

const (
	KindCustom   Kind = "custom"
	KindBuiltin  Kind = "builtin"
	KindIndustry Kind = "industry"
	KindStory    Kind = "story"
)

const (
	KeyCreate         = "create"
	KeyTemplates      = "templates"
	KeyHelp           = "help"
	KeyQuestionnaire  = "questionnaire"
	KeyStop           = "stop"
	KeyNext           = "next"
	KeyBack           = "back"
	KeyOptionPrefix   = "option:"
	KeyIndustryPrefix = "industry:"
	KeyStory          = "story"
)

const (
	storyMinWords = 4
	storyMinChars = 25
)

// Match is the outcome of precedence evaluation for one utterance.
type Match struct {
	Kind       Kind
	Key        string
	Pattern    string
	Text       string
	Descriptor Descriptor
}

// Event converts the match into the caller-facing notification.
func (m Match) Event(at time.Time) domain.CommandEvent {
	return domain.CommandEvent{
		Key:      m.Key,
		Text:     m.Text,
		Pattern:  m.Pattern,
		Custom:   m.Kind == KindCustom,
		Response: m.Descriptor.Response,
		FiredAt:  at,
	}
}

// Result reports what Handle did with an utterance.
type Result struct {
	Match      Match
	Matched    bool
	Fired      bool
	Suppressed bool
}

// Matcher applies custom commands, built-in patterns, industry keywords and
// the long-form fallback in that order. Not safe for concurrent use.
type Matcher struct {
	custom     []Descriptor
	builtins   []builtinCommand
	industries []industry
	cooldown   *Cooldown
}

// NewMatcher builds a matcher over the given custom descriptors.
func NewMatcher(custom []Descriptor, cooldown *Cooldown) *Matcher {
	if cooldown == nil {
		cooldown = NewCooldown(0, 0)
	}
	return &Matcher{
		custom:     normalizeDescriptors(custom),
		builtins:   defaultBuiltins(),
		industries: defaultIndustries(),
		cooldown:   cooldown,
	}
}

// SetCustom replaces the whole custom command set.
func (m *Matcher) SetCustom(custom []Descriptor) {
	m.custom = normalizeDescriptors(custom)
}

// Custom returns a copy of the custom command set.
func (m *Matcher) Custom() []Descriptor {
	return append([]Descriptor(nil), m.custom...)
}

// ResetCooldowns forgets every recently fired key.
func (m *Matcher) ResetCooldowns() {
	m.cooldown.Reset()
}

// Match evaluates precedence only, without touching the cooldown registry.
func (m *Matcher) Match(text string) (Match, bool) {
	text = Normalize(text)
	if text == "" {
		return Match{}, false
	}

	for _, descriptor := range m.custom {
		for _, pattern := range descriptor.Patterns {
			if strings.Contains(text, pattern) {
				return Match{Kind: KindCustom, Key: descriptor.Key, Pattern: pattern, Text: text, Descriptor: descriptor}, true
			}
		}
	}

	for _, builtin := range m.builtins {
		if key, pattern, ok := builtin.match(text); ok {
			return Match{Kind: KindBuiltin, Key: key, Pattern: pattern, Text: text, Descriptor: Descriptor{Key: key}}, true
		}
	}

	for _, ind := range m.industries {
		if keyword, ok := ind.match(text); ok {
			key := KeyIndustryPrefix + ind.name
			return Match{Kind: KindIndustry, Key: key, Pattern: keyword, Text: text, Descriptor: Descriptor{Key: key}}, true
		}
	}

	if isStory(text) {
		return Match{Kind: KindStory, Key: KeyStory, Text: text, Descriptor: Descriptor{Key: KeyStory}}, true
	}

	return Match{}, false
}

// Handle matches text and applies the cooldown. A suppressed match still
// consumes the utterance.
func (m *Matcher) Handle(text string, now time.Time) Result {
	match, ok := m.Match(text)
	if !ok {
		return Result{}
	}
	if !m.cooldown.Allow(match.Key, now) {
		return Result{Match: match, Matched: true, Suppressed: true}
	}
	return Result{Match: match, Matched: true, Fired: true}
}

// Normalize lowercases and trims text and collapses inner whitespace.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func isStory(text string) bool {
	return len(strings.Fields(text)) >= storyMinWords && len(text) >= storyMinChars
}

func normalizeDescriptors(custom []Descriptor) []Descriptor {
	out := make([]Descriptor, 0, len(custom))
	for _, descriptor := range custom {
		patterns := lo.Uniq(lo.Filter(lo.Map(descriptor.Patterns, func(p string, _ int) string {
			return Normalize(p)
		}), func(p string, _ int) bool {
			return p != ""
		}))
		if len(patterns) == 0 {
			continue
		}
		if descriptor.Key == "" {
			descriptor.Key = patterns[0]
		}
		descriptor.Patterns = patterns
		out = append(out, descriptor)
	}
	return out
}

type builtinCommand struct {
	key string
	re  *regexp.Regexp
	// keyFn derives the key from submatches when set.
	keyFn func(groups []string) (string, bool)
}

func (b builtinCommand) match(text string) (string, string, bool) {
	groups := b.re.FindStringSubmatch(text)
	if groups == nil {
		return "", "", false
	}
	if b.keyFn != nil {
		key, ok := b.keyFn(groups)
		return key, groups[0], ok
	}
	return b.key, groups[0], true
}

var ordinals = map[string]string{
	"one": "1", "first": "1", "1": "1",
	"two": "2", "second": "2", "2": "2",
	"three": "3", "third": "3", "3": "3",
	"four": "4", "fourth": "4", "4": "4",
	"five": "5", "fifth": "5", "5": "5",
	"six": "6", "sixth": "6", "6": "6",
	"seven": "7", "seventh": "7", "7": "7",
	"eight": "8", "eighth": "8", "8": "8",
	"nine": "9", "ninth": "9", "9": "9",
}

func defaultBuiltins() []builtinCommand {
	return []builtinCommand{
		{key: KeyCreate, re: regexp.MustCompile(`\b(create|build|make|generate|start building)\b`)},
		{key: KeyTemplates, re: regexp.MustCompile(`\b(templates?|examples?|show me options)\b`)},
		{key: KeyHelp, re: regexp.MustCompile(`\b(help|what can (you|i) (do|say)|commands)\b`)},
		{key: KeyQuestionnaire, re: regexp.MustCompile(`\b(questionnaire|questions|guide me|walk me through|start (the )?(flow|wizard))\b`)},
		{key: KeyStop, re: regexp.MustCompile(`\b(stop|cancel|quit|stop listening|never mind|nevermind)\b`)},
		{key: KeyNext, re: regexp.MustCompile(`\b(next|continue|go on|proceed|skip)\b`)},
		{key: KeyBack, re: regexp.MustCompile(`\b(back|previous|go back|undo)\b`)},
		{
			re: regexp.MustCompile(`\b(?:option|number|choice|choose|select|pick)(?:\s+(?:option|number|choice))?\s+(\w+)\b`),
			keyFn: func(groups []string) (string, bool) {
				n, ok := ordinals[groups[1]]
				if !ok {
					return "", false
				}
				return KeyOptionPrefix + n, true
			},
		},
	}
}

type industry struct {
	name string
	re   *regexp.Regexp
}

func newIndustry(name string, keywords ...string) industry {
	quoted := lo.Map(keywords, func(k string, _ int) string { return regexp.QuoteMeta(k) })
	return industry{
		name: name,
		re:   regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)\b`),
	}
}

func (i industry) match(text string) (string, bool) {
	found := i.re.FindString(text)
	return found, found != ""
}

func defaultIndustries() []industry {
	return []industry{
		newIndustry("healthcare", "healthcare", "health", "medical", "clinic", "hospital", "doctor", "patient", "patients", "pharmacy"),
		newIndustry("finance", "finance", "financial", "bank", "banking", "fintech", "investment", "investing", "budget", "accounting"),
		newIndustry("ecommerce", "ecommerce", "e-commerce", "online store", "shop", "store", "retail", "marketplace", "shopping"),
		newIndustry("education", "education", "school", "learning", "course", "courses", "student", "students", "tutor", "teacher"),
		newIndustry("fitness", "fitness", "gym", "workout", "workouts", "exercise", "training", "yoga"),
		newIndustry("restaurant", "restaurant", "restaurants", "food", "cafe", "menu", "dining", "recipe", "delivery"),
		newIndustry("real-estate", "real estate", "real-estate", "property", "properties", "housing", "realtor", "rental", "apartment"),
		newIndustry("travel", "travel", "hotel", "flight", "flights", "trip", "booking", "tourism", "vacation"),
	}
}
