package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcherBuiltinPatterns(t *testing.T) {
	t.Parallel()

	m := NewMatcher(nil, nil)
	cases := map[string]string{
		"show templates":                "templates",
		"Create a restaurant app":       "create",
		"help":                          "help",
		"what can you do":               "help",
		"start the questionnaire":       "questionnaire",
		"please stop":                   "stop",
		"cancel that":                   "stop",
		"next":                          "next",
		"continue please":               "next",
		"go back":                       "back",
		"option two":                    "option:2",
		"select 3":                      "option:3",
		"choose option two":             "option:2",
		"select number 3":               "option:3",
		"pick option 1":                 "option:1",
		"select option three":           "option:3",
		"i choose choice five":          "option:5",
		"pick the third":                "",
		"i want a healthcare dashboard": "industry:healthcare",
		"something for real estate":     "industry:real-estate",
	}

	for input, want := range cases {
		match, ok := m.Match(input)
		if want == "" {
			if ok && match.Kind == KindBuiltin {
				t.Fatalf("%q: unexpected builtin match %q", input, match.Key)
			}
			continue
		}
		require.True(t, ok, "expected %q to match", input)
		assert.Equal(t, want, match.Key, "input %q", input)
	}
}

func TestMatcherBuiltinPrecedesIndustry(t *testing.T) {
	t.Parallel()

	m := NewMatcher(nil, nil)
	match, ok := m.Match("create a restaurant app")
	require.True(t, ok)
	assert.Equal(t, KindBuiltin, match.Kind)
	assert.Equal(t, KeyCreate, match.Key)
}

func TestMatcherCustomPrecedesBuiltin(t *testing.T) {
	t.Parallel()

	m := NewMatcher([]Descriptor{{
		Key:      "deploy",
		Patterns: []string{"Ship It", "create release"},
		Response: "Deploying now",
	}}, nil)

	match, ok := m.Match("please create release notes")
	require.True(t, ok)
	assert.Equal(t, KindCustom, match.Kind)
	assert.Equal(t, "deploy", match.Key)
	assert.Equal(t, "create release", match.Pattern)

	match, ok = m.Match("ship it")
	require.True(t, ok)
	assert.Equal(t, "deploy", match.Key)
	assert.True(t, match.Event(time.Unix(0, 0)).Custom)
	assert.Equal(t, "Deploying now", match.Event(time.Unix(0, 0)).Response)
}

func TestMatcherCustomKeyDefaultsToFirstPattern(t *testing.T) {
	t.Parallel()

	m := NewMatcher([]Descriptor{{Patterns: []string{"  ", "Open Dashboard", "open dashboard"}}, {Patterns: []string{""}}}, nil)
	custom := m.Custom()
	require.Len(t, custom, 1)
	assert.Equal(t, "open dashboard", custom[0].Key)
	assert.Equal(t, []string{"open dashboard"}, custom[0].Patterns)
}

func TestMatcherStoryFallback(t *testing.T) {
	t.Parallel()

	m := NewMatcher(nil, nil)

	match, ok := m.Match("my grandmother always wanted a garden journal")
	require.True(t, ok)
	assert.Equal(t, KindStory, match.Kind)
	assert.Equal(t, KeyStory, match.Key)

	_, ok = m.Match("a tiny app idea")
	assert.False(t, ok, "fewer than 25 characters should not be a story")

	_, ok = m.Match("extraordinarily long words")
	assert.False(t, ok, "fewer than 4 words should not be a story")
}

func TestMatcherNoMatch(t *testing.T) {
	t.Parallel()

	m := NewMatcher(nil, nil)
	_, ok := m.Match("hello")
	assert.False(t, ok)
	_, ok = m.Match("   ")
	assert.False(t, ok)
}

func TestMatcherHandleAppliesCooldown(t *testing.T) {
	t.Parallel()

	m := NewMatcher(nil, NewCooldown(3*time.Second, 10*time.Second))
	start := time.Unix(100, 0)

	first := m.Handle("show templates", start)
	require.True(t, first.Fired)

	second := m.Handle("templates please", start.Add(2*time.Second))
	assert.True(t, second.Matched)
	assert.True(t, second.Suppressed)
	assert.False(t, second.Fired)

	third := m.Handle("templates", start.Add(3100*time.Millisecond))
	assert.True(t, third.Fired)

	m.ResetCooldowns()
	fourth := m.Handle("templates", start.Add(3200*time.Millisecond))
	assert.True(t, fourth.Fired)
}

func TestMatcherSuppressedMatchDoesNotFallThrough(t *testing.T) {
	t.Parallel()

	m := NewMatcher(nil, nil)
	start := time.Unix(0, 0)
	require.True(t, m.Handle("create a restaurant app", start).Fired)

	res := m.Handle("create a restaurant app", start.Add(time.Second))
	assert.True(t, res.Suppressed)
	assert.Equal(t, KeyCreate, res.Match.Key)
}

func TestMatcherSetCustomReplacesSet(t *testing.T) {
	t.Parallel()

	m := NewMatcher([]Descriptor{{Key: "a", Patterns: []string{"alpha"}}}, nil)
	m.SetCustom([]Descriptor{{Key: "b", Patterns: []string{"bravo"}}})

	_, ok := m.Match("alpha")
	assert.False(t, ok)
	match, ok := m.Match("bravo")
	require.True(t, ok)
	assert.Equal(t, "b", match.Key)
}
