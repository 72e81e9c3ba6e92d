package systemtts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotmic/internal/domain"
)

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o700))
	return path
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("playback did not finish")
	}
}

func TestSpeakRunsESpeakWithMappedArgs(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "out.txt")
	script := writeScript(t, "espeak-ng", "#!/usr/bin/env bash\necho \"$@\" > "+out+"\ncat >> "+out+"\n")
	s := New(Config{Command: script}, zerolog.Nop())
	require.True(t, s.Available())

	playback, err := s.Speak(context.Background(), domain.Utterance{
		ID:     "u1",
		Text:   "hello there",
		Voice:  domain.Voice{ID: "en-us"},
		Rate:   1.2,
		Pitch:  1,
		Volume: 0.5,
	})
	require.NoError(t, err)
	waitDone(t, playback.Done())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "-v en-us -s 210 -p 50 -a 50", lines[0])
	assert.Equal(t, "hello there", lines[1])
}

func TestSayArgs(t *testing.T) {
	t.Parallel()

	s := &Synthesizer{engine: engineSay, wpm: 200}
	assert.Equal(t, []string{"-v", "Samantha", "-r", "200"}, s.args(domain.Utterance{Voice: domain.Voice{ID: "Samantha"}}))
	assert.Equal(t, []string{"-r", "100"}, s.args(domain.Utterance{Rate: 0.5}))
}

func TestESpeakArgsClamp(t *testing.T) {
	t.Parallel()

	s := &Synthesizer{engine: engineESpeak, wpm: baseWordsPerMinute}
	assert.Equal(t, []string{"-s", "175", "-p", "99", "-a", "200"}, s.args(domain.Utterance{Pitch: 3, Volume: 5}))
}

func TestCancelStopsPlayback(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "espeak", "#!/usr/bin/env bash\nexec sleep 5\n")
	s := New(Config{Command: script}, zerolog.Nop())

	playback, err := s.Speak(context.Background(), domain.Utterance{Text: "long speech"})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, playback.Cancel())
	waitDone(t, playback.Done())
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.NoError(t, playback.Cancel(), "cancel after finish is a no-op")
}

func TestVoicesParsesESpeak(t *testing.T) {
	t.Parallel()

	listing := `Pty Language       Age/Gender VoiceName          File                 Other Languages
 5  af              --/M      Afrikaans          gmw/af
 2  en-us           --/M      English_(America)  gmw/en-US            (en 10)
`
	script := writeScript(t, "espeak-ng", "#!/usr/bin/env bash\ncat <<'EOF'\n"+listing+"EOF\n")
	s := New(Config{Command: script}, zerolog.Nop())

	voices, err := s.Voices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Voice{
		{ID: "Afrikaans", Name: "Afrikaans", Language: "af"},
		{ID: "English_(America)", Name: "English (America)", Language: "en-us"},
	}, voices)
}

func TestParseSayVoices(t *testing.T) {
	t.Parallel()

	out := []byte(`Alex                en_US    # Most people recognize me by my voice.
Bad News            en_US    # The light you see at the end of the tunnel is the headlamp of a fast approaching train.
Amelie              fr_CA    # Bonjour, je m'appelle Amelie.
garbage line
`)
	assert.Equal(t, []domain.Voice{
		{ID: "Alex", Name: "Alex", Language: "en_US"},
		{ID: "Bad News", Name: "Bad News", Language: "en_US"},
		{ID: "Amelie", Name: "Amelie", Language: "fr_CA"},
	}, parseSayVoices(out))
}

func TestUnavailableEngine(t *testing.T) {
	t.Parallel()

	s := New(Config{Command: filepath.Join(t.TempDir(), "missing")}, zerolog.Nop())
	assert.False(t, s.Available())

	_, err := s.Speak(context.Background(), domain.Utterance{Text: "hi"})
	assert.ErrorIs(t, err, ErrNoEngine)
	_, err = s.Voices(context.Background())
	assert.ErrorIs(t, err, ErrNoEngine)
}
