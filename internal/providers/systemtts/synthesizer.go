// Package systemtts speaks through the platform speech command: macOS `say`
// or `espeak-ng` / `espeak` elsewhere.
package systemtts

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"hotmic/internal/domain"
	"hotmic/internal/ports"
)

const baseWordsPerMinute = 175

// ErrNoEngine is returned when no speech command could be found.
var ErrNoEngine = errors.New("no speech synthesis command available")

var candidates = []string{"say", "espeak-ng", "espeak"}

type engine int

const (
	engineSay engine = iota
	engineESpeak
)

// Config selects the speech command. An empty Command picks the first
// available candidate on PATH.
type Config struct {
	Command string
	// WordsPerMinute is the rate used for Rate == 1.
	WordsPerMinute int
}

// Synthesizer implements ports.Synthesizer by running one speech process
// per utterance.
type Synthesizer struct {
	path   string
	engine engine
	wpm    int
	logger zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Synthesizer {
	s := &Synthesizer{
		wpm:    cfg.WordsPerMinute,
		logger: logger.With().Str("component", "tts").Logger(),
	}
	if s.wpm <= 0 {
		s.wpm = baseWordsPerMinute
	}
	s.path = resolve(cfg.Command)
	s.engine = engineFor(s.path)
	return s
}

func resolve(command string) string {
	if command != "" {
		if path, err := exec.LookPath(command); err == nil {
			return path
		}
		return ""
	}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

func engineFor(path string) engine {
	if filepath.Base(path) == "say" {
		return engineSay
	}
	return engineESpeak
}

// Available reports whether a speech command was found.
func (s *Synthesizer) Available() bool {
	return s.path != ""
}

func (s *Synthesizer) Voices(ctx context.Context) ([]domain.Voice, error) {
	if !s.Available() {
		return nil, ErrNoEngine
	}
	var args []string
	if s.engine == engineSay {
		args = []string{"-v", "?"}
	} else {
		args = []string{"--voices"}
	}
	out, err := exec.CommandContext(ctx, s.path, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	if s.engine == engineSay {
		return parseSayVoices(out), nil
	}
	return parseESpeakVoices(out), nil
}

func (s *Synthesizer) Speak(ctx context.Context, utterance domain.Utterance) (ports.Playback, error) {
	if !s.Available() {
		return nil, ErrNoEngine
	}

	cmd := exec.CommandContext(ctx, s.path, s.args(utterance)...)
	cmd.Stdin = strings.NewReader(utterance.Text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start speech command: %w", err)
	}

	p := &playback{cmd: cmd, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		if err := cmd.Wait(); err != nil && !p.cancelled() {
			s.logger.Warn().Err(err).Str("utterance", utterance.ID).Str("stderr", strings.TrimSpace(stderr.String())).Msg("speech command failed")
		}
	}()
	return p, nil
}

func (s *Synthesizer) args(u domain.Utterance) []string {
	rate := u.Rate
	if rate <= 0 {
		rate = 1
	}
	wpm := strconv.Itoa(int(math.Round(float64(s.wpm) * rate)))

	if s.engine == engineSay {
		args := []string{"-r", wpm}
		if u.Voice.ID != "" {
			args = append([]string{"-v", u.Voice.ID}, args...)
		}
		return args
	}

	pitch := u.Pitch
	if pitch <= 0 {
		pitch = 1
	}
	volume := u.Volume
	if volume < 0 {
		volume = 0
	}
	args := []string{
		"-s", wpm,
		"-p", strconv.Itoa(clamp(int(math.Round(50*pitch)), 0, 99)),
		"-a", strconv.Itoa(clamp(int(math.Round(100*volume)), 0, 200)),
	}
	if u.Voice.ID != "" {
		args = append([]string{"-v", u.Voice.ID}, args...)
	}
	return args
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

type playback struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu     sync.Mutex
	killed bool
}

func (p *playback) Done() <-chan struct{} { return p.done }

func (p *playback) Cancel() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil {
		select {
		case <-p.done:
			return nil
		default:
			return err
		}
	}
	return nil
}

func (p *playback) cancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// say -v '?' lines look like: "Samantha            en_US    # Hello, my name is Samantha."
var sayVoiceLine = regexp.MustCompile(`^(.+?)\s+([a-z]{2,3}[_-][A-Za-z0-9]+)\s+#`)

func parseSayVoices(out []byte) []domain.Voice {
	var voices []domain.Voice
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		m := sayVoiceLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		voices = append(voices, domain.Voice{ID: name, Name: name, Language: m[2]})
	}
	return voices
}

// espeak --voices prints a header then: "Pty Language Age/Gender VoiceName File Other".
func parseESpeakVoices(out []byte) []domain.Voice {
	var voices []domain.Voice
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[0] == "Pty" {
			continue
		}
		voices = append(voices, domain.Voice{
			ID:       fields[3],
			Name:     strings.ReplaceAll(fields[3], "_", " "),
			Language: fields[1],
		})
	}
	return voices
}
