package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"hotmic/internal/clock"
	"hotmic/internal/domain"
	"hotmic/internal/ports"
)

const waitFor = 2 * time.Second
const tick = 2 * time.Millisecond

type fakeStream struct {
	id       string
	live     atomic.Bool
	released atomic.Int32

	mu   sync.Mutex
	subs map[int]chan []byte
	next int
}

func newFakeStream(id string) *fakeStream {
	s := &fakeStream{id: id, subs: make(map[int]chan []byte)}
	s.live.Store(true)
	return s
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Live() bool { return s.live.Load() }

func (s *fakeStream) Subscribe(buffer int) (<-chan []byte, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan []byte, buffer)
	id := s.next
	s.next++
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
}

func (s *fakeStream) publish(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- chunk:
		default:
		}
	}
}

func (s *fakeStream) Release() error {
	s.live.Store(false)
	s.released.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	return nil
}

type fakeMedia struct {
	mu      sync.Mutex
	err     error
	streams []*fakeStream
}

func (f *fakeMedia) Acquire(_ context.Context, _ ports.AudioConfig) (ports.MediaStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	stream := newFakeStream(fmt.Sprintf("mic-%d", len(f.streams)+1))
	f.streams = append(f.streams, stream)
	return stream, nil
}

func (f *fakeMedia) acquired() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func (f *fakeMedia) stream(i int) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[i]
}

type fakeSession struct {
	events  chan domain.RecognitionEvent
	once    sync.Once
	stopped atomic.Bool
	aborted atomic.Bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan domain.RecognitionEvent, 16)}
}

func (s *fakeSession) Events() <-chan domain.RecognitionEvent { return s.events }

func (s *fakeSession) Stop() error {
	s.stopped.Store(true)
	s.end()
	return nil
}

func (s *fakeSession) Abort() error {
	s.aborted.Store(true)
	s.end()
	return nil
}

// end simulates the engine closing the session.
func (s *fakeSession) end() {
	s.once.Do(func() { close(s.events) })
}

func (s *fakeSession) closed() bool {
	return s.stopped.Load() || s.aborted.Load()
}

func (s *fakeSession) final(text string) {
	s.events <- domain.RecognitionEvent{
		Kind:      domain.RecognitionResult,
		Fragments: []domain.Fragment{{Text: text, Final: true, Confidence: 0.9}},
	}
}

func (s *fakeSession) fail(code domain.ErrorCode) {
	s.events <- domain.RecognitionEvent{Kind: domain.RecognitionError, Code: code, Message: string(code)}
}

type fakeRecognizer struct {
	mu       sync.Mutex
	calls    int
	sessions []*fakeSession
	// fail decides whether the n-th Open call (1-based) fails.
	fail func(call int) error
	gate chan struct{}
}

func (f *fakeRecognizer) Open(ctx context.Context, _ ports.MediaStream, _ ports.RecognitionConfig) (ports.RecognitionSession, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	fail := f.fail
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		if err := fail(call); err != nil {
			return nil, err
		}
	}

	session := newFakeSession()
	f.mu.Lock()
	f.sessions = append(f.sessions, session)
	f.mu.Unlock()
	return session, nil
}

func (f *fakeRecognizer) opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeRecognizer) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeRecognizer) session(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

func (f *fakeRecognizer) latest() *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[len(f.sessions)-1]
}

type fakePlayback struct {
	done      chan struct{}
	once      sync.Once
	cancelled atomic.Bool
}

func (p *fakePlayback) Done() <-chan struct{} { return p.done }

func (p *fakePlayback) Cancel() error {
	p.cancelled.Store(true)
	p.finish()
	return nil
}

func (p *fakePlayback) finish() {
	p.once.Do(func() { close(p.done) })
}

type fakeSynth struct {
	mu        sync.Mutex
	voices    []domain.Voice
	spoken    []domain.Utterance
	playbacks []*fakePlayback
	err       error
}

func (f *fakeSynth) Voices(context.Context) ([]domain.Voice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voices, nil
}

func (f *fakeSynth) Speak(_ context.Context, utterance domain.Utterance) (ports.Playback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	playback := &fakePlayback{done: make(chan struct{})}
	f.spoken = append(f.spoken, utterance)
	f.playbacks = append(f.playbacks, playback)
	return playback, nil
}

func (f *fakeSynth) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.spoken))
	for _, u := range f.spoken {
		out = append(out, u.Text)
	}
	return out
}

func (f *fakeSynth) playback(i int) *fakePlayback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playbacks[i]
}

type fakePermissions struct {
	mu       sync.Mutex
	state    domain.PermissionState
	grant    domain.PermissionState
	queries  int
	requests int
	watchers []func(domain.PermissionState)
}

func newFakePermissions(state domain.PermissionState) *fakePermissions {
	return &fakePermissions{state: state, grant: domain.PermissionGranted}
}

func (f *fakePermissions) Query(context.Context) (domain.PermissionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	return f.state, nil
}

func (f *fakePermissions) Request(context.Context) (domain.PermissionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	f.state = f.grant
	return f.state, nil
}

func (f *fakePermissions) Watch(fn func(domain.PermissionState)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchers = append(f.watchers, fn)
	return func() {}
}

func (f *fakePermissions) set(state domain.PermissionState) {
	f.mu.Lock()
	f.state = state
	watchers := append([]func(domain.PermissionState){}, f.watchers...)
	f.mu.Unlock()
	for _, fn := range watchers {
		fn(state)
	}
}

func (f *fakePermissions) counts() (queries, requests int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries, f.requests
}

type fakeCaps struct {
	recognition bool
	synthesis   bool
}

func (f fakeCaps) RecognitionSupported() bool { return f.recognition }
func (f fakeCaps) SynthesisSupported() bool   { return f.synthesis }

type stateEvent struct {
	phase  domain.Phase
	reason domain.StateReason
}

type recordingSink struct {
	mu        sync.Mutex
	states    []stateEvent
	listening []bool
	speaking  []bool
	wakes     []string
	commands  []domain.CommandEvent
	errors    []domain.SessionError
	final     string
}

func (r *recordingSink) StateChanged(phase domain.Phase, reason domain.StateReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, stateEvent{phase: phase, reason: reason})
}

func (r *recordingSink) ListeningChanged(listening bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listening = append(r.listening, listening)
}

func (r *recordingSink) SpeakingChanged(speaking bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speaking = append(r.speaking, speaking)
}

func (r *recordingSink) TranscriptChanged(final, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.final = final
}

func (r *recordingSink) WakeWordDetected(phrase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wakes = append(r.wakes, phrase)
}

func (r *recordingSink) CommandFired(event domain.CommandEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, event)
}

func (r *recordingSink) SessionError(err domain.SessionError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *recordingSink) commandKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.commands))
	for _, c := range r.commands {
		keys = append(keys, c.Key)
	}
	return keys
}

func (r *recordingSink) wakeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.wakes)
}

func (r *recordingSink) sessionErrors() []domain.SessionError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.SessionError(nil), r.errors...)
}

func (r *recordingSink) stateEvents() []stateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]stateEvent(nil), r.states...)
}

func (r *recordingSink) listeningEvents() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.listening...)
}

type harness struct {
	t          *testing.T
	ctrl       *SessionController
	clock      *clock.Fake
	media      *fakeMedia
	recognizer *fakeRecognizer
	synth      *fakeSynth
	perms      *fakePermissions
	sink       *recordingSink
}

func testConfig() Config {
	return Config{
		Language:       "en-US",
		Continuous:     true,
		AutoRestart:    true,
		InterimResults: true,
		Personality:    domain.PersonalityFriendly,
	}
}

func newHarness(t *testing.T, cfg Config, setup ...func(*harness, *Dependencies)) *harness {
	t.Helper()

	h := &harness{
		t:          t,
		clock:      clock.NewFake(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)),
		media:      &fakeMedia{},
		recognizer: &fakeRecognizer{},
		synth:      &fakeSynth{},
		perms:      newFakePermissions(domain.PermissionGranted),
		sink:       &recordingSink{},
	}
	deps := Dependencies{
		Media:        h.media,
		Recognizer:   h.recognizer,
		Synthesizer:  h.synth,
		Permissions:  h.perms,
		Capabilities: fakeCaps{recognition: true, synthesis: true},
		Events:       h.sink,
		Clock:        h.clock,
		Logger:       zerolog.Nop(),
	}
	for _, fn := range setup {
		fn(h, &deps)
	}

	h.ctrl = NewSessionController(cfg, deps)
	t.Cleanup(func() { _ = h.ctrl.Close() })
	return h
}

func (h *harness) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	h.t.Cleanup(cancel)
	return ctx
}

func (h *harness) start() {
	h.t.Helper()
	require.NoError(h.t, h.ctrl.Start(h.ctx()))
	require.Equal(h.t, domain.PhaseListening, h.ctrl.Status().Phase)
}

// hear delivers a finalized fragment on the current session and waits until
// the controller has processed it.
func (h *harness) hear(text string) {
	h.t.Helper()
	before := strings.Count(h.ctrl.Status().Transcript, text)
	h.recognizer.latest().final(text)
	require.Eventually(h.t, func() bool {
		return strings.Count(h.ctrl.Status().Transcript, text) > before
	}, waitFor, tick)
}

func (h *harness) waitPhase(phase domain.Phase) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.ctrl.Status().Phase == phase
	}, waitFor, tick, "expected phase %s", phase)
}

// advance moves the fake clock and waits for the timer callbacks it fired to
// run on the control loop.
func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	h.clock.Advance(d)
	h.ctrl.Status()
}
