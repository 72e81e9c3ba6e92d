package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hotmic/internal/clock"
	"hotmic/internal/command"
	"hotmic/internal/domain"
	"hotmic/internal/metrics"
	"hotmic/internal/persona"
	"hotmic/internal/ports"
)

var (
	ErrUnsupported      = errors.New("voice control is not supported in this environment")
	ErrPermissionDenied = ports.ErrPermissionDenied
	ErrRestartExhausted = errors.New("recognition session could not be restarted")
	ErrStopped          = errors.New("voice control stopped")
	ErrPaused           = errors.New("voice control paused")
	ErrControllerClosed = errors.New("controller closed")
)

// Config controls the continuous voice session.
type Config struct {
	WakeWord       string
	Language       string
	Continuous     bool
	AutoRestart    bool
	InterimResults bool
	SpeakResponses bool
	Personality    domain.Personality
	Commands       []command.Descriptor
	Audio          ports.AudioConfig
	Speech         SpeechConfig
	Timing         Timing
}

// Dependencies are the environment capabilities the controller drives.
// Rules, Events, Clock and Metrics are optional.
type Dependencies struct {
	Media        ports.MediaSource
	Recognizer   ports.Recognizer
	Synthesizer  ports.Synthesizer
	Permissions  ports.PermissionQuery
	Capabilities ports.CapabilityProbe
	Rules        ports.RulesEngine
	Events       ports.EventSink
	Clock        clock.Clock
	Logger       zerolog.Logger
	Metrics      *metrics.Recorder
}

// SessionController keeps a microphone-driven recognition session alive,
// turns finalized speech into commands and speaks replies.
//
// Every state change happens on one control loop goroutine that runs posted
// events to completion, one at a time. Blocking work such as permission
// queries, stream acquisition and opening sessions runs off the loop and
// posts its result back. EventSink calls and command actions are delivered
// in order from a separate goroutine, so they may call back into the
// controller.
type SessionController struct {
	cfg         Config
	media       ports.MediaSource
	recognizer  ports.Recognizer
	synth       ports.Synthesizer
	permissions ports.PermissionQuery
	events      ports.EventSink
	clock       clock.Clock
	logger      zerolog.Logger
	metrics     *metrics.Recorder
	phrases     persona.Phrases
	caps        Capabilities

	ctx    context.Context
	cancel context.CancelFunc

	inbox        *mailbox
	outbox       *mailbox
	loopQuit     chan struct{}
	loopDone     chan struct{}
	dispatchQuit chan struct{}
	dispatchDone chan struct{}
	closeOnce    sync.Once

	level *levelMonitor

	// Owned by the control loop.
	state        sessionState
	transition   *transition
	waiters      []chan<- error
	restartTimer timerSlot
	wakeTimer    timerSlot
	matcher      *command.Matcher
	transcript   *transcriptProcessor
	speech       *speechOutput
	permission   domain.PermissionState
	requerying   bool
	lastErr      *domain.SessionError
	unwatch      func()
	closed       bool
	final        domain.Status
}

func NewSessionController(cfg Config, deps Dependencies) *SessionController {
	cfg.Timing = cfg.Timing.withDefaults()
	cfg.WakeWord = command.Normalize(cfg.WakeWord)
	if !cfg.Personality.Valid() {
		cfg.Personality = domain.PersonalityFriendly
	}
	if cfg.Speech.VoiceHints == nil {
		cfg.Speech.VoiceHints = DefaultVoiceHints
	}
	if deps.Events == nil {
		deps.Events = nopSink{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &SessionController{
		cfg:          cfg,
		media:        deps.Media,
		recognizer:   deps.Recognizer,
		synth:        deps.Synthesizer,
		permissions:  deps.Permissions,
		events:       deps.Events,
		clock:        deps.Clock,
		logger:       deps.Logger.With().Str("component", "session").Logger(),
		metrics:      deps.Metrics,
		phrases:      persona.For(cfg.Personality),
		caps:         DetectCapabilities(deps.Capabilities),
		ctx:          ctx,
		cancel:       cancel,
		inbox:        newMailbox(),
		outbox:       newMailbox(),
		loopQuit:     make(chan struct{}),
		loopDone:     make(chan struct{}),
		dispatchQuit: make(chan struct{}),
		dispatchDone: make(chan struct{}),
		level:        newLevelMonitor(deps.Metrics),
		state:        sessionState{phase: domain.PhaseIdle},
		permission:   domain.PermissionUnknown,
	}
	c.matcher = command.NewMatcher(cfg.Commands, command.NewCooldown(cfg.Timing.CooldownSuppress, cfg.Timing.CooldownExpire))
	c.transcript = newTranscriptProcessor(deps.Rules, c, cfg.Timing.Debounce, c.logger)
	c.speech = &speechOutput{
		synth:      deps.Synthesizer,
		clock:      c.clock,
		post:       c.inbox.post,
		cfg:        cfg.Speech,
		language:   cfg.Language,
		window:     cfg.Timing.SpeakWindow,
		echoWindow: cfg.Timing.EchoWindow,
		logger:     c.logger,
		onSpeaking: func(speaking bool) {
			c.emit(func(sink ports.EventSink) { sink.SpeakingChanged(speaking) })
		},
	}

	go func() {
		defer close(c.loopDone)
		c.inbox.run(c.loopQuit)
	}()
	go func() {
		defer close(c.dispatchDone)
		c.outbox.run(c.dispatchQuit)
	}()

	c.inbox.post(c.initialize)
	return c
}

// Start acquires or reuses the microphone stream and opens a recognition
// session. It returns once the session is listening or the attempt failed.
// Calls made while a start, resume or restart is in flight wait for that
// attempt instead of starting another.
func (c *SessionController) Start(ctx context.Context) error {
	return c.await(ctx, c.start)
}

// Stop ends the session. The microphone stream is released unless
// keepStreamAlive is set.
func (c *SessionController) Stop(keepStreamAlive bool) error {
	return c.call(func() error {
		c.stop(keepStreamAlive, domain.ReasonStopRequested)
		return nil
	})
}

// Pause closes the recognition session but keeps the microphone stream so
// Resume does not need permission again.
func (c *SessionController) Pause() error {
	return c.call(c.pause)
}

// Resume reopens recognition on the kept stream, falling back to a full
// start when that fails.
func (c *SessionController) Resume(ctx context.Context) error {
	return c.await(ctx, c.resume)
}

// Toggle stops an active session or starts an inactive one.
func (c *SessionController) Toggle(ctx context.Context) error {
	return c.await(ctx, func(wait chan<- error) error {
		if c.state.active && !c.state.paused {
			c.stop(false, domain.ReasonStopRequested)
			wait <- nil
			return nil
		}
		return c.start(wait)
	})
}

// ActivateDirectly arms command input without the wake phrase, greets the
// user and starts listening.
func (c *SessionController) ActivateDirectly(ctx context.Context) error {
	return c.await(ctx, func(wait chan<- error) error {
		if err := c.absorbingErr(); err != nil {
			return err
		}
		c.armWakeWord(false)
		c.say(c.phrases.Greeting)
		return c.start(wait)
	})
}

// Speak says text subject to the output window. It reports whether the
// utterance started.
func (c *SessionController) Speak(text string, opts SpeakOptions) (bool, error) {
	var spoken bool
	err := c.call(func() error {
		if !c.caps.Synthesis || c.synth == nil {
			return ErrUnsupported
		}
		var err error
		spoken, err = c.speech.Speak(c.ctx, text, opts)
		c.recordSpeech(spoken, err)
		return err
	})
	return spoken, err
}

// StopSpeaking cancels the current utterance. It is not an error when nothing
// is playing.
func (c *SessionController) StopSpeaking() error {
	return c.call(func() error {
		c.speech.Stop()
		return nil
	})
}

// RequestPermission prompts for microphone access. A grant moves a denied
// controller back to idle; it never starts listening by itself.
func (c *SessionController) RequestPermission(ctx context.Context) (domain.PermissionState, error) {
	if c.permissions == nil {
		return domain.PermissionGranted, nil
	}
	state, err := c.permissions.Request(ctx)
	if err != nil {
		return domain.PermissionUnknown, fmt.Errorf("request microphone permission: %w", err)
	}
	if err := c.call(func() error {
		c.permissionChanged(state, true)
		return nil
	}); err != nil {
		return state, err
	}
	return state, nil
}

func (c *SessionController) ClearTranscript() error {
	return c.call(func() error {
		c.transcript.ClearDisplay()
		c.emit(func(sink ports.EventSink) { sink.TranscriptChanged("", "") })
		return nil
	})
}

// ReplaceCommands swaps the whole custom command set.
func (c *SessionController) ReplaceCommands(commands []command.Descriptor) error {
	return c.call(func() error {
		c.matcher.SetCustom(commands)
		c.logger.Info().Int("commands", len(commands)).Msg("custom commands replaced")
		return nil
	})
}

// Status returns a snapshot of the controller.
func (c *SessionController) Status() domain.Status {
	var status domain.Status
	if err := c.call(func() error {
		status = c.snapshot()
		return nil
	}); err != nil {
		<-c.loopDone
		return c.final
	}
	return status
}

// Close stops the session, releases every resource and shuts the controller
// down. It must not be called from an EventSink callback.
func (c *SessionController) Close() error {
	c.closeOnce.Do(func() {
		_ = c.call(func() error {
			c.shutdown()
			return nil
		})
		close(c.loopQuit)
		<-c.loopDone
		c.cancel()
		// The loop has exited, so leftovers run here with the same single-writer guarantee.
		for _, fn := range c.inbox.close() {
			fn()
		}
		close(c.dispatchQuit)
		<-c.dispatchDone
		for _, fn := range c.outbox.close() {
			fn()
		}
	})
	return nil
}

// call runs fn on the control loop and returns its result.
func (c *SessionController) call(fn func() error) error {
	reply := make(chan error, 1)
	if !c.inbox.post(func() {
		if c.closed {
			reply <- ErrControllerClosed
			return
		}
		reply <- fn()
	}) {
		return ErrControllerClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.loopDone:
		return ErrControllerClosed
	}
}

// await runs fn on the control loop and then waits for the outcome fn
// delivers on wait. fn must either return an error or eventually send
// exactly one value on wait.
func (c *SessionController) await(ctx context.Context, fn func(wait chan<- error) error) error {
	wait := make(chan error, 1)
	if err := c.call(func() error { return fn(wait) }); err != nil {
		return err
	}
	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.loopDone:
		return ErrControllerClosed
	}
}

func (c *SessionController) emit(fn func(ports.EventSink)) {
	c.outbox.post(func() { fn(c.events) })
}

// arm schedules fn on the control loop after d, replacing slot's timer.
func (c *SessionController) arm(slot *timerSlot, d time.Duration, fn func()) {
	c.disarm(slot)
	seq := slot.seq
	slot.timer = c.clock.AfterFunc(d, func() {
		c.inbox.post(func() {
			if slot.seq != seq {
				return
			}
			slot.timer = nil
			fn()
		})
	})
}

func (c *SessionController) disarm(slot *timerSlot) {
	slot.seq++
	if slot.timer != nil {
		slot.timer.Stop()
		slot.timer = nil
	}
}

func (c *SessionController) initialize() {
	if !c.caps.Supported() {
		c.enterUnsupported(c.caps.sessionError())
		return
	}

	if c.synth != nil {
		go func() {
			voices, err := c.synth.Voices(c.ctx)
			if err != nil {
				c.logger.Debug().Err(err).Msg("list voices")
				return
			}
			c.inbox.post(func() { c.speech.SetVoices(voices) })
		}()
	}

	if c.permissions == nil {
		c.permission = domain.PermissionGranted
		return
	}
	c.unwatch = c.permissions.Watch(func(state domain.PermissionState) {
		c.inbox.post(func() { c.permissionChanged(state, false) })
	})
	go func() {
		state, err := c.permissions.Query(c.ctx)
		if err != nil {
			c.logger.Debug().Err(err).Msg("query microphone permission")
			return
		}
		c.inbox.post(func() { c.permissionChanged(state, false) })
	}()
}

func (c *SessionController) start(wait chan<- error) error {
	switch c.state.phase {
	case domain.PhaseUnsupported:
		return ErrUnsupported
	case domain.PhaseDenied:
		c.waiters = append(c.waiters, wait)
		c.requeryPermission()
		return nil
	case domain.PhaseListening:
		wait <- nil
		return nil
	case domain.PhaseStarting, domain.PhaseRestarting:
		c.waiters = append(c.waiters, wait)
		return nil
	case domain.PhasePaused:
		return c.resume(wait)
	}

	c.waiters = append(c.waiters, wait)
	c.beginStart()
	return nil
}

func (c *SessionController) beginStart() {
	c.state.active = true
	c.state.paused = false
	c.state.attempts = 0
	c.lastErr = nil
	c.setPhase(domain.PhaseStarting, domain.ReasonStartRequested)
	c.launch(transitionStart, false)
}

func (c *SessionController) resume(wait chan<- error) error {
	switch c.state.phase {
	case domain.PhasePaused:
	case domain.PhaseUnsupported, domain.PhaseDenied:
		return c.absorbingErr()
	case domain.PhaseListening:
		wait <- nil
		return nil
	case domain.PhaseStarting, domain.PhaseRestarting:
		c.waiters = append(c.waiters, wait)
		return nil
	default:
		return c.start(wait)
	}

	c.waiters = append(c.waiters, wait)
	c.state.active = true
	c.state.paused = false
	c.state.attempts = 0
	c.armWakeWord(false)
	c.setPhase(domain.PhaseStarting, domain.ReasonResumed)
	c.launch(transitionResume, false)
	return nil
}

func (c *SessionController) pause() error {
	switch c.state.phase {
	case domain.PhaseUnsupported, domain.PhaseDenied:
		return c.absorbingErr()
	case domain.PhasePaused, domain.PhaseIdle, domain.PhaseStopped:
		return nil
	}

	c.state.gen++
	c.transition = nil
	c.disarm(&c.restartTimer)
	c.disarm(&c.wakeTimer)
	c.closeSession(true)
	c.transcript.CancelPending()
	c.state.paused = true
	c.setPhase(domain.PhasePaused, domain.ReasonPaused)
	c.resolve(ErrPaused)
	return nil
}

func (c *SessionController) stop(keepStream bool, reason domain.StateReason) {
	c.halt(keepStream)
	c.disarm(&c.wakeTimer)
	c.state.wakeWordArmed = false
	c.state.attempts = 0
	c.matcher.ResetCooldowns()
	c.transcript.Reset()
	if !c.state.phase.Absorbing() {
		c.setPhase(domain.PhaseStopped, reason)
	}
	c.resolve(ErrStopped)
}

// halt invalidates every in-flight transition and timer and closes the
// recognition session.
func (c *SessionController) halt(keepStream bool) {
	c.state.gen++
	c.transition = nil
	c.requerying = false
	c.disarm(&c.restartTimer)
	c.closeSession(true)
	c.transcript.CancelPending()
	c.state.active = false
	c.state.paused = false
	if !keepStream {
		c.releaseStream()
	}
}

// fail stops the session and reports a terminal error.
func (c *SessionController) fail(reason domain.StateReason, sessionErr domain.SessionError, err error) {
	c.resolve(err)
	c.stop(false, reason)
	c.report(sessionErr)
}

func (c *SessionController) enterDenied(sessionErr domain.SessionError) {
	c.permission = domain.PermissionDenied
	if c.state.phase == domain.PhaseDenied || c.state.phase == domain.PhaseUnsupported {
		c.resolve(ErrPermissionDenied)
		return
	}
	c.halt(false)
	c.disarm(&c.wakeTimer)
	c.state.wakeWordArmed = false
	c.setPhase(domain.PhaseDenied, domain.ReasonPermissionDenied)
	c.report(sessionErr)
	c.resolve(ErrPermissionDenied)
}

func (c *SessionController) enterUnsupported(sessionErr domain.SessionError) {
	if c.state.phase == domain.PhaseUnsupported {
		return
	}
	c.halt(false)
	c.setPhase(domain.PhaseUnsupported, domain.ReasonCapabilityMissing)
	c.report(sessionErr)
	c.resolve(ErrUnsupported)
}

func (c *SessionController) absorbingErr() error {
	switch c.state.phase {
	case domain.PhaseUnsupported:
		return ErrUnsupported
	case domain.PhaseDenied:
		return ErrPermissionDenied
	default:
		return nil
	}
}

// launch closes the current recognition session and opens a new one off the
// loop. The stream is reused when it is still live unless fresh is set.
func (c *SessionController) launch(kind transitionKind, fresh bool) {
	c.closeSession(false)
	c.state.gen++
	t := &transition{kind: kind, gen: c.state.gen}
	c.transition = t

	stream := c.state.stream
	if fresh || stream == nil || !stream.Live() {
		stream = nil
	}
	c.logger.Debug().Str("transition", string(kind)).Bool("reuse_stream", stream != nil).Msg("opening recognition session")

	go func() {
		res := c.open(stream)
		if !c.inbox.post(func() { c.opened(t, res) }) {
			res.discard()
		}
	}()
}

// open runs off the loop.
func (c *SessionController) open(stream ports.MediaStream) openResult {
	var res openResult
	if stream == nil {
		if c.permissions != nil {
			state, err := c.permissions.Query(c.ctx)
			if err == nil {
				res.permission = state
				if state == domain.PermissionDenied {
					res.err = ErrPermissionDenied
					return res
				}
			}
		}
		acquired, err := c.media.Acquire(c.ctx, c.cfg.Audio)
		if err != nil {
			res.err = fmt.Errorf("acquire microphone: %w", err)
			return res
		}
		stream = acquired
		res.acquired = true
	}
	res.stream = stream

	session, err := c.recognizer.Open(c.ctx, stream, c.recognitionConfig())
	if err != nil {
		res.err = fmt.Errorf("open recognition session: %w", err)
		return res
	}
	res.session = session
	return res
}

func (c *SessionController) opened(t *transition, res openResult) {
	if c.transition != t || t.gen != c.state.gen {
		if res.session != nil {
			_ = res.session.Abort()
		}
		if res.acquired {
			if c.state.paused && c.state.stream == nil && res.stream.Live() {
				c.adoptStream(res.stream)
			} else {
				_ = res.stream.Release()
			}
		}
		return
	}
	c.transition = nil

	if res.permission != "" {
		c.permission = res.permission
	}
	if res.acquired {
		c.adoptStream(res.stream)
	}
	if res.err != nil {
		c.openFailed(t, res.err)
		return
	}
	if res.permission == "" && res.acquired {
		c.permission = domain.PermissionGranted
	}

	session := &recognitionSession{id: uuid.NewString(), engine: res.session}
	c.state.session = session
	go c.forward(session)

	c.metrics.SessionOpened()
	c.logger.Info().Str("session", session.id).Str("transition", string(t.kind)).Msg("recognition session open")
	c.setPhase(domain.PhaseListening, t.kind.openedReason())
	c.resolve(nil)
}

func (c *SessionController) openFailed(t *transition, err error) {
	if errors.Is(err, ErrPermissionDenied) {
		c.enterDenied(permissionError(domain.ErrorCodeNotAllowed, err.Error()))
		return
	}

	c.logger.Warn().Err(err).Str("transition", string(t.kind)).Msg("recognition session failed to open")
	switch t.kind {
	case transitionRestart:
		c.scheduleRestart(domain.ReasonSessionEnded)
	case transitionResume:
		c.setPhase(domain.PhaseStarting, domain.ReasonStartRequested)
		c.launch(transitionStart, true)
	default:
		c.fail(domain.ReasonStartFailed, domain.SessionError{
			Kind:    domain.ErrorKindUnknown,
			Code:    domain.ErrorCodeStartFailed,
			Message: err.Error(),
		}, err)
	}
}

// scheduleRestart applies the retry policy after a session ended or failed
// to reopen.
func (c *SessionController) scheduleRestart(reason domain.StateReason) {
	attempt := c.state.attempts + 1
	delay, ok := c.cfg.Timing.Restart.Delay(attempt)
	if !ok {
		c.metrics.RestartExhausted()
		c.logger.Error().Int("attempts", c.state.attempts).Msg("restart attempts exhausted")
		c.fail(domain.ReasonRestartExhausted, domain.SessionError{
			Kind:    domain.ErrorKindUnknown,
			Code:    domain.ErrorCodeRestartExhausted,
			Message: fmt.Sprintf("speech recognition stopped after %d restart attempts", c.state.attempts),
			Remedy:  "Check the microphone and network connection, then start listening again.",
		}, ErrRestartExhausted)
		return
	}

	c.state.attempts = attempt
	c.metrics.RestartAttempted()
	c.setPhase(domain.PhaseRestarting, reason)
	c.logger.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("restart scheduled")
	c.arm(&c.restartTimer, delay, func() {
		if !c.state.active || c.state.paused {
			return
		}
		c.launch(transitionRestart, false)
	})
}

func (c *SessionController) forceRestart() {
	c.disarm(&c.restartTimer)
	c.setPhase(domain.PhaseRestarting, domain.ReasonNoSpeech)
	c.launch(transitionRestart, false)
}

// forward relays engine events to the loop and reports the end of the
// session once its channel closes.
func (c *SessionController) forward(session *recognitionSession) {
	for event := range session.engine.Events() {
		event := event
		if !c.inbox.post(func() { c.recognitionEvent(session, event) }) {
			return
		}
	}
	c.inbox.post(func() { c.sessionEnded(session) })
}

func (c *SessionController) recognitionEvent(session *recognitionSession, event domain.RecognitionEvent) {
	if c.state.session != session {
		return
	}
	switch event.Kind {
	case domain.RecognitionResult:
		if !session.sawResult {
			session.sawResult = true
			c.state.attempts = 0
		}
		c.handleResult(event.Fragments)
	case domain.RecognitionError:
		c.handleRecognitionError(event)
	}
}

func (c *SessionController) sessionEnded(session *recognitionSession) {
	if c.state.session != session {
		return
	}
	c.state.session = nil
	session.closed = true
	if !c.state.active || c.state.paused {
		return
	}
	if !c.cfg.AutoRestart {
		c.logger.Info().Str("session", session.id).Msg("recognition session ended")
		c.stop(false, domain.ReasonSessionEnded)
		return
	}
	c.logger.Debug().Str("session", session.id).Msg("recognition session ended while active")
	c.scheduleRestart(domain.ReasonSessionEnded)
}

func (c *SessionController) handleRecognitionError(event domain.RecognitionEvent) {
	code := event.Code
	if code == "" {
		code = domain.ErrorCodeOther
	}
	kind := code.Kind()
	c.metrics.RecognitionError(string(kind))

	switch kind {
	case domain.ErrorKindPermissionDenied:
		c.enterDenied(permissionError(code, event.Message))
	case domain.ErrorKindUnsupported:
		c.enterUnsupported(domain.SessionError{Kind: kind, Code: code, Message: event.Message})
	case domain.ErrorKindRecoverable:
		c.logger.Debug().Str("code", string(code)).Str("message", event.Message).Msg("recoverable recognition error")
		if !c.cfg.AutoRestart {
			c.report(domain.SessionError{Kind: kind, Code: code, Message: event.Message})
			return
		}
		if code == domain.ErrorCodeNoSpeech && c.state.active && !c.state.paused {
			c.forceRestart()
		}
	default:
		c.logger.Warn().Str("code", string(code)).Str("message", event.Message).Msg("unknown recognition error")
	}
}

func (c *SessionController) handleResult(fragments []domain.Fragment) {
	finals := c.transcript.Ingest(fragments)
	final, interim := c.transcript.final, c.transcript.interim
	c.emit(func(sink ports.EventSink) { sink.TranscriptChanged(final, interim) })

	now := c.clock.Now()
	for _, text := range finals {
		if c.speech.Echoing(now) {
			c.metrics.CommandSuppressed("echo")
			continue
		}
		normalized, ok := c.transcript.Accept(text)
		if !ok {
			c.metrics.CommandSuppressed("duplicate")
			continue
		}
		c.handleFragment(normalized)
	}
}

func (c *SessionController) handleFragment(text string) {
	remainder := text
	if c.cfg.WakeWord != "" {
		stripped, found := stripPhrase(text, c.cfg.WakeWord)
		switch {
		case found:
			remainder = stripped
			if !c.state.wakeWordArmed {
				c.armWakeWord(true)
			}
		case !c.state.wakeWordArmed:
			return
		}
	}

	if len(remainder) < minCommandChars {
		if remainder != "" {
			c.metrics.CommandSuppressed("noise")
		}
		return
	}
	c.transcript.Hold(remainder, c.dispatchCommand)
}

// armWakeWord enables command input and restarts the inactivity timer. When
// announce is set the caller is notified and greeted.
func (c *SessionController) armWakeWord(announce bool) {
	c.state.wakeWordArmed = true
	c.touchWakeWord()
	if !announce {
		return
	}
	phrase := c.cfg.WakeWord
	c.logger.Info().Str("phrase", phrase).Msg("wake word detected")
	c.emit(func(sink ports.EventSink) { sink.WakeWordDetected(phrase) })
	if c.cfg.SpeakResponses {
		c.say(c.phrases.Greeting)
	}
}

func (c *SessionController) touchWakeWord() {
	if c.cfg.WakeWord == "" {
		return
	}
	c.arm(&c.wakeTimer, c.cfg.Timing.WakeTimeout, func() {
		c.state.wakeWordArmed = false
		c.logger.Debug().Msg("wake word expired")
		if c.cfg.SpeakResponses {
			c.say(c.phrases.Goodbye)
		}
	})
}

func (c *SessionController) dispatchCommand(text string) {
	now := c.clock.Now()
	result := c.matcher.Handle(text, now)
	if !result.Matched {
		c.logger.Debug().Str("text", text).Msg("no command matched")
		return
	}
	if result.Suppressed {
		c.metrics.CommandSuppressed("cooldown")
		c.logger.Debug().Str("key", result.Match.Key).Msg("command suppressed by cooldown")
		return
	}

	c.touchWakeWord()
	match := result.Match
	event := match.Event(now)
	action := match.Descriptor.Action
	c.metrics.CommandFired(string(match.Kind))
	c.logger.Info().Str("key", event.Key).Str("kind", string(match.Kind)).Msg("command fired")
	c.emit(func(sink ports.EventSink) {
		sink.CommandFired(event)
		if action != nil {
			action(event)
		}
	})

	if c.cfg.SpeakResponses {
		c.say(c.replyFor(match))
	}
	if match.Kind == command.KindBuiltin && match.Key == command.KeyStop {
		c.stop(false, domain.ReasonStopCommand)
	}
}

func (c *SessionController) replyFor(match command.Match) string {
	switch match.Kind {
	case command.KindCustom:
		return match.Descriptor.Response
	case command.KindStory:
		return ""
	case command.KindBuiltin:
		switch match.Key {
		case command.KeyHelp:
			return c.phrases.Help
		case command.KeyStop:
			return c.phrases.Goodbye
		}
	}
	return c.phrases.Acknowledgement
}

func (c *SessionController) say(text string) {
	if text == "" || !c.caps.Synthesis || c.synth == nil {
		return
	}
	spoken, err := c.speech.Speak(c.ctx, text, SpeakOptions{})
	c.recordSpeech(spoken, err)
}

func (c *SessionController) recordSpeech(spoken bool, err error) {
	switch {
	case err != nil:
		c.logger.Warn().Err(err).Msg("speech output failed")
	case spoken:
		c.metrics.UtteranceSpoken()
	default:
		c.metrics.UtteranceDropped()
	}
}

func (c *SessionController) permissionChanged(state domain.PermissionState, explicit bool) {
	if c.closed {
		return
	}
	c.permission = state
	switch state {
	case domain.PermissionDenied:
		c.enterDenied(permissionError(domain.ErrorCodeNotAllowed, "microphone access was denied"))
	case domain.PermissionGranted:
		if explicit && c.state.phase == domain.PhaseDenied {
			c.lastErr = nil
			c.setPhase(domain.PhaseIdle, domain.ReasonPermissionGranted)
		}
	}
}

// requeryPermission checks, without prompting, whether a denied permission
// has since been granted and starts when it has.
func (c *SessionController) requeryPermission() {
	if c.requerying {
		return
	}
	if c.permissions == nil {
		c.setPhase(domain.PhaseIdle, domain.ReasonPermissionGranted)
		c.beginStart()
		return
	}
	c.requerying = true
	go func() {
		state, err := c.permissions.Query(c.ctx)
		c.inbox.post(func() {
			if !c.requerying {
				return
			}
			c.requerying = false
			if err != nil || state != domain.PermissionGranted {
				c.resolve(ErrPermissionDenied)
				return
			}
			c.permission = state
			c.lastErr = nil
			if c.state.phase == domain.PhaseDenied {
				c.setPhase(domain.PhaseIdle, domain.ReasonPermissionGranted)
			}
			if !c.state.phase.Active() {
				c.beginStart()
			}
		})
	}()
}

func (c *SessionController) adoptStream(stream ports.MediaStream) {
	if c.state.stream == stream {
		return
	}
	c.releaseStream()
	c.state.stream = stream
	c.level.Attach(stream)
}

func (c *SessionController) releaseStream() {
	if c.state.stream == nil {
		return
	}
	c.level.Detach()
	if err := c.state.stream.Release(); err != nil {
		c.logger.Debug().Err(err).Msg("release microphone stream")
	}
	c.state.stream = nil
}

func (c *SessionController) closeSession(graceful bool) {
	session := c.state.session
	if session == nil {
		return
	}
	c.state.session = nil
	if err := session.close(graceful); err != nil {
		c.logger.Debug().Err(err).Str("session", session.id).Msg("close recognition session")
	}
}

func (c *SessionController) setPhase(phase domain.Phase, reason domain.StateReason) {
	previous := c.state.phase
	if previous == phase {
		return
	}
	c.state.phase = phase
	c.logger.Debug().Str("from", string(previous)).Str("to", string(phase)).Str("reason", string(reason)).Msg("phase changed")
	c.emit(func(sink ports.EventSink) { sink.StateChanged(phase, reason) })

	if listening := phase.Listening(); listening != previous.Listening() {
		c.metrics.SetListening(listening)
		c.emit(func(sink ports.EventSink) { sink.ListeningChanged(listening) })
	}
}

func (c *SessionController) report(sessionErr domain.SessionError) {
	c.lastErr = &sessionErr
	c.logger.Warn().Str("kind", string(sessionErr.Kind)).Str("code", string(sessionErr.Code)).Msg(sessionErr.Message)
	c.emit(func(sink ports.EventSink) { sink.SessionError(sessionErr) })
}

// resolve completes every caller waiting on the current transition.
func (c *SessionController) resolve(err error) {
	for _, wait := range c.waiters {
		wait <- err
	}
	c.waiters = nil
}

func (c *SessionController) recognitionConfig() ports.RecognitionConfig {
	return ports.RecognitionConfig{
		Language:       c.cfg.Language,
		Continuous:     c.cfg.Continuous,
		InterimResults: c.cfg.InterimResults,
		SampleRate:     c.cfg.Audio.SampleRate,
		Channels:       c.cfg.Audio.Channels,
		Encoding:       "linear16",
	}
}

func (c *SessionController) snapshot() domain.Status {
	status := domain.Status{
		Phase:             c.state.phase,
		Listening:         c.state.phase.Listening(),
		Speaking:          c.speech.Speaking(),
		Paused:            c.state.paused,
		WakeWordDetected:  c.state.wakeWordArmed,
		Transcript:        c.transcript.final,
		InterimTranscript: c.transcript.interim,
		Confidence:        c.transcript.confidence,
		AudioLevel:        c.level.Level(),
		PermissionStatus:  c.permission,
		RestartAttempts:   c.state.attempts,
	}
	if c.lastErr != nil {
		sessionErr := *c.lastErr
		status.Error = &sessionErr
	}
	return status
}

func (c *SessionController) shutdown() {
	c.stop(false, domain.ReasonControllerShutdown)
	c.speech.Stop()
	c.disarm(&c.wakeTimer)
	if c.unwatch != nil {
		c.unwatch()
		c.unwatch = nil
	}
	c.final = c.snapshot()
	c.closed = true
}

type nopSink struct{}

func (nopSink) StateChanged(domain.Phase, domain.StateReason) {}
func (nopSink) ListeningChanged(bool)                         {}
func (nopSink) SpeakingChanged(bool)                          {}
func (nopSink) TranscriptChanged(string, string)              {}
func (nopSink) WakeWordDetected(string)                       {}
func (nopSink) CommandFired(domain.CommandEvent)              {}
func (nopSink) SessionError(domain.SessionError)              {}
