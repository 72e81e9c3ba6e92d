package usecase

import (
	"time"

	"hotmic/internal/clock"
	"hotmic/internal/domain"
	"hotmic/internal/ports"
)

// sessionState is the single mutable record of the controller. Only the
// control loop reads or writes it.
type sessionState struct {
	phase         domain.Phase
	active        bool
	paused        bool
	wakeWordArmed bool
	stream        ports.MediaStream
	session       *recognitionSession
	// gen invalidates in-flight transitions when the controller moves on.
	gen      uint64
	attempts int
}

// recognitionSession wraps one engine session. A closed session is never
// reopened; restarts always create a new one.
type recognitionSession struct {
	id        string
	engine    ports.RecognitionSession
	sawResult bool
	closed    bool
}

func (s *recognitionSession) close(graceful bool) error {
	if s.closed {
		return nil
	}
	s.closed = true
	if graceful {
		return s.engine.Stop()
	}
	return s.engine.Abort()
}

type transitionKind string

const (
	transitionStart   transitionKind = "start"
	transitionResume  transitionKind = "resume"
	transitionRestart transitionKind = "restart"
)

// transition is an in-flight attempt to open a recognition session.
type transition struct {
	kind transitionKind
	gen  uint64
}

func (k transitionKind) openedReason() domain.StateReason {
	switch k {
	case transitionRestart:
		return domain.ReasonSessionReopened
	case transitionResume:
		return domain.ReasonResumed
	default:
		return domain.ReasonSessionOpened
	}
}

// openResult is what the off-loop open job hands back to the control loop.
type openResult struct {
	stream     ports.MediaStream
	acquired   bool
	session    ports.RecognitionSession
	permission domain.PermissionState
	err        error
}

// discard releases whatever the job produced.
func (r openResult) discard() {
	if r.session != nil {
		_ = r.session.Abort()
	}
	if r.acquired && r.stream != nil {
		_ = r.stream.Release()
	}
}

// timerSlot holds one loop timer. Callbacks from a stopped or replaced timer
// are ignored even if they were already queued.
type timerSlot struct {
	timer clock.Timer
	seq   uint64
}

// Timing holds every timing policy of the controller.
type Timing struct {
	Debounce         time.Duration
	WakeTimeout      time.Duration
	EchoWindow       time.Duration
	SpeakWindow      time.Duration
	CooldownSuppress time.Duration
	CooldownExpire   time.Duration
	Restart          RetryPolicy
}

func DefaultTiming() Timing {
	return Timing{
		Debounce:         300 * time.Millisecond,
		WakeTimeout:      45 * time.Second,
		EchoWindow:       3000 * time.Millisecond,
		SpeakWindow:      2000 * time.Millisecond,
		CooldownSuppress: 3 * time.Second,
		CooldownExpire:   10 * time.Second,
		Restart:          DefaultRetryPolicy(),
	}
}

func (t Timing) withDefaults() Timing {
	def := DefaultTiming()
	if t.Debounce <= 0 {
		t.Debounce = def.Debounce
	}
	if t.WakeTimeout <= 0 {
		t.WakeTimeout = def.WakeTimeout
	}
	if t.EchoWindow <= 0 {
		t.EchoWindow = def.EchoWindow
	}
	if t.SpeakWindow <= 0 {
		t.SpeakWindow = def.SpeakWindow
	}
	if t.CooldownSuppress <= 0 {
		t.CooldownSuppress = def.CooldownSuppress
	}
	if t.CooldownExpire <= 0 {
		t.CooldownExpire = def.CooldownExpire
	}
	t.Restart = t.Restart.withDefaults()
	return t
}
