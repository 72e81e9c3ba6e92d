package domain

import "time"

// Phase models the continuous listening lifecycle.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseStarting    Phase = "starting"
	PhaseListening   Phase = "listening"
	PhasePaused      Phase = "paused"
	PhaseRestarting  Phase = "restarting"
	PhaseStopped     Phase = "stopped"
	PhaseDenied      Phase = "denied"
	PhaseUnsupported Phase = "unsupported"
)

// Absorbing reports whether no automatic recovery leaves this phase.
func (p Phase) Absorbing() bool {
	return p == PhaseDenied || p == PhaseUnsupported
}

// Listening reports whether the controller presents itself as listening. A
// restart in progress still counts.
func (p Phase) Listening() bool {
	return p == PhaseListening || p == PhaseRestarting
}

// Active reports whether a recognition session is open or being (re)opened.
func (p Phase) Active() bool {
	return p == PhaseStarting || p.Listening()
}

// StateReason provides a structured reason for phase transitions.
type StateReason string

const (
	ReasonCreated            StateReason = "created"
	ReasonStartRequested     StateReason = "start_requested"
	ReasonSessionOpened      StateReason = "session_opened"
	ReasonSessionReopened    StateReason = "session_reopened"
	ReasonSessionEnded       StateReason = "session_ended"
	ReasonNoSpeech           StateReason = "no_speech"
	ReasonPaused             StateReason = "paused"
	ReasonResumed            StateReason = "resumed"
	ReasonStopRequested      StateReason = "stop_requested"
	ReasonStopCommand        StateReason = "stop_command"
	ReasonRestartExhausted   StateReason = "restart_exhausted"
	ReasonStartFailed        StateReason = "start_failed"
	ReasonPermissionDenied   StateReason = "permission_denied"
	ReasonPermissionGranted  StateReason = "permission_granted"
	ReasonCapabilityMissing  StateReason = "capability_missing"
	ReasonControllerShutdown StateReason = "controller_shutdown"
)

// ErrorKind is the error taxonomy reported to callers.
type ErrorKind string

const (
	ErrorKindUnsupported      ErrorKind = "unsupported"
	ErrorKindPermissionDenied ErrorKind = "permission_denied"
	ErrorKindRecoverable      ErrorKind = "recoverable"
	ErrorKindUnknown          ErrorKind = "unknown"
)

// ErrorCode identifies the concrete failure reported by a recognition engine
// or by the controller itself.
type ErrorCode string

const (
	ErrorCodeNoSpeech           ErrorCode = "no-speech"
	ErrorCodeAborted            ErrorCode = "aborted"
	ErrorCodeNetwork            ErrorCode = "network"
	ErrorCodeAudioCapture       ErrorCode = "audio-capture"
	ErrorCodeNotAllowed         ErrorCode = "not-allowed"
	ErrorCodeServiceNotAllowed  ErrorCode = "service-not-allowed"
	ErrorCodeLanguageNotSupport ErrorCode = "language-not-supported"
	ErrorCodeCapability         ErrorCode = "capability"
	ErrorCodeRestartExhausted   ErrorCode = "restart-exhausted"
	ErrorCodeStartFailed        ErrorCode = "start-failed"
	ErrorCodeOther              ErrorCode = "other"
)

// Kind classifies an engine error code.
func (c ErrorCode) Kind() ErrorKind {
	switch c {
	case ErrorCodeNoSpeech, ErrorCodeAborted, ErrorCodeNetwork, ErrorCodeAudioCapture:
		return ErrorKindRecoverable
	case ErrorCodeNotAllowed, ErrorCodeServiceNotAllowed:
		return ErrorKindPermissionDenied
	case ErrorCodeCapability, ErrorCodeLanguageNotSupport:
		return ErrorKindUnsupported
	default:
		return ErrorKindUnknown
	}
}

// SessionError is a caller-visible error.
type SessionError struct {
	Kind    ErrorKind `json:"kind"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Remedy  string    `json:"remedy,omitempty"`
}

func (e SessionError) Error() string {
	return e.Message
}

// RecognitionEventKind identifies what a recognition session reported.
type RecognitionEventKind string

const (
	RecognitionResult RecognitionEventKind = "result"
	RecognitionError  RecognitionEventKind = "error"
)

// Fragment is one recognition hypothesis.
type Fragment struct {
	Text       string  `json:"text"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence"`
}

// RecognitionEvent is emitted by a recognition session. Session end is
// signalled by closing the events channel, never by an event.
type RecognitionEvent struct {
	Kind      RecognitionEventKind `json:"kind"`
	Fragments []Fragment           `json:"fragments,omitempty"`
	Code      ErrorCode            `json:"code,omitempty"`
	Message   string               `json:"message,omitempty"`
}

// PermissionState mirrors a microphone permission query.
type PermissionState string

const (
	PermissionUnknown PermissionState = "unknown"
	PermissionPrompt  PermissionState = "prompt"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

// Personality selects the canned phrase set used for spoken replies.
type Personality string

const (
	PersonalityProfessional Personality = "professional"
	PersonalityFriendly     Personality = "friendly"
	PersonalityEnthusiastic Personality = "enthusiastic"
)

// Valid reports whether p is one of the known personalities.
func (p Personality) Valid() bool {
	switch p {
	case PersonalityProfessional, PersonalityFriendly, PersonalityEnthusiastic:
		return true
	default:
		return false
	}
}

// CommandEvent is reported to the caller whenever a command fires.
type CommandEvent struct {
	Key      string    `json:"key"`
	Text     string    `json:"text"`
	Pattern  string    `json:"pattern,omitempty"`
	Custom   bool      `json:"custom"`
	Response string    `json:"response,omitempty"`
	FiredAt  time.Time `json:"firedAt"`
}

// Voice describes a synthesizer voice.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Default  bool   `json:"default"`
}

// Utterance is one request to speak.
type Utterance struct {
	ID     string
	Text   string
	Voice  Voice
	Rate   float64
	Pitch  float64
	Volume float64
}

// Status is a read-only snapshot of the controller.
type Status struct {
	Phase             Phase           `json:"phase"`
	Listening         bool            `json:"listening"`
	Speaking          bool            `json:"speaking"`
	Paused            bool            `json:"paused"`
	WakeWordDetected  bool            `json:"wakeWordDetected"`
	Transcript        string          `json:"transcript"`
	InterimTranscript string          `json:"interimTranscript"`
	Confidence        float64         `json:"confidence"`
	AudioLevel        float64         `json:"audioLevel"`
	PermissionStatus  PermissionState `json:"permissionStatus"`
	RestartAttempts   int             `json:"restartAttempts"`
	Error             *SessionError   `json:"error,omitempty"`
}
