package domain

import "testing"

func TestErrorCodeKind(t *testing.T) {
	t.Parallel()

	cases := map[ErrorCode]ErrorKind{
		ErrorCodeNoSpeech:           ErrorKindRecoverable,
		ErrorCodeNetwork:            ErrorKindRecoverable,
		ErrorCodeAudioCapture:       ErrorKindRecoverable,
		ErrorCodeNotAllowed:         ErrorKindPermissionDenied,
		ErrorCodeServiceNotAllowed:  ErrorKindPermissionDenied,
		ErrorCodeLanguageNotSupport: ErrorKindUnsupported,
		ErrorCodeOther:              ErrorKindUnknown,
		ErrorCode("bogus"):          ErrorKindUnknown,
	}
	for code, want := range cases {
		if got := code.Kind(); got != want {
			t.Fatalf("%s: expected %s, got %s", code, want, got)
		}
	}
}

func TestPhasePredicates(t *testing.T) {
	t.Parallel()

	if !PhaseDenied.Absorbing() || !PhaseUnsupported.Absorbing() || PhaseStopped.Absorbing() {
		t.Fatalf("unexpected absorbing phases")
	}
	if PhaseStarting.Listening() || !PhaseRestarting.Listening() || !PhaseListening.Listening() {
		t.Fatalf("unexpected listening phases")
	}
	if !PhaseStarting.Active() || PhasePaused.Active() {
		t.Fatalf("unexpected active phases")
	}
}
