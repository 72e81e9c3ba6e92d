package usecase

import (
	"strings"

	"hotmic/internal/domain"
	"hotmic/internal/ports"
)

const (
	permissionRemedy = "Allow microphone access for this application in your system privacy settings, then request permission or start listening again."
	serviceRemedy    = "Check the speech recognition API key and account access, then start listening again."
)

// Capabilities is the result of probing the runtime environment.
type Capabilities struct {
	Recognition bool
	Synthesis   bool
}

// DetectCapabilities probes the environment. A nil probe means everything is
// available.
func DetectCapabilities(probe ports.CapabilityProbe) Capabilities {
	if probe == nil {
		return Capabilities{Recognition: true, Synthesis: true}
	}
	return Capabilities{
		Recognition: probe.RecognitionSupported(),
		Synthesis:   probe.SynthesisSupported(),
	}
}

// Supported reports whether a voice session can run at all.
func (c Capabilities) Supported() bool {
	return c.Recognition && c.Synthesis
}

func (c Capabilities) sessionError() domain.SessionError {
	var missing []string
	if !c.Recognition {
		missing = append(missing, "speech recognition")
	}
	if !c.Synthesis {
		missing = append(missing, "speech synthesis")
	}
	return domain.SessionError{
		Kind:    domain.ErrorKindUnsupported,
		Code:    domain.ErrorCodeCapability,
		Message: strings.Join(missing, " and ") + " not available in this environment",
		Remedy:  "Install a supported speech engine and configure its credentials.",
	}
}

func permissionError(code domain.ErrorCode, message string) domain.SessionError {
	if code == "" {
		code = domain.ErrorCodeNotAllowed
	}
	if message == "" {
		message = "microphone access was denied"
	}
	remedy := permissionRemedy
	if code == domain.ErrorCodeServiceNotAllowed {
		remedy = serviceRemedy
	}
	return domain.SessionError{
		Kind:    domain.ErrorKindPermissionDenied,
		Code:    code,
		Message: message,
		Remedy:  remedy,
	}
}
