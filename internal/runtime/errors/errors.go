package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrTopicRequired    = sterrors.New("hermes: topic is required")
	ErrConfigRequired   = sterrors.New("hermes: configuration is required")
	ErrLoggerRequired   = sterrors.New("hermes: logger is required")
	ErrStoreRequired    = sterrors.New("hermes: store is required")
	ErrClosed           = sterrors.New("hermes: bus is closed")
	ErrMalformedPayload = sterrors.New("hermes: malformed payload")
	ErrMessageTooLarge  = sterrors.New("hermes: message exceeds transport limit")

	// ErrCapabilityAbsent is returned by a transport probe when the transport
	// is not configured for this process. The selector skips such candidates
	// without logging.
	ErrCapabilityAbsent = sterrors.New("hermes: transport capability absent")
)

// ProbeError records why a configured transport could not be selected.
type ProbeError struct {
	Transport string
	Err       error
}

func (e ProbeError) Error() string {
	return fmt.Sprintf("hermes: %s transport unavailable: %v", e.Transport, e.Err)
}

func (e ProbeError) Unwrap() error {
	return e.Err
}
