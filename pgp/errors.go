package pgp

import (
	"errors"
	"fmt"
)

// Errors returned by the Step.
var (
	// ErrMissingRecipients is the cause of a PreconditionError when
	// sign-and-encrypt is requested without any recipient key.
	ErrMissingRecipients = errors.New("encryption requested but no recipient keys")

	// ErrInlineAttachments is the cause of a PreconditionError when inline
	// crypto is requested for a message with attachments.
	ErrInlineAttachments = errors.New("inline crypto cannot be used with attachments")

	// ErrUnknownRequest is returned by Resume when the request ID does not
	// match the pending request.
	ErrUnknownRequest = errors.New("no pending crypto request with that id")

	// ErrBusy is returned by Start when the step already has a message in
	// flight.
	ErrBusy = errors.New("crypto step already in use")
)

// ConfigurationError is returned when the crypto provider cannot be used.
// The service is never called.
type ConfigurationError struct {
	State ProviderState
}

// Error returns the error message.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("crypto provider is not ready (%s)", e.State)
}

// PreconditionError is returned when the request cannot be carried out as
// configured. The service is never called.
type PreconditionError struct {
	Mode Mode
	Err  error
}

// Error returns the error message.
func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Mode, e.Err)
}

// Unwrap returns the cause.
func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// Reason classifies a ServiceError.
type Reason string

const (
	// ReasonMissingKeys means a key for one or more recipients is unknown.
	ReasonMissingKeys Reason = "missing-keys"

	// ReasonNoSigningKey means the signing key is unknown or has no private
	// part.
	ReasonNoSigningKey Reason = "no-signing-key"

	// ReasonBadPassphrase means the passphrase supplied on resume did not
	// unlock the key.
	ReasonBadPassphrase Reason = "bad-passphrase"

	// ReasonGeneric is anything else.
	ReasonGeneric Reason = "generic"
)

// ServiceError is a failure reported by the crypto service.
type ServiceError struct {
	Reason  Reason
	Message string
}

// Error returns the error message.
func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("crypto service error: %s", e.Reason)
	}
	return fmt.Sprintf("crypto service error: %s: %s", e.Reason, e.Message)
}
