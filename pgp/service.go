package pgp

import (
	"context"
	"io"
)

// Action is the operation requested from a Service.
type Action string

const (
	// ActionDetachedSign produces a detached signature over the source. The
	// signature is returned in the Result and nothing is written to the sink.
	ActionDetachedSign Action = "detached-sign"

	// ActionSign produces a cleartext signed copy of the source in the sink.
	ActionSign Action = "sign"

	// ActionEncrypt encrypts the source to the recipients without signing.
	ActionEncrypt Action = "encrypt"

	// ActionSignAndEncrypt signs and encrypts the source.
	ActionSignAndEncrypt Action = "sign-and-encrypt"
)

// Request describes one call to a Service.
type Request struct {
	// ID identifies the request. A Result that requires user interaction is
	// resumed by passing this ID back to the Step.
	ID string

	Action Action

	// SigningKeyID is set whenever the action signs.
	SigningKeyID KeyID

	// RecipientKeyIDs and RecipientUserIDs name the encryption keys. A
	// service resolves user IDs (e-mail addresses) through its keyring.
	RecipientKeyIDs  []KeyID
	RecipientUserIDs []string

	// ASCIIArmor requests armored output.
	ASCIIArmor bool

	// Interaction carries the data returned by the user after a previous
	// Result asked for it, such as a passphrase.
	Interaction []byte
}

// Code is the outcome of a service call.
type Code int

const (
	CodeSuccess Code = iota
	CodeUserInteractionRequired
	CodeError
)

// String returns a short name for the code.
func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeUserInteractionRequired:
		return "user-interaction-required"
	case CodeError:
		return "error"
	default:
		return "unknown"
	}
}

// Handle is an opaque token describing the interaction a service needs from
// the user before it can continue.
type Handle struct {
	// Kind names the interaction, for example "passphrase".
	Kind string

	// Prompt is a message suitable for showing to the user.
	Prompt string

	// KeyID is the key the interaction concerns, if any.
	KeyID KeyID

	// Data is service specific.
	Data []byte
}

// Result is returned by Service.Execute.
type Result struct {
	Code Code

	// DetachedSignature holds the signature for ActionDetachedSign.
	DetachedSignature []byte

	// MicAlg is the hash algorithm name for the micalg parameter, such as
	// "pgp-sha256". It may be empty.
	MicAlg string

	// Handle is set when Code is CodeUserInteractionRequired.
	Handle *Handle

	// Error is set when Code is CodeError.
	Error *ServiceError
}

// Service performs OpenPGP operations. Execute reads the data to transform
// from source and writes transformed data to sink. It must not retain either
// after returning.
type Service interface {
	Execute(ctx context.Context, req *Request, source io.Reader, sink io.Writer) (*Result, error)
}

// ServiceFunc adapts a function to the Service interface.
type ServiceFunc func(ctx context.Context, req *Request, source io.Reader, sink io.Writer) (*Result, error)

// Execute calls f.
func (f ServiceFunc) Execute(ctx context.Context, req *Request, source io.Reader, sink io.Writer) (*Result, error) {
	return f(ctx, req, source, sink)
}

// Outcome is what the caller reports back after showing a Handle to the
// user.
type Outcome struct {
	// Cancelled means the user abandoned the interaction.
	Cancelled bool

	// Data is passed to the service as Request.Interaction.
	Data []byte
}
