package pgp

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode selects what the Step does to a message.
type Mode int

const (
	// ModeNone leaves the message alone.
	ModeNone Mode = iota

	// ModeSignOnly adds a signature.
	ModeSignOnly

	// ModeSignAndEncrypt signs and encrypts. At least one recipient key is
	// required.
	ModeSignAndEncrypt

	// ModeOpportunistic encrypts when keys for every recipient are known and
	// sends in the clear otherwise.
	ModeOpportunistic
)

var modeNames = map[Mode]string{
	ModeNone:           "none",
	ModeSignOnly:       "sign-only",
	ModeSignAndEncrypt: "sign-and-encrypt",
	ModeOpportunistic:  "opportunistic",
}

// String returns the configuration name of the mode.
func (m Mode) String() string {
	if n, ok := modeNames[m]; ok {
		return n
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode converts a configuration name into a Mode. The empty string is
// ModeNone.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeNone, nil
	}
	for m, n := range modeNames {
		if strings.EqualFold(n, s) {
			return m, nil
		}
	}
	return ModeNone, fmt.Errorf("unknown crypto mode %q", s)
}

// UnmarshalText allows a Mode to be read from configuration.
func (m *Mode) UnmarshalText(text []byte) error {
	pm, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = pm
	return nil
}

// MarshalText writes the configuration name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ProviderState describes whether the crypto provider can be used.
type ProviderState int

const (
	ProviderReady ProviderState = iota
	ProviderUnconfigured
	ProviderUninitialized
	ProviderError
	ProviderLostConnection
)

// String returns a short description of the state.
func (s ProviderState) String() string {
	switch s {
	case ProviderReady:
		return "ready"
	case ProviderUnconfigured:
		return "unconfigured"
	case ProviderUninitialized:
		return "uninitialized"
	case ProviderError:
		return "error"
	case ProviderLostConnection:
		return "lost-connection"
	default:
		return fmt.Sprintf("ProviderState(%d)", int(s))
	}
}

// ParseProviderState reverses String.
func ParseProviderState(s string) (ProviderState, error) {
	for ps := ProviderReady; ps <= ProviderLostConnection; ps++ {
		if strings.EqualFold(s, ps.String()) {
			return ps, nil
		}
	}
	if s == "" {
		return ProviderReady, nil
	}
	return ProviderReady, fmt.Errorf("unknown provider state %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ProviderState) UnmarshalText(text []byte) error {
	ps, err := ParseProviderState(string(text))
	if err != nil {
		return err
	}
	*s = ps
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s ProviderState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// KeyID is an OpenPGP key ID.
type KeyID uint64

// NoKey means no key has been chosen.
const NoKey KeyID = 0

// String returns the key ID as 16 upper-case hex digits.
func (id KeyID) String() string {
	return fmt.Sprintf("%016X", uint64(id))
}

// ParseKeyID reads a key ID written in hex, with or without a 0x prefix.
func ParseKeyID(s string) (KeyID, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	id, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return NoKey, fmt.Errorf("invalid key id %q: %w", s, err)
	}
	return KeyID(id), nil
}

// UnmarshalText allows a KeyID to be read from configuration.
func (id *KeyID) UnmarshalText(text []byte) error {
	k, err := ParseKeyID(string(text))
	if err != nil {
		return err
	}
	*id = k
	return nil
}

// MarshalText writes the key ID in hex.
func (id KeyID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// Autocrypt describes the key material advertised in the Autocrypt header.
type Autocrypt struct {
	// Addr is the sender address the key belongs to.
	Addr string `yaml:"addr"`

	// KeyData is the binary (not armored) public key.
	KeyData []byte `yaml:"keydata"`

	// PreferEncrypt adds prefer-encrypt=mutual.
	PreferEncrypt bool `yaml:"prefer_encrypt"`
}

// Config is the crypto configuration for one composed message. It is passed
// by value.
type Config struct {
	Mode          Mode          `yaml:"mode"`
	ProviderState ProviderState `yaml:"provider_state"`

	// SigningKeyID is the key used for signatures. NoKey disables signing.
	SigningKeyID KeyID `yaml:"signing_key"`

	// RecipientKeyIDs are the keys messages are encrypted to.
	RecipientKeyIDs []KeyID `yaml:"recipient_keys"`

	// RecipientUserIDs are recipient addresses the service resolves to keys
	// itself.
	RecipientUserIDs []string `yaml:"recipient_user_ids"`

	// SelfEncryptKeyID, when set, is added to the recipients so the sender
	// can read the sent copy.
	SelfEncryptKeyID KeyID `yaml:"self_encrypt_key"`

	// Inline requests PGP/INLINE instead of PGP/MIME. It cannot be combined
	// with attachments.
	Inline bool `yaml:"inline"`

	// EncryptSubject moves the real subject inside the encrypted part and
	// replaces the outer one with ReplacementSubject.
	EncryptSubject bool `yaml:"encrypt_subject"`

	// EncryptAllDrafts encrypts drafts even when the message will not be
	// encrypted on send.
	EncryptAllDrafts bool `yaml:"encrypt_all_drafts"`

	// Autocrypt is the sender's key material. The header is omitted when
	// Addr or KeyData is empty.
	Autocrypt Autocrypt `yaml:"autocrypt"`

	// Gossip holds the recipients' key material for Autocrypt-Gossip
	// headers, added inside encrypted messages with two or more recipients.
	Gossip []Autocrypt `yaml:"gossip"`
}

// Encrypting reports whether the configuration asks for encryption.
func (c Config) Encrypting() bool {
	return c.Mode == ModeSignAndEncrypt || c.Mode == ModeOpportunistic
}

// Signing reports whether the configuration asks for a signature.
func (c Config) Signing() bool {
	return c.Mode != ModeNone && c.SigningKeyID != NoKey
}

// HasRecipients reports whether any recipient key or user ID is configured.
func (c Config) HasRecipients() bool {
	return len(c.RecipientKeyIDs) > 0 || len(c.RecipientUserIDs) > 0
}

// selfKey returns the key used to encrypt to the sender.
func (c Config) selfKey() KeyID {
	if c.SelfEncryptKeyID != NoKey {
		return c.SelfEncryptKeyID
	}
	return c.SigningKeyID
}
