package local

import (
	"crypto"
	"errors"
	"fmt"
	"io"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// ErrNoEmail is returned by GenerateKey when no e-mail address is given.
var ErrNoEmail = errors.New("an e-mail address is required")

// GenerateKey creates a new EdDSA signing key with an ECDH encryption subkey
// for the given identity. A non-empty passphrase locks the private keys.
func GenerateKey(name, email string, passphrase []byte) (*openpgp.Entity, error) {
	if email == "" {
		return nil, ErrNoEmail
	}

	cfg := &packet.Config{
		Algorithm:   packet.PubKeyAlgoEdDSA,
		DefaultHash: crypto.SHA256,
	}

	e, err := openpgp.NewEntity(name, "", email, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to generate key: %w", err)
	}

	if len(passphrase) > 0 {
		if err := e.EncryptPrivateKeys(passphrase, cfg); err != nil {
			return nil, fmt.Errorf("unable to lock key: %w", err)
		}
	}

	return e, nil
}

// WriteArmoredPrivateKey writes the entity with its private keys.
func WriteArmoredPrivateKey(w io.Writer, e *openpgp.Entity) error {
	aw, err := armor.Encode(w, openpgp.PrivateKeyType, nil)
	if err != nil {
		return err
	}
	if err := e.SerializePrivateWithoutSigning(aw, nil); err != nil {
		return fmt.Errorf("unable to write private key: %w", err)
	}
	return aw.Close()
}

// WriteArmoredPublicKey writes the entity's public keys.
func WriteArmoredPublicKey(w io.Writer, e *openpgp.Entity) error {
	aw, err := armor.Encode(w, openpgp.PublicKeyType, nil)
	if err != nil {
		return err
	}
	if err := e.Serialize(aw); err != nil {
		return fmt.Errorf("unable to write public key: %w", err)
	}
	return aw.Close()
}
