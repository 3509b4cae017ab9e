// Package local provides a pgp.Service that runs in the current process
// against an OpenPGP keyring.
package local

import (
	"bytes"
	"context"
	"crypto"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/zostay/go-mailbuild/pgp"
)

// Armor block types written by the service.
const (
	SignatureBlock = "PGP SIGNATURE"
	MessageBlock   = "PGP MESSAGE"
)

// InteractionPassphrase is the Handle kind used when a signing key is locked.
const InteractionPassphrase = "passphrase"

// Service implements pgp.Service with github.com/ProtonMail/go-crypto.
//
// A locked signing key causes a user interaction to be requested. The
// passphrase supplied on resume unlocks the key in the keyring, so it stays
// unlocked for later requests.
type Service struct {
	mu      sync.Mutex
	keyring openpgp.EntityList
	config  *packet.Config
}

// NewService returns a service using the given keyring. If config is nil,
// SHA-256 signatures are made.
func NewService(keyring openpgp.EntityList, config *packet.Config) *Service {
	if config == nil {
		config = &packet.Config{DefaultHash: crypto.SHA256}
	}
	return &Service{
		keyring: keyring,
		config:  config,
	}
}

// LoadKeyRing reads an armored keyring.
func LoadKeyRing(r io.Reader, config *packet.Config) (*Service, error) {
	el, err := openpgp.ReadArmoredKeyRing(r)
	if err != nil {
		return nil, fmt.Errorf("unable to read keyring: %w", err)
	}
	return NewService(el, config), nil
}

// LoadKeyRingFile reads an armored keyring from the named file.
func LoadKeyRingFile(path string, config *packet.Config) (*Service, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open keyring: %w", err)
	}
	defer func() { _ = f.Close() }()

	return LoadKeyRing(f, config)
}

// Keyring returns the keys known to the service.
func (s *Service) Keyring() openpgp.EntityList {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyring
}

// now returns the time used to check key validity.
func (s *Service) now() time.Time {
	return s.config.Now()
}

// entity returns the entity owning the key with the given ID.
func (s *Service) entity(id pgp.KeyID) *openpgp.Entity {
	keys := s.keyring.KeysById(uint64(id))
	if len(keys) == 0 {
		return nil
	}
	return keys[0].Entity
}

// entityForAddress returns the first entity with a user ID for addr.
func (s *Service) entityForAddress(addr string) *openpgp.Entity {
	for _, e := range s.keyring {
		for _, ident := range e.Identities {
			if ident.UserId != nil && strings.EqualFold(ident.UserId.Email, addr) {
				return e
			}
		}
	}
	return nil
}

// KeyIDForAddress returns the primary key ID of the key for addr.
func (s *Service) KeyIDForAddress(addr string) (pgp.KeyID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entityForAddress(addr)
	if e == nil {
		return pgp.NoKey, false
	}
	return pgp.KeyID(e.PrimaryKey.KeyId), true
}

// PublicKey returns the binary transferable public key for the key ID, as
// used for Autocrypt key data.
func (s *Service) PublicKey(id pgp.KeyID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entity(id)
	if e == nil {
		return nil, fmt.Errorf("no key %s", id)
	}

	var buf bytes.Buffer
	if err := e.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("unable to serialize key %s: %w", id, err)
	}
	return buf.Bytes(), nil
}

// AutocryptFor returns Autocrypt key material for the key belonging to addr.
func (s *Service) AutocryptFor(addr string) (pgp.Autocrypt, bool) {
	id, ok := s.KeyIDForAddress(addr)
	if !ok {
		return pgp.Autocrypt{}, false
	}

	kd, err := s.PublicKey(id)
	if err != nil {
		return pgp.Autocrypt{}, false
	}

	return pgp.Autocrypt{Addr: addr, KeyData: kd}, true
}

// Execute performs the requested operation.
func (s *Service) Execute(
	ctx context.Context,
	req *pgp.Request,
	source io.Reader,
	sink io.Writer,
) (*pgp.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var signer *openpgp.Entity
	cfg := *s.config
	if req.Action != pgp.ActionEncrypt {
		var res *pgp.Result
		signer, res = s.unlockSigner(req, &cfg)
		if res != nil {
			return res, nil
		}
	}

	switch req.Action {
	case pgp.ActionDetachedSign:
		return s.detachSign(signer, source, &cfg)
	case pgp.ActionSign:
		return s.clearSign(signer, source, sink, &cfg)
	case pgp.ActionEncrypt, pgp.ActionSignAndEncrypt:
		return s.encrypt(req, signer, source, sink, &cfg)
	default:
		return failure(pgp.ReasonGeneric, fmt.Sprintf("unsupported action %q", req.Action)), nil
	}
}

func failure(reason pgp.Reason, msg string) *pgp.Result {
	return &pgp.Result{
		Code:  pgp.CodeError,
		Error: &pgp.ServiceError{Reason: reason, Message: msg},
	}
}

// unlockSigner finds the signing key, unlocking it with the interaction data
// when needed. A non-nil result ends the request.
func (s *Service) unlockSigner(req *pgp.Request, cfg *packet.Config) (*openpgp.Entity, *pgp.Result) {
	e := s.entity(req.SigningKeyID)
	if e == nil {
		return nil, failure(pgp.ReasonNoSigningKey, fmt.Sprintf("no key %s", req.SigningKeyID))
	}

	sk, ok := e.SigningKeyById(s.now(), uint64(req.SigningKeyID))
	if !ok {
		sk, ok = e.SigningKey(s.now())
	}
	if !ok || sk.PrivateKey == nil {
		return nil, failure(pgp.ReasonNoSigningKey, fmt.Sprintf("key %s cannot sign", req.SigningKeyID))
	}
	cfg.SigningKeyId = sk.PublicKey.KeyId

	if sk.PrivateKey.Encrypted {
		if len(req.Interaction) == 0 {
			return nil, &pgp.Result{
				Code: pgp.CodeUserInteractionRequired,
				Handle: &pgp.Handle{
					Kind:   InteractionPassphrase,
					Prompt: fmt.Sprintf("Enter the passphrase for key %s", req.SigningKeyID),
					KeyID:  req.SigningKeyID,
				},
			}
		}

		if err := e.DecryptPrivateKeys(req.Interaction); err != nil {
			return nil, failure(pgp.ReasonBadPassphrase, err.Error())
		}
	}

	return e, nil
}

// micAlg names the hash for the micalg parameter, e.g. "pgp-sha256".
func micAlg(h crypto.Hash) string {
	return "pgp-" + strings.ToLower(strings.ReplaceAll(h.String(), "-", ""))
}

func (s *Service) detachSign(signer *openpgp.Entity, source io.Reader, cfg *packet.Config) (*pgp.Result, error) {
	var raw bytes.Buffer
	if err := openpgp.DetachSign(&raw, signer, source, cfg); err != nil {
		return failure(pgp.ReasonGeneric, err.Error()), nil
	}

	p, err := packet.Read(bytes.NewReader(raw.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("unable to read back signature: %w", err)
	}

	var alg string
	if sig, ok := p.(*packet.Signature); ok {
		alg = micAlg(sig.Hash)
	}

	var armored bytes.Buffer
	aw, err := armor.Encode(&armored, SignatureBlock, nil)
	if err != nil {
		return nil, err
	}
	if _, err := aw.Write(raw.Bytes()); err != nil {
		return nil, err
	}
	if err := aw.Close(); err != nil {
		return nil, err
	}

	return &pgp.Result{
		Code:              pgp.CodeSuccess,
		DetachedSignature: armored.Bytes(),
		MicAlg:            alg,
	}, nil
}

func (s *Service) clearSign(signer *openpgp.Entity, source io.Reader, sink io.Writer, cfg *packet.Config) (*pgp.Result, error) {
	sk, _ := signer.SigningKeyById(s.now(), cfg.SigningKeyId)

	w, err := clearsign.Encode(sink, sk.PrivateKey, cfg)
	if err != nil {
		return failure(pgp.ReasonGeneric, err.Error()), nil
	}
	if _, err := io.Copy(w, source); err != nil {
		return nil, fmt.Errorf("unable to sign: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("unable to sign: %w", err)
	}

	return &pgp.Result{Code: pgp.CodeSuccess}, nil
}

// recipients resolves every key ID and user ID, reporting those that cannot
// be used for encryption.
func (s *Service) recipients(req *pgp.Request) ([]*openpgp.Entity, []string) {
	var (
		to      []*openpgp.Entity
		missing []string
		seen    = map[uint64]struct{}{}
	)

	add := func(name string, e *openpgp.Entity) {
		if e == nil {
			missing = append(missing, name)
			return
		}
		if _, ok := e.EncryptionKey(s.now()); !ok {
			missing = append(missing, name)
			return
		}
		if _, dup := seen[e.PrimaryKey.KeyId]; dup {
			return
		}
		seen[e.PrimaryKey.KeyId] = struct{}{}
		to = append(to, e)
	}

	for _, id := range req.RecipientKeyIDs {
		add(id.String(), s.entity(id))
	}
	for _, uid := range req.RecipientUserIDs {
		add(uid, s.entityForAddress(uid))
	}

	return to, missing
}

func (s *Service) encrypt(
	req *pgp.Request,
	signer *openpgp.Entity,
	source io.Reader,
	sink io.Writer,
	cfg *packet.Config,
) (*pgp.Result, error) {
	to, missing := s.recipients(req)
	if len(missing) > 0 {
		return failure(pgp.ReasonMissingKeys, "no usable key for "+strings.Join(missing, ", ")), nil
	}
	if len(to) == 0 {
		return failure(pgp.ReasonMissingKeys, "no recipients"), nil
	}

	out := sink
	var aw io.WriteCloser
	if req.ASCIIArmor {
		var err error
		aw, err = armor.Encode(sink, MessageBlock, nil)
		if err != nil {
			return nil, err
		}
		out = aw
	}

	pw, err := openpgp.Encrypt(out, to, signer, &openpgp.FileHints{IsBinary: true}, cfg)
	if err != nil {
		return failure(pgp.ReasonGeneric, err.Error()), nil
	}
	if _, err := io.Copy(pw, source); err != nil {
		return nil, fmt.Errorf("unable to encrypt: %w", err)
	}
	if err := pw.Close(); err != nil {
		return nil, fmt.Errorf("unable to encrypt: %w", err)
	}

	if aw != nil {
		if err := aw.Close(); err != nil {
			return nil, fmt.Errorf("unable to armor: %w", err)
		}
	}

	return &pgp.Result{Code: pgp.CodeSuccess}, nil
}

var _ pgp.Service = (*Service)(nil)
