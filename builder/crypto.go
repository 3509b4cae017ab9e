package builder

import (
	"github.com/zostay/go-mailbuild/pgp"
)

// KeyDirectory is implemented by crypto services that can find Autocrypt
// key material by address, such as *local.Service.
type KeyDirectory interface {
	AutocryptFor(addr string) (pgp.Autocrypt, bool)
}

// cryptoConfig completes the crypto configuration of req.
//
// When no recipients are configured, the message recipients are used as
// user IDs. If svc is a KeyDirectory, missing Autocrypt key material for the
// sender and, for encrypted messages, gossip for the visible recipients are
// looked up.
func cryptoConfig(req *Request, svc pgp.Service) pgp.Config {
	cfg := req.Crypto
	if cfg.Mode == pgp.ModeNone {
		return cfg
	}

	if !cfg.HasRecipients() {
		cfg.RecipientUserIDs = req.Recipients()
	}

	dir, ok := svc.(KeyDirectory)
	if !ok {
		return cfg
	}

	if !cfg.Autocrypt.Valid() {
		if ac, found := dir.AutocryptFor(req.Identity.Email); found {
			cfg.Autocrypt = ac
		}
	}

	if len(cfg.Gossip) == 0 && cfg.Encrypting() && !req.Draft {
		for _, addr := range req.VisibleRecipients() {
			if ac, found := dir.AutocryptFor(addr); found {
				cfg.Gossip = append(cfg.Gossip, ac)
			}
		}
	}

	return cfg
}
