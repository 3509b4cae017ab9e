package pgp

import (
	"encoding/base64"
	"strings"

	"github.com/zostay/go-mailbuild/message"
	"github.com/zostay/go-mailbuild/message/header"
)

// Header field names written by the Step.
const (
	AutocryptGossipField     = "Autocrypt-Gossip"
	AutocryptDraftStateField = "Autocrypt-Draft-State"
)

// keydataLineLength is the width of folded keydata lines, not counting the
// leading space.
const keydataLineLength = 76

// Valid reports whether there is enough to write a header.
func (a Autocrypt) Valid() bool {
	return a.Addr != "" && len(a.KeyData) > 0
}

// HeaderValue renders the attribute list for an Autocrypt header. The
// keydata attribute is folded so no line is longer than 78 octets.
func (a Autocrypt) HeaderValue() string {
	var sb strings.Builder
	sb.WriteString("addr=")
	sb.WriteString(a.Addr)
	sb.WriteString("; ")
	if a.PreferEncrypt {
		sb.WriteString("prefer-encrypt=mutual; ")
	}
	sb.WriteString("keydata=")

	kd := base64.StdEncoding.EncodeToString(a.KeyData)
	for len(kd) > 0 {
		n := min(len(kd), keydataLineLength)
		sb.WriteString("\r\n ")
		sb.WriteString(kd[:n])
		kd = kd[n:]
	}

	return sb.String()
}

// gossipValue is the same as HeaderValue, but never carries prefer-encrypt.
func (a Autocrypt) gossipValue() string {
	a.PreferEncrypt = false
	return a.HeaderValue()
}

// draftState renders the Autocrypt-Draft-State value that records the
// crypto choices made for a draft so they can be restored when it is
// reopened.
func draftState(cfg Config) string {
	var sb strings.Builder
	if cfg.Encrypting() {
		sb.WriteString("encrypt=yes; ")
	} else {
		sb.WriteString("encrypt=no; ")
	}
	if cfg.Mode == ModeSignOnly {
		sb.WriteString("_sign-only=yes; ")
	}
	if cfg.Mode == ModeOpportunistic {
		sb.WriteString("_opportunistic=yes; ")
	}
	return sb.String()
}

// addAutocrypt sets the Autocrypt header on m when cfg carries key material.
func addAutocrypt(m *message.Message, cfg Config) {
	if !cfg.Autocrypt.Valid() {
		return
	}
	m.Set(header.AutocryptField, cfg.Autocrypt.HeaderValue())
}

// addGossip adds an Autocrypt-Gossip header for every recipient to p.
func addGossip(p *message.Part, gossip []Autocrypt) {
	for _, g := range gossip {
		if !g.Valid() {
			continue
		}
		p.Add(AutocryptGossipField, g.gossipValue())
	}
}
