package message

import (
	"fmt"

	"github.com/zostay/go-mailbuild/message/header"
)

// MIMEVersion is the value written to the MIME-Version header.
const MIMEVersion = "1.0"

// Message is a top-level Part. Its header carries the originator, recipient,
// subject, and date fields alongside the MIME fields.
type Message struct {
	Part
}

// NewMessage returns a message with an empty header and no body.
func NewMessage() *Message {
	return &Message{}
}

// SetBody sets MIME-Version when it is missing and then behaves as
// Part.SetBody.
func (m *Message) SetBody(body Body, contentType string) {
	if !m.Has(header.MIMEVersion) {
		m.Set(header.MIMEVersion, MIMEVersion)
	}
	m.Part.SetBody(body, contentType)
}

// Downgrade rewrites the message for a transport that only carries 7-bit
// data. See Part.Downgrade.
func (m *Message) Downgrade() error {
	return m.Part.Downgrade()
}

// Validate checks that every multipart in the tree has a non-empty boundary
// that is not used by any other multipart in the tree.
func (m *Message) Validate() error {
	seen := map[string]struct{}{}
	var check PartWalker = func(_, _ int, p *Part) error {
		mb := p.Multipart()
		if mb.Boundary == "" {
			return ErrNoBoundary
		}
		if _, dup := seen[mb.Boundary]; dup {
			return fmt.Errorf("%w: %q", ErrBoundaryCollision, mb.Boundary)
		}
		seen[mb.Boundary] = struct{}{}
		return nil
	}
	return check.WalkMultipart(&m.Part)
}

// Close releases every BinaryBody in the message. See Part.Close.
func (m *Message) Close() error {
	return m.Part.Close()
}
