package message

import (
	"errors"

	"github.com/zostay/go-mailbuild/message/transfer"
)

// ErrSigned8bit is returned by Downgrade when a multipart/signed body holds
// content that needs 8-bit transport. Re-encoding it would break the
// signature.
var ErrSigned8bit = errors.New("unable to convert 8 bit message to 7 bit")

// Downgrade rewrites the tree below p so that nothing requires an 8-bit
// clean transport:
//
//   - 8bit or binary text is relabelled quoted-printable
//   - 8bit or binary octets are relabelled base64
//   - a nested message is downgraded and relabelled 7bit
//   - a multipart is downgraded part by part and relabelled 7bit
//
// A multipart/signed body is never rewritten. If anything inside one still
// needs 8-bit transport, ErrSigned8bit is returned.
//
// Header fields holding non-ASCII text are rewritten with encoded words, see
// header.Header.Downgrade. The fields of parts inside a multipart/signed body
// are signed content and are not touched.
//
// Boundaries, header order, and content are left as they are. Running
// Downgrade again is a no-op.
func (p *Part) Downgrade() error {
	p.Header.Downgrade()

	switch b := p.body.(type) {
	case *TextBody:
		if transfer.Requires8bit(b.encoding) {
			return p.SetEncoding(transfer.QuotedPrintable)
		}
	case *BinaryBody:
		if transfer.Requires8bit(b.encoding) {
			return p.SetEncoding(transfer.Base64)
		}
	case *MessageBody:
		if b.Message != nil {
			if err := b.Message.Downgrade(); err != nil {
				return err
			}
		}
		return p.SetEncoding(transfer.Bit7)
	case *MultipartBody:
		if b.Subtype == Signed {
			if Requires8bit(p) {
				return ErrSigned8bit
			}
			return nil
		}

		for _, sub := range b.parts {
			if err := sub.Downgrade(); err != nil {
				return err
			}
		}
		return p.SetEncoding(transfer.Bit7)
	}

	return nil
}

// Requires8bit reports whether p or anything inside it is labelled 8bit or
// binary, or has a header field holding non-ASCII text.
func Requires8bit(p *Part) bool {
	found := false
	var check PartWalker = func(_, _ int, sub *Part) error {
		if transfer.Requires8bit(sub.TransferEncoding()) || sub.Header.Requires8bit() {
			found = true
			return errFound
		}
		return nil
	}
	_ = check.Walk(p)
	return found
}

var errFound = errors.New("found")
