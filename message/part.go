package message

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/ianaindex"

	"github.com/zostay/go-mailbuild/message/header"
	"github.com/zostay/go-mailbuild/message/header/param"
	"github.com/zostay/go-mailbuild/message/transfer"
)

// ErrInvalidEncoding is returned by SetEncoding when a multipart or message
// body is given an encoding other than 7bit, 8bit, or binary.
var ErrInvalidEncoding = errors.New("composite body must use an identity transfer encoding")

// UnsupportedCharsetError is returned when a TextBody names a charset that
// cannot be encoded.
type UnsupportedCharsetError struct {
	Charset string
}

// Error returns the error message.
func (e *UnsupportedCharsetError) Error() string {
	return fmt.Sprintf("unsupported charset %q", e.Charset)
}

// Part is a MIME entity: a header and exactly one body.
type Part struct {
	header.Header

	body Body
}

// NewPart creates a part holding body. The Content-Type header is derived
// from contentType and the body, and the Content-Transfer-Encoding header is
// taken from the body.
//
// For a *TextBody, the charset parameter always comes from the body. For a
// *MultipartBody, contentType is ignored and the value is built from the
// subtype, boundary, and params. For the other bodies contentType is used as
// given, or a default media type if empty.
func NewPart(body Body, contentType string) *Part {
	p := &Part{}
	p.SetBody(body, contentType)
	return p
}

// Body returns the part's body.
func (p *Part) Body() Body {
	return p.body
}

// SetBody replaces the body and rewrites Content-Type and
// Content-Transfer-Encoding to match. Fields already present keep their
// position.
func (p *Part) SetBody(body Body, contentType string) {
	p.body = body
	p.Set(header.ContentType, body.mediaType(contentType))
	if cte := body.TransferEncoding(); cte != "" {
		p.SetTransferEncoding(cte)
	} else {
		p.Delete(header.ContentTransferEncoding)
	}
}

// SyncContentType rebuilds the Content-Type header from the body, keeping the
// current media type. Use it after changing a TextBody's charset or a
// MultipartBody's boundary or params.
func (p *Part) SyncContentType() {
	ct, _ := p.Get(header.ContentType)
	p.Set(header.ContentType, p.body.mediaType(ct))
}

// Bytes returns the serialized part.
func (p *Part) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	_, err := p.WriteTo(&buf)
	return buf.Bytes(), err
}

// TransferEncoding returns the body's transfer encoding.
func (p *Part) TransferEncoding() string {
	if p.body == nil {
		return ""
	}
	return p.body.TransferEncoding()
}

// SetEncoding changes the transfer encoding of the body and updates the
// Content-Transfer-Encoding header in place.
func (p *Part) SetEncoding(cte string) error {
	if !transfer.IsKnown(cte) {
		return &transfer.UnknownEncodingError{Encoding: cte}
	}

	switch p.body.(type) {
	case *MultipartBody, *MessageBody:
		switch transfer.Normalize(cte) {
		case transfer.Bit7, transfer.Bit8, transfer.Binary:
		default:
			return fmt.Errorf("%w: %q", ErrInvalidEncoding, cte)
		}
	}

	p.body.setTransferEncoding(cte)
	p.SetTransferEncoding(cte)
	return nil
}

// SetDisposition sets Content-Disposition. A new field is placed in front of
// Content-Transfer-Encoding.
func (p *Part) SetDisposition(disposition string, ps ...param.Param) {
	p.SetContentDisposition(param.New(disposition, ps...))
}

// Parts returns the parts directly below this one. For a multipart body these
// are its parts. For a message body it is the nested message. Leaves have
// none.
func (p *Part) Parts() []*Part {
	switch b := p.body.(type) {
	case *MultipartBody:
		return b.parts
	case *MessageBody:
		if b.Message != nil {
			return []*Part{&b.Message.Part}
		}
	}
	return nil
}

// Close releases every BinaryBody at or below p, removing temporary files.
// All bodies are closed even if one fails; the first error is returned.
func (p *Part) Close() error {
	var first error
	var release PartWalker = func(_, _ int, sub *Part) error {
		if bb, ok := sub.Body().(*BinaryBody); ok {
			if err := bb.Close(); err != nil && first == nil {
				first = err
			}
		}
		return nil
	}
	_ = release.WalkLeaves(p)
	return first
}

// Multipart returns the body as a *MultipartBody or nil.
func (p *Part) Multipart() *MultipartBody {
	mb, _ := p.body.(*MultipartBody)
	return mb
}

// WriteTo writes the header, a blank line, and the body, encoded as declared.
// It may be called more than once.
func (p *Part) WriteTo(w io.Writer) (int64, error) {
	cw := &countWriter{w: w}

	if _, err := p.Header.WriteTo(cw); err != nil {
		return cw.n, err
	}

	if _, err := io.WriteString(cw, "\r\n"); err != nil {
		return cw.n, err
	}

	err := p.writeBody(cw)
	return cw.n, err
}

func (p *Part) writeBody(w io.Writer) error {
	switch b := p.body.(type) {
	case *TextBody:
		return writeText(w, b)
	case *BinaryBody:
		return writeBinary(w, b)
	case *MessageBody:
		if b.Message == nil {
			return nil
		}
		_, err := b.Message.WriteTo(w)
		return err
	case *MultipartBody:
		return b.writeTo(w)
	case nil:
		return nil
	default:
		return fmt.Errorf("unknown body type %T", b)
	}
}

func writeText(w io.Writer, b *TextBody) error {
	tw, err := transfer.NewEncoder(b.encoding, w)
	if err != nil {
		return err
	}

	crlf := transfer.NewCRLFWriter(tw)

	var out io.Writer = crlf
	var cs io.Closer
	if charset := strings.ToLower(b.Charset); charset != "" && charset != "utf-8" && charset != "us-ascii" {
		enc, err := ianaindex.MIME.Encoding(b.Charset)
		if err != nil || enc == nil {
			return &UnsupportedCharsetError{Charset: b.Charset}
		}
		ew := enc.NewEncoder().Writer(crlf)
		out = ew
		cs, _ = ew.(io.Closer)
	}

	if _, err := io.WriteString(out, b.Text); err != nil {
		return fmt.Errorf("unable to write text body: %w", err)
	}

	if cs != nil {
		if err := cs.Close(); err != nil {
			return fmt.Errorf("unable to convert text body to %s: %w", b.Charset, err)
		}
	}

	if err := crlf.Close(); err != nil {
		return err
	}

	return tw.Close()
}

func writeBinary(w io.Writer, b *BinaryBody) error {
	r, err := b.Open()
	if err != nil {
		return fmt.Errorf("unable to open binary body: %w", err)
	}
	defer func() { _ = r.Close() }()

	tw, err := transfer.NewEncoder(b.encoding, w)
	if err != nil {
		return err
	}

	if _, err := io.Copy(tw, r); err != nil {
		return fmt.Errorf("unable to write binary body: %w", err)
	}

	return tw.Close()
}

// countWriter tracks how many bytes have been written.
type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}
