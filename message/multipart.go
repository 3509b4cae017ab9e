package message

import (
	"errors"
	"fmt"
	"io"

	"github.com/zostay/go-mailbuild/message/header/param"
	"github.com/zostay/go-mailbuild/message/transfer"
)

var (
	// ErrBoundaryCollision is returned when a boundary would be used by more
	// than one multipart in the same message tree.
	ErrBoundaryCollision = errors.New("multipart boundary already in use")
)

// Multipart subtypes used by this module.
const (
	Mixed       = "mixed"
	Alternative = "alternative"
	Signed      = "signed"
	Encrypted   = "encrypted"
)

// MultipartBody is a body made of an ordered list of parts separated by a
// boundary.
type MultipartBody struct {
	// Subtype is the part of the media type after "multipart/".
	Subtype string

	// Boundary separates the parts. It must not appear in any other multipart
	// of the same message.
	Boundary string

	// Params are additional Content-Type parameters written after the
	// boundary, such as protocol and micalg.
	Params []param.Param

	// Preamble and Epilogue are written before the first boundary and after
	// the closing boundary, respectively. Each is followed by a CRLF when set.
	Preamble string
	Epilogue string

	parts    []*Part
	encoding string
}

// NewMultipartBody returns an empty multipart of the given subtype. If
// boundary is empty, one is generated with GenerateBoundary.
//
// A multipart/signed body is labelled 7bit, since its content may not be
// altered in transit. Any other subtype is labelled 8bit until downgraded.
func NewMultipartBody(subtype, boundary string) *MultipartBody {
	if boundary == "" {
		boundary = GenerateBoundary()
	}

	cte := transfer.Bit8
	if subtype == Signed {
		cte = transfer.Bit7
	}

	return &MultipartBody{
		Subtype:  subtype,
		Boundary: boundary,
		encoding: cte,
	}
}

// TransferEncoding returns the label written in the enclosing part's
// Content-Transfer-Encoding header.
func (mb *MultipartBody) TransferEncoding() string {
	return mb.encoding
}

func (mb *MultipartBody) setTransferEncoding(cte string) {
	mb.encoding = cte
}

// mediaType always derives the value from the body. The contentType argument
// is ignored.
func (mb *MultipartBody) mediaType(string) string {
	ps := make([]param.Param, 0, len(mb.Params)+1)
	ps = append(ps, param.Quoted(param.Boundary, mb.Boundary))
	ps = append(ps, mb.Params...)
	return param.New("multipart/"+mb.Subtype, ps...).String()
}

// Parts returns the parts in order. The slice must not be modified.
func (mb *MultipartBody) Parts() []*Part {
	return mb.parts
}

// Len returns the number of parts.
func (mb *MultipartBody) Len() int {
	return len(mb.parts)
}

// Part returns the i-th part.
func (mb *MultipartBody) Part(i int) *Part {
	return mb.parts[i]
}

// AddPart appends a part. It fails with ErrBoundaryCollision if any multipart
// inside p uses this body's boundary or a boundary already used by one of the
// existing parts.
func (mb *MultipartBody) AddPart(p *Part) error {
	inUse := map[string]struct{}{mb.Boundary: {}}
	for _, sib := range mb.parts {
		for _, b := range Boundaries(sib) {
			inUse[b] = struct{}{}
		}
	}

	for _, b := range Boundaries(p) {
		if _, dup := inUse[b]; dup {
			return fmt.Errorf("%w: %q", ErrBoundaryCollision, b)
		}
	}

	mb.parts = append(mb.parts, p)
	return nil
}

// SetPart replaces the i-th part without checking boundaries.
func (mb *MultipartBody) SetPart(i int, p *Part) {
	mb.parts[i] = p
}

// writeTo writes the parts with their boundary lines.
func (mb *MultipartBody) writeTo(w io.Writer) error {
	if mb.Preamble != "" {
		if _, err := io.WriteString(w, mb.Preamble+"\r\n"); err != nil {
			return err
		}
	}

	for _, p := range mb.parts {
		if _, err := fmt.Fprintf(w, "--%s\r\n", mb.Boundary); err != nil {
			return err
		}

		if _, err := p.WriteTo(w); err != nil {
			return err
		}

		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(w, "--%s--\r\n", mb.Boundary); err != nil {
		return err
	}

	if mb.Epilogue != "" {
		if _, err := io.WriteString(w, mb.Epilogue+"\r\n"); err != nil {
			return err
		}
	}

	return nil
}
