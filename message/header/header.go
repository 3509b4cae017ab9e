package header

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Errors returned by various header methods and functions.
var (
	// ErrNoSuchField is returned by Header methods when the operation
	// being performed failed because the header named does not exist.
	ErrNoSuchField = errors.New("no such header field")

	// ErrWrongAddressType is returned by address setting methods that accept
	// either a string or an addr.Address when something other than those
	// types is provided.
	ErrWrongAddressType = errors.New("incorrect address type during write")
)

// Field names used by this module. These are written with the case shown
// here when set through the typed accessors.
const (
	AutocryptField          = "Autocrypt"
	Bcc                     = "Bcc"
	Cc                      = "Cc"
	ContentDisposition      = "Content-Disposition"
	ContentTransferEncoding = "Content-Transfer-Encoding"
	ContentType             = "Content-Type"
	Date                    = "Date"
	DispositionNotification = "Disposition-Notification-To"
	From                    = "From"
	Identity                = "X-Mailbuild-Identity"
	InReplyTo               = "In-Reply-To"
	MessageID               = "Message-ID"
	MIMEVersion             = "MIME-Version"
	References              = "References"
	ReplyTo                 = "Reply-To"
	Sender                  = "Sender"
	Subject                 = "Subject"
	To                      = "To"
	UserAgent               = "User-Agent"
)

// Field is a single name/body pair as stored in a Header.
type Field struct {
	Name string
	Body string
}

// String renders the field as "Name: Body".
func (f Field) String() string {
	return f.Name + ": " + f.Body
}

// Header is an ordered collection of header fields. Names are compared
// case-insensitively. The zero value is an empty header written with CRLF line
// breaks.
type Header struct {
	lbr    Break
	fields []Field
}

// SetBreak changes the line break used when the header is written.
func (h *Header) SetBreak(lbr Break) {
	h.lbr = lbr
}

// Break returns the line break used when the header is written.
func (h *Header) Break() Break {
	if h.lbr == "" {
		return CRLF
	}
	return h.lbr
}

// Len returns the number of fields in the header.
func (h *Header) Len() int {
	return len(h.fields)
}

// Fields returns a copy of all fields in order.
func (h *Header) Fields() []Field {
	fs := make([]Field, len(h.fields))
	copy(fs, h.fields)
	return fs
}

// Names returns the distinct field names in the order they first appear.
func (h *Header) Names() []string {
	names := make([]string, 0, len(h.fields))
	for _, f := range h.fields {
		seen := false
		for _, n := range names {
			if strings.EqualFold(n, f.Name) {
				seen = true
				break
			}
		}
		if !seen {
			names = append(names, f.Name)
		}
	}
	return names
}

// indexes returns the positions of every field with the given name.
func (h *Header) indexes(name string) []int {
	var ixs []int
	for i, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			ixs = append(ixs, i)
		}
	}
	return ixs
}

// Has returns true if at least one field with the given name is set.
func (h *Header) Has(name string) bool {
	return len(h.indexes(name)) > 0
}

// Get retrieves the body of the first field with the given name.
//
// If the named field is not set in the header, it will return an empty string
// with ErrNoSuchField.
func (h *Header) Get(name string) (string, error) {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Body, nil
		}
	}
	return "", ErrNoSuchField
}

// GetAll retrieves the bodies of every field with the given name in order.
//
// If the named field is not set in the header, it will return nil with
// ErrNoSuchField.
func (h *Header) GetAll(name string) ([]string, error) {
	ixs := h.indexes(name)
	if len(ixs) == 0 {
		return nil, ErrNoSuchField
	}

	bodies := make([]string, len(ixs))
	for i, ix := range ixs {
		bodies[i] = h.fields[ix].Body
	}
	return bodies, nil
}

// Set replaces every field with the given name by a single field holding the
// given body. The replacement takes the position of the first existing field,
// so header order is preserved. If no such field exists, it is appended.
func (h *Header) Set(name, body string) {
	h.SetAll(name, body)
}

// SetAll replaces every field with the given name by one field per body. The
// new fields are placed where the first existing field was, or appended when
// there was none.
func (h *Header) SetAll(name string, bodies ...string) {
	ixs := h.indexes(name)
	if len(ixs) == 0 {
		for _, b := range bodies {
			h.Add(name, b)
		}
		return
	}

	at := ixs[0]
	h.Delete(name)

	nfs := make([]Field, 0, len(h.fields)+len(bodies))
	nfs = append(nfs, h.fields[:at]...)
	for _, b := range bodies {
		nfs = append(nfs, Field{name, b})
	}
	nfs = append(nfs, h.fields[at:]...)
	h.fields = nfs
}

// Add appends one more field with the given name.
func (h *Header) Add(name, body string) {
	h.fields = append(h.fields, Field{name, body})
}

// InsertBefore inserts a new field immediately in front of the first field
// named before. If there is no such field, the new field is appended.
func (h *Header) InsertBefore(before, name, body string) {
	ixs := h.indexes(before)
	if len(ixs) == 0 {
		h.Add(name, body)
		return
	}

	at := ixs[0]
	h.fields = append(h.fields, Field{})
	copy(h.fields[at+1:], h.fields[at:])
	h.fields[at] = Field{name, body}
}

// Delete removes every field with the given name.
func (h *Header) Delete(name string) {
	fs := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			fs = append(fs, f)
		}
	}
	h.fields = fs
}

// Clone returns a deep copy of the header.
func (h *Header) Clone() *Header {
	return &Header{
		lbr:    h.lbr,
		fields: h.Fields(),
	}
}

// WriteTo writes each field followed by a line break. It does not write the
// blank line that separates a header from a body.
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	lbr := h.Break().String()

	var total int64
	for _, f := range h.fields {
		n, err := io.WriteString(w, f.String()+lbr)
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("unable to write header field %q: %w", f.Name, err)
		}
	}

	return total, nil
}

// String returns the header as it would be written by WriteTo.
func (h *Header) String() string {
	var b strings.Builder
	_, _ = h.WriteTo(&b)
	return b.String()
}

// GetSubject returns the Subject field with any encoded words decoded.
func (h *Header) GetSubject() (string, error) {
	s, err := h.Get(Subject)
	if err != nil {
		return "", err
	}
	return Decode(unfold(s))
}

// SetSubject replaces the Subject field. Non-ASCII text is written as
// encoded words.
func (h *Header) SetSubject(s string) {
	h.Set(Subject, Encode(s))
}

// GetMessageID returns the Message-ID field.
func (h *Header) GetMessageID() (string, error) {
	return h.Get(MessageID)
}

// SetMessageID replaces the Message-ID field.
func (h *Header) SetMessageID(id string) {
	h.Set(MessageID, id)
}

// GetInReplyTo returns the In-Reply-To field.
func (h *Header) GetInReplyTo() (string, error) {
	return h.Get(InReplyTo)
}

// SetInReplyTo replaces the In-Reply-To field.
func (h *Header) SetInReplyTo(ref string) {
	h.Set(InReplyTo, ref)
}

// GetReferences returns the References field.
func (h *Header) GetReferences() (string, error) {
	return h.Get(References)
}

// SetReferences replaces the References field.
func (h *Header) SetReferences(ref string) {
	h.Set(References, ref)
}
