package param

import (
	"mime"
	"sort"
	"strings"
)

// Names of the parameters this module reads or writes.
const (
	Boundary = "boundary"
	Charset  = "charset"
	Filename = "filename"
	MicAlg   = "micalg"
	Name     = "name"
	Protocol = "protocol"
	Size     = "size"
)

// Param is a single parameter of a Value.
type Param struct {
	// Name is the parameter name. Names are matched case-insensitively.
	Name string

	// Value is the unquoted parameter value.
	Value string

	// Quoted forces the value to be written in quotes. Values that are not
	// valid MIME tokens are quoted regardless.
	Quoted bool

	// Fold, when not empty, causes the parameter to be written on a new line
	// indented by the given whitespace.
	Fold string

	// Extended writes a non-ASCII value as an RFC 2231 extended value
	// (name*=utf-8''...) instead of as RFC 2047 encoded words in quotes.
	Extended bool
}

// Bare returns a parameter that is only quoted when it must be.
func Bare(name, value string) Param {
	return Param{Name: name, Value: value}
}

// Quoted returns a parameter that is always written in quotes.
func Quoted(name, value string) Param {
	return Param{Name: name, Value: value, Quoted: true}
}

// Extended returns a parameter that is written in quotes when it is ASCII
// and as an RFC 2231 extended value when it is not.
func Extended(name, value string) Param {
	return Param{Name: name, Value: value, Quoted: true, Extended: true}
}

// Folded returns a copy of the parameter that will be written on its own line
// with the given indent.
func (p Param) Folded(indent string) Param {
	p.Fold = indent
	return p
}

// String renders the parameter as name=value. Values outside of ASCII are
// never written raw: they become encoded words in quotes or, for an Extended
// parameter, an RFC 2231 value.
func (p Param) String() string {
	switch {
	case has8bit(p.Value) && p.Extended:
		return p.Name + "*=utf-8''" + percentEncode(p.Value)
	case has8bit(p.Value):
		return p.Name + "=" + quote(mime.BEncoding.Encode("utf-8", p.Value))
	case p.Quoted || needsQuoting(p.Value):
		return p.Name + "=" + quote(p.Value)
	default:
		return p.Name + "=" + p.Value
	}
}

// Value represents a parameterized header value. A Value is immutable: use
// Modify() to derive a changed copy.
type Value struct {
	v  string
	ps []Param
}

// Parse parses a header field body into a Value. Parameters are ordered by
// name and quoted only where required. RFC 2231 values are decoded, and a
// filename is written back in that form if it is not ASCII.
func Parse(v string) (*Value, error) {
	mt, ps, err := mime.ParseMediaType(v)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(ps))
	for k := range ps {
		names = append(names, k)
	}
	sort.Strings(names)

	pv := &Value{v: mt, ps: make([]Param, 0, len(names))}
	for _, k := range names {
		p := Bare(k, ps[k])
		p.Extended = k == Filename
		pv.ps = append(pv.ps, p)
	}

	return pv, nil
}

// New creates a new Value with the given parameters in the given order.
func New(v string, ps ...Param) *Value {
	cps := make([]Param, len(ps))
	copy(cps, ps)
	return &Value{v, cps}
}

// Modifier is a modification applied by Modify().
type Modifier func(*Value)

// Change replaces the primary value.
func Change(value string) Modifier {
	return func(pv *Value) {
		pv.v = value
	}
}

// Set replaces the parameter with the same name, keeping its position, or
// appends it if no such parameter exists.
func Set(p Param) Modifier {
	return func(pv *Value) {
		for i := range pv.ps {
			if strings.EqualFold(pv.ps[i].Name, p.Name) {
				pv.ps[i] = p
				return
			}
		}
		pv.ps = append(pv.ps, p)
	}
}

// Delete removes the named parameter.
func Delete(name string) Modifier {
	return func(pv *Value) {
		ps := pv.ps[:0]
		for _, p := range pv.ps {
			if !strings.EqualFold(p.Name, name) {
				ps = append(ps, p)
			}
		}
		pv.ps = ps
	}
}

// Modify clones the Value and applies the given modifications to the clone:
//
//	v := param.New("multipart/mixed", param.Quoted(param.Boundary, "abc"))
//	nv := param.Modify(v, param.Change("multipart/signed"),
//	  param.Set(param.Quoted(param.Protocol, "application/pgp-signature").Folded("  ")))
func Modify(pv *Value, changes ...Modifier) *Value {
	c := pv.Clone()
	for _, change := range changes {
		change(c)
	}
	return c
}

// MediaType returns the primary value, e.g. "text/plain".
func (pv *Value) MediaType() string {
	return pv.v
}

// Disposition is a synonym for MediaType() used with Content-Disposition.
func (pv *Value) Disposition() string {
	return pv.v
}

// Type returns the part of the media type before the slash or an empty string
// if there is no slash.
func (pv *Value) Type() string {
	if ix := strings.IndexRune(pv.v, '/'); ix >= 0 {
		return pv.v[:ix]
	}
	return ""
}

// Subtype returns the part of the media type after the slash or an empty
// string if there is no slash.
func (pv *Value) Subtype() string {
	if ix := strings.IndexRune(pv.v, '/'); ix >= 0 {
		return pv.v[ix+1:]
	}
	return ""
}

// Params returns a copy of the parameters in order.
func (pv *Value) Params() []Param {
	ps := make([]Param, len(pv.ps))
	copy(ps, pv.ps)
	return ps
}

// Parameter returns the value of the named parameter or an empty string.
func (pv *Value) Parameter(k string) string {
	for _, p := range pv.ps {
		if strings.EqualFold(p.Name, k) {
			return p.Value
		}
	}
	return ""
}

// Charset returns the charset parameter.
func (pv *Value) Charset() string {
	return pv.Parameter(Charset)
}

// Boundary returns the boundary parameter.
func (pv *Value) Boundary() string {
	return pv.Parameter(Boundary)
}

// Filename returns the filename parameter.
func (pv *Value) Filename() string {
	return pv.Parameter(Filename)
}

// String returns the serialized value. Folded parameters are preceded by a
// CRLF and their indent.
func (pv *Value) String() string {
	var b strings.Builder
	b.WriteString(pv.v)
	for _, p := range pv.ps {
		if p.Fold != "" {
			b.WriteString(";\r\n")
			b.WriteString(p.Fold)
		} else {
			b.WriteString("; ")
		}
		b.WriteString(p.String())
	}
	return b.String()
}

// Bytes returns String() as a byte slice.
func (pv *Value) Bytes() []byte {
	return []byte(pv.String())
}

// Clone returns a deep copy of the Value.
func (pv *Value) Clone() *Value {
	return New(pv.v, pv.ps...)
}

// needsQuoting reports whether s is not a valid RFC 2045 token.
func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	for _, c := range s {
		if c <= ' ' || c >= 0x7f || strings.ContainsRune(`()<>@,;:\"/[]?=`, c) {
			return true
		}
	}
	return false
}

func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, c := range s {
		if c == '"' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	b.WriteByte('"')
	return b.String()
}

func has8bit(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return true
		}
	}
	return false
}

// percentEncode escapes every byte that is not an RFC 2231 attribute-char.
func percentEncode(s string) string {
	const hex = "0123456789ABCDEF"

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9',
			strings.IndexByte("!#$&+-.^_`|~", c) >= 0:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		}
	}
	return b.String()
}
