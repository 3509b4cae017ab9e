package header

import (
	"strings"

	"github.com/zostay/go-addr/pkg/addr"
	"github.com/zostay/go-addr/pkg/format"
)

// ParseAddressList parses any field body into an addr.AddressList. It will
// attempt a strict parse of the address list first. If that fails, an
// extremely lenient parse is used instead, which will return something for any
// input, though the result may be odd.
func ParseAddressList(body string) addr.AddressList {
	al, err := addr.ParseEmailAddressList(body)
	if err != nil {
		al = parseEmailAddressList(body)
	}

	return al
}

// GetAddressList returns the named field parsed as an addr.AddressList.
// Encoded words in display names are decoded.
//
// It will return nil and ErrNoSuchField if the field is not set on the header.
func (h *Header) GetAddressList(name string) (addr.AddressList, error) {
	body, err := h.Get(name)
	if err != nil {
		return nil, err
	}

	al := ParseAddressList(unfold(body))
	for _, a := range al {
		mb, ok := a.(*addr.Mailbox)
		if !ok || !format.HasMIMEWord(mb.DisplayName()) {
			continue
		}
		if dn, err := Decode(mb.DisplayName()); err == nil {
			mb.SetDisplayName(dn)
		}
	}

	return al, nil
}

// encodeAddress returns a mailbox whose non-ASCII display name has been
// turned into encoded words. Anything else is returned as is.
func encodeAddress(a addr.Address) addr.Address {
	mb, ok := a.(*addr.Mailbox)
	if !ok || !has8bit(mb.DisplayName()) {
		return a
	}

	enc, err := addr.NewMailbox(Encode(mb.DisplayName()), mb.AddrSpec(), mb.Comment())
	if err != nil {
		return a
	}
	return enc
}

// SetAddressList replaces the named field with the given addresses. The order
// of the addresses is preserved. Setting an empty list removes the field.
// Display names outside of ASCII are written as encoded words.
func (h *Header) SetAddressList(name string, body ...addr.Address) {
	if len(body) == 0 {
		h.Delete(name)
		return
	}

	al := make(addr.AddressList, len(body))
	for i, a := range body {
		al[i] = encodeAddress(a)
	}

	h.Set(name, al.String())
}

// setAddress allows the setting of an address field either from a string or
// from an address or fails with an error.
func (h *Header) setAddress(n string, as []any) error {
	al := make(addr.AddressList, 0, len(as))
	for _, a := range as {
		switch v := a.(type) {
		case string:
			add, err := addr.ParseEmailAddress(v)
			if err != nil {
				return err
			}
			al = append(al, add)
		case addr.AddressList:
			al = append(al, v...)
		case addr.Address:
			al = append(al, v)
		default:
			return ErrWrongAddressType
		}
	}
	h.SetAddressList(n, al...)
	return nil
}

// GetFrom returns the From field as an addr.AddressList.
func (h *Header) GetFrom() (addr.AddressList, error) {
	return h.GetAddressList(From)
}

// SetFrom sets the From field from strings, addresses or address lists.
//
// It will fail with an error if something other than those types is provided
// or if a given string fails to strictly parse.
func (h *Header) SetFrom(a ...any) error {
	return h.setAddress(From, a)
}

// GetTo returns the To field as an addr.AddressList.
func (h *Header) GetTo() (addr.AddressList, error) {
	return h.GetAddressList(To)
}

// SetTo sets the To field. See SetFrom for the accepted types.
func (h *Header) SetTo(a ...any) error {
	return h.setAddress(To, a)
}

// GetCc returns the Cc field as an addr.AddressList.
func (h *Header) GetCc() (addr.AddressList, error) {
	return h.GetAddressList(Cc)
}

// SetCc sets the Cc field. See SetFrom for the accepted types.
func (h *Header) SetCc(a ...any) error {
	return h.setAddress(Cc, a)
}

// GetBcc returns the Bcc field as an addr.AddressList.
func (h *Header) GetBcc() (addr.AddressList, error) {
	return h.GetAddressList(Bcc)
}

// SetBcc sets the Bcc field. See SetFrom for the accepted types.
func (h *Header) SetBcc(a ...any) error {
	return h.setAddress(Bcc, a)
}

// GetReplyTo returns the Reply-To field as an addr.AddressList.
func (h *Header) GetReplyTo() (addr.AddressList, error) {
	return h.GetAddressList(ReplyTo)
}

// SetReplyTo sets the Reply-To field. See SetFrom for the accepted types.
func (h *Header) SetReplyTo(a ...any) error {
	return h.setAddress(ReplyTo, a)
}

// parseEmailAddressList is a fallback method for email address parsing. The
// parser in github.com/zostay/go-addr is strict, which is what we want for
// data entry, but addresses typed into a compose form are often sloppy, so
// this produces something usable anyway.
//
// It works as follows:
//
// 1. Split the string up by commas.
// 2. Each string resulting from the split is trimmed of whitespace.
// 3. The comments are stripped from each string and held.
// 4. All the words at the start are treated as the display name.
// 5. The last word at the end is treated as the email address.
//
// Groups are not recognized.
func parseEmailAddressList(v string) addr.AddressList {
	extractComments := func(s string) (string, string) {
		var clean, comment strings.Builder
		nestLevel := 0
		for _, c := range s {
			switch {
			case c == '(':
				nestLevel++
				if nestLevel > 1 {
					comment.WriteRune(c)
				}
			case c == ')':
				nestLevel--
				switch {
				case nestLevel == 0:
				case nestLevel < 0:
					nestLevel = 0
					clean.WriteRune(c)
				default:
					comment.WriteRune(c)
				}
			case nestLevel > 0:
				comment.WriteRune(c)
			default:
				clean.WriteRune(c)
			}
		}

		return clean.String(), comment.String()
	}

	mbs := strings.Split(v, ",")
	as := make(addr.AddressList, 0, len(mbs))
	for _, orig := range mbs {
		mb, com := extractComments(orig)

		parts := strings.Fields(strings.TrimSpace(mb))
		com = strings.TrimSpace(com)

		var dn, email string
		switch {
		case len(parts) == 0:
			continue
		case len(parts) > 1:
			dn = strings.Join(parts[:len(parts)-1], " ")
			email = parts[len(parts)-1]
		default:
			email = parts[0]
		}

		email = strings.TrimSuffix(strings.TrimPrefix(email, "<"), ">")

		local, domain := email, ""
		if i := strings.LastIndex(email, "@"); i > -1 {
			local, domain = email[:i], email[i+1:]
		}
		addrSpec := addr.NewAddrSpecParsed(local, domain, email)

		mailbox, err := addr.NewMailboxParsed(dn, addrSpec, com, orig)
		if err != nil {
			mailbox, _ = addr.NewMailboxParsed(dn, addrSpec, "", orig)
		}

		as = append(as, mailbox)
	}

	return as
}
