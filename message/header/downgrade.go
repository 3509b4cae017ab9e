package header

import (
	"strings"

	"github.com/zostay/go-mailbuild/message/header/param"
)

// addressFields are the fields holding address lists.
var addressFields = []string{Bcc, Cc, From, ReplyTo, Sender, To, DispositionNotification}

func isAddressField(name string) bool {
	for _, n := range addressFields {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// Requires8bit reports whether any field body holds a byte outside of 7-bit
// ASCII.
func (h *Header) Requires8bit() bool {
	for _, f := range h.fields {
		if has8bit(f.Body) {
			return true
		}
	}
	return false
}

// Downgrade rewrites every field body holding non-ASCII text so it can be
// sent over a 7-bit transport. Display names in address fields and text in
// unstructured fields become encoded words. Content-Type and
// Content-Disposition parameters are re-rendered, which encodes their values.
// Fields that are already ASCII are left exactly as they are.
//
// An address whose mailbox itself is not ASCII cannot be encoded and stays
// as it is, so Requires8bit may still report true afterwards.
func (h *Header) Downgrade() {
	for i, f := range h.fields {
		if !has8bit(f.Body) {
			continue
		}
		h.fields[i].Body = downgradeField(f.Name, unfold(f.Body))
	}
}

func downgradeField(name, body string) string {
	switch {
	case isAddressField(name):
		al := ParseAddressList(body)
		for i, a := range al {
			al[i] = encodeAddress(a)
		}
		return al.String()

	case strings.EqualFold(name, ContentType), strings.EqualFold(name, ContentDisposition):
		if pv, err := param.Parse(body); err == nil {
			return pv.String()
		}
	}

	return Encode(strings.TrimSpace(body))
}
