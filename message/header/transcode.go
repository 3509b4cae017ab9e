package header

import (
	"fmt"
	"io"
	"mime"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
)

// Encode turns a field body holding non-ASCII text into RFC 2047 encoded
// words. It always uses b-type (Base-64) encoding with UTF-8 as the character
// set. A body that is plain ASCII is returned unchanged.
func Encode(body string) string {
	return mime.BEncoding.Encode("utf-8", body)
}

// charsetReader converts text in any charset known to ianaindex to UTF-8.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.MIME.Encoding(charset)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}
	return enc.NewDecoder().Reader(input), nil
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// Decode transforms a field body and looks for MIME word encoded values.
// When they are found, these are decoded into native unicode.
func Decode(body string) (string, error) {
	if !strings.Contains(body, "=?") {
		return body, nil
	}
	return wordDecoder.DecodeHeader(body)
}

// has8bit reports whether s holds any byte outside of 7-bit ASCII.
func has8bit(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return true
		}
	}
	return false
}

// unfold removes the line breaks of a folded field body, keeping the
// whitespace that follows each one.
func unfold(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "")
	return strings.ReplaceAll(body, "\n", "")
}
