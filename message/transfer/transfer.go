package transfer

import (
	"fmt"
	"io"
	"strings"
)

// Transfer encodings understood by this package.
const (
	None            = ""                 // bytes will be left as-is
	Bit7            = "7bit"             // bytes will be left as-is
	Bit8            = "8bit"             // bytes will be left as-is
	Binary          = "binary"           // bytes will be left as-is
	QuotedPrintable = "quoted-printable" // bytes will be transformed between quoted-printable and binary data
	Base64          = "base64"           // bytes will be transformed between base64 and binary data
)

// Transcoding is a pair of functions that can be used to transform to and from
// a transfer encoding.
type Transcoding struct {
	// Encoder returns an io.WriteCloser, which will encode binary data and
	// write the encoded form to the given io.Writer. You must call Close() on
	// the returned io.WriteCloser when you are finished. Closing it never
	// closes the given io.Writer.
	Encoder func(io.Writer) io.WriteCloser

	// Decoder returns an io.Reader, which will read from the given io.Reader
	// and decode the encoded data back into binary form.
	Decoder func(io.Reader) io.Reader
}

// AsIsTranscoder is just a shortcut to a no-op encoder/decoder.
var AsIsTranscoder = Transcoding{NewAsIsEncoder, NewAsIsDecoder}

// Transcodings defines the supported Content-Transfer-Encodings and how to
// handle them.
var Transcodings = map[string]Transcoding{
	None:            AsIsTranscoder,
	Bit7:            AsIsTranscoder,
	Bit8:            AsIsTranscoder,
	Binary:          AsIsTranscoder,
	QuotedPrintable: {NewQuotedPrintableEncoder, NewQuotedPrintableDecoder},
	Base64:          {NewBase64Encoder, NewBase64Decoder},
}

// UnknownEncodingError is returned when a transfer encoding has no entry in
// Transcodings.
type UnknownEncodingError struct {
	Encoding string
}

// Error returns the error message.
func (e *UnknownEncodingError) Error() string {
	return fmt.Sprintf("unknown content-transfer-encoding %q", e.Encoding)
}

// Normalize returns the canonical, lowercased name of a transfer encoding.
func Normalize(cte string) string {
	return strings.ToLower(strings.TrimSpace(cte))
}

// NewEncoder returns an encoder for the named transfer encoding writing to w.
func NewEncoder(cte string, w io.Writer) (io.WriteCloser, error) {
	tc, ok := Transcodings[Normalize(cte)]
	if !ok {
		return nil, &UnknownEncodingError{cte}
	}
	return tc.Encoder(w), nil
}

// NewDecoder returns a decoder for the named transfer encoding reading from r.
func NewDecoder(cte string, r io.Reader) (io.Reader, error) {
	tc, ok := Transcodings[Normalize(cte)]
	if !ok {
		return nil, &UnknownEncodingError{cte}
	}
	return tc.Decoder(r), nil
}

// Requires8bit returns true if content labelled with the given transfer
// encoding cannot pass through a 7-bit transport.
func Requires8bit(cte string) bool {
	switch Normalize(cte) {
	case Bit8, Binary:
		return true
	}
	return false
}

// IsKnown returns true if the transfer encoding is one of the constants above.
func IsKnown(cte string) bool {
	_, ok := Transcodings[Normalize(cte)]
	return ok
}
