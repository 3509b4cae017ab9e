package header

// Break represents the line break written after each header field.
type Break string

// Line breaks a Header may be written with. Messages on the wire use CRLF,
// which is also what a zero Header uses.
const (
	CRLF Break = "\x0d\x0a" // \r\n - Network linebreak
	LF   Break = "\x0a"     // \n - Unix linebreak
)

// String returns the break as a string.
func (b Break) String() string {
	return string(b)
}

// Bytes returns the break as a slice of bytes.
func (b Break) Bytes() []byte {
	return []byte(b)
}
