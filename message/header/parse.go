package header

import (
	"bytes"
	"strings"
)

// BadStartError is returned by Parse when the header begins with text that
// does not look like a header field. The skipped text is kept in BadStart.
type BadStartError struct {
	BadStart []byte
}

// Error returns the error message.
func (err *BadStartError) Error() string {
	return "header starts with text that does not appear to be a header"
}

// splitLines breaks the raw header into one chunk per field, continuation
// lines included.
//
// A field starts on any line that does not begin with a space or tab and
// contains a colon. Every other line continues the field before it. Lines
// that come before the first field are collected in a *BadStartError, which
// is returned alongside the fields found.
func splitLines(m, lb []byte) ([][]byte, error) {
	lines := make([][]byte, 0, len(m)/80)
	var err *BadStartError
	for _, line := range bytes.SplitAfter(m, lb) {
		if len(line) == 0 {
			break
		}

		if line[0] != '\t' && line[0] != ' ' && bytes.IndexByte(line, ':') >= 0 {
			lines = append(lines, line)
			continue
		}

		if len(lines) == 0 {
			if err == nil {
				err = &BadStartError{}
			}
			err.BadStart = append(err.BadStart, line...)
			continue
		}

		lines[len(lines)-1] = append(lines[len(lines)-1], line...)
	}

	if err != nil {
		return lines, err
	}
	return lines, nil
}

// Parse reads a raw header using lb as the line break. The blank line ending
// the header may be included.
//
// Field bodies are kept as written: folds are preserved and encoded words are
// not decoded, so writing the header again gives back the input. Folds are
// rewritten to use CRLF. The returned header is written with CRLF.
//
// If the input starts with junk, the fields that follow are still returned
// together with a *BadStartError.
func Parse(m []byte, lb Break) (*Header, error) {
	lines, err := splitLines(m, lb.Bytes())

	h := &Header{fields: make([]Field, 0, len(lines))}
	for _, line := range lines {
		raw := bytes.TrimRight(line, "\r\n")
		if len(raw) == 0 {
			continue
		}

		ix := bytes.IndexByte(raw, ':')
		name := string(bytes.TrimRight(raw[:ix], " \t"))
		body := strings.TrimLeft(string(raw[ix+1:]), " \t")
		if lb != CRLF {
			body = strings.ReplaceAll(body, lb.String(), CRLF.String())
		}

		h.fields = append(h.fields, Field{Name: name, Body: body})
	}

	return h, err
}
