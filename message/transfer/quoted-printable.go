package transfer

import (
	"bufio"
	"io"
	"mime/quotedprintable"
)

const (
	qpMaxLineLength = 76
	hexDigits       = "0123456789ABCDEF"
)

// qpEncoder writes text in quoted-printable form. Unlike the encoder in
// mime/quotedprintable it escapes "." as well as "=", which keeps a lone dot
// on a line from being taken as the end of an SMTP DATA section, and it
// escapes a lone CR instead of passing it through.
type qpEncoder struct {
	w   *bufio.Writer
	col int

	pendingCR    bool
	pendingSpace bool
	pendingTab   bool
}

// NewQuotedPrintableEncoder will transform all bytes written to the returned
// io.WriteCloser into quoted-printable form and write them to the given
// io.Writer.
//
// CRLF and bare LF are kept as hard line breaks written as CRLF. Whitespace
// immediately before a hard break is escaped. Lines are soft broken so that no
// line exceeds 76 characters.
func NewQuotedPrintableEncoder(w io.Writer) io.WriteCloser {
	return &qpEncoder{w: bufio.NewWriter(w)}
}

// Write encodes b.
func (q *qpEncoder) Write(b []byte) (int, error) {
	for i, c := range b {
		if err := q.encode(c); err != nil {
			return i, err
		}
	}
	return len(b), nil
}

// Close writes any pending whitespace and flushes. It does not close the
// nested writer. Whitespace at the very end of the input is escaped.
func (q *qpEncoder) Close() error {
	if !q.pendingCR {
		var err error
		switch {
		case q.pendingSpace:
			err = q.escape(' ')
		case q.pendingTab:
			err = q.escape('\t')
		}
		if err != nil {
			return err
		}
		q.clearPending()
	}
	if err := q.writePending(); err != nil {
		return err
	}
	return q.w.Flush()
}

func (q *qpEncoder) encode(c byte) error {
	switch c {
	case '\n':
		switch {
		case q.pendingSpace:
			if err := q.escape(' '); err != nil {
				return err
			}
		case q.pendingTab:
			if err := q.escape('\t'); err != nil {
				return err
			}
		}
		q.clearPending()
		return q.lineBreak()
	case '\r':
		if q.pendingCR {
			if err := q.writePending(); err != nil {
				return err
			}
		}
		q.pendingCR = true
		return nil
	}

	if err := q.writePending(); err != nil {
		return err
	}

	switch {
	case c == ' ':
		q.pendingSpace = true
		return nil
	case c == '\t':
		q.pendingTab = true
		return nil
	case c < ' ', c > '~', c == '=', c == '.':
		return q.escape(c)
	default:
		return q.plain(c)
	}
}

func (q *qpEncoder) clearPending() {
	q.pendingCR = false
	q.pendingSpace = false
	q.pendingTab = false
}

// writePending flushes whitespace or a CR that turned out not to precede a
// line break.
func (q *qpEncoder) writePending() error {
	var err error
	switch {
	case q.pendingSpace:
		err = q.plain(' ')
	case q.pendingTab:
		err = q.plain('\t')
	}
	if err == nil && q.pendingCR {
		err = q.escape('\r')
	}
	q.clearPending()
	return err
}

func (q *qpEncoder) plain(c byte) error {
	if q.col+1 >= qpMaxLineLength {
		if err := q.softBreak(); err != nil {
			return err
		}
	}
	q.col++
	return q.w.WriteByte(c)
}

func (q *qpEncoder) escape(c byte) error {
	if q.col+3 >= qpMaxLineLength {
		if err := q.softBreak(); err != nil {
			return err
		}
	}
	q.col += 3
	_, err := q.w.Write([]byte{'=', hexDigits[c>>4], hexDigits[c&0x0f]})
	return err
}

func (q *qpEncoder) softBreak() error {
	if err := q.w.WriteByte('='); err != nil {
		return err
	}
	return q.lineBreak()
}

func (q *qpEncoder) lineBreak() error {
	q.col = 0
	_, err := q.w.WriteString("\r\n")
	return err
}

// NewQuotedPrintableDecoder will read bytes from the given io.Reader and return
// them in the returned io.Reader after decoding them from quoted-printable
// format.
func NewQuotedPrintableDecoder(r io.Reader) io.Reader {
	return quotedprintable.NewReader(r)
}
