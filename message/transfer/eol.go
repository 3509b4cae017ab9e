package transfer

import "io"

// crlfWriter rewrites bare CR and bare LF line endings as CRLF.
type crlfWriter struct {
	w      io.Writer
	lastCR bool
}

// NewCRLFWriter returns an io.WriteCloser that normalizes every line ending
// written through it to CRLF. Close terminates a trailing bare CR. It does not
// close w.
func NewCRLFWriter(w io.Writer) io.WriteCloser {
	return &crlfWriter{w: w}
}

func (c *crlfWriter) Write(b []byte) (int, error) {
	out := make([]byte, 0, len(b)+len(b)/8)
	for _, ch := range b {
		switch {
		case ch == '\n' && !c.lastCR:
			out = append(out, '\r', '\n')
		case ch == '\n':
			out = append(out, '\n')
		case c.lastCR:
			out = append(out, '\n', ch)
		default:
			out = append(out, ch)
		}
		c.lastCR = ch == '\r'
	}

	if _, err := c.w.Write(out); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *crlfWriter) Close() error {
	if !c.lastCR {
		return nil
	}
	c.lastCR = false
	_, err := c.w.Write([]byte{'\n'})
	return err
}
