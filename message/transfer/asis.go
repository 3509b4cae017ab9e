package transfer

import "io"

// writer adapts an io.Writer into an io.WriteCloser. The nested closers are
// closed in order.
type writer struct {
	io.Writer
	closers []io.Closer
}

// Close closes each nested closer in order, returning the first error.
func (w *writer) Close() error {
	for _, c := range w.closers {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return nil
}

// NewAsIsEncoder returns an io.WriteCloser that writes bytes as-is. Closing it
// does not close w.
func NewAsIsEncoder(w io.Writer) io.WriteCloser {
	return &writer{Writer: w}
}

// NewAsIsDecoder returns an io.Reader that reads bytes as-is.
func NewAsIsDecoder(r io.Reader) io.Reader {
	return r
}
