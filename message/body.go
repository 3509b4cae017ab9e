package message

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/zostay/go-mailbuild/message/header/param"
	"github.com/zostay/go-mailbuild/message/transfer"
)

// DefaultCharset is the charset given to a TextBody when none is set.
const DefaultCharset = "utf-8"

// Default media types used when a Part is created without one.
const (
	DefaultTextType    = "text/plain"
	DefaultBinaryType  = "application/octet-stream"
	DefaultMessageType = "message/rfc822"
)

// NoComposedWindow is the ComposedLength of a TextBody whose whole text is
// user content.
const NoComposedWindow = -1

// ErrBodyClosed is returned when reading a BinaryBody whose backing file has
// already been released.
var ErrBodyClosed = errors.New("body has been closed")

// Body is the content of a Part. It is one of *TextBody, *BinaryBody,
// *MessageBody, or *MultipartBody. The set is closed: code in this package
// switches over exactly these four.
type Body interface {
	// TransferEncoding returns the encoding the body will be written with.
	TransferEncoding() string

	setTransferEncoding(cte string)
	mediaType(contentType string) string
}

// TextBody holds character content. The Text is stored as a Go string (UTF-8)
// and converted to Charset when written.
type TextBody struct {
	Text    string
	Charset string

	// ComposedOffset and ComposedLength locate the portion of Text the user
	// typed, so that an editor can recover it from a stored draft.
	// ComposedLength is NoComposedWindow when the whole text is user content.
	ComposedOffset int
	ComposedLength int

	encoding string
}

// NewTextBody returns a UTF-8 text body that will be written as
// quoted-printable.
func NewTextBody(text string) *TextBody {
	return &TextBody{
		Text:           text,
		Charset:        DefaultCharset,
		ComposedLength: NoComposedWindow,
		encoding:       transfer.QuotedPrintable,
	}
}

// TransferEncoding returns the declared Content-Transfer-Encoding.
func (b *TextBody) TransferEncoding() string {
	return b.encoding
}

func (b *TextBody) setTransferEncoding(cte string) {
	b.encoding = cte
}

// ComposedText returns the user-authored window of the text. When the length
// is NoComposedWindow, the whole text is returned. A zero length window is
// empty.
func (b *TextBody) ComposedText() string {
	if b.ComposedLength < 0 {
		return b.Text
	}

	start := min(max(b.ComposedOffset, 0), len(b.Text))
	end := min(start+b.ComposedLength, len(b.Text))
	return b.Text[start:end]
}

// mediaType renders the content type as "<type>;\r\n charset=<charset>",
// keeping any other parameters given in contentType.
func (b *TextBody) mediaType(contentType string) string {
	if contentType == "" {
		contentType = DefaultTextType
	}

	pv, err := param.Parse(contentType)
	if err != nil {
		pv = param.New(contentType)
	}

	charset := b.Charset
	if charset == "" {
		charset = DefaultCharset
	}

	return param.Modify(pv,
		param.Delete(param.Charset),
		param.Set(param.Bare(param.Charset, charset).Folded(" ")),
	).String()
}

// BinaryBody holds octets. The content is kept in memory or in a file and is
// always stored decoded; the transfer encoding is applied on write.
type BinaryBody struct {
	mu     sync.Mutex
	data   []byte
	path   string
	temp   bool
	closed bool

	encoding string
}

// NewBinaryBody returns an in-memory body that will be written as base64.
func NewBinaryBody(data []byte) *BinaryBody {
	return &BinaryBody{
		data:     data,
		encoding: transfer.Base64,
	}
}

// NewTempFileBody copies r into a new temporary file in dir and returns a
// body backed by that file. The file belongs to the body and is removed by
// Close. If dir is empty, os.TempDir() is used.
func NewTempFileBody(dir string, r io.Reader) (*BinaryBody, error) {
	b, w, err := CreateTempFileBody(dir)
	if err != nil {
		return nil, err
	}

	_, err = io.Copy(w, r)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("unable to fill temporary body: %w", err)
	}

	return b, nil
}

// CreateTempFileBody creates an empty temporary file in dir and returns a body
// backed by it together with a writer for filling it. The writer must be
// closed before the body is written. Closing the body removes the file.
func CreateTempFileBody(dir string) (*BinaryBody, io.WriteCloser, error) {
	f, err := os.CreateTemp(dir, "mailbuild-*.tmp")
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create temporary body: %w", err)
	}

	return &BinaryBody{
		path:     f.Name(),
		temp:     true,
		encoding: transfer.Base64,
	}, f, nil
}

// NewFileBody returns a body that reads the named file each time it is
// written. The file is not removed by Close.
func NewFileBody(path string) *BinaryBody {
	return &BinaryBody{
		path:     path,
		encoding: transfer.Base64,
	}
}

// TransferEncoding returns the declared Content-Transfer-Encoding.
func (b *BinaryBody) TransferEncoding() string {
	return b.encoding
}

func (b *BinaryBody) setTransferEncoding(cte string) {
	b.encoding = cte
}

func (b *BinaryBody) mediaType(contentType string) string {
	if contentType == "" {
		return DefaultBinaryType
	}
	return contentType
}

// Path returns the backing file name or an empty string for in-memory bodies.
func (b *BinaryBody) Path() string {
	return b.path
}

// Open returns a reader over the decoded content. The caller must close it.
func (b *BinaryBody) Open() (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBodyClosed
	}

	if b.path == "" {
		return io.NopCloser(bytes.NewReader(b.data)), nil
	}

	return os.Open(b.path)
}

// Size returns the number of decoded octets.
func (b *BinaryBody) Size() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrBodyClosed
	}

	if b.path == "" {
		return int64(len(b.data)), nil
	}

	fi, err := os.Stat(b.path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Close releases the body. A temporary file is removed. Calling Close more
// than once is harmless.
func (b *BinaryBody) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.data = nil

	if b.temp {
		if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("unable to remove temporary body %q: %w", b.path, err)
		}
	}

	return nil
}

// MessageBody wraps a complete message, as used by message/rfc822 parts.
type MessageBody struct {
	Message *Message

	encoding string
}

// NewMessageBody returns a body holding m, labelled 8bit.
func NewMessageBody(m *Message) *MessageBody {
	return &MessageBody{
		Message:  m,
		encoding: transfer.Bit8,
	}
}

// TransferEncoding returns the declared Content-Transfer-Encoding.
func (b *MessageBody) TransferEncoding() string {
	return b.encoding
}

func (b *MessageBody) setTransferEncoding(cte string) {
	b.encoding = cte
}

func (b *MessageBody) mediaType(contentType string) string {
	if contentType == "" {
		return DefaultMessageType
	}
	return contentType
}
