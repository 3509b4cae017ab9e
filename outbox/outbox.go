// Package outbox hands finished messages to whatever comes after the
// builder: a terminal, a maildir-like directory, an S3 bucket, or Amazon SES.
package outbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zostay/go-mailbuild/message"
)

// ErrDraft is returned by sinks that transmit messages when they are handed a
// draft.
var ErrDraft = errors.New("drafts cannot be sent")

// Envelope describes how a message is to be handled by a Sink. It is kept
// apart from the message because Bcc recipients do not appear in the header
// of a sent message.
type Envelope struct {
	From       string
	Recipients []string
	Draft      bool
}

// Sink accepts finished messages.
type Sink interface {
	// Deliver stores or sends msg. The caller still owns msg.
	Deliver(ctx context.Context, env Envelope, msg *message.Message) error

	// Name returns a short name for logs.
	Name() string
}

// serialize returns the wire bytes of msg.
func serialize(msg *message.Message) ([]byte, error) {
	b, err := msg.Bytes()
	if err != nil {
		return nil, fmt.Errorf("unable to serialize message: %w", err)
	}
	return b, nil
}

// FileName returns a name for msg based on its Message-ID, or on the current
// time if it has none. Characters that are awkward in file names and object
// keys are replaced.
func FileName(msg *message.Message) string {
	id, _ := msg.GetMessageID()
	id = strings.Trim(strings.TrimSpace(id), "<>")
	if id == "" {
		id = time.Now().UTC().Format("20060102T150405.000000000")
	}

	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_' || r == '@' || r == '+':
			return r
		default:
			return '_'
		}
	}, id) + ".eml"
}

// Writer writes each message to an io.Writer.
type Writer struct {
	w io.Writer
}

// NewWriter returns a sink writing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Stdout returns a sink writing to standard output.
func Stdout() *Writer {
	return NewWriter(os.Stdout)
}

// Deliver writes msg.
func (s *Writer) Deliver(_ context.Context, _ Envelope, msg *message.Message) error {
	if _, err := msg.WriteTo(s.w); err != nil {
		return fmt.Errorf("unable to write message: %w", err)
	}
	return nil
}

// Name returns "writer".
func (s *Writer) Name() string {
	return "writer"
}

// Dir stores each message as a file. Drafts go in a drafts subdirectory and
// everything else in an outbox subdirectory.
type Dir struct {
	Path string
}

// NewDir returns a sink storing messages below path.
func NewDir(path string) *Dir {
	return &Dir{Path: path}
}

// Folder returns the subdirectory or key prefix used for env.
func Folder(env Envelope) string {
	if env.Draft {
		return "drafts"
	}
	return "outbox"
}

// Deliver writes msg to a temporary file and renames it into place, so a
// reader never sees a partial message.
func (s *Dir) Deliver(_ context.Context, env Envelope, msg *message.Message) error {
	dir := filepath.Join(s.Path, Folder(env))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("unable to create %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("unable to create message file: %w", err)
	}
	tmp := f.Name()

	_, err = msg.WriteTo(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("unable to write message file: %w", err)
	}

	if err := os.Rename(tmp, filepath.Join(dir, FileName(msg))); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("unable to store message file: %w", err)
	}

	return nil
}

// Name returns "dir".
func (s *Dir) Name() string {
	return "dir"
}

// reader returns the serialized message as a reader, along with its length.
func reader(msg *message.Message) (*bytes.Reader, int64, error) {
	b, err := serialize(msg)
	if err != nil {
		return nil, 0, err
	}
	return bytes.NewReader(b), int64(len(b)), nil
}
