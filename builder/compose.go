package builder

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zostay/go-mailbuild/message"
	"github.com/zostay/go-mailbuild/message/header"
	"github.com/zostay/go-mailbuild/message/header/param"
)

// SignatureSeparator is written on the line in front of the signature.
const SignatureSeparator = "-- "

// ErrNoSender is returned by Compose when the identity has no address.
var ErrNoSender = errors.New("identity has no e-mail address")

// Composer turns a Request into a Message.
type Composer struct {
	// Boundary generates the boundary of the multipart/mixed body. The
	// default is message.DefaultBoundary.
	Boundary message.BoundaryGenerator

	// TempDir holds attachment content read from an io.Reader. The default
	// is os.TempDir().
	TempDir string

	// Now returns the Date used when the request has no SentDate.
	Now func() time.Time
}

// Compose builds the message described by req with a zero Composer.
func Compose(req *Request) (*message.Message, error) {
	return (&Composer{}).Compose(req)
}

// Compose builds the message described by req. The header fields are written
// in this order: Date, From, To, Cc, Bcc (drafts only), Subject, the read
// receipt request, User-Agent, Reply-To, In-Reply-To, References, Message-ID,
// and then the MIME fields.
//
// The body is the text alone or, with attachments, a multipart/mixed holding
// the text followed by one part per attachment. A draft also gets an
// X-Mailbuild-Identity field recording how it was composed.
//
// On error, temporary files created for attachments have been removed.
func (c *Composer) Compose(req *Request) (*message.Message, error) {
	if req.Identity.Email == "" {
		return nil, ErrNoSender
	}

	m := message.NewMessage()
	if err := c.compose(m, req); err != nil {
		_ = m.Close()
		return nil, err
	}

	return m, nil
}

func (c *Composer) compose(m *message.Message, req *Request) error {
	if err := c.buildHeader(m, req); err != nil {
		return err
	}

	text := buildText(req)
	if len(req.Attachments) == 0 {
		m.SetBody(text, message.DefaultTextType)
	} else {
		mixed := message.NewMultipartBody(message.Mixed, c.boundary())
		m.SetBody(mixed, "")

		if err := mixed.AddPart(message.NewPart(text, message.DefaultTextType)); err != nil {
			return err
		}

		for _, a := range req.Attachments {
			p, err := c.attachmentPart(a)
			if err != nil {
				return err
			}
			if err := mixed.AddPart(p); err != nil {
				_ = p.Close()
				return err
			}
		}
	}

	if req.Draft {
		m.Set(header.Identity, DraftIdentity{
			Identity:       req.Identity,
			QuotedTextMode: req.QuotedTextMode,
			ComposedOffset: text.ComposedOffset,
			ComposedLength: text.ComposedLength,
		}.String())
	}

	return nil
}

func (c *Composer) boundary() string {
	if c.Boundary == nil {
		return message.GenerateBoundary()
	}
	return c.Boundary.Generate()
}

func (c *Composer) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// setList sets an address field when the list is not empty.
func setList(set func(...any) error, name string, list []string) error {
	if len(list) == 0 {
		return nil
	}

	as := make([]any, 0, len(list))
	for _, s := range list {
		for _, a := range header.ParseAddressList(s) {
			as = append(as, a)
		}
	}

	if err := set(as...); err != nil {
		return fmt.Errorf("bad %s address: %w", name, err)
	}
	return nil
}

func (c *Composer) buildHeader(msg *message.Message, req *Request) error {
	sent := req.SentDate
	if sent.IsZero() {
		sent = c.now()
	}
	msg.SetSentDate(sent, req.HideTimeZone)

	from, err := req.Identity.Mailbox()
	if err != nil {
		return fmt.Errorf("bad identity address: %w", err)
	}
	if err := msg.SetFrom(from); err != nil {
		return fmt.Errorf("bad identity address: %w", err)
	}

	if err := setList(msg.SetTo, header.To, req.To); err != nil {
		return err
	}
	if err := setList(msg.SetCc, header.Cc, req.Cc); err != nil {
		return err
	}
	if req.Draft {
		if err := setList(msg.SetBcc, header.Bcc, req.Bcc); err != nil {
			return err
		}
	}

	msg.SetSubject(req.Subject)

	if req.RequestReadReceipt {
		msg.Set(header.DispositionNotification, req.Identity.Email)
	}

	if req.UserAgent != "" {
		msg.Set(header.UserAgent, req.UserAgent)
	}

	if err := setList(msg.SetReplyTo, header.ReplyTo, req.ReplyTo); err != nil {
		return err
	}

	if req.InReplyTo != "" {
		msg.SetInReplyTo(req.InReplyTo)
	}
	if req.References != "" {
		msg.SetReferences(req.References)
	}

	id := req.MessageID
	if id == "" {
		id = NewMessageID(req.Identity.Email)
	}
	msg.SetMessageID(id)

	return nil
}

// NewMessageID returns a random Message-ID in the domain of addr.
func NewMessageID(addr string) string {
	domain := "localhost"
	if at := strings.LastIndexByte(addr, '@'); at >= 0 && at < len(addr)-1 {
		domain = addr[at+1:]
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("unable to generate message id: %v", err))
	}

	return "<" + hex.EncodeToString(b) + "@" + domain + ">"
}

// crlf rewrites every line ending in s as CRLF.
func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// appendSignature adds the separator line and signature to text.
func appendSignature(text, sig string) string {
	if text != "" && !strings.HasSuffix(text, "\r\n") {
		text += "\r\n"
	}
	return text + SignatureSeparator + "\r\n" + sig
}

// buildText assembles the text body from the composed text, the quoted text,
// and the signature, all with CRLF line endings. The position of the composed
// text is recorded on the body.
func buildText(req *Request) *message.TextBody {
	text := crlf(req.Body)
	quoted := crlf(req.QuotedText)
	sig := crlf(req.Identity.Signature)

	useSig := !req.Draft && sig != ""
	sigFirst := req.ReplyAfterQuote || req.Identity.SignatureBeforeQuotedText

	if useSig && sigFirst {
		text = appendSignature(text, sig)
	}

	offset, length := 0, len(text)

	includeQuoted := quoted != "" &&
		(req.Draft || req.QuotedTextMode == QuoteShow)
	if includeQuoted {
		if req.ReplyAfterQuote {
			offset = len(quoted) + len("\r\n")
			text = quoted + "\r\n" + text
		} else {
			text += "\r\n\r\n" + quoted
		}
	}

	if useSig && !sigFirst {
		text = appendSignature(text, sig)
	}

	body := message.NewTextBody(text)
	body.ComposedOffset = offset
	body.ComposedLength = length
	return body
}

// attachmentPart builds the part for one attachment.
func (c *Composer) attachmentPart(a Attachment) (*message.Part, error) {
	name := a.Name
	if name == "" && a.Path != "" {
		name = filepath.Base(a.Path)
	}

	ct := a.ContentType
	if ct == "" {
		ct = message.DefaultBinaryType
	}

	disp := a.Disposition
	if disp == "" {
		disp = "attachment"
	}

	if strings.EqualFold(ct, message.DefaultMessageType) {
		return c.messagePart(a, name, disp)
	}

	var (
		body *message.BinaryBody
		err  error
	)
	switch {
	case a.Reader != nil:
		body, err = message.NewTempFileBody(c.TempDir, a.Reader)
	case a.Path != "":
		body = message.NewFileBody(a.Path)
	default:
		err = fmt.Errorf("attachment %q has no content", name)
	}
	if err != nil {
		return nil, err
	}

	size, err := body.Size()
	if err != nil {
		_ = body.Close()
		return nil, fmt.Errorf("unable to read attachment %q: %w", name, err)
	}

	p := message.NewPart(body, param.New(ct,
		param.Quoted(param.Name, name).Folded(" "),
	).String())
	p.SetDisposition(disp,
		param.Extended(param.Filename, name).Folded(" "),
		param.Bare(param.Size, strconv.FormatInt(size, 10)).Folded(" "),
	)

	return p, nil
}

// messagePart attaches a whole message. It is parsed so that it can be
// carried as message/rfc822 rather than as opaque octets.
func (c *Composer) messagePart(a Attachment, name, disp string) (*message.Part, error) {
	r := a.Reader
	if r == nil {
		f, err := os.Open(a.Path)
		if err != nil {
			return nil, fmt.Errorf("unable to open attachment %q: %w", name, err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	cr := &countingReader{r: r}
	sub, err := message.Parse(cr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse attached message %q: %w", name, err)
	}

	p := message.NewPart(message.NewMessageBody(sub), message.DefaultMessageType)
	p.SetDisposition(disp,
		param.Extended(param.Filename, name).Folded(" "),
		param.Bare(param.Size, strconv.FormatInt(cr.n, 10)).Folded(" "),
	)
	return p, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.n += int64(n)
	return n, err
}
