package builder

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zostay/go-addr/pkg/addr"

	"github.com/zostay/go-mailbuild/message"
	"github.com/zostay/go-mailbuild/message/header"
	"github.com/zostay/go-mailbuild/pgp"
)

// QuotedTextMode decides whether the text of the message being replied to is
// included in the body.
type QuotedTextMode int

const (
	QuoteNone QuotedTextMode = iota // there is no quoted text
	QuoteShow                       // quoted text is included
	QuoteHide                       // quoted text is kept only in drafts
)

var quotedTextModeNames = map[QuotedTextMode]string{
	QuoteNone: "none",
	QuoteShow: "show",
	QuoteHide: "hide",
}

// String returns "none", "show", or "hide".
func (m QuotedTextMode) String() string {
	if s, ok := quotedTextModeNames[m]; ok {
		return s
	}
	return "QuotedTextMode(" + strconv.Itoa(int(m)) + ")"
}

// ParseQuotedTextMode reverses String. The empty string is QuoteNone.
func ParseQuotedTextMode(s string) (QuotedTextMode, error) {
	if s == "" {
		return QuoteNone, nil
	}
	for m, name := range quotedTextModeNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return QuoteNone, fmt.Errorf("unknown quoted text mode %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *QuotedTextMode) UnmarshalText(b []byte) error {
	v, err := ParseQuotedTextMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (m QuotedTextMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Identity is the sending identity.
type Identity struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`

	// Signature is appended to the text of sent messages. An empty signature
	// is not used.
	Signature string `yaml:"signature"`

	// SignatureBeforeQuotedText puts the signature between the composed
	// text and the quoted text instead of at the very end.
	SignatureBeforeQuotedText bool `yaml:"signature_before_quoted_text"`
}

// Mailbox returns the identity as the mailbox for the From field.
func (id Identity) Mailbox() (*addr.Mailbox, error) {
	return addr.NewMailboxStr(id.Name, id.Email, "")
}

// Attachment is a file attached to the message. Either Reader or Path must
// be set. Content read from Reader is copied to a temporary file.
type Attachment struct {
	Name        string    `yaml:"name"`
	ContentType string    `yaml:"content_type"`
	Path        string    `yaml:"path"`
	Reader      io.Reader `yaml:"-"`

	// Disposition defaults to "attachment".
	Disposition string `yaml:"disposition"`
}

// Request describes a message to compose.
type Request struct {
	Identity Identity `yaml:"identity"`

	To      []string `yaml:"to"`
	Cc      []string `yaml:"cc"`
	Bcc     []string `yaml:"bcc"`
	ReplyTo []string `yaml:"reply_to"`

	Subject      string    `yaml:"subject"`
	SentDate     time.Time `yaml:"sent_date"`
	HideTimeZone bool      `yaml:"hide_time_zone"`

	InReplyTo  string `yaml:"in_reply_to"`
	References string `yaml:"references"`
	MessageID  string `yaml:"message_id"`
	UserAgent  string `yaml:"user_agent"`

	Body           string         `yaml:"body"`
	QuotedTextMode QuotedTextMode `yaml:"quoted_text_mode"`
	QuotedText     string         `yaml:"quoted_text"`

	// ReplyAfterQuote places the composed text below the quoted text.
	ReplyAfterQuote bool `yaml:"reply_after_quote"`

	Attachments []Attachment `yaml:"attachments"`

	Draft              bool `yaml:"draft"`
	RequestReadReceipt bool `yaml:"request_read_receipt"`

	Crypto pgp.Config `yaml:"crypto"`
}

// Recipients returns the bare e-mail addresses of every To, Cc, and Bcc
// recipient, in that order.
func (r *Request) Recipients() []string {
	return addresses(r.To, r.Cc, r.Bcc)
}

// VisibleRecipients is Recipients without Bcc.
func (r *Request) VisibleRecipients() []string {
	return addresses(r.To, r.Cc)
}

func addresses(lists ...[]string) []string {
	var out []string
	for _, list := range lists {
		for _, s := range list {
			for _, a := range header.ParseAddressList(s) {
				if e := a.Address(); e != "" {
					out = append(out, e)
				}
			}
		}
	}
	return out
}

// Keys of the identity header.
const (
	identityName   = "name"
	identityEmail  = "email"
	identitySig    = "signature"
	identityQuoted = "quoted"
	identityOffset = "offset"
	identityLength = "length"
	identityBefore = "sig-before-quote"
)

// DraftIdentity is what a stored draft remembers about how it was composed.
type DraftIdentity struct {
	Identity       Identity
	QuotedTextMode QuotedTextMode

	// ComposedOffset and ComposedLength locate the composed text in the body.
	// ComposedLength is message.NoComposedWindow when the whole body is
	// composed text.
	ComposedOffset int
	ComposedLength int
}

// String encodes the identity as a URL query string for the
// X-Mailbuild-Identity field.
func (d DraftIdentity) String() string {
	v := url.Values{}
	v.Set(identityName, d.Identity.Name)
	v.Set(identityEmail, d.Identity.Email)
	if d.Identity.Signature != "" {
		v.Set(identitySig, d.Identity.Signature)
	}
	if d.Identity.SignatureBeforeQuotedText {
		v.Set(identityBefore, "1")
	}
	v.Set(identityQuoted, d.QuotedTextMode.String())
	v.Set(identityOffset, strconv.Itoa(d.ComposedOffset))
	v.Set(identityLength, strconv.Itoa(d.ComposedLength))
	return v.Encode()
}

// ParseDraftIdentity decodes the value of an X-Mailbuild-Identity field.
func ParseDraftIdentity(s string) (DraftIdentity, error) {
	v, err := url.ParseQuery(strings.TrimSpace(s))
	if err != nil {
		return DraftIdentity{}, fmt.Errorf("unable to parse identity: %w", err)
	}

	d := DraftIdentity{
		Identity: Identity{
			Name:                      v.Get(identityName),
			Email:                     v.Get(identityEmail),
			Signature:                 v.Get(identitySig),
			SignatureBeforeQuotedText: v.Get(identityBefore) == "1",
		},
		ComposedLength: message.NoComposedWindow,
	}

	if d.QuotedTextMode, err = ParseQuotedTextMode(v.Get(identityQuoted)); err != nil {
		return DraftIdentity{}, err
	}

	for key, dst := range map[string]*int{
		identityOffset: &d.ComposedOffset,
		identityLength: &d.ComposedLength,
	} {
		if s := v.Get(key); s != "" {
			if *dst, err = strconv.Atoi(s); err != nil {
				return DraftIdentity{}, fmt.Errorf("bad identity %s %q: %w", key, s, err)
			}
		}
	}

	return d, nil
}

// OpenDraft reads the X-Mailbuild-Identity field of a stored draft and applies
// the recorded window to the first text part, so that its ComposedText is the
// text the user typed. The text part is nil when the draft has none.
func OpenDraft(m *message.Message) (DraftIdentity, *message.TextBody, error) {
	v, err := m.Get(header.Identity)
	if err != nil {
		return DraftIdentity{}, nil, err
	}

	d, err := ParseDraftIdentity(v)
	if err != nil {
		return DraftIdentity{}, nil, err
	}

	var text *message.TextBody
	_ = message.PartWalker(func(_, _ int, p *message.Part) error {
		if tb, ok := p.Body().(*message.TextBody); ok && text == nil {
			text = tb
		}
		return nil
	}).Walk(&m.Part)

	if text != nil {
		text.ComposedOffset = d.ComposedOffset
		text.ComposedLength = d.ComposedLength
	}

	return d, text, nil
}
