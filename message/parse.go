package message

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/ianaindex"

	"github.com/zostay/go-mailbuild/internal/scanner"
	"github.com/zostay/go-mailbuild/message/header"
	"github.com/zostay/go-mailbuild/message/header/param"
	"github.com/zostay/go-mailbuild/message/transfer"
)

// Limits applied by Parse unless changed with a ParseOption.
const (
	// DefaultMaxMultipartDepth is how deep Parse descends into nested
	// multiparts and messages.
	DefaultMaxMultipartDepth = 10

	// DefaultChunkSize is how much input is read at a time while looking for
	// the end of the header.
	DefaultChunkSize = 16_384

	// DefaultMaxHeaderLength is the longest header Parse accepts.
	DefaultMaxHeaderLength = bufio.MaxScanTokenSize

	// DefaultMaxPartLength is the longest body Parse accepts at any level.
	DefaultMaxPartLength = 32 << 20
)

// Errors returned by Parse.
var (
	// ErrNoBoundary is returned when a multipart Content-Type has no boundary
	// parameter.
	ErrNoBoundary = errors.New("the boundary parameter is missing from Content-Type")

	// ErrLargeHeader is returned when the header is longer than the maximum
	// header length.
	ErrLargeHeader = errors.New("the header exceeds the maximum parse length")

	// ErrLargePart is returned when a body is longer than the maximum part
	// length.
	ErrLargePart = errors.New("a message part exceeds the maximum parse length")
)

// splits are the header/body separators recognized, most likely first.
var splits = [][]byte{
	[]byte("\r\n\r\n"),
	[]byte("\n\r\n\r"),
	[]byte("\n\n"),
	[]byte("\r\r"),
}

type parser struct {
	maxHeaderLen int
	maxPartLen   int
	maxDepth     int
	chunkSize    int
}

// ParseOption changes how Parse works.
type ParseOption func(pr *parser)

// WithMaxHeaderLength sets the longest header accepted before Parse fails
// with ErrLargeHeader. A value of 0 or less removes the limit.
func WithMaxHeaderLength(n int) ParseOption {
	return func(pr *parser) { pr.maxHeaderLen = n }
}

// WithMaxPartLength sets the longest body accepted at any level before Parse
// fails with ErrLargePart.
func WithMaxPartLength(n int) ParseOption {
	return func(pr *parser) { pr.maxPartLen = n }
}

// WithChunkSize sets how many bytes are read at a time.
func WithChunkSize(n int) ParseOption {
	return func(pr *parser) { pr.chunkSize = n }
}

// WithMaxDepth sets how deep Parse descends. Bodies below that depth are kept
// as undecoded octets. A negative depth means no limit.
func WithMaxDepth(n int) ParseOption {
	return func(pr *parser) { pr.maxDepth = n }
}

// searchForSplit returns the offset just past the header/body separator and
// the line break the header uses, or -1 when no separator is found. A subpart
// may have an empty header, in which case the body starts after the first
// line break.
func searchForSplit(buf []byte, subpart bool) (int, []byte) {
	if subpart {
		for _, s := range splits {
			lb := s[:len(s)/2]
			if bytes.HasPrefix(buf, lb) {
				return len(lb), lb
			}
		}
	}

	for _, s := range splits {
		if ix := bytes.Index(buf, s); ix >= 0 {
			return ix + len(s), s[:len(s)/2]
		}
	}

	return -1, nil
}

// splitHeadFromBody reads r until the end of the header and returns the
// header bytes, the line break, and the complete body.
func (pr *parser) splitHeadFromBody(r io.Reader, subpart bool) ([]byte, []byte, []byte, error) {
	chunk := make([]byte, pr.chunkSize)
	buf := &bytes.Buffer{}
	searched := 0
	for {
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])

		pos, lb := searchForSplit(buf.Bytes()[searched:], subpart && searched == 0)
		if pos >= 0 {
			pos += searched
		}

		if pr.maxHeaderLen > 0 && (pos > pr.maxHeaderLen || (pos < 0 && buf.Len() > pr.maxHeaderLen)) {
			return nil, nil, nil, ErrLargeHeader
		}

		if pos >= 0 {
			all := buf.Bytes()
			rest, rerr := io.ReadAll(io.LimitReader(r, int64(pr.maxPartLen)+1))
			if rerr != nil {
				return nil, nil, nil, rerr
			}

			body := make([]byte, 0, len(all)-pos+len(rest))
			body = append(body, all[pos:]...)
			body = append(body, rest...)
			if len(body) > pr.maxPartLen {
				return nil, nil, nil, ErrLargePart
			}

			return all[:pos], lb, body, nil
		}

		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, nil, nil, err
		}

		// the separator may straddle two chunks
		searched = max(buf.Len()-3, 0)
	}

	// no separator: the whole input is header
	for _, s := range splits {
		lb := s[:len(s)/2]
		if bytes.Contains(buf.Bytes(), lb) {
			return buf.Bytes(), lb, nil, nil
		}
	}

	return buf.Bytes(), []byte("\r\n"), nil, nil
}

// Parse reads a message from r. Parsing the output of WriteTo gives a tree
// that writes the same bytes again. Other input may be normalized on the way
// through: line breaks become CRLF and re-encoded bodies may wrap
// differently.
//
// The header is read a chunk at a time until the blank line that ends it.
// Header fields are kept exactly as found. Bodies are decoded into the
// matching Body kind:
//
//   - multipart/* becomes a *MultipartBody, with each part parsed in turn
//   - message/rfc822 becomes a *MessageBody
//   - text/* becomes a *TextBody, decoded from its transfer encoding and
//     charset
//   - anything else becomes an in-memory *BinaryBody
//
// Bodies keep their transfer encoding, so Downgrade and WriteTo behave as
// they do for a message that was built directly.
func Parse(r io.Reader, opts ...ParseOption) (*Message, error) {
	pr := &parser{
		maxHeaderLen: DefaultMaxHeaderLength,
		maxPartLen:   DefaultMaxPartLength,
		maxDepth:     DefaultMaxMultipartDepth,
		chunkSize:    DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(pr)
	}

	p, err := pr.parsePart(r, false, 0)
	if err != nil {
		return nil, err
	}
	return &Message{Part: *p}, nil
}

// parsePart parses one entity.
func (pr *parser) parsePart(r io.Reader, subpart bool, depth int) (*Part, error) {
	hdr, lb, body, err := pr.splitHeadFromBody(r, subpart)
	if err != nil {
		return nil, err
	}

	h, err := header.Parse(hdr, header.Break(lb))
	var badStart *header.BadStartError
	if err != nil && !errors.As(err, &badStart) {
		return nil, err
	}

	p := &Part{Header: *h}
	if err := pr.parseBody(p, body, depth); err != nil {
		return nil, err
	}
	return p, nil
}

// parseBody picks the Body kind from the Content-Type and fills it.
func (pr *parser) parseBody(p *Part, body []byte, depth int) error {
	cte, _ := p.GetTransferEncoding()
	cte = transfer.Normalize(cte)

	pv, err := p.GetContentType()
	if err != nil {
		pv = param.New(DefaultTextType)
	}

	tooDeep := pr.maxDepth >= 0 && depth >= pr.maxDepth
	switch {
	case pv.Type() == "multipart" && !tooDeep:
		mb, err := pr.parseMultipart(pv, body, depth)
		if err != nil {
			return err
		}
		if cte != "" {
			mb.encoding = cte
		}
		p.body = mb

	case pv.MediaType() == DefaultMessageType && !tooDeep:
		sub, err := pr.parsePart(bytes.NewReader(body), false, depth+1)
		if err != nil {
			return err
		}
		p.body = &MessageBody{Message: &Message{Part: *sub}, encoding: cte}

	case pv.Type() == "text" && !tooDeep:
		tb, err := decodeText(pv, cte, body)
		if err != nil {
			return err
		}
		p.body = tb

	case tooDeep:
		p.body = &BinaryBody{data: body, encoding: cte}

	default:
		data, err := decodeTransfer(cte, body)
		if err != nil {
			return err
		}
		p.body = &BinaryBody{data: data, encoding: cte}
	}

	return nil
}

// decodeTransfer removes the transfer encoding from body.
func decodeTransfer(cte string, body []byte) ([]byte, error) {
	dec, err := transfer.NewDecoder(cte, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("unable to decode %s body: %w", cte, err)
	}
	return data, nil
}

// decodeText removes the transfer encoding and converts the charset to
// UTF-8.
func decodeText(pv *param.Value, cte string, body []byte) (*TextBody, error) {
	data, err := decodeTransfer(cte, body)
	if err != nil {
		return nil, err
	}

	charset := pv.Charset()
	if cs := strings.ToLower(charset); cs != "" && cs != "utf-8" && cs != "us-ascii" {
		enc, err := ianaindex.MIME.Encoding(charset)
		if err != nil || enc == nil {
			return nil, &UnsupportedCharsetError{Charset: charset}
		}
		if data, err = enc.NewDecoder().Bytes(data); err != nil {
			return nil, fmt.Errorf("unable to decode %s text: %w", charset, err)
		}
	}

	if charset == "" {
		charset = "us-ascii"
	}

	return &TextBody{
		Text:           string(data),
		Charset:        charset,
		ComposedLength: NoComposedWindow,
		encoding:       cte,
	}, nil
}

// Scanner states while splitting a multipart body.
const (
	modeStart = iota
	modeMiddle
	modeEnd
)

// parseMultipart splits body on the boundary from pv and parses each part.
//
// The line break in front of every boundary delimiter belongs to the
// delimiter, so it is not part of the preceding part. Text in front of the
// first delimiter is the preamble and text after the closing delimiter is the
// epilogue.
func (pr *parser) parseMultipart(pv *param.Value, body []byte, depth int) (*MultipartBody, error) {
	boundary := pv.Boundary()
	if boundary == "" {
		return nil, ErrNoBoundary
	}

	const lb = "\r\n"
	body = normalizeBreaks(body)

	var (
		sb = []byte("--" + boundary + lb)
		mb = []byte(lb + "--" + boundary + lb)
		eb = []byte(lb + "--" + boundary + "--")
	)

	var (
		preamble, epilogue []byte
		mode               = modeStart
		awaitingPreamble   = true
	)

	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, min(pr.chunkSize, pr.maxPartLen)), pr.maxPartLen)
	sc.Split(scanner.ExitByAdvance(
		func(data []byte, atEOF bool) (advance int, token []byte, err error) {
			switch mode {
			case modeStart:
				if atEOF || len(data) >= len(sb) {
					if bytes.HasPrefix(data, sb) {
						awaitingPreamble = false
						advance = len(sb)
					}
					mode = modeMiddle
					err = scanner.ErrContinue
				}

			case modeMiddle:
				if ix := bytes.Index(data, mb); ix >= 0 {
					advance = ix + len(mb)
					if awaitingPreamble {
						preamble = bytes.Clone(data[:ix])
						awaitingPreamble = false
					} else {
						token = data[:ix]
					}
				} else if atEOF {
					mode = modeEnd
					err = scanner.ErrContinue
				}

			case modeEnd:
				if ix := bytes.Index(data, eb); ix >= 0 {
					token = data[:ix]
					rest := data[ix+len(eb):]
					rest = bytes.TrimPrefix(rest, []byte(lb))
					rest = bytes.TrimSuffix(rest, []byte(lb))
					epilogue = bytes.Clone(rest)
				} else if len(data) > 0 {
					token = data
				}
				err = bufio.ErrFinalToken
			}
			return
		},
	))

	mp := &MultipartBody{
		Boundary: boundary,
		Subtype:  pv.Subtype(),
		encoding: transfer.Bit7,
	}
	for _, ps := range pv.Params() {
		if !strings.EqualFold(ps.Name, param.Boundary) {
			mp.Params = append(mp.Params, ps)
		}
	}

	for sc.Scan() {
		sub, err := pr.parsePart(bytes.NewReader(sc.Bytes()), true, depth+1)
		if err != nil {
			return nil, err
		}
		mp.parts = append(mp.parts, sub)
	}

	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, ErrLargePart
		}
		return nil, err
	}

	mp.Preamble = string(preamble)
	mp.Epilogue = string(epilogue)
	return mp, nil
}

// normalizeBreaks rewrites bare LF line breaks as CRLF.
func normalizeBreaks(b []byte) []byte {
	if !bytes.Contains(b, []byte("\n")) || bytes.Count(b, []byte("\r\n")) == bytes.Count(b, []byte("\n")) {
		return b
	}
	return bytes.ReplaceAll(bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n")), []byte("\n"), []byte("\r\n"))
}
