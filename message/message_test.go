package message_test

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zostay/go-mailbuild/message"
	"github.com/zostay/go-mailbuild/message/header"
	"github.com/zostay/go-mailbuild/message/header/param"
	"github.com/zostay/go-mailbuild/message/transfer"
)

const (
	rawText = "Testing.\r\n" +
		"This is a text body with some greek characters.\r\n" +
		"αβγδεζηθ\r\n" +
		"End of test.\r\n"

	qpText = "Testing=2E\r\n" +
		"This is a text body with some greek characters=2E\r\n" +
		"=CE=B1=CE=B2=CE=B3=CE=B4=CE=B5=CE=B6=CE=B7=CE=B8\r\n" +
		"End of test=2E\r\n"

	b64Text = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
)

func textPart(t *testing.T, cte string) *message.Part {
	t.Helper()

	p := message.NewPart(message.NewTextBody(rawText), "text/plain")
	require.NoError(t, p.SetEncoding(cte))
	return p
}

func binaryPart(t *testing.T) *message.Part {
	t.Helper()

	raw, err := base64.StdEncoding.DecodeString(b64Text)
	require.NoError(t, err)

	body, err := message.NewTempFileBody(t.TempDir(), bytes.NewReader(raw))
	require.NoError(t, err)

	p := message.NewPart(body, "application/octet-stream")
	require.NoError(t, p.SetEncoding(transfer.Base64))
	return p
}

func sampleMessage(t *testing.T, gen message.BoundaryGenerator) *message.Message {
	t.Helper()

	m := message.NewMessage()
	require.NoError(t, m.SetFrom("from@example.com"))
	require.NoError(t, m.SetTo("to@example.com"))
	m.SetSubject("Test Message")
	m.Set(header.Date, "Wed, 28 Aug 2013 08:51:09 -0400")

	mixed := message.NewMultipartBody(message.Mixed, gen.Generate())
	require.NoError(t, mixed.AddPart(textPart(t, transfer.Bit8)))
	require.NoError(t, mixed.AddPart(textPart(t, transfer.QuotedPrintable)))
	require.NoError(t, mixed.AddPart(binaryPart(t)))

	m.SetBody(mixed, "")
	require.NoError(t, m.SetEncoding(transfer.Bit8))

	return m
}

func nestedMessage(t *testing.T, gen message.BoundaryGenerator, sub *message.Message) *message.Message {
	t.Helper()

	p := message.NewPart(message.NewMessageBody(sub), "message/rfc822")
	p.SetDisposition("attachment")
	require.NoError(t, p.SetEncoding(transfer.Bit8))

	parent := sampleMessage(t, gen)
	require.NoError(t, parent.Multipart().AddPart(p))

	return parent
}

// expected renders the serialized form of sampleMessage nested depth levels
// deep, innermost boundary 101.
func expected(depth int, sevenBit bool) string {
	cte, firstCTE, firstBody := "8bit", "quoted-printable", rawText
	if sevenBit {
		cte, firstBody = "7bit", qpText
	} else {
		firstCTE = "8bit"
	}

	b := fmt.Sprintf("----Boundary%d", 100+depth)
	text := "Content-Type: text/plain;\r\n" +
		" charset=utf-8\r\n"

	s := "From: from@example.com\r\n" +
		"To: to@example.com\r\n" +
		"Subject: Test Message\r\n" +
		"Date: Wed, 28 Aug 2013 08:51:09 -0400\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"" + b + "\"\r\n" +
		"Content-Transfer-Encoding: " + cte + "\r\n" +
		"\r\n" +
		"--" + b + "\r\n" +
		text +
		"Content-Transfer-Encoding: " + firstCTE + "\r\n" +
		"\r\n" +
		firstBody +
		"\r\n" +
		"--" + b + "\r\n" +
		text +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		qpText +
		"\r\n" +
		"--" + b + "\r\n" +
		"Content-Type: application/octet-stream\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		b64Text + "\r\n" +
		"\r\n"

	if depth > 1 {
		s += "--" + b + "\r\n" +
			"Content-Type: message/rfc822\r\n" +
			"Content-Disposition: attachment\r\n" +
			"Content-Transfer-Encoding: " + cte + "\r\n" +
			"\r\n" +
			expected(depth-1, sevenBit) +
			"\r\n"
	}

	return s + "--" + b + "--\r\n"
}

func nestedSample(t *testing.T) *message.Message {
	t.Helper()

	gen := message.NewSequentialBoundary(101)
	inner := sampleMessage(t, gen)
	middle := nestedMessage(t, gen, inner)
	return nestedMessage(t, gen, middle)
}

func TestMessage_WriteTo_Single(t *testing.T) {
	t.Parallel()

	m := sampleMessage(t, message.NewSequentialBoundary(101))

	const want = "From: from@example.com\r\n" +
		"To: to@example.com\r\n" +
		"Subject: Test Message\r\n" +
		"Date: Wed, 28 Aug 2013 08:51:09 -0400\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"----Boundary101\"\r\n" +
		"Content-Transfer-Encoding: 8bit\r\n" +
		"\r\n" +
		"------Boundary101\r\n" +
		"Content-Type: text/plain;\r\n" +
		" charset=utf-8\r\n" +
		"Content-Transfer-Encoding: 8bit\r\n" +
		"\r\n" +
		"Testing.\r\n" +
		"This is a text body with some greek characters.\r\n" +
		"αβγδεζηθ\r\n" +
		"End of test.\r\n" +
		"\r\n" +
		"------Boundary101\r\n" +
		"Content-Type: text/plain;\r\n" +
		" charset=utf-8\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		"Testing=2E\r\n" +
		"This is a text body with some greek characters=2E\r\n" +
		"=CE=B1=CE=B2=CE=B3=CE=B4=CE=B5=CE=B6=CE=B7=CE=B8\r\n" +
		"End of test=2E\r\n" +
		"\r\n" +
		"------Boundary101\r\n" +
		"Content-Type: application/octet-stream\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/\r\n" +
		"\r\n" +
		"------Boundary101--\r\n"

	buf := &bytes.Buffer{}
	n, err := m.WriteTo(buf)
	require.NoError(t, err)
	assert.Equal(t, want, buf.String())
	assert.Equal(t, int64(len(want)), n)
	assert.Equal(t, want, expected(1, false))
}

func TestMessage_WriteTo_Nested(t *testing.T) {
	t.Parallel()

	m := nestedSample(t)
	defer func() { assert.NoError(t, m.Close()) }()

	out, err := m.Bytes()
	require.NoError(t, err)
	assert.Equal(t, expected(3, false), string(out))

	// writing again yields the same bytes
	again, err := m.Bytes()
	require.NoError(t, err)
	assert.Equal(t, string(out), string(again))

	assert.Equal(t, []string{"----Boundary103", "----Boundary102", "----Boundary101"},
		message.Boundaries(&m.Part))
	assert.NoError(t, m.Validate())
}

func TestMessage_Downgrade(t *testing.T) {
	t.Parallel()

	m := nestedSample(t)
	defer func() { assert.NoError(t, m.Close()) }()

	require.True(t, message.Requires8bit(&m.Part))
	require.NoError(t, m.Downgrade())
	assert.False(t, message.Requires8bit(&m.Part))

	once, err := m.Bytes()
	require.NoError(t, err)
	assert.Equal(t, expected(3, true), string(once))

	require.NoError(t, m.Downgrade())
	twice, err := m.Bytes()
	require.NoError(t, err)
	assert.Equal(t, string(once), string(twice))
}

func TestDowngrade_Binary(t *testing.T) {
	t.Parallel()

	p := message.NewPart(message.NewBinaryBody([]byte{0xde, 0xad, 0xbe, 0xef}), "")
	require.NoError(t, p.SetEncoding(transfer.Binary))
	require.NoError(t, p.Downgrade())

	assert.Equal(t, transfer.Base64, p.TransferEncoding())
	assert.Equal(t,
		"Content-Type: application/octet-stream\r\n"+
			"Content-Transfer-Encoding: base64\r\n"+
			"\r\n"+
			"3q2+7w==\r\n",
		mustString(t, p))
}

func TestDowngrade_Signed(t *testing.T) {
	t.Parallel()

	signed := message.NewMultipartBody(message.Signed, "sig")
	require.NoError(t, signed.AddPart(textPart(t, transfer.QuotedPrintable)))
	p := message.NewPart(signed, "")

	before := mustString(t, p)
	require.NoError(t, p.Downgrade())
	assert.Equal(t, before, mustString(t, p))

	bad := message.NewMultipartBody(message.Signed, "sig8")
	require.NoError(t, bad.AddPart(textPart(t, transfer.Bit8)))
	bp := message.NewPart(bad, "")
	assert.ErrorIs(t, bp.Downgrade(), message.ErrSigned8bit)
	assert.Equal(t, transfer.Bit8, bad.Part(0).TransferEncoding())
}

func mustString(t *testing.T, p *message.Part) string {
	t.Helper()

	b, err := p.Bytes()
	require.NoError(t, err)
	return string(b)
}

func TestMultipartBody_AddPart_Collision(t *testing.T) {
	t.Parallel()

	outer := message.NewMultipartBody(message.Mixed, "one")
	inner := message.NewMultipartBody(message.Alternative, "one")
	err := outer.AddPart(message.NewPart(inner, ""))
	assert.ErrorIs(t, err, message.ErrBoundaryCollision)

	first := message.NewMultipartBody(message.Alternative, "two")
	require.NoError(t, outer.AddPart(message.NewPart(first, "")))

	second := message.NewMultipartBody(message.Alternative, "two")
	err = outer.AddPart(message.NewPart(second, ""))
	assert.ErrorIs(t, err, message.ErrBoundaryCollision)
	assert.Equal(t, 1, outer.Len())
}

func TestMessage_Validate(t *testing.T) {
	t.Parallel()

	// boundaries changed after assembly are only caught by Validate
	inner := message.NewMessage()
	inner.SetBody(message.NewMultipartBody(message.Mixed, "same"), "")

	outer := message.NewMessage()
	mixed := message.NewMultipartBody(message.Mixed, "other")
	outer.SetBody(mixed, "")
	require.NoError(t, mixed.AddPart(message.NewPart(message.NewMessageBody(inner), "")))
	assert.NoError(t, outer.Validate())

	mixed.Boundary = "same"
	assert.ErrorIs(t, outer.Validate(), message.ErrBoundaryCollision)

	mixed.Boundary = ""
	assert.ErrorIs(t, outer.Validate(), message.ErrNoBoundary)
}

func TestPart_SetEncoding(t *testing.T) {
	t.Parallel()

	p := message.NewPart(message.NewMultipartBody(message.Mixed, "x"), "")
	assert.ErrorIs(t, p.SetEncoding(transfer.Base64), message.ErrInvalidEncoding)

	var uerr *transfer.UnknownEncodingError
	assert.ErrorAs(t, p.SetEncoding("x-gzip"), &uerr)

	assert.NoError(t, p.SetEncoding(transfer.Bit7))
	cte, err := p.GetTransferEncoding()
	assert.NoError(t, err)
	assert.Equal(t, transfer.Bit7, cte)
}

func TestMultipartBody_Params(t *testing.T) {
	t.Parallel()

	mb := message.NewMultipartBody(message.Signed, "----Boundary1")
	mb.Params = append(mb.Params,
		param.Quoted(param.Protocol, "application/pgp-signature").Folded("  "),
		param.Quoted(param.MicAlg, "pgp-sha256"))
	p := message.NewPart(mb, "")

	ct, err := p.Get(header.ContentType)
	require.NoError(t, err)
	assert.Equal(t,
		"multipart/signed; boundary=\"----Boundary1\";\r\n"+
			"  protocol=\"application/pgp-signature\"; micalg=\"pgp-sha256\"",
		ct)
	assert.Equal(t, transfer.Bit7, p.TransferEncoding())

	mb.Preamble = "This is an OpenPGP/MIME signed message (RFC 4880 and 3156)"
	assert.Equal(t,
		"Content-Type: "+ct+"\r\n"+
			"Content-Transfer-Encoding: 7bit\r\n"+
			"\r\n"+
			"This is an OpenPGP/MIME signed message (RFC 4880 and 3156)\r\n"+
			"------Boundary1--\r\n",
		mustString(t, p))
}

func TestTextBody_Charset(t *testing.T) {
	t.Parallel()

	body := message.NewTextBody("café\n")
	body.Charset = "iso-8859-1"
	p := message.NewPart(body, "text/plain; format=flowed")

	assert.Equal(t,
		"Content-Type: text/plain; format=flowed;\r\n"+
			" charset=iso-8859-1\r\n"+
			"Content-Transfer-Encoding: quoted-printable\r\n"+
			"\r\n"+
			"caf=E9\r\n",
		mustString(t, p))

	require.NoError(t, p.SetEncoding(transfer.Bit8))
	assert.Equal(t,
		"Content-Type: text/plain; format=flowed;\r\n"+
			" charset=iso-8859-1\r\n"+
			"Content-Transfer-Encoding: 8bit\r\n"+
			"\r\n"+
			"caf\xe9\r\n",
		mustString(t, p))

	body.Charset = "x-no-such-charset"
	p.SyncContentType()
	_, err := p.Bytes()
	var cerr *message.UnsupportedCharsetError
	assert.ErrorAs(t, err, &cerr)
}

func TestTextBody_ComposedText(t *testing.T) {
	t.Parallel()

	body := message.NewTextBody("Hello\r\n-- \r\nsig")
	assert.Equal(t, "Hello\r\n-- \r\nsig", body.ComposedText())

	body.ComposedOffset = 0
	body.ComposedLength = 7
	assert.Equal(t, "Hello\r\n", body.ComposedText())

	body.ComposedOffset = 7
	body.ComposedLength = 100
	assert.Equal(t, "-- \r\nsig", body.ComposedText())

	body.ComposedOffset = 0
	body.ComposedLength = 0
	assert.Empty(t, body.ComposedText())

	body.ComposedLength = message.NoComposedWindow
	assert.Equal(t, "Hello\r\n-- \r\nsig", body.ComposedText())
}

func TestBinaryBody_TempFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	body, err := message.NewTempFileBody(dir, bytes.NewReader([]byte("hello")))
	require.NoError(t, err)

	path := body.Path()
	assert.Equal(t, dir, filepath.Dir(path))

	size, err := body.Size()
	assert.NoError(t, err)
	assert.Equal(t, int64(5), size)

	m := message.NewMessage()
	m.SetBody(body, "application/x-test")
	assert.Contains(t, mustString(t, &m.Part), "aGVsbG8=\r\n")

	require.NoError(t, m.Close())
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.NoError(t, body.Close())

	_, err = m.Bytes()
	assert.ErrorIs(t, err, message.ErrBodyClosed)
}

func TestBinaryBody_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte{0, 1, 2}, 0o600))

	body := message.NewFileBody(path)
	p := message.NewPart(body, "")
	assert.Contains(t, mustString(t, p), "AAEC\r\n")

	require.NoError(t, body.Close())
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestWalk(t *testing.T) {
	t.Parallel()

	m := nestedSample(t)
	defer func() { _ = m.Close() }()

	var depths []int
	var walk message.PartWalker = func(depth, _ int, _ *message.Part) error {
		depths = append(depths, depth)
		return nil
	}
	require.NoError(t, walk.Walk(&m.Part))

	// message, 3 leaves, nested part, nested message, 3 leaves, nested part,
	// nested message, 3 leaves
	assert.Equal(t, []int{0, 1, 1, 1, 1, 2, 3, 3, 3, 3, 4, 5, 5, 5}, depths)

	leaves := 0
	var count message.PartWalker = func(int, int, *message.Part) error {
		leaves++
		return nil
	}
	require.NoError(t, count.WalkLeaves(&m.Part))
	assert.Equal(t, 9, leaves)

	assert.Len(t, message.Attachments(&m.Part), 2)
}
