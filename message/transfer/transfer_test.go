package transfer_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zostay/go-mailbuild/message/transfer"
)

const dec = `1 Timothy 6:10 - For the love of money is a root of all kinds of evils. It is through this craving that some have wandered away from the faith and pierced themselves with many pangs.`
const enc = "MSBUaW1vdGh5IDY6MTAgLSBGb3IgdGhlIGxvdmUgb2YgbW9uZXkgaXMgYSByb290IG9mIGFsbCBr\r\n" +
	"aW5kcyBvZiBldmlscy4gSXQgaXMgdGhyb3VnaCB0aGlzIGNyYXZpbmcgdGhhdCBzb21lIGhhdmUg\r\n" +
	"d2FuZGVyZWQgYXdheSBmcm9tIHRoZSBmYWl0aCBhbmQgcGllcmNlZCB0aGVtc2VsdmVzIHdpdGgg\r\n" +
	"bWFueSBwYW5ncy4=\r\n"

func encode(t *testing.T, cte string, in []byte) string {
	t.Helper()

	w := &bytes.Buffer{}
	wc, err := transfer.NewEncoder(cte, w)
	require.NoError(t, err)

	n, err := wc.Write(in)
	require.NoError(t, err)
	assert.Equal(t, len(in), n)
	require.NoError(t, wc.Close())

	return w.String()
}

func TestBase64(t *testing.T) {
	t.Parallel()

	assert.Equal(t, enc, encode(t, transfer.Base64, []byte(dec)))

	r, err := transfer.NewDecoder(transfer.Base64, strings.NewReader(enc))
	require.NoError(t, err)
	db, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.Equal(t, dec, string(db))
}

func TestBase64_ExactLine(t *testing.T) {
	t.Parallel()

	raw, err := io.ReadAll(transfer.NewBase64Decoder(
		strings.NewReader("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/")))
	require.NoError(t, err)

	assert.Equal(t,
		"ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/\r\n",
		encode(t, transfer.Base64, raw))

	assert.Equal(t, "", encode(t, transfer.Base64, nil))
}

func TestBase64_SmallWrites(t *testing.T) {
	t.Parallel()

	w := &bytes.Buffer{}
	wc := transfer.NewBase64Encoder(w)
	for i := 0; i < len(dec); i++ {
		_, err := wc.Write([]byte{dec[i]})
		require.NoError(t, err)
	}
	require.NoError(t, wc.Close())

	assert.Equal(t, enc, w.String())
}

func TestQuotedPrintable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		out  string
	}{
		{"plain", "hello", "hello"},
		{"equals and dots", "a=b.", "a=3Db=2E"},
		{"hard breaks", "Testing.\r\nEnd of test.\r\n", "Testing=2E\r\nEnd of test=2E\r\n"},
		{"bare lf", "one\ntwo", "one\r\ntwo"},
		{"utf-8", "αβ\r\n", "=CE=B1=CE=B2\r\n"},
		{"trailing space", "a \r\nb\t\r\n", "a=20\r\nb=09\r\n"},
		{"inner space", "a b", "a b"},
		{"space at end", "a ", "a=20"},
		{"tab at end", "a\t", "a=09"},
		{"bare cr", "a\rb", "a=0Db"},
		{"control", "\x00\x7f", "=00=7F"},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, c.out, encode(t, transfer.QuotedPrintable, []byte(c.in)))
		})
	}
}

func TestQuotedPrintable_SoftBreaks(t *testing.T) {
	t.Parallel()

	in := strings.Repeat("abcdefghij", 20) + "\r\n" + strings.Repeat("é", 60)
	out := encode(t, transfer.QuotedPrintable, []byte(in))

	for _, line := range strings.Split(out, "\r\n") {
		assert.LessOrEqual(t, len(line), 76)
	}

	r, err := transfer.NewDecoder(transfer.QuotedPrintable, strings.NewReader(out))
	require.NoError(t, err)
	db, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, in, string(db))
}

func TestAsIs(t *testing.T) {
	t.Parallel()

	const raw = "\x80\x90\xa0\r\n\t\b"
	for _, cte := range []string{transfer.None, transfer.Bit7, transfer.Bit8, "BINARY"} {
		assert.Equal(t, raw, encode(t, cte, []byte(raw)))
	}
}

func TestUnknownEncoding(t *testing.T) {
	t.Parallel()

	_, err := transfer.NewEncoder("x-uuencode", io.Discard)
	var uerr *transfer.UnknownEncodingError
	assert.ErrorAs(t, err, &uerr)
	assert.Equal(t, "x-uuencode", uerr.Encoding)

	_, err = transfer.NewDecoder("x-uuencode", strings.NewReader(""))
	assert.Error(t, err)

	assert.False(t, transfer.IsKnown("x-uuencode"))
	assert.True(t, transfer.IsKnown("Quoted-Printable"))
}

func TestRequires8bit(t *testing.T) {
	t.Parallel()

	assert.True(t, transfer.Requires8bit("8bit"))
	assert.True(t, transfer.Requires8bit("Binary"))
	assert.False(t, transfer.Requires8bit("7bit"))
	assert.False(t, transfer.Requires8bit("base64"))
	assert.False(t, transfer.Requires8bit("quoted-printable"))
}

func TestCRLFWriter(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"a\nb":       "a\r\nb",
		"a\r\nb":     "a\r\nb",
		"a\rb":       "a\r\nb",
		"a\r":        "a\r\n",
		"\n\n":       "\r\n\r\n",
		"a\r\r\nb\r": "a\r\n\r\nb\r\n",
	}

	for in, out := range cases {
		w := &bytes.Buffer{}
		wc := transfer.NewCRLFWriter(w)
		_, err := io.WriteString(wc, in)
		require.NoError(t, err)
		require.NoError(t, wc.Close())
		assert.Equal(t, out, w.String(), "input %q", in)
	}
}
