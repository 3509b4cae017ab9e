package pgp_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zostay/go-mailbuild/pgp"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	for _, m := range []pgp.Mode{pgp.ModeNone, pgp.ModeSignOnly, pgp.ModeSignAndEncrypt, pgp.ModeOpportunistic} {
		got, err := pgp.ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}

	got, err := pgp.ParseMode("Sign-Only")
	require.NoError(t, err)
	assert.Equal(t, pgp.ModeSignOnly, got)

	got, err = pgp.ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, pgp.ModeNone, got)

	_, err = pgp.ParseMode("sometimes")
	assert.Error(t, err)
}

func TestParseKeyID(t *testing.T) {
	t.Parallel()

	id, err := pgp.ParseKeyID("0x00000000DEADBEEF")
	require.NoError(t, err)
	assert.Equal(t, pgp.KeyID(0xDEADBEEF), id)
	assert.Equal(t, "00000000DEADBEEF", id.String())

	id, err = pgp.ParseKeyID("deadbeef")
	require.NoError(t, err)
	assert.Equal(t, pgp.KeyID(0xDEADBEEF), id)

	_, err = pgp.ParseKeyID("xyz")
	assert.Error(t, err)
}

func TestConfig_Flags(t *testing.T) {
	t.Parallel()

	cfg := pgp.Config{Mode: pgp.ModeOpportunistic}
	assert.True(t, cfg.Encrypting())
	assert.False(t, cfg.Signing())
	assert.False(t, cfg.HasRecipients())

	cfg.SigningKeyID = 1
	cfg.RecipientUserIDs = []string{"bob@example.com"}
	assert.True(t, cfg.Signing())
	assert.True(t, cfg.HasRecipients())

	cfg.Mode = pgp.ModeSignOnly
	assert.False(t, cfg.Encrypting())
}

func TestAutocrypt_HeaderValue(t *testing.T) {
	t.Parallel()

	a := pgp.Autocrypt{
		Addr:          "alice@example.com",
		KeyData:       bytes.Repeat([]byte{0}, 100),
		PreferEncrypt: true,
	}
	assert.True(t, a.Valid())

	lines := strings.Split(a.HeaderValue(), "\r\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "addr=alice@example.com; prefer-encrypt=mutual; keydata=", lines[0])
	assert.Equal(t, " "+strings.Repeat("A", 76), lines[1])
	assert.Equal(t, " "+strings.Repeat("A", 56)+"AA==", lines[2])

	assert.False(t, pgp.Autocrypt{Addr: "alice@example.com"}.Valid())
}
