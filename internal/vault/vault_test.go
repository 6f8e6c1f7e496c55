package vault

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baharkarakas/paygate/internal/apperr"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestNew_KeyLength(t *testing.T) {
	_, err := New(testKey)
	require.NoError(t, err)

	_, err = New(testKey[:62])
	assert.Error(t, err)

	_, err = New(testKey + "00")
	assert.Error(t, err)

	_, err = New(strings.Repeat("zz", 32))
	assert.Error(t, err)

	_, err = New("")
	assert.Error(t, err)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	v, err := New(testKey)
	require.NoError(t, err)

	for _, s := range []string{"pwFHCqoQZGmho4w6", "EkRm7iFT261dpevs", "0123456789abcdef", "", "密鑰", strings.Repeat("x", 100)} {
		blob, err := v.Encrypt(s)
		require.NoError(t, err)
		got, err := v.Decrypt(blob)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestEncrypt_FreshIV(t *testing.T) {
	v, err := New(testKey)
	require.NoError(t, err)

	a, err := v.Encrypt("pwFHCqoQZGmho4w6")
	require.NoError(t, err)
	b, err := v.Encrypt("pwFHCqoQZGmho4w6")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	ivA, _, _ := strings.Cut(a, ":")
	raw, err := base64.StdEncoding.DecodeString(ivA)
	require.NoError(t, err)
	assert.Len(t, raw, 16)
}

func TestDecrypt_Malformed(t *testing.T) {
	v, err := New(testKey)
	require.NoError(t, err)

	good, err := v.Encrypt("secret")
	require.NoError(t, err)
	iv, ct, _ := strings.Cut(good, ":")

	cases := map[string]string{
		"no separator":   "abcdef",
		"empty":          "",
		"bad iv base64":  "!!!:" + ct,
		"short iv":       base64.StdEncoding.EncodeToString([]byte("short")) + ":" + ct,
		"bad ct base64":  iv + ":***",
		"ct not aligned": iv + ":" + base64.StdEncoding.EncodeToString([]byte("tooshort")),
		"missing ct":     iv + ":",
	}
	for name, blob := range cases {
		_, err := v.Decrypt(blob)
		assert.ErrorIs(t, err, apperr.ErrDecryption, name)
	}
}

func TestGenerateAPIKey(t *testing.T) {
	k, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(k, "gk_"))
	assert.Len(t, k, 67)

	k2, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, k, k2)
}
