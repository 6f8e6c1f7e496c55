package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenPair(t *testing.T) {
	tm := NewTokenManager("acc", "ref", time.Minute, time.Hour)
	access, refresh, exp, err := tm.GeneratePair("admin", RoleAdmin)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 5*time.Second)

	c, isRefresh, err := tm.ParseAny(access)
	require.NoError(t, err)
	assert.False(t, isRefresh)
	assert.Equal(t, RoleAdmin, c.Role)

	c, isRefresh, err = tm.ParseAny(refresh)
	require.NoError(t, err)
	assert.True(t, isRefresh)
	assert.Equal(t, "admin", c.Subject)

	_, _, err = NewTokenManager("other", "other2", time.Minute, time.Hour).ParseAny(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredToken(t *testing.T) {
	tm := NewTokenManager("acc", "ref", -time.Minute, -time.Minute)
	access, _, _, err := tm.GeneratePair("admin", RoleAdmin)
	require.NoError(t, err)
	_, _, err = tm.ParseAny(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAPIKeyHash(t *testing.T) {
	key := "gk_" + "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	h, err := HashAPIKey(key)
	require.NoError(t, err)
	assert.NoError(t, VerifyAPIKey(key, h))
	assert.Error(t, VerifyAPIKey(key+"x", h))
	assert.Equal(t, "gk_012345678", APIKeyPrefix(key))
	assert.Equal(t, "", APIKeyPrefix("gk_1"))
}
