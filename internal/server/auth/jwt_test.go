package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holamess/holamess/internal/common"
)

var testKey = []byte("test-secret")

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("u1", TokenTypeAccess, testKey, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ParseToken(token, TokenTypeAccess, testKey)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, TokenTypeAccess, claims.TokenType)
}

func TestParseToken_Expired(t *testing.T) {
	token, err := GenerateToken("u1", TokenTypeAccess, testKey, -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(token, TokenTypeAccess, testKey)
	assert.True(t, errors.Is(err, common.ErrTokenExpired), "got %v", err)
}

func TestParseToken_WrongKey(t *testing.T) {
	token, err := GenerateToken("u1", TokenTypeAccess, testKey, time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(token, TokenTypeAccess, []byte("other-key"))
	assert.True(t, errors.Is(err, common.ErrInvalidToken), "got %v", err)
}

func TestParseToken_WrongType(t *testing.T) {
	token, err := GenerateToken("u1", TokenTypeRefresh, testKey, time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(token, TokenTypeAccess, testKey)
	assert.True(t, errors.Is(err, common.ErrInvalidToken),
		"a refresh token must not verify as an access token, got %v", err)
}

func TestParseToken_Garbage(t *testing.T) {
	_, err := ParseToken("not.a.token", TokenTypeAccess, testKey)
	assert.True(t, errors.Is(err, common.ErrInvalidToken), "got %v", err)
}
