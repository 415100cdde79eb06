package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateToken(t *testing.T) {
	manager := NewJWTManager(JWTConfig{Secret: "s3cret", Issuer: "study-textbook-api"})

	token, err := manager.GenerateAccessToken("user-1", "a@b.c", "student")
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "access", claims.TokenType)
}

func TestValidateTokenRejects(t *testing.T) {
	manager := NewJWTManager(JWTConfig{Secret: "s3cret", Issuer: "study-textbook-api"})

	other := NewJWTManager(JWTConfig{Secret: "different", Issuer: "study-textbook-api"})
	forged, err := other.GenerateAccessToken("user-1", "", "")
	require.NoError(t, err)
	_, err = manager.ValidateToken(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewJWTManager(JWTConfig{Secret: "s3cret", Issuer: "study-textbook-api", Expiry: -time.Minute})
	old, err := expired.GenerateAccessToken("user-1", "", "")
	require.NoError(t, err)
	_, err = manager.ValidateToken(old)
	assert.ErrorIs(t, err, ErrExpiredToken)

	_, err = manager.ValidateToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
