package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestService_TokenRoundTrip(t *testing.T) {
	svc := NewService("s3cret", time.Hour)
	token, err := svc.GenerateToken("Tunare")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "Tunare", claims.Officer)
	assert.Equal(t, "Tunare", claims.Subject)
	assert.Equal(t, issuer, claims.Issuer)
}

func TestService_RejectsBadTokens(t *testing.T) {
	svc := NewService("s3cret", time.Hour)

	other, err := NewService("different", time.Hour).GenerateToken("Tunare")
	require.NoError(t, err)
	_, err = svc.ValidateToken(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	svc.clock = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := svc.GenerateToken("Tunare")
	require.NoError(t, err)
	svc.clock = time.Now
	_, err = svc.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Officer: "Tunare",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.ValidateToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_NoSecret(t *testing.T) {
	svc := NewService("", 0)
	_, err := svc.GenerateToken("Tunare")
	assert.ErrorIs(t, err, ErrNoSecret)
	_, err = svc.ValidateToken("x.y.z")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestPasswords(t *testing.T) {
	PasswordCost = bcrypt.MinCost
	t.Cleanup(func() { PasswordCost = bcrypt.DefaultCost })

	_, err := HashPassword("")
	assert.ErrorIs(t, err, ErrEmptyPassword)

	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.True(t, CheckPassword("hunter2", hash))
	assert.False(t, CheckPassword("hunter3", hash))
}
