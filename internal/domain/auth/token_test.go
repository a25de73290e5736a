package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminTokenRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	at := NewAdminToken("secret").WithTTL(time.Minute).WithClock(func() time.Time { return now })

	token, exp, err := at.GenerateToken("operator", RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), exp)

	claims, err := at.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestAdminTokenExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	at := NewAdminToken("secret").WithTTL(time.Minute).WithClock(func() time.Time { return now })
	token, _, err := at.GenerateToken("operator", RoleAdmin)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = at.VerifyToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestAdminTokenWrongSecret(t *testing.T) {
	token, _, err := NewAdminToken("secret").GenerateToken("operator", RoleAdmin)
	require.NoError(t, err)

	_, err = NewAdminToken("other").VerifyToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestAdminTokenEmptySecret(t *testing.T) {
	_, _, err := NewAdminToken("").GenerateToken("operator", RoleAdmin)
	assert.ErrorIs(t, err, ErrEmptySecret)

	_, err = NewAdminToken("").VerifyToken("x")
	assert.ErrorIs(t, err, ErrEmptySecret)
}
