package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("testpass123")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "testpass123"))
	assert.False(t, CheckPassword(hash, "wrong"))
}

func TestTokenCarriesRole(t *testing.T) {
	iss := NewIssuer("secret", time.Minute)
	tok, err := iss.Make("u1", "admin")
	require.NoError(t, err)

	c, err := iss.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", c.UserID)
	assert.True(t, c.Admin())
}

func TestParseRejects(t *testing.T) {
	iss := NewIssuer("secret", time.Minute)
	good, _ := iss.Make("u1", "user")

	expired := NewIssuer("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _ := expired.Make("u1", "user")

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name string
		tok  string
		iss  *Issuer
	}{
		{"wrong secret", good, NewIssuer("other", time.Minute)},
		{"expired", old, iss},
		{"alg none", none, iss},
		{"garbage", "not.a.token", iss},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.iss.Parse(tt.tok)
			assert.Error(t, err)
		})
	}
}

func TestDefaultTTL(t *testing.T) {
	assert.Equal(t, 15*time.Minute, NewIssuer("s", 0).TTL())
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc"))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken(""))
}

func TestRefreshTokenHash(t *testing.T) {
	raw, hash, err := GenerateRefreshToken()
	require.NoError(t, err)
	assert.Len(t, raw, 64)
	assert.Equal(t, hash, HashRefreshToken(raw))
	assert.NotEqual(t, raw, hash)
}
