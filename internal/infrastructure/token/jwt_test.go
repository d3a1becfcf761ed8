package token

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopline/storefront/internal/core/domain"
)

const testSecret = "test-secret-at-least-32-bytes-long!!"

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newCodec(t *testing.T, c *clock) *JWTCodec {
	t.Helper()
	codec, err := NewJWTCodec(Config{
		Secret:     testSecret,
		Issuer:     "storefront",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	})
	require.NoError(t, err)
	if c != nil {
		codec.WithClock(c.Now)
	}
	return codec
}

func TestNewJWTCodec_RejectsBadConfig(t *testing.T) {
	_, err := NewJWTCodec(Config{AccessTTL: time.Minute, RefreshTTL: time.Hour})
	assert.Error(t, err)

	_, err = NewJWTCodec(Config{Secret: testSecret, AccessTTL: 0, RefreshTTL: time.Hour})
	assert.Error(t, err)
}

func TestJWTCodec_AccessTokenRoundTrip(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	codec := newCodec(t, c)

	tok, err := codec.IssueAccessToken("alice@example.com", domain.RoleAdmin)
	require.NoError(t, err)

	claims, err := codec.VerifyAccessToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims.Subject)
	assert.Equal(t, domain.RoleAdmin, claims.Role)
	assert.Equal(t, domain.TokenAccess, claims.Kind)
	assert.NotEmpty(t, claims.ID)
	assert.True(t, claims.IssuedAt.Equal(c.now))
	assert.True(t, claims.ExpiresAt.Equal(c.now.Add(15*time.Minute)))
}

func TestJWTCodec_RefreshToken(t *testing.T) {
	codec := newCodec(t, nil)

	refresh, err := codec.IssueRefreshToken("bob@example.com")
	require.NoError(t, err)
	assert.True(t, codec.VerifyRefreshToken(refresh))

	_, err = codec.VerifyAccessToken(refresh)
	assert.ErrorIs(t, err, domain.ErrInvalidToken, "refresh token must not pass as access token")

	access, err := codec.IssueAccessToken("bob@example.com", domain.RoleClient)
	require.NoError(t, err)
	assert.False(t, codec.VerifyRefreshToken(access), "access token must not pass as refresh token")
}

func TestJWTCodec_SameSecondTokensDiffer(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	codec := newCodec(t, c)

	first, err := codec.IssueRefreshToken("carol@example.com")
	require.NoError(t, err)
	second, err := codec.IssueRefreshToken("carol@example.com")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestJWTCodec_Expired(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	codec := newCodec(t, c)

	access, err := codec.IssueAccessToken("dave@example.com", domain.RoleClient)
	require.NoError(t, err)
	refresh, err := codec.IssueRefreshToken("dave@example.com")
	require.NoError(t, err)

	c.now = c.now.Add(16 * time.Minute)
	_, err = codec.VerifyAccessToken(access)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
	assert.True(t, codec.VerifyRefreshToken(refresh))

	c.now = c.now.Add(24 * time.Hour)
	assert.False(t, codec.VerifyRefreshToken(refresh))

	sub, ok := codec.SubjectOf(refresh)
	assert.True(t, ok, "subject is readable from an expired token")
	assert.Equal(t, "dave@example.com", sub)
}

func TestJWTCodec_WrongSecret(t *testing.T) {
	codec := newCodec(t, nil)
	other, err := NewJWTCodec(Config{
		Secret:     "a-completely-different-secret-value",
		Issuer:     "storefront",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	})
	require.NoError(t, err)

	refresh, err := other.IssueRefreshToken("erin@example.com")
	require.NoError(t, err)

	assert.False(t, codec.VerifyRefreshToken(refresh))
}

func TestJWTCodec_RejectsOtherAlgorithms(t *testing.T) {
	codec := newCodec(t, nil)
	now := time.Now()

	cl := claims{
		Kind: domain.TokenRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "fred@example.com",
			Issuer:    "storefront",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, cl).SignedString([]byte(testSecret))
	require.NoError(t, err)
	assert.False(t, codec.VerifyRefreshToken(hs512))

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, cl).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	assert.False(t, codec.VerifyRefreshToken(none))
}

func TestJWTCodec_RejectsForeignIssuer(t *testing.T) {
	codec := newCodec(t, nil)
	other, err := NewJWTCodec(Config{Secret: testSecret, Issuer: "elsewhere", AccessTTL: time.Minute, RefreshTTL: time.Hour})
	require.NoError(t, err)

	refresh, err := other.IssueRefreshToken("gina@example.com")
	require.NoError(t, err)
	assert.False(t, codec.VerifyRefreshToken(refresh))
}

func TestJWTCodec_Malformed(t *testing.T) {
	codec := newCodec(t, nil)

	for _, tok := range []string{"", "garbage", "a.b.c", "eyJhbGciOiJIUzI1NiJ9.e30."} {
		assert.False(t, codec.VerifyRefreshToken(tok), "token %q", tok)
		_, err := codec.VerifyAccessToken(tok)
		assert.ErrorIs(t, err, domain.ErrInvalidToken, "token %q", tok)
		_, ok := codec.SubjectOf(tok)
		assert.False(t, ok, "token %q", tok)
	}
}

func TestJWTCodec_Tampered(t *testing.T) {
	codec := newCodec(t, nil)

	access, err := codec.IssueAccessToken("hank@example.com", domain.RoleClient)
	require.NoError(t, err)

	parts := strings.Split(access, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err = codec.VerifyAccessToken(tampered)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}
