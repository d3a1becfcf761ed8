package domain

import "time"

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// TokenType is the scheme reported to clients alongside issued tokens.
const TokenType = "Bearer"

// Claims is the verified content of a token. It is passed explicitly to any
// call that needs the authenticated identity.
type Claims struct {
	ID        string
	Subject   string
	Role      string
	Kind      TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasRole reports whether the claims carry one of roles.
func (c Claims) HasRole(roles ...string) bool {
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	return false
}

// TokenPair is the result of a successful login.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}
