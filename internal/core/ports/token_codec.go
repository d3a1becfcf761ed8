package ports

import "github.com/shopline/storefront/internal/core/domain"

// TokenCodec creates and verifies signed, expiring tokens. It holds no state
// beyond its signing secret and never consults storage.
type TokenCodec interface {
	// IssueAccessToken returns a short-lived token for subject carrying role.
	IssueAccessToken(subject, role string) (string, error)
	// IssueRefreshToken returns a long-lived token for subject.
	IssueRefreshToken(subject string) (string, error)
	// VerifyRefreshToken reports whether token is a refresh token with a
	// valid signature that has not expired.
	VerifyRefreshToken(token string) bool
	// VerifyAccessToken verifies an access token and returns its claims.
	VerifyAccessToken(token string) (domain.Claims, error)
	// SubjectOf extracts the subject claim without verifying the token.
	SubjectOf(token string) (string, bool)
}
