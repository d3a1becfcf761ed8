package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/shopline/storefront/internal/core/domain"
)

// claims is the JWT payload. typ separates access from refresh tokens so one
// can never be presented as the other.
type claims struct {
	Role string           `json:"role,omitempty"`
	Kind domain.TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// JWTCodec issues and verifies HS256 tokens. It is safe for concurrent use.
type JWTCodec struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewJWTCodec(cfg Config) (*JWTCodec, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token: signing secret is empty")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token: ttl must be positive")
	}
	return &JWTCodec{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}, nil
}

// WithClock replaces the time source used for issuing and validating tokens.
func (c *JWTCodec) WithClock(now func() time.Time) *JWTCodec {
	c.now = now
	return c
}

func (c *JWTCodec) IssueAccessToken(subject, role string) (string, error) {
	return c.issue(subject, role, domain.TokenAccess, c.accessTTL)
}

func (c *JWTCodec) IssueRefreshToken(subject string) (string, error) {
	return c.issue(subject, "", domain.TokenRefresh, c.refreshTTL)
}

func (c *JWTCodec) issue(subject, role string, kind domain.TokenKind, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("token: empty subject")
	}
	now := c.now()
	cl := claims{
		Role: role,
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			// jti keeps two tokens minted in the same second distinct.
			ID:        ulid.Make().String(),
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, cl)
	signed, err := t.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

func (c *JWTCodec) VerifyRefreshToken(token string) bool {
	cl, err := c.parse(token)
	return err == nil && cl.Kind == domain.TokenRefresh
}

func (c *JWTCodec) VerifyAccessToken(token string) (domain.Claims, error) {
	cl, err := c.parse(token)
	if err != nil {
		return domain.Claims{}, err
	}
	if cl.Kind != domain.TokenAccess {
		return domain.Claims{}, fmt.Errorf("%w: not an access token", domain.ErrInvalidToken)
	}
	return toDomain(cl), nil
}

// SubjectOf reads the sub claim without checking signature or expiry.
func (c *JWTCodec) SubjectOf(token string) (string, bool) {
	cl := &claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, cl); err != nil {
		return "", false
	}
	if cl.Subject == "" {
		return "", false
	}
	return cl.Subject, true
}

func (c *JWTCodec) parse(token string) (*claims, error) {
	if token == "" {
		return nil, domain.ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	cl := &claims{}
	tkn, err := jwt.ParseWithClaims(token, cl, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
	}
	if !tkn.Valid || cl.Subject == "" {
		return nil, domain.ErrInvalidToken
	}
	return cl, nil
}

func toDomain(cl *claims) domain.Claims {
	out := domain.Claims{
		ID:      cl.ID,
		Subject: cl.Subject,
		Role:    cl.Role,
		Kind:    cl.Kind,
	}
	if cl.IssuedAt != nil {
		out.IssuedAt = cl.IssuedAt.Time
	}
	if cl.ExpiresAt != nil {
		out.ExpiresAt = cl.ExpiresAt.Time
	}
	return out
}
