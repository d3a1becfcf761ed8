package domain

import (
	"strings"
	"time"
)

const (
	RoleAdmin  = "admin"
	RoleClient = "client"
)

// AccountStatus summarises the enabled/locked flags of a principal.
type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusDisabled AccountStatus = "disabled"
	StatusLocked   AccountStatus = "locked"
)

// Principal is an authenticated account record. It carries no references to
// carts, orders or wishlists; those collaborators look principals up by ID.
type Principal struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Role         string    `json:"role"`
	Enabled      bool      `json:"enabled"`
	Locked       bool      `json:"locked"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// RefreshToken is the single live refresh token; nil means no session.
	RefreshToken *string `json:"-"`

	// ResetTokenHash is the SHA-256 of the outstanding password-reset token.
	ResetTokenHash      *string    `json:"-"`
	ResetTokenExpiresAt *time.Time `json:"-"`
}

// Profile is the public projection of a principal: no hash, no tokens.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Role      string    `json:"role"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeEmail canonicalises an email for case-insensitive comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Profile returns the public projection of p.
func (p *Principal) Profile() Profile {
	return Profile{
		ID:        p.ID,
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Role:      p.Role,
		Enabled:   p.Enabled,
		CreatedAt: p.CreatedAt,
	}
}

// HasSession reports whether p currently holds a live refresh token.
func (p *Principal) HasSession() bool {
	return p.RefreshToken != nil && *p.RefreshToken != ""
}

// Status reports the account status. Disabled takes precedence over locked.
func (p *Principal) Status() AccountStatus {
	switch {
	case !p.Enabled:
		return StatusDisabled
	case p.Locked:
		return StatusLocked
	default:
		return StatusActive
	}
}

// CanAuthenticate reports whether p may log in at all.
func (p *Principal) CanAuthenticate() bool {
	return p.Status() == StatusActive
}

// Clone returns a deep copy of p so callers can mutate it freely.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	c := *p
	if p.RefreshToken != nil {
		v := *p.RefreshToken
		c.RefreshToken = &v
	}
	if p.ResetTokenHash != nil {
		v := *p.ResetTokenHash
		c.ResetTokenHash = &v
	}
	if p.ResetTokenExpiresAt != nil {
		v := *p.ResetTokenExpiresAt
		c.ResetTokenExpiresAt = &v
	}
	return &c
}
