package ports

import (
	"context"

	"github.com/shopline/storefront/internal/core/domain"
)

// RegisterInput carries the registration form after boundary validation.
type RegisterInput struct {
	Email           string
	Password        string
	ConfirmPassword string
	FirstName       string
	LastName        string
}

// ResetPasswordInput carries a password-reset submission.
type ResetPasswordInput struct {
	Token           string
	Password        string
	ConfirmPassword string
}

type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*domain.Profile, error)
	Login(ctx context.Context, email, password string) (*domain.TokenPair, error)
	// Refresh exchanges a refresh token for a new access token.
	Refresh(ctx context.Context, refreshToken string) (string, error)
	Logout(ctx context.Context, claims domain.Claims) error
	Profile(ctx context.Context, claims domain.Claims) (*domain.Profile, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, in ResetPasswordInput) error
}
