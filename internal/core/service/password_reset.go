package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shopline/storefront/internal/core/domain"
	"github.com/shopline/storefront/internal/core/ports"
)

const resetTokenBytes = 32

// ResetNotifier delivers a plaintext password-reset token to its owner.
type ResetNotifier interface {
	SendResetToken(ctx context.Context, email, token string) error
}

// LogNotifier writes reset notifications to the log. The token itself is only
// logged when reveal is set, which is meant for local development.
type LogNotifier struct {
	log    zerolog.Logger
	reveal bool
}

func NewLogNotifier(log zerolog.Logger, reveal bool) *LogNotifier {
	return &LogNotifier{log: log, reveal: reveal}
}

func (n *LogNotifier) SendResetToken(_ context.Context, email, token string) error {
	ev := n.log.Info().Str("email", email)
	if n.reveal {
		ev = ev.Str("reset_token", token)
	}
	ev.Msg("password reset requested")
	return nil
}

// RequestPasswordReset issues a single-use reset token for email. Unknown or
// inactive accounts are ignored so the response never reveals whether an
// email is registered.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil
	}
	if s.notifier == nil {
		s.log.Debug().Str("email", email).Msg("password reset requested but no notifier is configured")
		return nil
	}

	token, tokenHash, err := newResetToken()
	if err != nil {
		return fmt.Errorf("request password reset: %w", err)
	}

	var issued bool
	err = s.store.Atomically(ctx, func(ctx context.Context, tx ports.CredentialStore) error {
		issued = false

		principal, err := tx.FindByEmail(ctx, email)
		if err != nil {
			return err
		}
		if !principal.CanAuthenticate() {
			return nil
		}

		now := s.now().UTC()
		expiresAt := now.Add(s.resetTTL)
		principal.ResetTokenHash = &tokenHash
		principal.ResetTokenExpiresAt = &expiresAt
		principal.UpdatedAt = now
		if _, err := tx.Save(ctx, principal); err != nil {
			return err
		}
		issued = true
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("request password reset: %w", err)
	}
	if !issued {
		return nil
	}

	if err := s.notifier.SendResetToken(ctx, email, token); err != nil {
		return fmt.Errorf("request password reset: notify: %w", err)
	}
	s.record(domain.EventPasswordResetRequested, email, "")
	return nil
}

// ResetPassword replaces the password of the principal owning the reset token.
// The token is consumed and any live session is ended.
func (s *AuthService) ResetPassword(ctx context.Context, in ports.ResetPasswordInput) error {
	if in.Password != in.ConfirmPassword {
		return domain.ErrCredentialMismatch
	}
	if strings.TrimSpace(in.Token) == "" || in.Password == "" {
		return domain.ErrInvalidCredentials
	}

	tokenHash := hashResetToken(in.Token)

	var (
		email   string
		expired bool
		hash    []byte
	)
	err := s.store.Atomically(ctx, func(ctx context.Context, tx ports.CredentialStore) error {
		email, expired = "", false

		principal, err := tx.FindByResetToken(ctx, tokenHash)
		if err != nil {
			return err
		}
		email = principal.Email
		now := s.now().UTC()

		principal.ResetTokenHash = nil
		if principal.ResetTokenExpiresAt == nil || !now.Before(*principal.ResetTokenExpiresAt) {
			expired = true
		} else {
			if hash == nil {
				if hash, err = s.hashPw([]byte(in.Password), s.hashCost); err != nil {
					return fmt.Errorf("hash password: %w", err)
				}
			}
			principal.PasswordHash = string(hash)
			principal.RefreshToken = nil
		}
		principal.ResetTokenExpiresAt = nil
		principal.UpdatedAt = now

		_, err = tx.Save(ctx, principal)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInvalidCredentials
		}
		return fmt.Errorf("reset password: %w", err)
	}
	if expired {
		return domain.ErrInvalidCredentials
	}

	s.record(domain.EventPasswordReset, email, "")
	s.log.Info().Str("email", email).Msg("password reset completed")
	return nil
}

// newResetToken returns a random URL-safe token and the hex SHA-256 under
// which it is stored.
func newResetToken() (string, string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate reset token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	return token, hashResetToken(token), nil
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
