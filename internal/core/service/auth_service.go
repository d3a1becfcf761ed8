package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/shopline/storefront/internal/core/domain"
	"github.com/shopline/storefront/internal/core/ports"
)

const (
	defaultResetTokenTTL = 30 * time.Minute
	dummyPassword        = "storefront-timing-equalizer"
)

// AttemptLimiter abstracts the login throttle (Redis).
type AttemptLimiter interface {
	// Allow records one attempt for email and reports whether it is permitted.
	Allow(ctx context.Context, email string) (bool, error)
	Reset(ctx context.Context, email string) error
}

// AuditSink receives auth events. Record must not block the caller.
type AuditSink interface {
	Record(event domain.AuthEvent)
}

// AuthOptions holds the optional collaborators and tunables of AuthService.
type AuthOptions struct {
	BcryptCost    int
	ResetTokenTTL time.Duration
	Limiter       AttemptLimiter // nil disables throttling
	Audit         AuditSink      // nil disables auditing
	Notifier      ResetNotifier  // nil disables password reset delivery
	Clock         func() time.Time
}

// AuthService implements registration, login and the refresh-token lifecycle
// on top of a CredentialStore and a TokenCodec. It keeps no per-principal
// state in memory; all coordination happens in store transactions.
type AuthService struct {
	store    ports.CredentialStore
	codec    ports.TokenCodec
	limiter  AttemptLimiter
	audit    AuditSink
	notifier ResetNotifier
	log      zerolog.Logger

	hashCost  int
	hashPw    func(password []byte, cost int) ([]byte, error)
	resetTTL  time.Duration
	dummyHash []byte
	now       func() time.Time
}

func NewAuthService(store ports.CredentialStore, codec ports.TokenCodec, log zerolog.Logger, opts AuthOptions) *AuthService {
	cost := opts.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	resetTTL := opts.ResetTokenTTL
	if resetTTL <= 0 {
		resetTTL = defaultResetTokenTTL
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	// Unknown emails are compared against this hash so that both failure
	// paths of Login cost one bcrypt comparison.
	dummy, err := bcrypt.GenerateFromPassword([]byte(dummyPassword), cost)
	if err != nil {
		log.Warn().Err(err).Msg("failed to prepare dummy password hash")
	}

	return &AuthService{
		store:     store,
		codec:     codec,
		limiter:   opts.Limiter,
		audit:     opts.Audit,
		notifier:  opts.Notifier,
		log:       log,
		hashCost:  cost,
		hashPw:    bcrypt.GenerateFromPassword,
		resetTTL:  resetTTL,
		dummyHash: dummy,
		now:       now,
	}
}

// Register creates a principal with the default client role and no session.
func (s *AuthService) Register(ctx context.Context, in ports.RegisterInput) (*domain.Profile, error) {
	if in.Password != in.ConfirmPassword {
		return nil, domain.ErrCredentialMismatch
	}
	email := domain.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	exists, err := s.store.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	if exists {
		return nil, s.conflict(ctx, email)
	}

	hash, err := s.hashPw([]byte(in.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("register: hash password: %w", err)
	}

	now := s.now().UTC()
	principal := &domain.Principal{
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Role:         domain.RoleClient,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	created, err := s.store.Save(ctx, principal)
	if err != nil {
		// Lost a race against a concurrent registration; the unique index won.
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, s.conflict(ctx, email)
		}
		return nil, fmt.Errorf("register: %w", err)
	}

	s.record(domain.EventRegistered, email, "")
	s.log.Info().Str("email", email).Str("principal_id", created.ID).Msg("principal registered")

	profile := created.Profile()
	return &profile, nil
}

// conflict builds the AlreadyExists error, naming the existing account's status.
func (s *AuthService) conflict(ctx context.Context, email string) error {
	existing, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return domain.ErrAlreadyExists
	}
	switch existing.Status() {
	case domain.StatusDisabled:
		return fmt.Errorf("%w: account is disabled", domain.ErrAlreadyExists)
	case domain.StatusLocked:
		return fmt.Errorf("%w: account is locked", domain.ErrAlreadyExists)
	default:
		return fmt.Errorf("%w: email is already registered", domain.ErrAlreadyExists)
	}
}

// Login verifies credentials, issues a token pair and makes the new refresh
// token the principal's only live one.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.TokenPair, error) {
	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	if err := s.checkThrottle(ctx, email); err != nil {
		return nil, err
	}

	principal, err := s.authenticate(ctx, email, password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			s.record(domain.EventLoginFailed, email, "")
		}
		return nil, err
	}
	s.resetThrottle(ctx, email)

	access, err := s.codec.IssueAccessToken(principal.Email, principal.Role)
	if err != nil {
		return nil, fmt.Errorf("login: issue access token: %w", err)
	}
	refresh, err := s.codec.IssueRefreshToken(principal.Email)
	if err != nil {
		return nil, fmt.Errorf("login: issue refresh token: %w", err)
	}

	err = s.store.Atomically(ctx, func(ctx context.Context, tx ports.CredentialStore) error {
		current, err := tx.FindByEmail(ctx, email)
		if err != nil {
			return err
		}
		current.RefreshToken = &refresh
		current.UpdatedAt = s.now().UTC()

		saved, err := tx.Save(ctx, current)
		if err != nil {
			return err
		}
		if !tokensEqual(saved.RefreshToken, refresh) {
			return domain.ErrStateInconsistency
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// Deleted between authentication and the write.
			return nil, domain.ErrInvalidCredentials
		case errors.Is(err, domain.ErrStateInconsistency):
			s.log.Error().Str("email", email).Msg("refresh token did not read back as written")
			return nil, domain.ErrStateInconsistency
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	s.record(domain.EventLoginSucceeded, email, "")
	s.log.Info().Str("email", email).Msg("login succeeded")

	return &domain.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// authenticate checks email and password against the stored hash. Every
// failure, including an unusable account, is reported as InvalidCredentials.
func (s *AuthService) authenticate(ctx context.Context, email, password string) (*domain.Principal, error) {
	principal, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			if s.dummyHash != nil {
				_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			}
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(principal.PasswordHash), []byte(password)) != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if !principal.CanAuthenticate() {
		s.log.Info().Str("email", email).Str("status", string(principal.Status())).Msg("login refused for inactive account")
		return nil, domain.ErrInvalidCredentials
	}
	return principal, nil
}

// Refresh exchanges a refresh token for a new access token. The refresh token
// itself is not rotated. A verified token that differs from the stored one is
// treated as reuse: the session is ended and the call fails.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return "", domain.ErrInvalidCredentials
	}
	if !s.codec.VerifyRefreshToken(refreshToken) {
		return "", domain.ErrInvalidCredentials
	}
	subject, ok := s.codec.SubjectOf(refreshToken)
	if !ok {
		return "", domain.ErrInvalidCredentials
	}
	email := domain.NormalizeEmail(subject)

	var (
		access   string
		reused   bool
		inactive bool
	)
	err := s.store.Atomically(ctx, func(ctx context.Context, tx ports.CredentialStore) error {
		// fn may run more than once when the backend retries the transaction.
		access, reused, inactive = "", false, false

		principal, err := tx.FindByEmail(ctx, email)
		if err != nil {
			return err
		}

		if !tokensEqual(principal.RefreshToken, refreshToken) {
			// Commit the revocation even though the caller gets an error.
			reused = true
			principal.RefreshToken = nil
			principal.UpdatedAt = s.now().UTC()
			_, err := tx.Save(ctx, principal)
			return err
		}
		if !principal.CanAuthenticate() {
			inactive = true
			return nil
		}

		access, err = s.codec.IssueAccessToken(principal.Email, principal.Role)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("refresh: %w", err)
	}

	switch {
	case reused:
		s.log.Warn().Str("email", email).Msg("refresh token reuse detected, session revoked")
		s.record(domain.EventRefreshReuseDetected, email, "")
		return "", domain.ErrInvalidCredentials
	case inactive:
		return "", domain.ErrInvalidCredentials
	}

	s.record(domain.EventRefreshSucceeded, email, "")
	return access, nil
}

// Logout ends the session of the authenticated principal.
func (s *AuthService) Logout(ctx context.Context, claims domain.Claims) error {
	email := domain.NormalizeEmail(claims.Subject)

	err := s.store.Atomically(ctx, func(ctx context.Context, tx ports.CredentialStore) error {
		principal, err := tx.FindByEmail(ctx, email)
		if err != nil {
			return err
		}
		if !principal.HasSession() {
			return nil
		}
		principal.RefreshToken = nil
		principal.UpdatedAt = s.now().UTC()
		_, err = tx.Save(ctx, principal)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("logout: %w", err)
	}

	s.record(domain.EventLogout, email, "")
	return nil
}

// Profile returns the public projection of the authenticated principal.
func (s *AuthService) Profile(ctx context.Context, claims domain.Claims) (*domain.Profile, error) {
	principal, err := s.store.FindByEmail(ctx, domain.NormalizeEmail(claims.Subject))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("profile: %w", err)
	}
	profile := principal.Profile()
	return &profile, nil
}

func (s *AuthService) checkThrottle(ctx context.Context, email string) error {
	if s.limiter == nil {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, email)
	if err != nil {
		s.log.Warn().Err(err).Str("email", email).Msg("login throttle check failed, proceeding anyway")
		return nil
	}
	if !allowed {
		s.record(domain.EventLoginFailed, email, "throttled")
		return domain.ErrTooManyAttempts
	}
	return nil
}

func (s *AuthService) resetThrottle(ctx context.Context, email string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.Reset(ctx, email); err != nil {
		s.log.Warn().Err(err).Str("email", email).Msg("failed to reset login throttle")
	}
}

func (s *AuthService) record(kind domain.AuthEventKind, email, detail string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(domain.AuthEvent{
		Kind:       kind,
		Email:      email,
		Detail:     detail,
		OccurredAt: s.now().UTC(),
	})
}

// tokensEqual compares the stored refresh token with the presented one in
// constant time. A nil stored token never matches.
func tokensEqual(stored *string, presented string) bool {
	if stored == nil || *stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*stored), []byte(presented)) == 1
}
