package domain

import "errors"

var (
	// ErrCredentialMismatch: password and confirmation disagree.
	ErrCredentialMismatch = errors.New("password and confirmation do not match")
	// ErrAlreadyExists: a principal with that email is already registered.
	ErrAlreadyExists = errors.New("principal already exists")
	// ErrInvalidCredentials covers wrong passwords, unknown emails and
	// missing, invalid, expired or reused refresh tokens alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotFound: a verified token's subject has no stored principal.
	ErrNotFound = errors.New("principal not found")
	// ErrStateInconsistency: a persisted token did not read back as written.
	ErrStateInconsistency = errors.New("stored session state is inconsistent")
	// ErrTooManyAttempts: the login throttle for this email is exhausted.
	ErrTooManyAttempts = errors.New("too many login attempts")
	// ErrInvalidToken: a token failed signature, expiry or kind checks.
	ErrInvalidToken = errors.New("invalid token")
)
