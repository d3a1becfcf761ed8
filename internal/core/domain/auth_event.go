package domain

import "time"

// AuthEventKind names a security-relevant outcome of an auth operation.
type AuthEventKind string

const (
	EventRegistered             AuthEventKind = "registered"
	EventLoginSucceeded         AuthEventKind = "login_succeeded"
	EventLoginFailed            AuthEventKind = "login_failed"
	EventRefreshSucceeded       AuthEventKind = "refresh_succeeded"
	EventRefreshReuseDetected   AuthEventKind = "refresh_reuse_detected"
	EventLogout                 AuthEventKind = "logout"
	EventPasswordResetRequested AuthEventKind = "password_reset_requested"
	EventPasswordReset          AuthEventKind = "password_reset"
)

// AuthEvent is an audit record of an auth outcome for one principal.
type AuthEvent struct {
	Kind       AuthEventKind
	Email      string
	Detail     string // optional
	OccurredAt time.Time
}
