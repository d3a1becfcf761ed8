package ports

import (
	"context"

	"github.com/shopline/storefront/internal/core/domain"
)

// CredentialStore persists principal records.
//
// Lookups return domain.ErrNotFound when nothing matches. Emails are stored
// and compared in normalized form (domain.NormalizeEmail).
type CredentialStore interface {
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	FindByEmail(ctx context.Context, email string) (*domain.Principal, error)
	// FindByResetToken looks a principal up by the hash of its reset token.
	FindByResetToken(ctx context.Context, tokenHash string) (*domain.Principal, error)
	// Save inserts (empty ID) or replaces the principal and returns the state
	// read back from storage. A duplicate email yields domain.ErrAlreadyExists.
	Save(ctx context.Context, p *domain.Principal) (*domain.Principal, error)

	// Atomically runs fn inside a storage transaction. Reads made through tx
	// lock the principal row until fn returns; fn's error rolls back.
	Atomically(ctx context.Context, fn func(ctx context.Context, tx CredentialStore) error) error
}
