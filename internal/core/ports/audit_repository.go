package ports

import (
	"context"

	"github.com/shopline/storefront/internal/core/domain"
)

// AuditRepository persists auth events to the audit trail.
type AuditRepository interface {
	Insert(ctx context.Context, event domain.AuthEvent) error
}
