package postgres

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/shopline/storefront/internal/core/domain"
)

// AuditRepository implements ports.AuditRepository on PostgreSQL.
type AuditRepository struct {
	db DB
}

func NewAuditRepository(db DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Insert(ctx context.Context, event domain.AuthEvent) error {
	var detail any
	if event.Detail != "" {
		detail = event.Detail
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO auth_events (id, kind, email, detail, occurred_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		ulid.Make().String(), string(event.Kind), event.Email, detail, event.OccurredAt.UTC())
	if err != nil {
		return oops.Code("AUDIT_INSERT_FAILED").With("operation", "insert auth event").With("kind", string(event.Kind)).Wrap(err)
	}
	return nil
}
