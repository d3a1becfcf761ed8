package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/shopline/storefront/internal/core/domain"
	"github.com/shopline/storefront/internal/core/ports"
)

const principalColumns = `id, email, password_hash, first_name, last_name, role, enabled, locked,
	refresh_token, reset_token_hash, reset_token_expires_at, created_at, updated_at`

// PrincipalStore implements ports.CredentialStore on PostgreSQL. Inside
// Atomically every lookup takes a row lock (SELECT ... FOR UPDATE).
type PrincipalStore struct {
	db   DB
	inTx bool
}

func NewPrincipalStore(db DB) *PrincipalStore {
	return &PrincipalStore{db: db}
}

func (s *PrincipalStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM principals WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, oops.Code("PRINCIPAL_LOOKUP_FAILED").With("operation", "check principal exists").With("email", email).Wrap(err)
	}
	return exists, nil
}

func (s *PrincipalStore) FindByEmail(ctx context.Context, email string) (*domain.Principal, error) {
	p, err := s.findOne(ctx, `email = $1`, email)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, oops.Code("PRINCIPAL_LOOKUP_FAILED").With("operation", "find principal by email").With("email", email).Wrap(err)
	}
	return p, err
}

func (s *PrincipalStore) FindByResetToken(ctx context.Context, tokenHash string) (*domain.Principal, error) {
	p, err := s.findOne(ctx, `reset_token_hash = $1`, tokenHash)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, oops.Code("PRINCIPAL_LOOKUP_FAILED").With("operation", "find principal by reset token").Wrap(err)
	}
	return p, err
}

func (s *PrincipalStore) findOne(ctx context.Context, where string, arg any) (*domain.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE ` + where
	if s.inTx {
		query += ` FOR UPDATE`
	}

	p, err := scanPrincipal(s.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Save inserts a principal without an ID, or updates the stored row, and
// returns the row as written (RETURNING).
func (s *PrincipalStore) Save(ctx context.Context, p *domain.Principal) (*domain.Principal, error) {
	if p.ID == "" {
		return s.insert(ctx, p)
	}

	saved, err := scanPrincipal(s.db.QueryRow(ctx,
		`UPDATE principals SET
			email = $2, password_hash = $3, first_name = $4, last_name = $5, role = $6,
			enabled = $7, locked = $8, refresh_token = $9, reset_token_hash = $10,
			reset_token_expires_at = $11, updated_at = $12
		 WHERE id = $1
		 RETURNING `+principalColumns,
		p.ID, p.Email, p.PasswordHash, p.FirstName, p.LastName, p.Role,
		p.Enabled, p.Locked, p.RefreshToken, p.ResetTokenHash,
		p.ResetTokenExpiresAt, p.UpdatedAt.UTC()))
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, domain.ErrNotFound
		case isUniqueViolation(err):
			return nil, domain.ErrAlreadyExists
		}
		return nil, oops.Code("PRINCIPAL_SAVE_FAILED").With("operation", "update principal").With("principal_id", p.ID).Wrap(err)
	}
	return saved, nil
}

func (s *PrincipalStore) insert(ctx context.Context, p *domain.Principal) (*domain.Principal, error) {
	id := ulid.Make().String()

	saved, err := scanPrincipal(s.db.QueryRow(ctx,
		`INSERT INTO principals (
			id, email, password_hash, first_name, last_name, role, enabled, locked,
			refresh_token, reset_token_hash, reset_token_expires_at, created_at, updated_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING `+principalColumns,
		id, p.Email, p.PasswordHash, p.FirstName, p.LastName, p.Role, p.Enabled, p.Locked,
		p.RefreshToken, p.ResetTokenHash, p.ResetTokenExpiresAt,
		p.CreatedAt.UTC(), p.UpdatedAt.UTC()))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, oops.Code("PRINCIPAL_SAVE_FAILED").With("operation", "insert principal").With("email", p.Email).Wrap(err)
	}
	return saved, nil
}

// Atomically runs fn in a transaction, committing on success and rolling back
// on error or panic. Nested calls reuse the outer transaction.
func (s *PrincipalStore) Atomically(ctx context.Context, fn func(ctx context.Context, tx ports.CredentialStore) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").With("operation", "begin transaction").Wrap(err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(ctx, &PrincipalStore{db: tx, inTx: true}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, oops.Code("TX_ROLLBACK_FAILED").Wrap(rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").With("operation", "commit transaction").Wrap(err)
	}
	return nil
}

func scanPrincipal(row pgx.Row) (*domain.Principal, error) {
	var (
		p         domain.Principal
		resetExp  *time.Time
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(
		&p.ID, &p.Email, &p.PasswordHash, &p.FirstName, &p.LastName, &p.Role,
		&p.Enabled, &p.Locked, &p.RefreshToken, &p.ResetTokenHash, &resetExp,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if resetExp != nil {
		t := resetExp.UTC()
		p.ResetTokenExpiresAt = &t
	}
	p.CreatedAt = createdAt.UTC()
	p.UpdatedAt = updatedAt.UTC()
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
