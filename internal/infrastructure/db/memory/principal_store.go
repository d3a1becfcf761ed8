// Package memory holds process-local implementations of the storage ports,
// used for local development and tests. Data is lost on restart.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/shopline/storefront/internal/core/domain"
	"github.com/shopline/storefront/internal/core/ports"
)

// PrincipalStore implements ports.CredentialStore in memory. Transactions are
// serialised by txMu; mu guards the maps for reads outside a transaction.
type PrincipalStore struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	byEmail map[string]*domain.Principal
}

func NewPrincipalStore() *PrincipalStore {
	return &PrincipalStore{byEmail: make(map[string]*domain.Principal)}
}

func (s *PrincipalStore) ExistsByEmail(_ context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byEmail[email]
	return ok, nil
}

func (s *PrincipalStore) FindByEmail(_ context.Context, email string) (*domain.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byEmail[email]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *PrincipalStore) FindByResetToken(_ context.Context, tokenHash string) (*domain.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.byEmail {
		if p.ResetTokenHash != nil && *p.ResetTokenHash == tokenHash {
			return p.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *PrincipalStore) Save(_ context.Context, p *domain.Principal) (*domain.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(p, nil)
}

// save writes p with mu held. When undo is non-nil it records the entry each
// touched key held before its first write.
func (s *PrincipalStore) save(p *domain.Principal, undo undoLog) (*domain.Principal, error) {
	stored := p.Clone()
	if stored.ID == "" {
		if _, exists := s.byEmail[stored.Email]; exists {
			return nil, domain.ErrAlreadyExists
		}
		stored.ID = uuid.NewString()
		undo.remember(stored.Email, nil)
		s.byEmail[stored.Email] = stored
		return stored.Clone(), nil
	}

	var current *domain.Principal
	for _, existing := range s.byEmail {
		if existing.ID == stored.ID {
			current = existing
			break
		}
	}
	if current == nil {
		return nil, domain.ErrNotFound
	}
	if current.Email != stored.Email {
		if _, taken := s.byEmail[stored.Email]; taken {
			return nil, domain.ErrAlreadyExists
		}
		undo.remember(current.Email, current)
		delete(s.byEmail, current.Email)
		undo.remember(stored.Email, nil)
	} else {
		undo.remember(stored.Email, current)
	}
	s.byEmail[stored.Email] = stored
	return stored.Clone(), nil
}

// Atomically runs fn while holding the transaction lock. Writes made through
// tx are undone when fn returns an error or panics. Writes made outside the
// transaction in the meantime are left alone.
func (s *PrincipalStore) Atomically(ctx context.Context, fn func(ctx context.Context, tx ports.CredentialStore) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &txStore{PrincipalStore: s, undo: undoLog{}}
	defer func() {
		if p := recover(); p != nil {
			s.rollback(tx.undo)
			panic(p)
		}
		if err != nil {
			s.rollback(tx.undo)
		}
	}()

	return fn(ctx, tx)
}

func (s *PrincipalStore) rollback(undo undoLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for email, prev := range undo {
		if prev == nil {
			delete(s.byEmail, email)
			continue
		}
		s.byEmail[email] = prev
	}
}

// undoLog maps an email to the entry it held before the transaction first
// wrote it; nil means the key was absent. Stored entries are replaced on
// every write, never mutated, so keeping the pointer is enough.
type undoLog map[string]*domain.Principal

func (u undoLog) remember(email string, prev *domain.Principal) {
	if u == nil {
		return
	}
	if _, seen := u[email]; !seen {
		u[email] = prev
	}
}

// txStore is the view handed to Atomically callbacks.
type txStore struct {
	*PrincipalStore
	undo undoLog
}

func (t *txStore) Save(_ context.Context, p *domain.Principal) (*domain.Principal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.save(p, t.undo)
}

// Atomically joins the enclosing transaction.
func (t *txStore) Atomically(ctx context.Context, fn func(ctx context.Context, tx ports.CredentialStore) error) error {
	return fn(ctx, t)
}
