package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopline/storefront/internal/core/domain"
	"github.com/shopline/storefront/internal/core/ports"
)

// ---------------------------------------------------------------------------
// Credential store
// ---------------------------------------------------------------------------

type stubStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	byEmail map[string]*domain.Principal
	nextID  int

	// dropTokenOnSave makes Save read back without the refresh token.
	dropTokenOnSave bool
	findErr         error
	saves           int
}

func newStubStore() *stubStore {
	return &stubStore{byEmail: make(map[string]*domain.Principal)}
}

func (s *stubStore) ExistsByEmail(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byEmail[email]
	return ok, nil
}

func (s *stubStore) FindByEmail(_ context.Context, email string) (*domain.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	p, ok := s.byEmail[email]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *stubStore) FindByResetToken(_ context.Context, tokenHash string) (*domain.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.byEmail {
		if p.ResetTokenHash != nil && *p.ResetTokenHash == tokenHash {
			return p.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *stubStore) Save(_ context.Context, p *domain.Principal) (*domain.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(p, nil)
}

// save writes p with mu held, recording the previous entry in undo the
// first time a key is written.
func (s *stubStore) save(p *domain.Principal, undo map[string]*domain.Principal) (*domain.Principal, error) {
	s.saves++

	stored := p.Clone()
	if stored.ID == "" {
		if _, exists := s.byEmail[stored.Email]; exists {
			return nil, domain.ErrAlreadyExists
		}
		s.nextID++
		stored.ID = fmt.Sprintf("p-%d", s.nextID)
	}
	if s.dropTokenOnSave {
		stored.RefreshToken = nil
	}
	if undo != nil {
		if _, seen := undo[stored.Email]; !seen {
			undo[stored.Email] = s.byEmail[stored.Email]
		}
	}
	s.byEmail[stored.Email] = stored
	return stored.Clone(), nil
}

// Atomically serialises transactions and undoes the writes made through tx
// when fn fails.
func (s *stubStore) Atomically(ctx context.Context, fn func(ctx context.Context, tx ports.CredentialStore) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &stubTx{stubStore: s, undo: map[string]*domain.Principal{}}
	if err := fn(ctx, tx); err != nil {
		s.mu.Lock()
		for email, prev := range tx.undo {
			if prev == nil {
				delete(s.byEmail, email)
			} else {
				s.byEmail[email] = prev
			}
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

type stubTx struct {
	*stubStore
	undo map[string]*domain.Principal
}

func (t *stubTx) Save(_ context.Context, p *domain.Principal) (*domain.Principal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.save(p, t.undo)
}

func (t *stubTx) Atomically(ctx context.Context, fn func(ctx context.Context, tx ports.CredentialStore) error) error {
	return fn(ctx, t)
}

// retryingStore runs every transaction twice, like a backend retrying after
// a transient abort. The first attempt sees the principal as disabled and is
// always rolled back.
type retryingStore struct {
	*stubStore
}

var errTransientAbort = errors.New("transient abort")

func (s *retryingStore) Atomically(ctx context.Context, fn func(ctx context.Context, tx ports.CredentialStore) error) error {
	_ = s.stubStore.Atomically(ctx, func(ctx context.Context, tx ports.CredentialStore) error {
		_ = fn(ctx, disabledView{tx})
		return errTransientAbort
	})
	return s.stubStore.Atomically(ctx, fn)
}

type disabledView struct {
	ports.CredentialStore
}

func (v disabledView) FindByEmail(ctx context.Context, email string) (*domain.Principal, error) {
	p, err := v.CredentialStore.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	p.Enabled = false
	return p, nil
}

func (s *stubStore) get(email string) *domain.Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byEmail[email].Clone()
}

func (s *stubStore) put(p *domain.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEmail[p.Email] = p.Clone()
}

// ---------------------------------------------------------------------------
// Token codec
// ---------------------------------------------------------------------------

// stubCodec issues readable tokens of the form kind|subject|role|n.
type stubCodec struct {
	mu       sync.Mutex
	n        int
	verifies int
	revoked  map[string]bool
}

func newStubCodec() *stubCodec {
	return &stubCodec{revoked: make(map[string]bool)}
}

func (c *stubCodec) next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n
}

func (c *stubCodec) IssueAccessToken(subject, role string) (string, error) {
	return fmt.Sprintf("access|%s|%s|%d", subject, role, c.next()), nil
}

func (c *stubCodec) IssueRefreshToken(subject string) (string, error) {
	return fmt.Sprintf("refresh|%s||%d", subject, c.next()), nil
}

func (c *stubCodec) VerifyRefreshToken(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verifies++
	return strings.HasPrefix(token, "refresh|") && !c.revoked[token]
}

func (c *stubCodec) VerifyAccessToken(token string) (domain.Claims, error) {
	parts := strings.Split(token, "|")
	if len(parts) != 4 || parts[0] != "access" {
		return domain.Claims{}, domain.ErrInvalidToken
	}
	return domain.Claims{Subject: parts[1], Role: parts[2], Kind: domain.TokenAccess}, nil
}

func (c *stubCodec) SubjectOf(token string) (string, bool) {
	parts := strings.Split(token, "|")
	if len(parts) != 4 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func (c *stubCodec) verifyCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verifies
}

// ---------------------------------------------------------------------------
// Limiter, audit sink, notifier, clock
// ---------------------------------------------------------------------------

type stubLimiter struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int
	err    error
	resets []string
}

func newStubLimiter(limit int) *stubLimiter {
	return &stubLimiter{limit: limit, counts: make(map[string]int)}
}

func (l *stubLimiter) Allow(_ context.Context, email string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	l.counts[email]++
	return l.counts[email] <= l.limit, nil
}

func (l *stubLimiter) Reset(_ context.Context, email string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, email)
	l.resets = append(l.resets, email)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.AuthEvent
}

func (r *recordingSink) Record(e domain.AuthEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) kinds() []domain.AuthEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AuthEventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type stubNotifier struct {
	mu     sync.Mutex
	tokens map[string]string
	err    error
}

func newStubNotifier() *stubNotifier {
	return &stubNotifier{tokens: make(map[string]string)}
}

func (n *stubNotifier) SendResetToken(_ context.Context, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.tokens[email] = token
	return nil
}

func (n *stubNotifier) tokenFor(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens[email]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
