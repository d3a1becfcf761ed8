package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/shopline/storefront/internal/core/domain"
	"github.com/shopline/storefront/internal/pkg/metrics"
)

type recordingRepo struct {
	mu     sync.Mutex
	events []domain.AuthEvent
	err    error
}

func (r *recordingRepo) Insert(_ context.Context, e domain.AuthEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recordingRepo) snapshot() []domain.AuthEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AuthEvent, len(r.events))
	copy(out, r.events)
	return out
}

func TestAuditDispatcher_PersistsInOrderPerEmail(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := &recordingRepo{}
	d := NewAuditDispatcher(3, 64, repo, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)

	const perEmail = 20
	emails := []string{"a@example.com", "b@example.com", "c@example.com"}
	for i := 0; i < perEmail; i++ {
		for _, email := range emails {
			d.Record(domain.AuthEvent{Kind: domain.EventLoginSucceeded, Email: email, Detail: fmt.Sprint(i)})
		}
	}

	require.Eventually(t, func() bool {
		return len(repo.snapshot()) == perEmail*len(emails)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	d.Wait()

	next := map[string]int{}
	for _, e := range repo.snapshot() {
		assert.Equal(t, fmt.Sprint(next[e.Email]), e.Detail, "out of order event for %s", e.Email)
		next[e.Email]++
	}
}

func TestAuditDispatcher_DrainsOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := &recordingRepo{}
	d := NewAuditDispatcher(1, 16, repo, zerolog.Nop())

	for i := 0; i < 5; i++ {
		d.Record(domain.AuthEvent{Kind: domain.EventLogout, Email: "a@example.com"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Start(ctx)
	d.Wait()

	assert.Len(t, repo.snapshot(), 5)
}

func TestAuditDispatcher_RecordNeverBlocks(t *testing.T) {
	repo := &recordingRepo{}
	d := NewAuditDispatcher(1, 2, repo, zerolog.Nop())
	before := testutil.ToFloat64(metrics.AuditDroppedTotal)

	done := make(chan struct{})
	go func() {
		// workers not started: the third and fourth events overflow the queue
		for i := 0; i < 4; i++ {
			d.Record(domain.AuthEvent{Kind: domain.EventLoginFailed, Email: "a@example.com"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.AuditDroppedTotal))
}

func TestAuditDispatcher_PersistFailureIsCounted(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := &recordingRepo{err: errors.New("write failed")}
	d := NewAuditDispatcher(1, 4, repo, zerolog.Nop())
	before := testutil.ToFloat64(metrics.AuditPersistErrorsTotal)

	d.Record(domain.AuthEvent{Kind: domain.EventRegistered, Email: "a@example.com"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Start(ctx)
	d.Wait()

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.AuditPersistErrorsTotal))
}

func TestAuditDispatcher_ShardIndexIsStable(t *testing.T) {
	d := NewAuditDispatcher(8, 1, &recordingRepo{}, zerolog.Nop())
	first := d.shardIndex("a@example.com")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, d.shardIndex("a@example.com"))
	}
	assert.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, 8)
}
