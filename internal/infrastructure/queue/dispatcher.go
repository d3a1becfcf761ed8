package queue

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shopline/storefront/internal/core/domain"
	"github.com/shopline/storefront/internal/core/ports"
	"github.com/shopline/storefront/internal/pkg/metrics"
)

const (
	defaultWorkers = 4
	defaultBuffer  = 256
	drainTimeout   = 5 * time.Second
)

// AuditDispatcher persists auth events off the request path. Events are routed
// to a fixed set of workers by hashing the email, so events of one principal
// are written in the order they were recorded.
type AuditDispatcher struct {
	workers []chan domain.AuthEvent
	repo    ports.AuditRepository
	log     zerolog.Logger
	wg      sync.WaitGroup
}

// NewAuditDispatcher creates a dispatcher with numWorkers sharded workers,
// each with a queue of buffer events. Non-positive values use the defaults.
func NewAuditDispatcher(numWorkers, buffer int, repo ports.AuditRepository, log zerolog.Logger) *AuditDispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	d := &AuditDispatcher{
		workers: make([]chan domain.AuthEvent, numWorkers),
		repo:    repo,
		log:     log,
	}
	for i := range d.workers {
		d.workers[i] = make(chan domain.AuthEvent, buffer)
	}
	return d
}

// Start launches all worker goroutines. When ctx is cancelled each worker
// flushes what is already queued and exits; Wait blocks until they have.
func (d *AuditDispatcher) Start(ctx context.Context) {
	for i, ch := range d.workers {
		d.wg.Add(1)
		go d.runWorker(ctx, i, ch)
	}
}

// Wait blocks until every worker has exited.
func (d *AuditDispatcher) Wait() {
	d.wg.Wait()
}

// Record queues an event. It never blocks: when the worker's queue is full the
// event is dropped and counted.
func (d *AuditDispatcher) Record(event domain.AuthEvent) {
	id := d.shardIndex(event.Email)
	select {
	case d.workers[id] <- event:
		metrics.AuthEventsTotal.WithLabelValues(string(event.Kind)).Inc()
		metrics.AuditQueueDepth.WithLabelValues(strconv.Itoa(id)).Set(float64(len(d.workers[id])))
	default:
		metrics.AuditDroppedTotal.Inc()
		d.log.Warn().
			Str("kind", string(event.Kind)).
			Str("email", event.Email).
			Int("worker_id", id).
			Msg("audit queue full, event dropped")
	}
}

// shardIndex maps an email deterministically to a worker index.
func (d *AuditDispatcher) shardIndex(email string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(email))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *AuditDispatcher) runWorker(ctx context.Context, id int, ch chan domain.AuthEvent) {
	defer d.wg.Done()
	label := strconv.Itoa(id)
	// Queued events are written even while shutting down.
	persistCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			d.drain(id, ch)
			return
		case event := <-ch:
			metrics.AuditQueueDepth.WithLabelValues(label).Set(float64(len(ch)))
			d.persist(persistCtx, id, event)
		}
	}
}

// drain persists whatever is still queued, bounded by drainTimeout.
func (d *AuditDispatcher) drain(id int, ch chan domain.AuthEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case event := <-ch:
			d.persist(ctx, id, event)
		default:
			metrics.AuditQueueDepth.WithLabelValues(strconv.Itoa(id)).Set(0)
			return
		}
	}
}

func (d *AuditDispatcher) persist(ctx context.Context, id int, event domain.AuthEvent) {
	if err := d.repo.Insert(ctx, event); err != nil {
		metrics.AuditPersistErrorsTotal.Inc()
		d.log.Error().Err(err).
			Str("kind", string(event.Kind)).
			Str("email", event.Email).
			Int("worker_id", id).
			Msg("audit event persistence failed")
	}
}
