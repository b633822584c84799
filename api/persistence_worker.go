package api

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/ericfitz/collabd/api/models"
	"github.com/ericfitz/collabd/internal/slogging"
	"github.com/ericfitz/collabd/internal/telemetry"
)

// Persister accepts fire-and-forget writes. Implementations must not block.
type Persister interface {
	EnqueuePresence(record PresenceRecord)
	EnqueueEditOperation(op *models.EditOperation)
}

const (
	persistKindPresence      = "presence"
	persistKindEditOperation = "edit_operation"
)

type persistJob struct {
	kind string
	key  string
	run  func(ctx context.Context, store Store) error
}

// PersistenceWorkerConfig sizes the write queue
type PersistenceWorkerConfig struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
}

// PersistenceWorker drains bounded queues of store writes on a fixed number
// of goroutines. Each goroutine owns one queue and jobs are routed by key, so
// writes for the same user apply in the order they were enqueued. A full
// queue drops the write and logs it; failures are logged and never retried.
type PersistenceWorker struct {
	store   Store
	cfg     PersistenceWorkerConfig
	metrics *telemetry.CollabMetrics
	queues  []chan persistJob

	// closing guards queue against sends after Stop
	mu      sync.RWMutex
	closing bool
	wg      sync.WaitGroup
}

// NewPersistenceWorker creates a worker for store; metrics may be nil
func NewPersistenceWorker(store Store, cfg PersistenceWorkerConfig, metrics *telemetry.CollabMetrics) *PersistenceWorker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if metrics == nil {
		metrics = telemetry.NewNoopCollabMetrics()
	}
	// QueueSize bounds the total across shards
	shardSize := max(cfg.QueueSize/cfg.Workers, 1)
	queues := make([]chan persistJob, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan persistJob, shardSize)
	}
	return &PersistenceWorker{
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		queues:  queues,
	}
}

// Start launches the worker goroutines
func (w *PersistenceWorker) Start() {
	slogging.Get().Info("persistence worker started (store=%s, workers=%d, queue=%d)",
		w.store.Name(), w.cfg.Workers, w.cfg.QueueSize)
	for _, queue := range w.queues {
		w.wg.Add(1)
		go w.processLoop(queue)
	}
}

// Stop stops accepting writes and waits for queued ones to drain until ctx
// expires
func (w *PersistenceWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		return nil
	}
	w.closing = true
	for _, queue := range w.queues {
		close(queue)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slogging.Get().Info("persistence worker stopped")
		return nil
	case <-ctx.Done():
		slogging.Get().Warn("persistence worker stopped with %d writes still queued", w.Pending())
		return ctx.Err()
	}
}

// Pending returns the number of queued writes
func (w *PersistenceWorker) Pending() int {
	n := 0
	for _, queue := range w.queues {
		n += len(queue)
	}
	return n
}

// EnqueuePresence implements Persister
func (w *PersistenceWorker) EnqueuePresence(record PresenceRecord) {
	row := &models.UserPresence{
		UserID:         record.UserID,
		Status:         string(record.Status),
		LastSeen:       record.LastSeen,
		CurrentElement: record.CurrentElement,
		UpdatedAt:      time.Now().UTC(),
	}
	w.enqueue(persistJob{
		kind: persistKindPresence,
		key:  record.UserID,
		run: func(ctx context.Context, store Store) error {
			return store.UpsertPresence(ctx, row)
		},
	})
}

// EnqueueEditOperation implements Persister
func (w *PersistenceWorker) EnqueueEditOperation(op *models.EditOperation) {
	w.enqueue(persistJob{
		kind: persistKindEditOperation,
		key:  op.ID,
		run: func(ctx context.Context, store Store) error {
			return store.InsertEditOperation(ctx, op)
		},
	})
}

func (w *PersistenceWorker) enqueue(job persistJob) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closing {
		w.metrics.PersistenceDropped(context.Background(), job.kind)
		slogging.Get().Warn("Dropping %s write for %s: persistence worker stopped", job.kind, job.key)
		return
	}
	select {
	case w.shardFor(job.key) <- job:
	default:
		w.metrics.PersistenceDropped(context.Background(), job.kind)
		slogging.Get().Warn("Dropping %s write for %s: persistence queue full", job.kind, job.key)
	}
}

func (w *PersistenceWorker) shardFor(key string) chan persistJob {
	if len(w.queues) == 1 {
		return w.queues[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return w.queues[h.Sum32()%uint32(len(w.queues))]
}

func (w *PersistenceWorker) processLoop(queue <-chan persistJob) {
	defer w.wg.Done()
	logger := slogging.Get()

	for job := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteTimeout)
		if err := job.run(ctx, w.store); err != nil {
			w.metrics.PersistenceFailed(ctx, job.kind)
			logger.Error("Failed to persist %s for %s: %v", job.kind, job.key, err)
		}
		cancel()
	}
}
