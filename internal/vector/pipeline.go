package vector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/iamkash/intellispec/internal/apperror"
)

// Config tunes the pipeline.
type Config struct {
	Enabled        bool
	MonitoredTypes []string
	DebounceWindow time.Duration
	Workers        int
	QueueHighWater int
	QueueLowWater  int
}

// Observer receives pipeline events, typically to drive metrics. A nil
// observer is valid.
type Observer interface {
	QueueDepth(n int)
	EmbeddingGenerated()
	EmbeddingFailed()
}

// Health is the live status reported by the health endpoint.
type Health struct {
	Enabled      bool       `json:"enabled"`
	Running      bool       `json:"running"`
	Paused       bool       `json:"paused"`
	InFlight     int64      `json:"inFlight"`
	QueueDepth   int64      `json:"queueDepth"`
	Embedded     int64      `json:"embeddingsGenerated"`
	Errors       int64      `json:"errors"`
	LastActivity *time.Time `json:"lastActivity,omitempty"`
}

// Pipeline owns the watcher, debouncer, and worker pool.
type Pipeline struct {
	cfg       Config
	store     *Store
	embedder  *Embedder
	docs      *mongo.Collection
	logger    zerolog.Logger
	observer  Observer
	monitored map[string]bool

	deb  *debouncer
	jobs chan Job

	mu      sync.Mutex
	busy    map[string]bool
	pending map[string]Job

	queueDepth   atomic.Int64
	inFlight     atomic.Int64
	embedded     atomic.Int64
	errs         atomic.Int64
	lastActivity atomic.Int64
	running      atomic.Bool
	paused       atomic.Bool

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New builds the pipeline over the document collection it watches.
func New(cfg Config, store *Store, embedder *Embedder, docs *mongo.Collection, logger zerolog.Logger, observer Observer) *Pipeline {
	if cfg.Workers < 1 {
		cfg.Workers = 2
	}
	if cfg.QueueHighWater < 1 {
		cfg.QueueHighWater = 500
	}
	if cfg.QueueLowWater < 1 || cfg.QueueLowWater >= cfg.QueueHighWater {
		cfg.QueueLowWater = cfg.QueueHighWater / 2
	}

	monitored := make(map[string]bool, len(cfg.MonitoredTypes))
	for _, t := range cfg.MonitoredTypes {
		monitored[t] = true
	}

	p := &Pipeline{
		cfg:       cfg,
		store:     store,
		embedder:  embedder,
		docs:      docs,
		logger:    logger.With().Str("component", "vector-pipeline").Logger(),
		observer:  observer,
		monitored: monitored,
		jobs:      make(chan Job, cfg.QueueHighWater*2),
		busy:      map[string]bool{},
		pending:   map[string]Job{},
	}
	p.deb = newDebouncer(cfg.DebounceWindow, p.enqueue)
	return p
}

// Start opens the change stream and launches the workers. It logs a status
// line on every path: running, disabled, or failed.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.cfg.Enabled {
		p.logger.Info().Msg("vector pipeline disabled")
		return nil
	}

	stream, savedAt, err := p.openStream(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("vector pipeline failed to start")
		return apperror.ErrExternal("failed to open change stream", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.group, runCtx = errgroup.WithContext(runCtx)

	for i := 0; i < p.cfg.Workers; i++ {
		p.group.Go(func() error { return p.workerLoop(runCtx) })
	}
	p.group.Go(func() error { return p.watchLoop(runCtx, stream, savedAt) })

	p.running.Store(true)
	p.logger.Info().
		Int("workers", p.cfg.Workers).
		Strs("monitoredTypes", p.cfg.MonitoredTypes).
		Dur("debounceWindow", p.cfg.DebounceWindow).
		Msg("vector pipeline running")
	return nil
}

// Stop flushes pending jobs and waits for the workers, bounded by ctx.
// Changes still inside the debounce window are enqueued and drained so a
// restart does not lose their embedding.
func (p *Pipeline) Stop(ctx context.Context) error {
	if !p.running.Swap(false) {
		return nil
	}
	p.deb.Flush()
	p.deb.Close()
	p.drain(ctx)
	p.cancel()

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info().Msg("vector pipeline stopped")
		return nil
	case <-ctx.Done():
		return apperror.ErrTimeout("vector pipeline shutdown timed out", ctx.Err())
	}
}

// drain waits until the queue and in-flight work are empty, bounded by ctx,
// so jobs flushed at shutdown are processed before the workers stop.
func (p *Pipeline) drain(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if p.queueDepth.Load() == 0 && p.inFlight.Load() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Health reports the live pipeline state.
func (p *Pipeline) Health() Health {
	h := Health{
		Enabled:    p.cfg.Enabled,
		Running:    p.running.Load(),
		Paused:     p.paused.Load(),
		InFlight:   p.inFlight.Load(),
		QueueDepth: p.queueDepth.Load(),
		Embedded:   p.embedded.Load(),
		Errors:     p.errs.Load(),
	}
	if nanos := p.lastActivity.Load(); nanos > 0 {
		t := time.Unix(0, nanos).UTC()
		h.LastActivity = &t
	}
	return h
}

func (p *Pipeline) enqueue(job Job) {
	depth := p.queueDepth.Add(1)
	if p.observer != nil {
		p.observer.QueueDepth(int(depth))
	}
	p.jobs <- job
}

// workerLoop pulls jobs, serializing by document key: a job for a busy key
// is parked as that key's single pending job; finishing a key drains its
// pending job before the worker moves on.
func (p *Pipeline) workerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-p.jobs:
			depth := p.queueDepth.Add(-1)
			if p.observer != nil {
				p.observer.QueueDepth(int(depth))
			}
			if !p.claim(job) {
				continue
			}
			p.process(ctx, job)
			for {
				next, more := p.release(job.Key())
				if !more {
					break
				}
				p.process(ctx, next)
			}
		}
	}
}

func (p *Pipeline) claim(job Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := job.Key()
	if p.busy[key] {
		// Collapse: only the latest arrival for a busy key is kept.
		p.pending[key] = job
		return false
	}
	p.busy[key] = true
	return true
}

// release returns the pending job for the key, keeping the key claimed, or
// frees the key when nothing is pending.
func (p *Pipeline) release(key string) (Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if job, ok := p.pending[key]; ok {
		delete(p.pending, key)
		return job, true
	}
	delete(p.busy, key)
	return Job{}, false
}

func (p *Pipeline) process(ctx context.Context, job Job) {
	p.lastActivity.Store(time.Now().UTC().UnixNano())
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	if job.Delete {
		p.processDelete(ctx, job)
		return
	}
	p.processEmbed(ctx, job, true)
}

func (p *Pipeline) processDelete(ctx context.Context, job Job) {
	var err error
	if job.DocumentID != "" {
		err = p.store.Delete(ctx, job.DocumentID)
	} else {
		err = p.store.DeleteBySourceID(ctx, job.SourceID)
	}
	if err != nil {
		p.errs.Add(1)
		p.logger.Error().Err(err).Str("documentId", job.Key()).Msg("failed to remove vector record")
	}
}

func (p *Pipeline) processEmbed(ctx context.Context, job Job, retryOnConflict bool) {
	projection := p.embedder.Projection(job.Type, job.Doc)
	hash := SemanticHash(projection)

	existing, err := p.store.Find(ctx, job.DocumentID)
	if err != nil {
		p.fail(ctx, job, err)
		return
	}
	if existing != nil && existing.SemanticHash == hash && existing.LastError == "" {
		// Final state already embedded.
		return
	}

	embedding, err := p.embedder.Embed(ctx, projection)
	if err != nil {
		p.fail(ctx, job, err)
		return
	}

	record := &VectorRecord{
		DocumentID:   job.DocumentID,
		TenantID:     job.TenantID,
		Type:         job.Type,
		SourceID:     job.SourceID,
		Embedding:    embedding,
		SemanticHash: hash,
	}
	if err := p.store.Upsert(ctx, record); err != nil {
		if apperror.IsKind(err, apperror.KindConflict) && retryOnConflict {
			// Re-read the source and try once more with its current state.
			if fresh := p.reread(ctx, job); fresh != nil {
				p.processEmbed(ctx, *fresh, false)
				return
			}
		}
		p.fail(ctx, job, err)
		return
	}

	p.embedded.Add(1)
	if p.observer != nil {
		p.observer.EmbeddingGenerated()
	}
}

func (p *Pipeline) fail(ctx context.Context, job Job, cause error) {
	p.errs.Add(1)
	if p.observer != nil {
		p.observer.EmbeddingFailed()
	}
	p.logger.Error().Err(cause).Str("documentId", job.DocumentID).Msg("embedding failed")

	record := &VectorRecord{DocumentID: job.DocumentID, TenantID: job.TenantID, Type: job.Type}
	if err := p.store.MarkError(ctx, record, cause.Error()); err != nil {
		p.logger.Error().Err(err).Str("documentId", job.DocumentID).Msg("failed to record embedding error")
	}
}
