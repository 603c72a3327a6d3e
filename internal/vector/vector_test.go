package vector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/iamkash/intellispec/internal/apperror"
)

// ============================================================================
// Debouncer
// ============================================================================

func TestDebouncerCollapsesBurstToLatest(t *testing.T) {
	var mu sync.Mutex
	var emitted []Job
	d := newDebouncer(50*time.Millisecond, func(j Job) {
		mu.Lock()
		emitted = append(emitted, j)
		mu.Unlock()
	})
	defer d.Close()

	for i := 1; i <= 5; i++ {
		d.Add(Job{DocumentID: "doc-1", Doc: map[string]interface{}{"rev": i}})
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(emitted) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, emitted[0].Doc["rev"])
}

func TestDebouncerKeysAreIndependent(t *testing.T) {
	var mu sync.Mutex
	emitted := map[string]int{}
	d := newDebouncer(30*time.Millisecond, func(j Job) {
		mu.Lock()
		emitted[j.DocumentID]++
		mu.Unlock()
	})
	defer d.Close()

	d.Add(Job{DocumentID: "a"})
	d.Add(Job{DocumentID: "b"})
	d.Add(Job{DocumentID: "a"})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return emitted["a"] == 1 && emitted["b"] == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDebouncerFlushEmitsImmediately(t *testing.T) {
	var mu sync.Mutex
	var emitted []Job
	d := newDebouncer(time.Hour, func(j Job) {
		mu.Lock()
		emitted = append(emitted, j)
		mu.Unlock()
	})

	d.Add(Job{DocumentID: "a"})
	d.Flush()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, emitted, 1)
}

func TestDebouncerCloseDropsPending(t *testing.T) {
	fired := false
	d := newDebouncer(20*time.Millisecond, func(Job) { fired = true })

	d.Add(Job{DocumentID: "a"})
	d.Close()

	time.Sleep(60 * time.Millisecond)
	assert.False(t, fired)
}

// ============================================================================
// Embedder
// ============================================================================

type fakeEmbedClient struct {
	mu       sync.Mutex
	calls    int
	failures int
}

func (f *fakeEmbedClient) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := f.EmbedQuery(context.Background(), texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedClient) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("model overloaded")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func TestProjectionConcatenatesDeclaredFields(t *testing.T) {
	e := NewEmbedder(nil, map[string][]string{"asset": {"name", "notes"}}, 100, 1)

	doc := map[string]interface{}{
		"name":   "Pump A",
		"notes":  "quarterly check",
		"serial": "should not appear",
	}
	projection := e.Projection("asset", doc)
	assert.Equal(t, "Pump A\nquarterly check", projection)
}

func TestProjectionFallsBackToDefaultFields(t *testing.T) {
	e := NewEmbedder(nil, nil, 100, 1)

	projection := e.Projection("inspection", map[string]interface{}{
		"name":        "Annual",
		"description": "full survey",
		"tags":        []interface{}{"steel", "offshore"},
	})
	assert.Equal(t, "Annual\nfull survey\nsteel\noffshore", projection)
}

func TestProjectionTruncatesToMaxInput(t *testing.T) {
	e := NewEmbedder(nil, map[string][]string{"t": {"name"}}, 5, 1)

	projection := e.Projection("t", map[string]interface{}{"name": "abcdefghij"})
	assert.Equal(t, "abcde", projection)
}

func TestSemanticHashIsStable(t *testing.T) {
	assert.Equal(t, SemanticHash("same"), SemanticHash("same"))
	assert.NotEqual(t, SemanticHash("a"), SemanticHash("b"))
}

func TestEmbedRetriesTransientFailures(t *testing.T) {
	client := &fakeEmbedClient{failures: 2}
	e := NewEmbedder(client, nil, 100, 3)

	vec, err := e.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 3, client.calls)
}

func TestEmbedGivesUpAfterMaxRetries(t *testing.T) {
	client := &fakeEmbedClient{failures: 100}
	e := NewEmbedder(client, nil, 100, 1)

	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindExternal))
	assert.Equal(t, 1, client.calls)
}

// ============================================================================
// Pipeline
// ============================================================================

func testPipeline(cfg Config) *Pipeline {
	return New(cfg, nil, NewEmbedder(nil, nil, 100, 1), nil, zerolog.Nop(), nil)
}

func TestClaimParksJobsForBusyKeys(t *testing.T) {
	p := testPipeline(Config{})

	first := Job{DocumentID: "doc-1", Doc: map[string]interface{}{"rev": 1}}
	require.True(t, p.claim(first))

	second := Job{DocumentID: "doc-1", Doc: map[string]interface{}{"rev": 2}}
	third := Job{DocumentID: "doc-1", Doc: map[string]interface{}{"rev": 3}}
	assert.False(t, p.claim(second))
	assert.False(t, p.claim(third))

	// Only the latest parked job survives, and the key stays claimed
	// until nothing is pending.
	next, more := p.release("doc-1")
	require.True(t, more)
	assert.Equal(t, 3, next.Doc["rev"])

	_, more = p.release("doc-1")
	assert.False(t, more)

	assert.True(t, p.claim(Job{DocumentID: "doc-1"}))
}

func TestClaimDifferentKeysAreIndependent(t *testing.T) {
	p := testPipeline(Config{})

	assert.True(t, p.claim(Job{DocumentID: "a"}))
	assert.True(t, p.claim(Job{DocumentID: "b"}))
}

func TestHandleEventFiltersUnmonitoredTypes(t *testing.T) {
	p := testPipeline(Config{MonitoredTypes: []string{"asset"}, DebounceWindow: 10 * time.Millisecond})

	p.handleEvent(changeEvent{
		OperationType: "insert",
		FullDocument:  map[string]interface{}{"id": "d1", "type": "invoice", "tenantId": "t1"},
	})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), p.queueDepth.Load())
}

func TestHandleEventEnqueuesMonitoredInsert(t *testing.T) {
	p := testPipeline(Config{MonitoredTypes: []string{"asset"}, DebounceWindow: 10 * time.Millisecond})

	p.handleEvent(changeEvent{
		OperationType: "insert",
		FullDocument:  map[string]interface{}{"id": "d1", "type": "asset", "tenantId": "t1", "name": "Pump"},
	})

	assert.Eventually(t, func() bool { return p.queueDepth.Load() == 1 }, time.Second, 10*time.Millisecond)

	job := <-p.jobs
	assert.Equal(t, "d1", job.DocumentID)
	assert.Equal(t, "t1", job.TenantID)
	assert.False(t, job.Delete)
}

func TestHandleEventSoftDeleteBecomesRemoval(t *testing.T) {
	p := testPipeline(Config{MonitoredTypes: []string{"asset"}, DebounceWindow: 10 * time.Millisecond})

	p.handleEvent(changeEvent{
		OperationType: "update",
		FullDocument:  map[string]interface{}{"id": "d1", "type": "asset", "tenantId": "t1", "deleted": true},
	})

	assert.Eventually(t, func() bool { return p.queueDepth.Load() == 1 }, time.Second, 10*time.Millisecond)

	job := <-p.jobs
	assert.True(t, job.Delete)
	assert.Equal(t, "d1", job.DocumentID)
}

func TestHandleEventHardDeleteUsesDocumentKey(t *testing.T) {
	p := testPipeline(Config{MonitoredTypes: []string{"asset"}, DebounceWindow: 10 * time.Millisecond})

	p.handleEvent(changeEvent{
		OperationType: "delete",
		DocumentKey:   map[string]interface{}{"_id": "oid-123"},
	})

	assert.Eventually(t, func() bool { return p.queueDepth.Load() == 1 }, time.Second, 10*time.Millisecond)

	job := <-p.jobs
	assert.True(t, job.Delete)
	assert.Equal(t, "oid-123", job.SourceID)
	assert.Equal(t, "oid-123", job.Key())
}

func TestHealthReflectsCounters(t *testing.T) {
	p := testPipeline(Config{Enabled: true})
	p.running.Store(true)
	p.embedded.Store(7)
	p.errs.Store(2)
	p.inFlight.Store(1)
	p.lastActivity.Store(time.Now().UnixNano())

	h := p.Health()
	assert.True(t, h.Enabled)
	assert.True(t, h.Running)
	assert.Equal(t, int64(7), h.Embedded)
	assert.Equal(t, int64(2), h.Errors)
	assert.Equal(t, int64(1), h.InFlight)
	require.NotNil(t, h.LastActivity)
}

func TestDisabledPipelineStartIsANoOp(t *testing.T) {
	p := testPipeline(Config{Enabled: false})

	require.NoError(t, p.Start(context.Background()))
	assert.False(t, p.Health().Running)
}

func TestWatermarkDefaults(t *testing.T) {
	p := testPipeline(Config{QueueHighWater: 100, QueueLowWater: 200})
	assert.Equal(t, 50, p.cfg.QueueLowWater)
}

func TestStopEnqueuesJobsStillInDebounceWindow(t *testing.T) {
	p := testPipeline(Config{Enabled: true, DebounceWindow: time.Hour})
	p.running.Store(true)
	p.cancel = func() {}
	p.group = &errgroup.Group{}

	// A change lands and Stop arrives long before the window elapses.
	p.deb.Add(Job{DocumentID: "doc-1", TenantID: "t1", Type: "asset",
		Doc: map[string]interface{}{"name": "Pump A"}})

	// No workers run in this test, so Stop may report a drain timeout; the
	// assertion is about the queue contents.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = p.Stop(ctx)

	require.Equal(t, int64(1), p.queueDepth.Load())
	select {
	case job := <-p.jobs:
		assert.Equal(t, "doc-1", job.DocumentID)
	default:
		t.Fatal("flushed job never reached the queue")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	p := testPipeline(Config{Enabled: true})

	// Never started; both calls are no-ops.
	require.NoError(t, p.Stop(context.Background()))
	require.NoError(t, p.Stop(context.Background()))
}
