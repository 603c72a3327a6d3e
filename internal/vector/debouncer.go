package vector

import (
	"fmt"
	"sync"
	"time"
)

// Job is one unit of embedding work. For deletes of already-removed
// documents only SourceID is known.
type Job struct {
	DocumentID string
	TenantID   string
	Type       string
	SourceID   interface{}
	Delete     bool
	Doc        map[string]interface{}
}

// Key identifies the document a job concerns, for coalescing and
// serialization.
func (j Job) Key() string {
	if j.DocumentID != "" {
		return j.DocumentID
	}
	return fmt.Sprint(j.SourceID)
}

// debouncer coalesces bursts of changes to the same document into a single
// job carrying the latest state. The first event starts the window; later
// events within it only replace the pending state.
type debouncer struct {
	window time.Duration
	emit   func(Job)

	mu     sync.Mutex
	latest map[string]Job
	timers map[string]*time.Timer
	closed bool
}

func newDebouncer(window time.Duration, emit func(Job)) *debouncer {
	if window <= 0 {
		window = 2 * time.Second
	}
	return &debouncer{
		window: window,
		emit:   emit,
		latest: map[string]Job{},
		timers: map[string]*time.Timer{},
	}
}

// Add records a change. The job emitted when the window elapses is the last
// one added for the key.
func (d *debouncer) Add(job Job) {
	key := job.Key()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.latest[key] = job
	if _, pending := d.timers[key]; pending {
		return
	}
	d.timers[key] = time.AfterFunc(d.window, func() { d.fire(key) })
}

func (d *debouncer) fire(key string) {
	d.mu.Lock()
	job, ok := d.latest[key]
	delete(d.latest, key)
	delete(d.timers, key)
	closed := d.closed
	d.mu.Unlock()

	if ok && !closed {
		d.emit(job)
	}
}

// Flush emits everything pending immediately. Used on shutdown.
func (d *debouncer) Flush() {
	d.mu.Lock()
	jobs := make([]Job, 0, len(d.latest))
	for key, job := range d.latest {
		jobs = append(jobs, job)
		if timer, ok := d.timers[key]; ok {
			timer.Stop()
		}
		delete(d.latest, key)
		delete(d.timers, key)
	}
	d.mu.Unlock()

	for _, job := range jobs {
		d.emit(job)
	}
}

// Close stops the debouncer; pending timers become no-ops.
func (d *debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for key, timer := range d.timers {
		timer.Stop()
		delete(d.timers, key)
		delete(d.latest, key)
	}
}
