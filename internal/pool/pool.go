// Package pool implements a bounded, keep-alive pool of worker handles:
// a free list backed by a buffered channel plus an atomic live count.
// An acquire is a channel receive with a counter that short-circuits
// creation up to the configured cap. Grounded on cryguy-worker's
// v8Pool (workers chan *v8Worker, get/put, dispose).
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Worker is one execution context leased to serve a single request.
// Data is opaque to Pool: it is set by New's newWorker callback and
// left untouched across the worker's Acquire/Release lifetime, letting
// a caller attach its own per-worker state (e.g. a script engine)
// without Pool needing to know its type.
type Worker struct {
	ID   int64
	Data any

	mu             sync.Mutex
	lastReleasedAt time.Time
}

// LastReleasedAt reports when this worker was last returned to the pool.
func (w *Worker) LastReleasedAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastReleasedAt
}

func (w *Worker) touch(t time.Time) {
	w.mu.Lock()
	w.lastReleasedAt = t
	w.mu.Unlock()
}

// New constructs a Worker; Pool calls it only to create a worker while
// fewer than MaxThreads are live, and never for reuse.
type New func(id int64) *Worker

// Destroy releases any resources owned by a worker being reaped.
type Destroy func(w *Worker)

// Pool is a bounded, keep-alive pool of Workers.
type Pool struct {
	maxThreads      int32
	minThreads      int32
	threadKeepalive time.Duration

	newWorker New
	destroy   Destroy

	free      chan *Worker
	live      atomic.Int32
	nextID    atomic.Int64
	closeOnce sync.Once
	stopReap  chan struct{}
}

// NewPool constructs a pool. maxThreads must be >= 1 and minThreads must be
// in [0, maxThreads], as validated by internal/config.
func NewPool(maxThreads, minThreads int, threadKeepalive time.Duration, newWorker New, destroy Destroy) *Pool {
	p := &Pool{
		maxThreads:      int32(maxThreads),
		minThreads:      int32(minThreads),
		threadKeepalive: threadKeepalive,
		newWorker:       newWorker,
		destroy:         destroy,
		free:            make(chan *Worker, maxThreads),
		stopReap:        make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

// Acquire returns a free worker, creating a new one if under the cap, or
// blocking until one is released. ctx allows the caller (a connection
// goroutine) to abandon the wait, e.g. on idle timeout of the
// underlying connection.
func (p *Pool) Acquire(ctx context.Context) (*Worker, error) {
	select {
	case w := <-p.free:
		return w, nil
	default:
	}

	for {
		live := p.live.Load()
		if live < p.maxThreads {
			if p.live.CompareAndSwap(live, live+1) {
				return p.newWorker(p.nextID.Add(1)), nil
			}
			continue // lost the race to another acquirer, retry
		}
		break
	}

	select {
	case w := <-p.free:
		return w, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns w to the free list and stamps its release time.
func (p *Pool) Release(w *Worker) {
	w.touch(time.Now())
	select {
	case p.free <- w:
	default:
		// Free list is at capacity (shouldn't happen: live <= maxThreads
		// and free never holds more than live workers), destroy instead
		// of leaking the worker.
		p.live.Add(-1)
		p.destroy(w)
	}
}

// LiveWorkers reports the current live worker count.
func (p *Pool) LiveWorkers() int32 { return p.live.Load() }

// FreeLen reports the number of currently idle workers.
func (p *Pool) FreeLen() int { return len(p.free) }

func (p *Pool) reapLoop() {
	interval := p.threadKeepalive / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reap()
		case <-p.stopReap:
			return
		}
	}
}

// reap terminates idle workers older than threadKeepalive while keeping
// at least minThreads alive. Unlike a single-threaded event loop, which
// can piggyback reaping onto every release, this pool runs it on a
// periodic ticker instead — see DESIGN.md.
func (p *Pool) reap() {
	now := time.Now()
	var kept []*Worker

	for {
		select {
		case w := <-p.free:
			if p.live.Load() > p.minThreads && now.Sub(w.LastReleasedAt()) > p.threadKeepalive {
				p.live.Add(-1)
				p.destroy(w)
			} else {
				kept = append(kept, w)
			}
		default:
			for _, w := range kept {
				p.free <- w
			}
			return
		}
	}
}

// Close stops the reaper and destroys all idle workers. In-flight
// leased workers are unaffected: once dispatched, a request's worker
// runs to completion, since the pool has no cancellation channel.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.stopReap)
		for {
			select {
			case w := <-p.free:
				p.destroy(w)
			default:
				return
			}
		}
	})
}
