package worker

import (
	"sync"

	"github.com/baharkarakas/paygate/internal/metrics"
)

// Pool runs handle for every submitted job on n goroutines.
type Pool[T any] struct {
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	jobs   chan T
	handle func(T)
}

func NewPool[T any](n, queue int, handle func(T)) *Pool[T] {
	if n < 1 {
		n = 1
	}
	p := &Pool[T]{jobs: make(chan T, queue), handle: handle}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				metrics.WorkerQueueDepth.Set(float64(len(p.jobs)))
				p.handle(job)
			}
		}()
	}
	return p
}

// Submit never blocks: it reports false when the queue is full or the pool
// has been stopped.
func (p *Pool[T]) Submit(job T) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		metrics.WorkerDropped.Inc()
		return false
	}
	select {
	case p.jobs <- job:
		metrics.WorkerQueueDepth.Set(float64(len(p.jobs)))
		return true
	default:
		metrics.WorkerDropped.Inc()
		return false
	}
}

// Stop drains queued jobs and waits for the workers to exit.
func (p *Pool[T]) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
