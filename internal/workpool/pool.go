package workpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"igharvest/pkg/logger"
)

// ErrClosed is returned when work is submitted after Stop.
var ErrClosed = errors.New("worker pool is shutting down")

// Task is a unit of blocking work.
type Task func(ctx context.Context) error

type job struct {
	ctx  context.Context
	task Task
	done chan error
}

// Pool runs tasks on a fixed number of workers.
type Pool struct {
	numWorkers int
	jobQueue   chan job
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	started    bool
	active     atomic.Int32
	logger     logger.Logger
}

// New creates a pool with numWorkers workers. Call Start before Do.
func New(numWorkers int, log logger.Logger) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Pool{
		numWorkers: numWorkers,
		jobQueue:   make(chan job, numWorkers*2),
		logger:     log,
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	p.logger.InfoWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": p.numWorkers,
	})
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop stops accepting work and waits for queued tasks to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobQueue)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

// Do runs task on a worker and waits for it. The wait is not abandoned when
// ctx ends; ctx is only handed to the task.
func (p *Pool) Do(ctx context.Context, task Task) error {
	done := make(chan error, 1)

	p.mu.RLock()
	if p.closed || !p.started {
		p.mu.RUnlock()
		return ErrClosed
	}
	p.jobQueue <- job{ctx: ctx, task: task, done: done}
	p.mu.RUnlock()

	return <-done
}

// Active returns the number of tasks currently running.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Queued returns the number of tasks waiting for a worker.
func (p *Pool) Queued() int {
	return len(p.jobQueue)
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.numWorkers
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for j := range p.jobQueue {
		j.done <- p.run(id, j)
	}

	p.logger.DebugWithFields("Worker stopping - job queue closed", map[string]interface{}{
		"worker_id": id,
	})
}

func (p *Pool) run(id int, j job) (err error) {
	p.active.Add(1)
	defer p.active.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorWithFields("Worker recovered from panic", map[string]interface{}{
				"worker_id": id,
				"panic":     fmt.Sprint(r),
			})
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	return j.task(j.ctx)
}
