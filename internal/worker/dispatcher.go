// Package worker runs register jobs on a bounded pool of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull indicates every worker is busy and the queue is at capacity.
	ErrQueueFull = errors.New("worker queue is full")
	// ErrClosed indicates the dispatcher no longer accepts tasks.
	ErrClosed = errors.New("worker dispatcher is closed")
)

// Task is one unit of background work.
type Task func(ctx context.Context)

// Dispatcher executes submitted tasks on a fixed number of workers. Tasks run
// on a context that outlives the submitting request and are never cancelled
// by Shutdown; Shutdown only waits for them.
type Dispatcher struct {
	queue  chan Task
	base   context.Context
	log    *zap.Logger
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts workers goroutines reading from a queue of queueSize.
func NewDispatcher(base context.Context, workers, queueSize int, log *zap.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		queue: make(chan Task, queueSize),
		base:  context.WithoutCancel(base),
		log:   log,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.work(i)
	}
	return d
}

func (d *Dispatcher) work(idx int) {
	defer d.wg.Done()
	for task := range d.queue {
		d.run(idx, task)
	}
}

func (d *Dispatcher) run(idx int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("worker task panicked", zap.Int("worker", idx), zap.Any("panic", r))
		}
	}()
	task(d.base)
}

// Submit enqueues task without blocking.
func (d *Dispatcher) Submit(task Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits until queued and running tasks
// finish or ctx expires.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain workers: %w", ctx.Err())
	}
}
