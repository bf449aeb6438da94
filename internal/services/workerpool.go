package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Lllllllleong/merchantonboarding/internal/models"
)

var (
	ErrQueueFull  = errors.New("job queue is full")
	ErrPoolClosed = errors.New("worker pool is shut down")
)

// JobHandler executes one dispatched job.
type JobHandler func(ctx context.Context, ticket models.JobTicket) error

// WorkerPool is the in-process Dispatcher: a bounded queue drained by a fixed
// number of workers.
type WorkerPool struct {
	queue   chan models.JobTicket
	handler JobHandler
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewWorkerPool(workers, queueSize int, handler JobHandler) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		queue:   make(chan models.JobTicket, queueSize),
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	slog.Info("Worker pool started.", "workers", workers, "queueSize", queueSize)
	return p
}

// Dispatch enqueues a ticket without blocking.
func (p *WorkerPool) Dispatch(_ context.Context, ticket models.JobTicket) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- ticket:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *WorkerPool) work(id int) {
	defer p.wg.Done()
	for ticket := range p.queue {
		p.handle(id, ticket)
	}
}

func (p *WorkerPool) handle(id int, ticket models.JobTicket) {
	logCtx := slog.With("worker", id, "jobId", ticket.JobID, "merchantId", ticket.MerchantID)
	defer func() {
		if r := recover(); r != nil {
			logCtx.Error("Job handler panicked.", "panic", fmt.Sprint(r))
		}
	}()
	err := p.handler(p.ctx, ticket)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrJobClaimed):
		logCtx.Info("Job already claimed, dropping duplicate ticket.")
	default:
		logCtx.Error("Job handler failed.", "error", err)
	}
}

// Shutdown stops accepting tickets and waits for queued ones to finish. When
// ctx ends first, running jobs see their context cancelled.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}
