// Package processing runs generation jobs on an in-process goroutine pool
// when no Redis is configured for asynq.
package processing

import (
	"context"
	"errors"

	"github.com/dharsanguruparan/LabelDrop/internal/logger"
	"github.com/dharsanguruparan/LabelDrop/internal/queue"
)

// ErrQueueFull is returned by Dispatch when the buffer is exhausted.
var ErrQueueFull = errors.New("processing queue full")

// Handler runs one generation.
type Handler func(ctx context.Context, generationID string) error

// Pool consumes dispatched jobs on a fixed number of workers. It implements
// queue.Dispatcher.
type Pool struct {
	handle  Handler
	queue   chan queue.GeneratePayload
	workers int
	log     *logger.Logger
}

// New builds a Pool with queue capacity tied to worker count.
func New(handle Handler, workers int, log *logger.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Pool{
		handle:  handle,
		queue:   make(chan queue.GeneratePayload, workers*4),
		workers: workers,
		log:     log,
	}
}

// Start launches worker goroutines that stop when ctx is done.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		go p.worker(ctx)
	}
}

// Dispatch queues a job without blocking.
func (p *Pool) Dispatch(_ context.Context, payload queue.GeneratePayload) error {
	select {
	case p.queue <- payload:
		return nil
	default:
		p.log.Warn("processor queue full, dropping job", "generation", payload.GenerationID)
		return ErrQueueFull
	}
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			if err := p.handle(ctx, job.GenerationID); err != nil {
				p.log.Warn("generation job failed", "generation", job.GenerationID, "error", err)
			}
		}
	}
}
