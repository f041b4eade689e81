package inventory

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type MessageProcessor interface {
	ProcessMessage(ctx context.Context, msg *nats.Msg) error
}

type WorkerPool struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	logger    *zap.Logger
	processor MessageProcessor
}

func NewWorkerPool(size, queueSize int, processor MessageProcessor, logger *zap.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if queueSize <= 0 {
		queueSize = 1000
	}

	wp := &WorkerPool{
		tasks:     make(chan func(), queueSize),
		logger:    logger,
		processor: processor,
	}

	wp.wg.Add(size)
	for i := 0; i < size; i++ {
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for task := range wp.tasks {
		task()
	}
}

// Submit queues msg for processing and blocks while the queue is full.
// Messages submitted after Shutdown are dropped.
func (wp *WorkerPool) Submit(ctx context.Context, msg *nats.Msg) {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		wp.logger.Warn("Worker pool closed, dropping message", zap.String("subject", msg.Subject))
		return
	}

	wp.tasks <- func() {
		if err := wp.processor.ProcessMessage(ctx, msg); err != nil {
			wp.logger.Error("Failed to process message",
				zap.Error(err),
				zap.String("subject", msg.Subject))
		}
	}
}

// Shutdown stops accepting messages and waits for queued ones to finish.
func (wp *WorkerPool) Shutdown() {
	wp.mu.Lock()
	if !wp.closed {
		wp.closed = true
		close(wp.tasks)
	}
	wp.mu.Unlock()

	wp.wg.Wait()
}
