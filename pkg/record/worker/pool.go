// Package worker provides an asynchronous worker pool for persisting
// generation records. The pool decouples storage writes from the server's
// streaming hot path: a finished stream enqueues its record and returns to
// the client immediately.
package worker

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/objstreamhq/objstream/pkg/record"
	"github.com/objstreamhq/objstream/pkg/utils"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// Job is a unit of work for the worker pool to execute against.
type Job struct {
	Record *record.Record
}

// Config is the configuration options for the worker pool.
type Config struct {
	// Store is the backend that records are written to.
	Store record.Store

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// Logger is the provided zap logger
	Logger *zap.Logger
}

// Pool processes record writes asynchronously via a worker pool.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *zap.Logger

	// mu guards closed: a streaming goroutine can outlive the HTTP server
	// and enqueue after shutdown has begun.
	mu     sync.Mutex
	closed bool
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Store == nil {
		return nil, fmt.Errorf("worker pool requires a record store")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	wp := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the pool is closed or the queue is
// full, resulting in the job being dropped
func (p *Pool) Enqueue(job Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.logger.Warn("record not queued, pool closed, record dropped",
			zap.String("record_id", job.Record.ID),
			zap.String("model", job.Record.Model),
		)
		return false
	}

	select {
	case p.queue <- job:
		p.logger.Debug("record queued",
			zap.String("record_id", job.Record.ID),
			zap.String("model", job.Record.Model),
		)
		return true
	default:
		p.logger.Error("record not queued, queue full, record dropped",
			zap.String("record_id", job.Record.ID),
			zap.String("model", job.Record.Model),
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call this during graceful shutdown after the HTTP server has stopped.
// Close is idempotent; Enqueue after Close drops the job instead of
// panicking on the closed queue.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.queue)
	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the jobs queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", zap.Uint("worker_id", id))

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("record worker stopped", zap.Uint("worker_id", id))
}

func (p *Pool) processJob(job Job) {
	ctx := context.Background()

	if err := p.config.Store.Put(ctx, job.Record); err != nil {
		p.logger.Error("async record storage failed",
			zap.String("record_id", job.Record.ID),
			zap.Error(err),
		)
		return
	}

	p.logger.Info("generation recorded",
		zap.String("record_id", job.Record.ID),
		zap.String("provider", job.Record.Provider),
		zap.String("model", job.Record.Model),
		zap.Bool("succeeded", job.Record.Succeeded()),
		zap.String("raw_preview", utils.Truncate(job.Record.RawText, 120)),
	)
}
