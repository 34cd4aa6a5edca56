// Package workerpool distributes estimation jobs over a fixed set of
// workers. An estimation saturates a core for its whole run, so the pool
// defaults to one worker per CPU and a queue deep enough to absorb a
// consumer fetch.
package workerpool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is one queued estimation.
type Job struct {
	// ID keys the job in logs, typically the broker message key.
	ID string
	// Payload is the encoded estimation request.
	Payload []byte
	// Ctx carries the consume-side cancellation; nil uses the pool's.
	Ctx context.Context
}

// RunFunc executes one job. A returned error triggers the retry policy;
// permanent failures the caller has already routed (e.g. to a dead letter
// topic) should return nil.
type RunFunc func(ctx context.Context, job Job) error

// Submit errors.
var (
	ErrPoolClosed = errors.New("workerpool: pool is closed")
	ErrQueueFull  = errors.New("workerpool: queue is full")
)

// Config tunes the pool.
type Config struct {
	// Workers is the number of concurrent workers.
	Workers int
	// QueueSize bounds the number of jobs waiting for a worker.
	QueueSize int
	// MaxRetries is how many times a failed job is re-run.
	MaxRetries int
	// RetryDelay is the first retry backoff; it doubles per attempt.
	RetryDelay time.Duration
	// DrainTimeout bounds how long Stop waits for in-flight jobs.
	DrainTimeout time.Duration
}

// DefaultConfig returns defaults for CPU-bound estimation runs.
func DefaultConfig() Config {
	return Config{
		Workers:      runtime.NumCPU(),
		QueueSize:    1024,
		MaxRetries:   2,
		RetryDelay:   250 * time.Millisecond,
		DrainTimeout: time.Minute,
	}
}

// Pool runs jobs on its workers until stopped.
type Pool struct {
	cfg    Config
	run    RunFunc
	logger *zap.Logger

	jobs chan Job
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	submitted int64
	completed int64
	failed    int64
	retried   int64
}

// New creates a pool; zero config fields take their defaults.
func New(cfg Config, run RunFunc, logger *zap.Logger) (*Pool, error) {
	if run == nil {
		return nil, errors.New("workerpool: run function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:    cfg,
		run:    run,
		logger: logger,
		jobs:   make(chan Job, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.cfg.Workers),
		zap.Int("queue_size", p.cfg.QueueSize))
}

// Submit enqueues a job without blocking. A full queue is reported to the
// caller so backpressure reaches the consumer instead of growing unbounded.
func (p *Pool) Submit(job Job) error {
	select {
	case <-p.ctx.Done():
		return ErrPoolClosed
	default:
	}

	select {
	case p.jobs <- job:
		atomic.AddInt64(&p.submitted, 1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop rejects new jobs, drains the queue and waits for in-flight jobs up
// to the drain timeout.
func (p *Pool) Stop() {
	p.cancel()
	close(p.jobs)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool drained")
	case <-time.After(p.cfg.DrainTimeout):
		p.logger.Warn("worker pool drain timed out")
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.runJob(id, job)
	}
}

func (p *Pool) runJob(workerID int, job Job) {
	ctx := job.Ctx
	if ctx == nil {
		ctx = p.ctx
	}
	start := time.Now()

	var err error
	for attempt := 0; ; attempt++ {
		if err = ctx.Err(); err != nil {
			break
		}
		if err = p.run(ctx, job); err == nil || attempt >= p.cfg.MaxRetries {
			break
		}

		atomic.AddInt64(&p.retried, 1)
		p.logger.Debug("retrying job",
			zap.String("job_id", job.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(p.cfg.RetryDelay << attempt):
		}
	}

	if err != nil {
		atomic.AddInt64(&p.failed, 1)
		p.logger.Error("job failed",
			zap.String("job_id", job.ID),
			zap.Int("worker_id", workerID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return
	}
	atomic.AddInt64(&p.completed, 1)
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Submitted  int64
	Completed  int64
	Failed     int64
	Retried    int64
	QueueDepth int
	Workers    int
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted:  atomic.LoadInt64(&p.submitted),
		Completed:  atomic.LoadInt64(&p.completed),
		Failed:     atomic.LoadInt64(&p.failed),
		Retried:    atomic.LoadInt64(&p.retried),
		QueueDepth: len(p.jobs),
		Workers:    p.cfg.Workers,
	}
}
