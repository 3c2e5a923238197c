package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ProcessorQueue runs draft jobs on a fixed worker pool. Transient failures are
// re-enqueued with linear backoff; the draft is marked failed once attempts run
// out or on the first permanent error.
type ProcessorQueue struct {
	proc        Processor
	logger      *slog.Logger
	workers     int
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu      sync.Mutex
	closed  bool
	quit    chan struct{}
	senders sync.WaitGroup
	retries sync.WaitGroup
	timers  map[*time.Timer]struct{}
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}
func WithMaxAttempts(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}
func WithRetryBackoff(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d >= 0 {
			q.backoff = d
		}
	}
}

func NewProcessorQueue(proc Processor, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		proc:        proc,
		logger:      logger,
		workers:     4,
		timeout:     3 * time.Minute,
		maxAttempts: 3,
		backoff:     2 * time.Second,
		ch:          make(chan Job, 256),
		quit:        make(chan struct{}),
		timers:      map[*time.Timer]struct{}{},
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)
				for job := range q.ch {
					q.run(workerID, job)
				}
				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) run(workerID int, job Job) {
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	err := q.proc.ProcessDraft(ctx, job.DraftID)
	cancel()

	if err == nil {
		q.logger.Info("processed draft", "worker_id", workerID, "draft_id", job.DraftID, "attempt", job.Attempt,
			"queued_ms", time.Since(job.SubmittedAt).Milliseconds())
		return
	}
	if Transient(err) && job.Attempt < q.maxAttempts && q.retry(job) {
		q.logger.Warn("processing failed, will retry", "worker_id", workerID, "draft_id", job.DraftID,
			"attempt", job.Attempt, "error", err)
		return
	}

	q.logger.Error("processing failed", "worker_id", workerID, "draft_id", job.DraftID, "attempt", job.Attempt, "error", err)
	if errors.Is(err, context.DeadlineExceeded) {
		err = errors.New("processing timed out")
	}
	mctx, mcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer mcancel()
	if ferr := q.proc.MarkFailed(mctx, job.DraftID, err); ferr != nil {
		q.logger.Error("mark failed", "draft_id", job.DraftID, "error", ferr)
	}
}

// retry schedules the next attempt. It reports false once the queue is closed.
func (q *ProcessorQueue) retry(job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	next := job
	next.Attempt++
	delay := q.backoff * time.Duration(job.Attempt)

	q.retries.Add(1)
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		defer q.retries.Done()
		q.mu.Lock()
		delete(q.timers, t)
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		if err := q.Enqueue(context.Background(), next); err != nil {
			q.logger.Warn("retry dropped", "draft_id", next.DraftID, "error", err)
		}
	})
	q.timers[t] = struct{}{}
	return true
}

// Enqueue blocks while the buffer is full, until ctx is done or the queue
// shuts down. The send happens outside q.mu so workers can still schedule
// retries while an enqueuer waits for room.
func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) error {
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("cannot enqueue: queue is shutting down", "draft_id", job.DraftID)
		return ErrQueueClosed
	}
	q.senders.Add(1)
	q.mu.Unlock()
	defer q.senders.Done()

	select {
	case q.ch <- job:
		q.logger.Debug("queued draft for processing", "draft_id", job.DraftID, "attempt", job.Attempt)
		return nil
	default:
	}
	q.logger.Warn("queue full, applying backpressure", "draft_id", job.DraftID)
	select {
	case q.ch <- job:
		return nil
	case <-q.quit:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs, cancels pending retries and waits for the
// workers to drain the buffer. Drafts whose retry was cancelled stay in
// processing and are resumed on the next start.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for t := range q.timers {
		if t.Stop() {
			q.retries.Done()
		}
		delete(q.timers, t)
	}
	close(q.quit)
	q.mu.Unlock()

	// no new senders can register once closed is set
	q.senders.Wait()
	close(q.ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.wg.Wait()
		q.retries.Wait()
	}()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
