package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of background work: an async evaluation, a question
// prefetch, or an evaluation retry.
type Job struct {
	SessionID  string
	Ordinal    int32
	Run        func(ctx context.Context)
	EnqueuedAt time.Time
}

// WorkerPool runs engine background jobs on a bounded queue. Enqueue never
// blocks longer than maxTaskWaitTime; dropped jobs are picked up again by
// the retry sweeper.
type WorkerPool struct {
	jobQueue        chan Job
	workerCount     int
	maxTaskWaitTime time.Duration
	logger          *zap.Logger
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup

	totalProcessed int64
	totalDropped   int64
}

func NewWorkerPool(workers, queueSize, maxTaskWaitTime int, logger *zap.Logger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		jobQueue:        make(chan Job, queueSize),
		workerCount:     workers,
		maxTaskWaitTime: time.Duration(maxTaskWaitTime) * time.Second,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
	}
}

func (wp *WorkerPool) Start() {
	wp.logger.Info("Starting worker pool",
		zap.Int("workerCount", wp.workerCount),
		zap.Int("queueCapacity", cap(wp.jobQueue)))

	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop drains via context cancellation. The queue channel is never closed
// so a producer racing shutdown (a broker delivery, the sweeper) cannot
// panic on send; its job is simply dropped and re-swept later.
func (wp *WorkerPool) Stop() {
	wp.cancel()
	wp.wg.Wait()
}

func (wp *WorkerPool) worker(workerID int) {
	defer wp.wg.Done()

	for {
		select {
		case job := <-wp.jobQueue:
			workerQueueDepth.Set(float64(len(wp.jobQueue)))

			start := time.Now()
			job.Run(wp.ctx)
			atomic.AddInt64(&wp.totalProcessed, 1)

			wp.logger.Debug("Worker completed job",
				zap.Int("workerID", workerID),
				zap.String("sessionID", job.SessionID),
				zap.Int32("ordinal", job.Ordinal),
				zap.Duration("processingTime", time.Since(start)),
				zap.Duration("waitTime", start.Sub(job.EnqueuedAt)))

		case <-wp.ctx.Done():
			wp.logger.Info("Worker stopping - context cancelled", zap.Int("workerID", workerID))
			return
		}
	}
}

// Enqueue offers the job to the queue, waiting up to maxTaskWaitTime.
func (wp *WorkerPool) Enqueue(job Job) bool {
	job.EnqueuedAt = time.Now()

	select {
	case wp.jobQueue <- job:
		workerQueueDepth.Set(float64(len(wp.jobQueue)))
		return true
	case <-wp.ctx.Done():
		atomic.AddInt64(&wp.totalDropped, 1)
		workerJobsDropped.Inc()
		return false
	case <-time.After(wp.maxTaskWaitTime):
		atomic.AddInt64(&wp.totalDropped, 1)
		workerJobsDropped.Inc()
		wp.logger.Warn("Job enqueue timeout - queue full",
			zap.String("sessionID", job.SessionID),
			zap.Int32("ordinal", job.Ordinal),
			zap.Int("queueSize", len(wp.jobQueue)),
			zap.Int("queueCapacity", cap(wp.jobQueue)))
		return false
	}
}

// Metrics returns worker pool counters for the ops endpoint.
func (wp *WorkerPool) Metrics() map[string]interface{} {
	return map[string]interface{}{
		"total_jobs_processed": atomic.LoadInt64(&wp.totalProcessed),
		"total_jobs_dropped":   atomic.LoadInt64(&wp.totalDropped),
		"queue_size":           len(wp.jobQueue),
		"queue_capacity":       cap(wp.jobQueue),
	}
}
