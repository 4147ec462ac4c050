package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const jobTimeout = 2 * time.Minute

// SyncFunc runs one account sync. Provided by the service layer.
type SyncFunc func(ctx context.Context, accountID int64) error

// Queue is a bounded in-process task queue with a pool of workers. It
// implements service.TaskScheduler. Duplicate enqueues are harmless: the
// sync path is idempotent by construction.
type Queue struct {
	jobs    chan int64
	workers int
	log     *logrus.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewQueue creates a queue with the given worker count and buffer size
func NewQueue(workers, size int, log *logrus.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		jobs:    make(chan int64, size),
		workers: workers,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutines
func (q *Queue) Start(run SyncFunc) {
	q.log.Infof("Starting sync queue with %d workers", q.workers)
	for i := 1; i <= q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i, run)
	}
}

func (q *Queue) worker(id int, run SyncFunc) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case accountID, ok := <-q.jobs:
			if !ok {
				return
			}
			// Each job gets a bounded deadline so a hung provider
			// cannot wedge a worker.
			ctx, cancel := context.WithTimeout(q.ctx, jobTimeout)
			if err := run(ctx, accountID); err != nil {
				q.log.Errorf("Worker %d: sync of account %d failed: %v", id, accountID, err)
			}
			cancel()
		}
	}
}

// EnqueueAccountSync adds an account to the queue without blocking. A full
// queue drops the job; the periodic refresher will pick the account up
// again.
func (q *Queue) EnqueueAccountSync(accountID int64) error {
	select {
	case q.jobs <- accountID:
		return nil
	default:
		q.log.Warnf("Sync queue full, dropping account %d", accountID)
		return fmt.Errorf("sync queue is full")
	}
}

// Stop shuts the workers down and waits for in-flight jobs
func (q *Queue) Stop() {
	q.cancel()
	q.wg.Wait()
	q.log.Info("Sync queue stopped")
}
