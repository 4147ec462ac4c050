package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// StaleLister finds accounts due for a background refresh. Implemented by
// *repository.Repository.
type StaleLister interface {
	ListStaleAccountIDs(ctx context.Context, olderThan time.Duration) ([]int64, error)
}

// Refresher periodically enqueues accounts whose last sync is older than the
// configured interval. Polling and webhook pushes meet at the same idempotent
// upsert path, so overlap between the two is safe.
type Refresher struct {
	cron     *cron.Cron
	store    StaleLister
	queue    *Queue
	interval time.Duration
	log      *logrus.Logger
}

// NewRefresher schedules a refresh pass according to the cron spec
func NewRefresher(spec string, interval time.Duration, store StaleLister, queue *Queue, log *logrus.Logger) (*Refresher, error) {
	r := &Refresher{
		cron:     cron.New(),
		store:    store,
		queue:    queue,
		interval: interval,
		log:      log,
	}
	if _, err := r.cron.AddFunc(spec, r.refresh); err != nil {
		return nil, err
	}
	return r, nil
}

// Start begins the schedule
func (r *Refresher) Start() {
	r.cron.Start()
	r.log.Infof("Background refresher started (interval %s)", r.interval)
}

// Stop halts the schedule; already-enqueued jobs still run
func (r *Refresher) Stop() {
	r.cron.Stop()
}

func (r *Refresher) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ids, err := r.store.ListStaleAccountIDs(ctx, r.interval)
	if err != nil {
		r.log.Errorf("Refresher: failed to list stale accounts: %v", err)
		return
	}
	enqueued := 0
	for _, id := range ids {
		if err := r.queue.EnqueueAccountSync(id); err != nil {
			break // queue full; the next pass retries
		}
		enqueued++
	}
	if enqueued > 0 {
		r.log.Infof("Refresher: enqueued %d stale accounts", enqueued)
	}
}
