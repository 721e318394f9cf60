package queue

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"pipejob/internal/pipeline"
)

// LocalQueue runs jobs on goroutines in this process, at most concurrency at
// a time.
type LocalQueue struct {
	location string
	sem      *semaphore.Weighted
	fwd      Forwarder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	jobs map[string]*localEntry
}

type localEntry struct {
	job     *pipeline.Job
	cancel  context.CancelFunc
	started bool
}

var _ pipeline.Queue = (*LocalQueue)(nil)

// NewLocalQueue creates a queue for location. fwd may be nil when jobs never
// leave this process.
func NewLocalQueue(location string, concurrency int, fwd Forwarder) *LocalQueue {
	if location == "" {
		location = pipeline.LocationLocal
	}
	if concurrency < 1 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalQueue{
		location: location,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		fwd:      fwd,
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(map[string]*localEntry),
	}
}

// SetForwarder sets where jobs waiting on other locations go.
func (q *LocalQueue) SetForwarder(fwd Forwarder) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fwd = fwd
}

func (q *LocalQueue) Location() string { return q.location }

// Add schedules job to run once a slot is free. The request context only
// bounds the hand-off, not the run.
func (q *LocalQueue) Add(_ context.Context, job *pipeline.Job) error {
	if err := job.RestoreQueue(q); err != nil {
		return err
	}
	jctx, cancel := context.WithCancel(q.ctx)
	entry := &localEntry{job: job, cancel: cancel}

	q.mu.Lock()
	if old, ok := q.jobs[job.GUID()]; ok && !old.started {
		old.cancel()
	}
	q.jobs[job.GUID()] = entry
	fwd := q.fwd
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer q.remove(job.GUID(), entry)
		defer cancel()

		if err := q.sem.Acquire(jctx, 1); err != nil {
			log.WithField("job", job.GUID()).Info("Job cancelled before it started")
			return
		}
		defer q.sem.Release(1)

		q.mu.Lock()
		entry.started = true
		q.mu.Unlock()

		_ = RunJob(jctx, job, q.location, fwd)
	}()
	return nil
}

func (q *LocalQueue) remove(guid string, entry *localEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.jobs[guid] == entry {
		delete(q.jobs, guid)
	}
}

// Cancel stops a queued job from starting, or cancels the context of a
// running one and interrupts it if its type allows. It reports false for jobs
// this queue does not hold.
func (q *LocalQueue) Cancel(_ context.Context, jobGUID string) (bool, error) {
	q.mu.Lock()
	entry, ok := q.jobs[jobGUID]
	started := ok && entry.started
	q.mu.Unlock()
	if !ok {
		return false, nil
	}
	if started {
		if err := entry.job.Interrupt(); err != nil && !errors.Is(err, pipeline.ErrNotInterruptible) {
			return false, err
		}
	}
	entry.cancel()
	return true, nil
}

// Len is the number of jobs queued or running.
func (q *LocalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Wait blocks until every job added so far, and every job those jobs added,
// has finished.
func (q *LocalQueue) Wait() {
	q.wg.Wait()
}

// Shutdown cancels every job and waits for their goroutines to return.
func (q *LocalQueue) Shutdown() {
	q.cancel()
	q.wg.Wait()
}
