package push

import (
	"context"
	"sync"

	"github.com/dl-alexandre/gsyncfs/internal/logging"
	"github.com/dl-alexandre/gsyncfs/internal/sync/index"
	"github.com/dl-alexandre/gsyncfs/internal/sync/session"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
)

// Op selects the pipeline operation of a queued job
type Op int

const (
	OpPush Op = iota
	OpDelete
	OpReconcile
	opBarrier
)

func (o Op) String() string {
	switch o {
	case OpPush:
		return "push"
	case OpDelete:
		return "delete"
	case OpReconcile:
		return "reconcile"
	default:
		return "barrier"
	}
}

// Job is one unit of queued local work. Cached is the entry to reconcile
// for OpReconcile.
type Job struct {
	Op     Op
	Entry  Entry
	Cached index.CacheEntry
}

// Completion is delivered once a job has run
type Completion struct {
	Result Result
	Err    error
}

type queued struct {
	job  Job
	done chan Completion
}

// Queue runs local mutations one at a time, in submission order
type Queue struct {
	pipeline *Pipeline
	sess     *session.Session
	jobs     chan queued
	logger   logging.Logger

	mu      sync.Mutex
	closed  bool
	stopped chan struct{}
	cancel  context.CancelFunc

	obsMu    sync.Mutex
	observer func(Job, Completion)
}

// NewQueue starts a queue worker bound to sess. Close stops it.
func NewQueue(pipeline *Pipeline, sess *session.Session, size int, logger logging.Logger) *Queue {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if size <= 0 {
		size = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		pipeline: pipeline,
		sess:     sess,
		jobs:     make(chan queued, size),
		logger:   logger.With(logging.F("component", "push")),
		stopped:  make(chan struct{}),
		cancel:   cancel,
	}
	go q.loop(ctx)
	return q
}

// SetObserver registers a function called on the worker after every job
func (q *Queue) SetObserver(fn func(Job, Completion)) {
	q.obsMu.Lock()
	defer q.obsMu.Unlock()
	q.observer = fn
}

// Submit enqueues a job. The returned channel receives exactly one
// Completion.
func (q *Queue) Submit(job Job) <-chan Completion {
	done := make(chan Completion, 1)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		done <- Completion{Err: utils.NewCLIError(utils.ErrCodeCancelled, "sync session closed").Err()}
		return done
	}
	q.jobs <- queued{job: job, done: done}
	return done
}

// Do submits a job and waits for it
func (q *Queue) Do(ctx context.Context, job Job) (Result, error) {
	select {
	case c := <-q.Submit(job):
		return c.Result, c.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Flush waits until every job submitted before it has run
func (q *Queue) Flush(ctx context.Context) error {
	_, err := q.Do(ctx, Job{Op: opBarrier})
	return err
}

// Close stops accepting jobs, cancels the running one and waits for the
// worker. Jobs still queued complete with CANCELLED.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.stopped
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.cancel()
	<-q.stopped
}

func (q *Queue) loop(ctx context.Context) {
	defer close(q.stopped)
	for item := range q.jobs {
		if ctx.Err() != nil {
			item.done <- Completion{Err: utils.NewCLIError(utils.ErrCodeCancelled, "sync session closed").Err()}
			continue
		}
		c := q.run(ctx, item.job)
		if item.job.Op != opBarrier {
			q.obsMu.Lock()
			observer := q.observer
			q.obsMu.Unlock()
			if observer != nil {
				observer(item.job, c)
			}
		}
		item.done <- c
	}
}

func (q *Queue) run(ctx context.Context, job Job) Completion {
	var (
		res Result
		err error
	)
	switch job.Op {
	case OpPush:
		res, err = q.pipeline.Push(ctx, q.sess, job.Entry)
	case OpDelete:
		res, err = q.pipeline.Delete(ctx, q.sess, job.Entry)
	case OpReconcile:
		res, err = q.pipeline.Reconcile(ctx, q.sess, job.Cached)
	case opBarrier:
		return Completion{}
	}
	if err != nil {
		q.logger.Error("Local change not synchronized",
			logging.F("op", job.Op.String()),
			logging.F("path", res.Path),
			logging.F("code", utils.ErrorCode(err)),
			logging.F("error", err.Error()),
		)
	}
	return Completion{Result: res, Err: err}
}
