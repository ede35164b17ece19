package email

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull   = errors.New("mail queue is full")
	ErrQueueClosed = errors.New("mail queue is closed")
)

// Mailer delivers password reset links.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, username, link string) error
}

type resetJob struct {
	to, username, link string
}

// Queue hands reset emails to background workers so a slow relay never holds
// up the request that asked for the email.
type Queue struct {
	next   Mailer
	jobs   chan resetJob
	logger *logrus.Logger
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewQueue starts workers goroutines delivering through next. At least one
// worker and a buffer of one are always used.
func NewQueue(next Mailer, size, workers int, logger *logrus.Logger) *Queue {
	if size < 1 {
		size = 1
	}
	if workers < 1 {
		workers = 1
	}
	q := &Queue{
		next:   next,
		jobs:   make(chan resetJob, size),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

// SendPasswordReset enqueues the email without waiting for delivery.
func (q *Queue) SendPasswordReset(_ context.Context, to, username, link string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- resetJob{to: to, username: username, link: link}:
		return nil
	default:
		q.logger.Warnf("Mail queue full, dropping password reset email to %s", to)
		return ErrQueueFull
	}
}

// Close stops accepting emails and waits for queued ones to be delivered.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Queue) work() {
	defer q.wg.Done()
	for job := range q.jobs {
		if err := q.next.SendPasswordReset(context.Background(), job.to, job.username, job.link); err != nil {
			q.logger.WithError(err).WithField("to", job.to).Warn("Queued password reset email was not delivered")
		}
	}
}
