package email

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMailer struct {
	mu    sync.Mutex
	to    []string
	block chan struct{}
	err   error
}

func (m *recordingMailer) SendPasswordReset(_ context.Context, to, _, _ string) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.to = append(m.to, to)
	return m.err
}

func (m *recordingMailer) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.to...)
}

func TestQueue_DeliversAndDrainsOnClose(t *testing.T) {
	logger, _ := newTestLogger()
	next := &recordingMailer{}
	q := NewQueue(next, 10, 2, logger)

	for _, to := range []string{"a@x.io", "b@x.io", "c@x.io"} {
		require.NoError(t, q.SendPasswordReset(context.Background(), to, "u", "link"))
	}
	q.Close()

	assert.ElementsMatch(t, []string{"a@x.io", "b@x.io", "c@x.io"}, next.sent())
}

func TestQueue_DoesNotWaitForDelivery(t *testing.T) {
	logger, _ := newTestLogger()
	next := &recordingMailer{block: make(chan struct{})}
	q := NewQueue(next, 1, 1, logger)

	done := make(chan error, 1)
	go func() { done <- q.SendPasswordReset(context.Background(), "a@x.io", "u", "link") }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a slow relay")
	}

	close(next.block)
	q.Close()
	assert.Equal(t, []string{"a@x.io"}, next.sent())
}

func TestQueue_Full(t *testing.T) {
	logger, buf := newTestLogger()
	next := &recordingMailer{block: make(chan struct{})}
	q := NewQueue(next, 1, 1, logger)

	// One job is picked up by the worker, one waits in the buffer; keep
	// enqueuing until the buffer is observed full.
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = q.SendPasswordReset(context.Background(), "a@x.io", "u", "link")
	}
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Contains(t, buf.String(), "Mail queue full")

	close(next.block)
	q.Close()
}

func TestQueue_ClosedRejects(t *testing.T) {
	logger, _ := newTestLogger()
	q := NewQueue(&recordingMailer{}, 1, 1, logger)
	q.Close()
	q.Close()

	err := q.SendPasswordReset(context.Background(), "a@x.io", "u", "link")
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_LogsDeliveryFailure(t *testing.T) {
	logger, buf := newTestLogger()
	q := NewQueue(&recordingMailer{err: errors.New("smtp 421")}, 1, 1, logger)

	require.NoError(t, q.SendPasswordReset(context.Background(), "a@x.io", "u", "link"))
	q.Close()

	assert.Contains(t, buf.String(), "smtp 421")
}
