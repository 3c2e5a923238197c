package async

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/catalog-drafts/internal/common"
)

type scriptedProcessor struct {
	mu       sync.Mutex
	errs     []error
	calls    int
	failed   []error
	finished chan struct{}
}

func newScripted(errs ...error) *scriptedProcessor {
	return &scriptedProcessor{errs: errs, finished: make(chan struct{}, 8)}
}

func (p *scriptedProcessor) ProcessDraft(ctx context.Context, id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.calls < len(p.errs) {
		err = p.errs[p.calls]
	}
	p.calls++
	if err == nil {
		p.finished <- struct{}{}
	}
	return err
}

func (p *scriptedProcessor) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, cause)
	p.finished <- struct{}{}
	return nil
}

func (p *scriptedProcessor) snapshot() (int, []error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls, append([]error(nil), p.failed...)
}

func waitFinished(t *testing.T, p *scriptedProcessor) {
	t.Helper()
	select {
	case <-p.finished:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}
}

func TestQueueRetriesTransientErrors(t *testing.T) {
	proc := newScripted(common.NewTransportError("llm down", nil), context.DeadlineExceeded, nil)
	q := NewProcessorQueue(proc, nil, WithWorkers(1), WithRetryBackoff(time.Millisecond))
	defer q.Shutdown(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), Job{DraftID: uuid.New()}))
	waitFinished(t, proc)

	calls, failed := proc.snapshot()
	assert.Equal(t, 3, calls)
	assert.Empty(t, failed)
}

func TestQueueMarksFailedAfterMaxAttempts(t *testing.T) {
	transient := common.NewTransportError("catalog down", nil)
	proc := newScripted(transient, transient, transient)
	q := NewProcessorQueue(proc, nil, WithWorkers(1), WithMaxAttempts(2), WithRetryBackoff(time.Millisecond))
	defer q.Shutdown(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), Job{DraftID: uuid.New()}))
	waitFinished(t, proc)

	calls, failed := proc.snapshot()
	assert.Equal(t, 2, calls)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0], common.ErrTransport)
}

func TestQueuePermanentErrorFailsImmediately(t *testing.T) {
	proc := newScripted(common.NewValidationError("source has no readable content"))
	q := NewProcessorQueue(proc, nil, WithWorkers(2))
	defer q.Shutdown(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), Job{DraftID: uuid.New()}))
	waitFinished(t, proc)

	calls, failed := proc.snapshot()
	assert.Equal(t, 1, calls)
	require.Len(t, failed, 1)
	assert.Equal(t, common.CodeValidation, common.ErrorCode(failed[0]))
}

func TestQueueRejectsAfterShutdown(t *testing.T) {
	q := NewProcessorQueue(newScripted(), nil, WithWorkers(1))
	q.Shutdown(context.Background())
	q.Shutdown(context.Background())
	assert.ErrorIs(t, q.Enqueue(context.Background(), Job{DraftID: uuid.New()}), ErrQueueClosed)
}

// gatedProcessor holds the first attempt of one draft until release is closed,
// then fails it with a transport error.
type gatedProcessor struct {
	gated   uuid.UUID
	started chan uuid.UUID
	release chan struct{}
	done    chan uuid.UUID

	mu    sync.Mutex
	calls map[uuid.UUID]int
}

func newGated(id uuid.UUID) *gatedProcessor {
	return &gatedProcessor{
		gated:   id,
		started: make(chan uuid.UUID, 16),
		release: make(chan struct{}),
		done:    make(chan uuid.UUID, 16),
		calls:   map[uuid.UUID]int{},
	}
}

func (p *gatedProcessor) ProcessDraft(ctx context.Context, id uuid.UUID) error {
	p.started <- id
	p.mu.Lock()
	p.calls[id]++
	n := p.calls[id]
	p.mu.Unlock()
	if id == p.gated && n == 1 {
		<-p.release
		return common.NewTransportError("llm down", nil)
	}
	p.done <- id
	return nil
}

func (p *gatedProcessor) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	p.done <- id
	return nil
}

func (p *gatedProcessor) count(id uuid.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

func waitStarted(t *testing.T, p *gatedProcessor, want uuid.UUID) {
	t.Helper()
	select {
	case got := <-p.started:
		require.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatal("job did not start")
	}
}

func TestQueueRetriesWhileEnqueuerWaitsForRoom(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	proc := newGated(a)
	q := NewProcessorQueue(proc, nil, WithWorkers(1), WithQueueSize(1), WithRetryBackoff(time.Millisecond))
	defer q.Shutdown(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), Job{DraftID: a}))
	waitStarted(t, proc, a)
	require.NoError(t, q.Enqueue(context.Background(), Job{DraftID: b}))

	errc := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		errc <- q.Enqueue(ctx, Job{DraftID: c})
	}()
	time.Sleep(20 * time.Millisecond)
	close(proc.release)

	finished := map[uuid.UUID]bool{}
	for len(finished) < 3 {
		select {
		case id := <-proc.done:
			finished[id] = true
		case <-time.After(3 * time.Second):
			t.Fatalf("jobs stalled, finished %d of 3", len(finished))
		}
	}
	require.NoError(t, <-errc)
	assert.Equal(t, 2, proc.count(a))
	assert.Equal(t, 1, proc.count(c))
}

func TestShutdownReleasesBlockedEnqueuer(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	proc := newGated(a)
	q := NewProcessorQueue(proc, nil, WithWorkers(1), WithQueueSize(1))

	require.NoError(t, q.Enqueue(context.Background(), Job{DraftID: a}))
	waitStarted(t, proc, a)
	require.NoError(t, q.Enqueue(context.Background(), Job{DraftID: b}))

	errc := make(chan error, 1)
	go func() { errc <- q.Enqueue(context.Background(), Job{DraftID: uuid.New()}) }()
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		q.Shutdown(context.Background())
	}()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("enqueue still blocked after shutdown")
	}
	close(proc.release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not finish")
	}
}

func TestTransient(t *testing.T) {
	assert.True(t, Transient(context.DeadlineExceeded))
	assert.True(t, Transient(common.NewTransportError("x", errors.New("dial"))))
	assert.False(t, Transient(common.NewValidationError("x")))
	assert.False(t, Transient(nil))
	assert.False(t, Transient(errors.New("plain")))
}
