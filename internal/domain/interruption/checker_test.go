package interruption

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bella-server/internal/domain/status"
)

type fakeReader struct {
	mu     sync.Mutex
	status status.Message
	err    error
	calls  atomic.Int32
	gate   chan struct{}
}

func (f *fakeReader) MessageStatus(ctx context.Context, messageID string) (status.Message, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.err
}

func (f *fakeReader) set(st status.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = st
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestChecker(t *testing.T, reader StatusReader) (*Checker, *fakeClock) {
	t.Helper()
	checker, err := NewChecker(reader, 100*time.Millisecond, 16)
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	checker.setClock(clock.Now)
	return checker, clock
}

func TestChecker_CachesWithinTTL(t *testing.T) {
	reader := &fakeReader{status: status.MessageInProgress}
	checker, clock := newTestChecker(t, reader)
	ctx := context.Background()

	interrupted, err := checker.IsInterrupted(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, interrupted)

	reader.set(status.MessageInterrupted)
	clock.Advance(50 * time.Millisecond)

	interrupted, err = checker.IsInterrupted(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, interrupted, "stale value served within TTL")
	assert.Equal(t, int32(1), reader.calls.Load())

	clock.Advance(50 * time.Millisecond)

	interrupted, err = checker.IsInterrupted(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, interrupted, "stop observed once TTL elapsed")
	assert.Equal(t, int32(2), reader.calls.Load())
}

func TestChecker_ForgetForcesReload(t *testing.T) {
	reader := &fakeReader{status: status.MessageInProgress}
	checker, _ := newTestChecker(t, reader)
	ctx := context.Background()

	_, err := checker.Status(ctx, "msg-1")
	require.NoError(t, err)
	checker.Forget("msg-1")
	_, err = checker.Status(ctx, "msg-1")
	require.NoError(t, err)

	assert.Equal(t, int32(2), reader.calls.Load())
}

func TestChecker_ErrorsAreNotCached(t *testing.T) {
	reader := &fakeReader{err: errors.New("connection refused")}
	checker, _ := newTestChecker(t, reader)
	ctx := context.Background()

	_, err := checker.IsInterrupted(ctx, "msg-1")
	require.Error(t, err)

	reader.mu.Lock()
	reader.err = nil
	reader.status = status.MessageCompleted
	reader.mu.Unlock()

	interrupted, err := checker.IsInterrupted(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, interrupted)
	assert.Equal(t, int32(2), reader.calls.Load())
}

func TestChecker_CollapsesConcurrentRefreshes(t *testing.T) {
	reader := &fakeReader{status: status.MessageInProgress, gate: make(chan struct{})}
	checker, _ := newTestChecker(t, reader)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := checker.IsInterrupted(ctx, "msg-1")
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return reader.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(reader.gate)
	wg.Wait()

	// Callers arriving after the flight finished hit the cache.
	assert.Equal(t, int32(1), reader.calls.Load())
}

// ctxReader fails like a database driver once its context is cancelled.
type ctxReader struct {
	gate  chan struct{}
	calls atomic.Int32
}

func (r *ctxReader) MessageStatus(ctx context.Context, messageID string) (status.Message, error) {
	r.calls.Add(1)
	<-r.gate
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return status.MessageInProgress, nil
}

func TestChecker_SharedRefreshSurvivesFirstCallerCancel(t *testing.T) {
	reader := &ctxReader{gate: make(chan struct{})}
	checker, _ := newTestChecker(t, reader)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = checker.IsInterrupted(firstCtx, "msg-1")
	}()
	require.Eventually(t, func() bool { return reader.calls.Load() == 1 }, time.Second, time.Millisecond)

	secondErr := make(chan error, 1)
	go func() {
		_, err := checker.IsInterrupted(context.Background(), "msg-1")
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	close(reader.gate)
	<-firstDone

	select {
	case err := <-secondErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second caller never returned")
	}
}

func TestNewChecker_Defaults(t *testing.T) {
	checker, err := NewChecker(&fakeReader{}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, checker.TTL())
}
