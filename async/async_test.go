package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/transit-http/transit"
)

type fakeExecutor struct {
	calls int32
	delay time.Duration
	err   error
}

func (f *fakeExecutor) Execute(ctx context.Context, req *transit.Request) (*transit.Response, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &transit.Response{Code: 200}, nil
}

func TestSubmitResolvesFuture(t *testing.T) {
	exec := &fakeExecutor{}
	c := NewClient(exec, 2)
	defer c.Close()

	f, err := c.Submit(context.Background(), &transit.Request{Method: "GET", Scheme: "http", Host: "example.com"})
	require.NoError(t, err)

	resp, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Code)
	assert.EqualValues(t, 1, atomic.LoadInt32(&exec.calls))
}

func TestSubmitDistributesAcrossShards(t *testing.T) {
	exec := &fakeExecutor{delay: 10 * time.Millisecond}
	c := NewClient(exec, 4)
	defer c.Close()

	futures := make([]*Future, 0, 20)
	for i := 0; i < 20; i++ {
		f, err := c.Submit(context.Background(), &transit.Request{Method: "GET", Scheme: "http", Host: "example.com"})
		require.NoError(t, err)
		futures = append(futures, f)
	}
	for _, f := range futures {
		_, err := f.Wait(context.Background())
		require.NoError(t, err)
	}
	assert.EqualValues(t, 20, atomic.LoadInt32(&exec.calls))
}

func TestFutureWaitPropagatesExecutorError(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("boom")}
	c := NewClient(exec, 1)
	defer c.Close()

	f, err := c.Submit(context.Background(), &transit.Request{Method: "GET", Scheme: "http", Host: "example.com"})
	require.NoError(t, err)

	_, err = f.Wait(context.Background())
	assert.EqualError(t, err, "boom")
}

func TestFutureWaitRespectsCallerContext(t *testing.T) {
	exec := &fakeExecutor{delay: time.Second}
	c := NewClient(exec, 1)
	defer c.Close()

	f, err := c.Submit(context.Background(), &transit.Request{Method: "GET", Scheme: "http", Host: "example.com"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err = f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubmitAfterCloseReturnsErrClosed(t *testing.T) {
	exec := &fakeExecutor{}
	c := NewClient(exec, 1)
	require.NoError(t, c.Close())

	_, err := c.Submit(context.Background(), &transit.Request{Method: "GET", Scheme: "http", Host: "example.com"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseWaitsForInFlightWork(t *testing.T) {
	exec := &fakeExecutor{delay: 20 * time.Millisecond}
	c := NewClient(exec, 1)

	_, err := c.Submit(context.Background(), &transit.Request{Method: "GET", Scheme: "http", Host: "example.com"})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.EqualValues(t, 1, atomic.LoadInt32(&exec.calls))
}

func TestFutureDoneReportsCompletion(t *testing.T) {
	exec := &fakeExecutor{}
	c := NewClient(exec, 1)
	defer c.Close()

	f, err := c.Submit(context.Background(), &transit.Request{Method: "GET", Scheme: "http", Host: "example.com"})
	require.NoError(t, err)

	_, err = f.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, f.Done())
}

func TestNewClientAcceptsLoggerOption(t *testing.T) {
	exec := &fakeExecutor{}
	c := NewClient(exec, 1, WithLogger(zap.NewNop()))
	defer c.Close()

	f, err := c.Submit(context.Background(), &transit.Request{Method: "GET", Scheme: "http", Host: "example.com"})
	require.NoError(t, err)
	_, err = f.Wait(context.Background())
	require.NoError(t, err)
}
