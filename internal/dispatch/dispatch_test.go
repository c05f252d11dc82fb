package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestPoolRunsEveryJob(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	p := NewPool(func(ctx context.Context, id string) error {
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
		return nil
	}, 3, 10, time.Second, discard)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, p.Enqueue(context.Background(), id))
	}
	require.NoError(t, p.Close())

	sort.Strings(seen)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, seen)
}

func TestPoolDetachesFromCaller(t *testing.T) {
	done := make(chan error, 1)
	p := NewPool(func(ctx context.Context, id string) error {
		time.Sleep(20 * time.Millisecond)
		done <- ctx.Err()
		return nil
	}, 1, 1, time.Second, discard)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Enqueue(ctx, "x"))
	cancel()

	require.NoError(t, p.Close())
	assert.NoError(t, <-done, "cancelling the enqueuing request does not cancel the run")
}

func TestPoolAppliesRunTimeout(t *testing.T) {
	done := make(chan error, 1)
	p := NewPool(func(ctx context.Context, id string) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	}, 1, 1, 10*time.Millisecond, discard)

	require.NoError(t, p.Enqueue(context.Background(), "slow"))
	require.NoError(t, p.Close())
	assert.ErrorIs(t, <-done, context.DeadlineExceeded)
}

func TestPoolSurvivesHandlerFailures(t *testing.T) {
	var (
		mu    sync.Mutex
		count int
	)
	p := NewPool(func(ctx context.Context, id string) error {
		mu.Lock()
		count++
		mu.Unlock()
		switch id {
		case "panic":
			panic("boom")
		case "error":
			return errors.New("failed")
		}
		return nil
	}, 1, 5, time.Second, discard)

	for _, id := range []string{"panic", "error", "ok"} {
		require.NoError(t, p.Enqueue(context.Background(), id))
	}
	require.NoError(t, p.Close())
	assert.Equal(t, 3, count)
}

func TestPoolEnqueueAfterClose(t *testing.T) {
	p := NewPool(func(ctx context.Context, id string) error { return nil }, 1, 1, time.Second, discard)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.ErrorIs(t, p.Enqueue(context.Background(), "late"), ErrClosed)
}

func TestPoolEnqueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	p := NewPool(func(ctx context.Context, id string) error {
		started <- struct{}{}
		<-release
		return nil
	}, 1, 1, time.Second, discard)

	require.NoError(t, p.Enqueue(context.Background(), "busy"))
	<-started
	require.NoError(t, p.Enqueue(context.Background(), "buffered"))

	returned := make(chan error, 1)
	go func() { returned <- p.Enqueue(context.Background(), "overflow") }()
	select {
	case err := <-returned:
		assert.ErrorIs(t, err, ErrQueueFull)
	case <-time.After(time.Second):
		t.Fatal("Enqueue waited for a free worker")
	}

	close(release)
	require.NoError(t, p.Close())
}
