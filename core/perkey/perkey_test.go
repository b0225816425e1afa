package perkey

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockKey occupies key until the returned func is called.
func blockKey(t *testing.T, s *Scheduler[string], key string) (release func()) {
	t.Helper()
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.Do(key, func() error {
			close(started)
			<-done
			return nil
		})
	}()
	<-started
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func waitQueued(t *testing.T, s *Scheduler[string], key string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Queued(key) >= n }, time.Second, time.Millisecond)
}

func TestScheduler_ArrivalOrder(t *testing.T) {
	s := New[string]()
	defer s.Close()

	release := blockKey(t, s, "acct-1")

	var (
		mu  sync.Mutex
		seq []int
		wg  sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Do("acct-1", func() error {
				mu.Lock()
				seq = append(seq, i)
				mu.Unlock()
				return nil
			}))
		}()
		// enqueue one by one so arrival order is known
		waitQueued(t, s, "acct-1", i+1)
	}
	release()
	wg.Wait()

	require.Equal(t, []int{0, 1, 2, 3, 4}, seq)
}

func TestScheduler_OneAtATimePerKey(t *testing.T) {
	s := New[string]()
	defer s.Close()

	var (
		wg      sync.WaitGroup
		running [3]atomic.Int32
	)
	for i := 0; i < 60; i++ {
		k := i % 3
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(fmt.Sprintf("k%d", k), func() error {
				assert.Equal(t, int32(1), running[k].Add(1))
				time.Sleep(100 * time.Microsecond)
				running[k].Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
}

func TestScheduler_KeysRunInParallel(t *testing.T) {
	s := New[string]()
	defer s.Close()

	release := blockKey(t, s, "slow")
	defer release()

	// another key completes while "slow" is held
	done := make(chan error, 1)
	go func() { done <- s.Do("fast", func() error { return nil }) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("task for an unrelated key was blocked")
	}
}

func TestScheduler_ReturnsTaskError(t *testing.T) {
	s := New[string]()
	defer s.Close()

	boom := errors.New("boom")
	require.ErrorIs(t, s.Do("acct-1", func() error { return boom }), boom)
	require.NoError(t, s.Do("acct-1", func() error { return nil }))
}

func TestScheduler_DoContext(t *testing.T) {
	t.Run("done before submit", func(t *testing.T) {
		s := New[string]()
		defer s.Close()

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		err := s.DoContext(ctx, "acct-1", func() error {
			t.Error("task must not run")
			return nil
		})
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("deadline while queued", func(t *testing.T) {
		s := New[string]()
		defer s.Close()
		release := blockKey(t, s, "acct-1")
		defer release()

		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()
		err := s.DoContext(ctx, "acct-1", func() error { return nil })
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("cancelled while queued is skipped", func(t *testing.T) {
		s := New[string]()
		defer s.Close()
		release := blockKey(t, s, "acct-1")

		ctx, cancel := context.WithCancel(t.Context())
		var ran atomic.Bool
		errCh := make(chan error, 1)
		go func() {
			errCh <- s.DoContext(ctx, "acct-1", func() error {
				ran.Store(true)
				return nil
			})
		}()
		waitQueued(t, s, "acct-1", 1)
		require.Equal(t, 2, s.Pending("acct-1"))

		cancel()
		require.ErrorIs(t, <-errCh, context.Canceled)

		release()
		// a follow-up task proves the queue moved past the cancelled one
		require.NoError(t, s.Do("acct-1", func() error { return nil }))
		require.False(t, ran.Load())
	})

	t.Run("started task completes", func(t *testing.T) {
		s := New[string]()
		defer s.Close()

		ctx, cancel := context.WithCancel(t.Context())
		started := make(chan struct{})
		finished := errors.New("finished anyway")
		errCh := make(chan error, 1)
		go func() {
			errCh <- s.DoContext(ctx, "acct-1", func() error {
				close(started)
				time.Sleep(20 * time.Millisecond)
				return finished
			})
		}()
		<-started
		cancel()
		require.ErrorIs(t, <-errCh, finished)
	})
}

func TestScheduler_Close(t *testing.T) {
	s := New[string]()
	release := blockKey(t, s, "acct-1")

	var drained atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Do("acct-1", func() error {
				drained.Add(1)
				return nil
			}))
		}()
	}
	waitQueued(t, s, "acct-1", 3)

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	require.Eventually(t, func() bool {
		return errors.Is(s.Do("other", func() error { return nil }), ErrSchedulerClosed)
	}, time.Second, time.Millisecond)

	release()
	wg.Wait()
	<-closed
	require.Equal(t, int32(3), drained.Load())

	require.NotPanics(t, s.Close)
}

func TestScheduler_WithBufferSize(t *testing.T) {
	s := New[string](WithBufferSize(1), WithBufferSize(-3))
	defer s.Close()
	require.Equal(t, 1, s.bufferSize)

	release := blockKey(t, s, "acct-1")
	go func() { _ = s.Do("acct-1", func() error { return nil }) }()
	waitQueued(t, s, "acct-1", 1)

	// the buffer is full, so the next submit waits and can be cancelled
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	err := s.DoContext(ctx, "acct-1", func() error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	release()

	require.Equal(t, 64, New[string]().bufferSize)
}

func TestScheduler_IdleWorkerRetired(t *testing.T) {
	s := New[string]()
	defer s.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, s.Do(fmt.Sprintf("stream-%d", i), func() error { return nil }))
	}

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.workers) == 0
	}, time.Second, time.Millisecond)
	require.Zero(t, s.Pending("stream-0"))

	// key is usable again after retirement
	require.NoError(t, s.Do("stream-0", func() error { return nil }))
}
