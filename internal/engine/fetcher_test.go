package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pivot/internal/expr"
)

func TestFetcher_Delivers(t *testing.T) {
	f := NewFetcher()
	want := expr.Ply()

	ds, err := f.Fetch(context.Background(), "tile", func(ctx context.Context) (*expr.Dataset, error) {
		return want, nil
	})
	require.NoError(t, err)
	assert.Same(t, want, ds)
	assert.Equal(t, 0, f.Pending())
}

func TestFetcher_NewerRequestSupersedes(t *testing.T) {
	f := NewFetcher()
	started := make(chan struct{})

	var wg sync.WaitGroup
	var oldErr, cause error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, oldErr = f.Fetch(context.Background(), "tile", func(ctx context.Context) (*expr.Dataset, error) {
			close(started)
			<-ctx.Done()
			cause = ctx.Err()
			return nil, ctx.Err()
		})
	}()

	<-started
	assert.Equal(t, 1, f.Pending())
	ds, err := f.Fetch(context.Background(), "tile", func(ctx context.Context) (*expr.Dataset, error) {
		return expr.Ply(), nil
	})
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, 1, ds.Len())
	assert.True(t, errors.Is(oldErr, ErrSuperseded))
	assert.ErrorIs(t, cause, context.Canceled)
	assert.Equal(t, 0, f.Pending())
}

func TestFetcher_KeysAreIndependent(t *testing.T) {
	f := NewFetcher()
	release := make(chan struct{})
	started := make(chan struct{})

	var wg sync.WaitGroup
	var slowErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, slowErr = f.Fetch(context.Background(), "a", func(ctx context.Context) (*expr.Dataset, error) {
			close(started)
			select {
			case <-release:
				return expr.Ply(), nil
			case <-time.After(5 * time.Second):
				return nil, errors.New("not released")
			}
		})
	}()

	<-started
	_, err := f.Fetch(context.Background(), "b", func(ctx context.Context) (*expr.Dataset, error) {
		return expr.Ply(), nil
	})
	require.NoError(t, err)
	close(release)
	wg.Wait()
	assert.NoError(t, slowErr)
}

func TestFetcher_ReturnsError(t *testing.T) {
	f := NewFetcher()
	boom := errors.New("boom")
	_, err := f.Fetch(context.Background(), "tile", func(ctx context.Context) (*expr.Dataset, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestFetcher_LatestGenerationWins(t *testing.T) {
	f := NewFetcher()
	const n = 32
	release := make(chan struct{})
	var started atomic.Int32
	var winnerGen, latestGen int64

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.Fetch(context.Background(), "tile", func(ctx context.Context) (*expr.Dataset, error) {
				started.Add(1)
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-release:
				}
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				f.mu.Lock()
				winnerGen = f.inflight["tile"].gen
				f.mu.Unlock()
				latestGen = f.clock.Current()
				return expr.Ply(), nil
			})
		}(i)
	}

	require.Eventually(t, func() bool { return started.Load() == n }, 5*time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	delivered := 0
	for _, err := range errs {
		if err == nil {
			delivered++
			continue
		}
		assert.ErrorIs(t, err, ErrSuperseded)
	}
	assert.Equal(t, 1, delivered)
	assert.Equal(t, int64(n), latestGen)
	assert.Equal(t, latestGen, winnerGen, "the delivered fetch holds the newest generation")
	assert.Equal(t, 0, f.Pending())
}
