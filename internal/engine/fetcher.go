package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/pivot/internal/expr"
)

// ErrSuperseded is returned by a fetch that a later fetch for the same key
// replaced before it finished.
var ErrSuperseded = errors.New("superseded by a newer request")

// FetchFunc runs a query under ctx.
type FetchFunc func(ctx context.Context) (*expr.Dataset, error)

// Fetcher runs at most one live query per key. Starting a fetch cancels
// the fetch in flight for the same key, and only the latest fetch for a
// key delivers its result.
//
// Thread-safety: Fetcher is safe for concurrent use.
type Fetcher struct {
	clock *Clock

	mu       sync.Mutex
	inflight map[string]fetch
}

type fetch struct {
	gen    int64
	cancel context.CancelFunc
}

// NewFetcher creates a fetcher with nothing in flight.
func NewFetcher() *Fetcher {
	return &Fetcher{clock: NewClock(), inflight: map[string]fetch{}}
}

// Fetch runs fn for key. It returns ErrSuperseded when another Fetch for
// key started before fn returned, whatever fn itself returned.
func (f *Fetcher) Fetch(ctx context.Context, key string, fn FetchFunc) (*expr.Dataset, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// generations are issued under the lock so registration order matches
	f.mu.Lock()
	gen := f.clock.Next()
	if prev, ok := f.inflight[key]; ok {
		prev.cancel()
	}
	f.inflight[key] = fetch{gen: gen, cancel: cancel}
	f.mu.Unlock()

	ds, err := fn(ctx)

	f.mu.Lock()
	latest := f.inflight[key].gen == gen
	if latest {
		delete(f.inflight, key)
	}
	f.mu.Unlock()

	if !latest {
		return nil, ErrSuperseded
	}
	return ds, err
}

// Pending counts the keys with a fetch in flight.
func (f *Fetcher) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inflight)
}
