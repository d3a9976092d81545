package lock

import (
	"context"
	"sync"
	"time"

	"material-exchange/internal/domain"
)

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

// KeyedMutex is an in-process lock table with one slot per auction ID.
// Different keys never contend. Entries are dropped once no goroutine holds
// or waits on them, so the table does not grow with the number of auctions
// ever seen.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
	timeout time.Duration
}

func NewKeyedMutex(timeout time.Duration) *KeyedMutex {
	return &KeyedMutex{
		entries: make(map[string]*keyedEntry),
		timeout: timeout,
	}
}

func (k *KeyedMutex) Acquire(ctx context.Context, auctionID string) (func(), error) {
	e := k.ref(auctionID)

	timer := time.NewTimer(k.timeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				k.unref(auctionID, e)
			})
		}, nil
	case <-timer.C:
		k.unref(auctionID, e)
		return nil, domain.ErrBusy
	case <-ctx.Done():
		k.unref(auctionID, e)
		return nil, ctx.Err()
	}
}

func (k *KeyedMutex) ref(key string) *keyedEntry {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *KeyedMutex) unref(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// size is used by tests to check that idle entries are released.
func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
