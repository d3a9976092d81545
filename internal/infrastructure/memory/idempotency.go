package memory

import (
	"context"
	"sync"

	"material-exchange/internal/domain"
)

type IdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]domain.IdempotentBid
}

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{entries: make(map[string]domain.IdempotentBid)}
}

func entryKey(auctionID, bidderID, key string) string {
	return auctionID + "/" + bidderID + "/" + key
}

func (s *IdempotencyStore) Lookup(ctx context.Context, auctionID, bidderID, key string) (*domain.IdempotentBid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryKey(auctionID, bidderID, key)]
	if !ok {
		return nil, nil
	}
	result := *e.Result
	return &domain.IdempotentBid{Amount: e.Amount, Result: &result}, nil
}

func (s *IdempotencyStore) Remember(ctx context.Context, auctionID, bidderID, key string, entry *domain.IdempotentBid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := *entry.Result
	s.entries[entryKey(auctionID, bidderID, key)] = domain.IdempotentBid{Amount: entry.Amount, Result: &result}
	return nil
}
