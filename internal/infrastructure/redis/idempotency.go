package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"material-exchange/internal/domain"

	"github.com/go-redis/redis/v8"
)

// IdempotencyStore keeps committed bid results for ttl so a client retry
// with the same key is answered without a second ledger entry.
type IdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		client: client,
		ttl:    ttl,
	}
}

// Keys are scoped to the bidder: one bidder's key never answers for another.
func idempotencyKey(auctionID, bidderID, key string) string {
	return fmt.Sprintf("auction:%s:idem:%s:%s", auctionID, bidderID, key)
}

func (s *IdempotencyStore) Lookup(ctx context.Context, auctionID, bidderID, key string) (*domain.IdempotentBid, error) {
	data, err := s.client.Get(ctx, idempotencyKey(auctionID, bidderID, key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var entry domain.IdempotentBid
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *IdempotencyStore) Remember(ctx context.Context, auctionID, bidderID, key string, entry *domain.IdempotentBid) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, idempotencyKey(auctionID, bidderID, key), string(data), s.ttl).Err()
}
