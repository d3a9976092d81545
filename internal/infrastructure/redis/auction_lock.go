package redis

import (
	"context"
	"fmt"
	"time"

	"material-exchange/internal/domain"
	"material-exchange/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const releaseScript = `
        if redis.call("GET", KEYS[1]) == ARGV[1] then
            return redis.call("DEL", KEYS[1])
        else
            return 0
        end
    `

// AuctionLock is a per-auction mutex shared by every bidding-service
// instance. Each holder writes a random token so a lock that outlived its
// lease can never be released by someone else.
type AuctionLock struct {
	client  *redis.Client
	timeout time.Duration
	lease   time.Duration
	poll    time.Duration
	log     logger.Logger
}

func NewAuctionLock(client *redis.Client, timeout, lease time.Duration, log logger.Logger) *AuctionLock {
	return &AuctionLock{
		client:  client,
		timeout: timeout,
		lease:   lease,
		poll:    15 * time.Millisecond,
		log:     log,
	}
}

func lockKey(auctionID string) string {
	return fmt.Sprintf("auction:%s:lock", auctionID)
}

func (l *AuctionLock) Acquire(ctx context.Context, auctionID string) (func(), error) {
	key := lockKey(auctionID)
	token := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.lease).Result()
		if err == nil && ok {
			return func() { l.release(key, token) }, nil
		}
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, domain.ErrBusy
			}
			return nil, ctx.Err()
		}
	}
}

func (l *AuctionLock) release(key, token string) {
	// The caller's context may already be gone by the time the lock is released.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
		l.log.Error("Failed to release auction lock", "key", key, "error", err)
	}
}
