package redis

import (
	"context"
	"errors"
	"fmt"

	"material-exchange/internal/domain"

	"github.com/go-redis/redis/v8"
)

// DepositLedger reads deposit authorizations written by the payments
// service into one hash per auction, keyed by bidder.
type DepositLedger struct {
	client *redis.Client
}

func NewDepositLedger(client *redis.Client) *DepositLedger {
	return &DepositLedger{client: client}
}

func depositKey(auctionID string) string {
	return fmt.Sprintf("deposit:%s", auctionID)
}

func (d *DepositLedger) DepositStatus(ctx context.Context, auctionID, bidderID string) (domain.DepositStatus, error) {
	result, err := d.client.HGet(ctx, depositKey(auctionID), bidderID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.DepositNone, nil
		}
		return domain.DepositNone, err
	}
	return domain.ParseDepositStatus(result), nil
}

func (d *DepositLedger) SetDepositStatus(ctx context.Context, auctionID, bidderID string, status domain.DepositStatus) error {
	return d.client.HSet(ctx, depositKey(auctionID), bidderID, string(status)).Err()
}
