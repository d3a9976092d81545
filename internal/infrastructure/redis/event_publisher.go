package redis

import (
	"context"
	"encoding/json"

	"material-exchange/internal/domain"

	"github.com/go-redis/redis/v8"
)

const eventsChannel = "auction_events"

type EventPublisherImpl struct {
	client *redis.Client
}

func NewEventPublisher(client *redis.Client) *EventPublisherImpl {
	return &EventPublisherImpl{client: client}
}

func (r *EventPublisherImpl) PublishBiddingEvent(ctx context.Context, event *domain.BidEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, eventsChannel, data).Err()
}

// NotifyOutbid forwards the notification as an outbid event. The event
// listener in each instance delivers it to the recipient's sockets.
func (r *EventPublisherImpl) NotifyOutbid(ctx context.Context, n *domain.OutbidNotification) error {
	return r.PublishBiddingEvent(ctx, &domain.BidEvent{
		Type:           domain.BidderOutbid,
		AuctionID:      n.AuctionID,
		ListingID:      n.ListingID,
		UserID:         n.RecipientID,
		Amount:         n.NewAmount.String(),
		PreviousAmount: n.PreviousAmount.String(),
		Timestamp:      n.At,
	})
}
