package services

import (
	"context"

	"material-exchange/internal/domain"
	"material-exchange/pkg/logger"
)

// OutbidNotifier tells the bidder who just lost the lead. Delivery is
// at-least-once and best effort: failures are logged and dropped.
type OutbidNotifier struct {
	sink domain.NotificationSink
	log  logger.Logger
}

func NewOutbidNotifier(sink domain.NotificationSink, log logger.Logger) *OutbidNotifier {
	return &OutbidNotifier{
		sink: sink,
		log:  log,
	}
}

// NotifyDisplaced emits one notification when previousHigh belonged to a
// different bidder than newBid. Amounts strictly increase, so previousHigh
// is the only bid that can have been displaced.
func (n *OutbidNotifier) NotifyDisplaced(ctx context.Context, auction *domain.Auction, previousHigh, newBid *domain.Bid) {
	if previousHigh == nil || newBid == nil || previousHigh.BidderID == newBid.BidderID {
		return
	}

	notification := &domain.OutbidNotification{
		RecipientID:    previousHigh.BidderID,
		AuctionID:      auction.ID,
		ListingID:      auction.ListingID,
		PreviousAmount: previousHigh.Amount,
		NewAmount:      newBid.Amount,
		At:             newBid.Timestamp,
	}

	if err := n.sink.NotifyOutbid(ctx, notification); err != nil {
		n.log.Warn("Failed to deliver outbid notification",
			"auction_id", auction.ID, "user_id", previousHigh.BidderID, "error", err)
		return
	}
	n.log.Debug("Outbid notification sent", "auction_id", auction.ID, "user_id", previousHigh.BidderID)
}
