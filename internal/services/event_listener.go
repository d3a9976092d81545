package services

import (
	"context"
	"fmt"

	"material-exchange/internal/domain"
	"material-exchange/pkg/logger"
)

type EventListener struct {
	broadcaster       domain.AuctionBroadcaster
	notifier          domain.UserNotifier
	connectionManager domain.ConnectionManager
	log               logger.Logger
}

func NewEventListener(connectionManager domain.ConnectionManager, broadcaster domain.AuctionBroadcaster,
	notifier domain.UserNotifier, log logger.Logger) *EventListener {
	return &EventListener{
		broadcaster:       broadcaster,
		notifier:          notifier,
		connectionManager: connectionManager,
		log:               log,
	}
}

func (el *EventListener) Start(ctx context.Context, subscriber domain.EventSubscriber) error {
	el.log.Info("Starting event listener")
	return subscriber.SubscribeToBidEvents(ctx, el.handleBidEvent)
}

func (el *EventListener) handleBidEvent(event *domain.BidEvent) error {
	el.log.Debug("Handling bid event", "type", event.Type, "auction_id", event.AuctionID)

	switch event.Type {
	case domain.BidAccepted:
		return el.handleBidAccepted(event)
	case domain.AuctionExtended:
		return el.handleAuctionExtended(event)
	case domain.BidderOutbid:
		return el.handleOutbid(event)
	case domain.AuctionEnded:
		return el.handleAuctionEnded(event)
	}

	return fmt.Errorf("unknown event type %q", event.Type)
}

func (el *EventListener) handleBidAccepted(event *domain.BidEvent) error {
	return el.broadcaster.BroadcastToAuction(context.Background(), event.AuctionID, map[string]interface{}{
		"type":           "bid_update",
		"current_bid":    event.Amount,
		"current_winner": event.UserID,
		"end_time":       event.EndTime,
		"timestamp":      event.Timestamp,
	})
}

func (el *EventListener) handleAuctionExtended(event *domain.BidEvent) error {
	return el.broadcaster.BroadcastToAuction(context.Background(), event.AuctionID, map[string]interface{}{
		"type":      "auction_extended",
		"end_time":  event.EndTime,
		"timestamp": event.Timestamp,
	})
}

func (el *EventListener) handleOutbid(event *domain.BidEvent) error {
	return el.notifier.NotifyUser(context.Background(), event.UserID, map[string]interface{}{
		"type":            "outbid",
		"auction_id":      event.AuctionID,
		"listing_id":      event.ListingID,
		"previous_amount": event.PreviousAmount,
		"current_bid":     event.Amount,
		"timestamp":       event.Timestamp,
	})
}

func (el *EventListener) handleAuctionEnded(event *domain.BidEvent) error {
	// Final broadcast
	if err := el.broadcaster.BroadcastToAuction(context.Background(), event.AuctionID, map[string]interface{}{
		"type":      "auction_ended",
		"winner_id": event.UserID,
		"final_bid": event.Amount,
		"end_time":  event.EndTime,
		"timestamp": event.Timestamp,
	}); err != nil {
		el.log.Error("Failed to broadcast auction ended event", "error", err)
		return err
	}

	if err := el.connectionManager.CloseAndUnregisterConnections(event.AuctionID); err != nil {
		el.log.Error("Failed to finalize connections for auction", "auction_id",
			event.AuctionID, "error", err)
		return err
	}
	return nil
}
