package websocket

import (
	"context"

	"material-exchange/internal/domain"
)

type WebSocketNotifier struct {
	connManager domain.ConnectionManager
}

func NewWebSocketNotifier(connManager domain.ConnectionManager) *WebSocketNotifier {
	return &WebSocketNotifier{connManager: connManager}
}

func (n *WebSocketNotifier) NotifyUser(ctx context.Context, userID string, message interface{}) error {
	return n.connManager.NotifyUser(userID, message)
}

func (n *WebSocketNotifier) BroadcastToAuction(ctx context.Context, auctionID string, message interface{}) error {
	return n.connManager.BroadcastToAuction(auctionID, message)
}

// NotifyOutbid delivers straight to the recipient's sockets on this
// instance. Used when bidding runs without the Redis event bus.
func (n *WebSocketNotifier) NotifyOutbid(ctx context.Context, o *domain.OutbidNotification) error {
	return n.connManager.NotifyUser(o.RecipientID, map[string]interface{}{
		"type":            "outbid",
		"auction_id":      o.AuctionID,
		"listing_id":      o.ListingID,
		"previous_amount": o.PreviousAmount.String(),
		"current_bid":     o.NewAmount.String(),
		"timestamp":       o.At,
	})
}
