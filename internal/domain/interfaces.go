package domain

import (
	"context"
	"time"
)

// AuctionStore is the single source of truth for auction timing and the
// append-only bid ledger. AppendBid must only be called while holding the
// auction's lock from AuctionLocker.
type AuctionStore interface {
	CreateAuction(ctx context.Context, auction *Auction) error
	GetSnapshot(ctx context.Context, auctionID string) (*AuctionSnapshot, error)
	AppendBid(ctx context.Context, auctionID string, bid NewBid) (*Commit, error)
	GetBidHistory(ctx context.Context, auctionID string) ([]*Bid, error)
	// ListUnannounced returns auctions that ended at or before now and have
	// not been passed to MarkAnnounced yet.
	ListUnannounced(ctx context.Context, now time.Time) ([]*AuctionSnapshot, error)
	MarkAnnounced(ctx context.Context, auctionID string, at time.Time) error
}

// AuctionLocker provides one mutual exclusion domain per auction ID.
// Acquire waits at most the configured timeout and then fails with ErrBusy.
type AuctionLocker interface {
	Acquire(ctx context.Context, auctionID string) (release func(), err error)
}

type SettingsProvider interface {
	Current(ctx context.Context) (Settings, error)
}

type DepositChecker interface {
	DepositStatus(ctx context.Context, auctionID, bidderID string) (DepositStatus, error)
}

// IdempotencyStore remembers the result of a committed bid per bidder and
// client key.
type IdempotencyStore interface {
	Lookup(ctx context.Context, auctionID, bidderID, key string) (*IdempotentBid, error)
	Remember(ctx context.Context, auctionID, bidderID, key string, entry *IdempotentBid) error
}

// Event interfaces
type EventPublisher interface {
	PublishBiddingEvent(ctx context.Context, event *BidEvent) error
}

type EventSubscriber interface {
	SubscribeToBidEvents(ctx context.Context, handler EventHandler) error
}

type EventHandler func(event *BidEvent) error

// NotificationSink is the external notification collaborator.
type NotificationSink interface {
	NotifyOutbid(ctx context.Context, n *OutbidNotification) error
}

// Notification interfaces
type UserNotifier interface {
	NotifyUser(ctx context.Context, userID string, message interface{}) error
}

type AuctionBroadcaster interface {
	BroadcastToAuction(ctx context.Context, auctionID string, message interface{}) error
}

// Leader election interface
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}

type BidEventRepository interface {
	SaveBidEvent(ctx context.Context, event *BidEvent) error
	GetBidEvents(ctx context.Context, auctionID string) ([]*BidEvent, error)
}

// WebSocket interfaces
type WebSocketConnection interface {
	Send(message interface{}) error
	Close() error
	UserID() string
	AuctionID() string
}

type ConnectionManager interface {
	RegisterConnection(userID, auctionID string, conn WebSocketConnection) error
	UnregisterConnection(userID, auctionID string) error
	GetConnectionsForAuction(auctionID string) []WebSocketConnection
	GetConnectionsForUser(userID string) []WebSocketConnection
	BroadcastToAuction(auctionID string, message interface{}) error
	NotifyUser(userID string, message interface{}) error
	CloseAndUnregisterConnections(auctionID string) error
}
