package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"material-exchange/internal/domain"
	"material-exchange/pkg/clock"
	"material-exchange/pkg/logger"
	"material-exchange/pkg/utils"

	"github.com/shopspring/decimal"
)

type CreateAuctionRequest struct {
	ListingID       string
	SellerID        string
	StartTime       time.Time
	EndTime         time.Time
	StartingPrice   decimal.Decimal
	MinIncrement    decimal.Decimal
	SoftClose       time.Duration
	DepositRequired bool
}

// AuctionView is an auction as seen by clients at a given instant. Status
// and the minimum next bid are derived when the view is built.
type AuctionView struct {
	Auction    domain.Auction
	Status     domain.AuctionStatus
	HighBid    *domain.Bid
	BidCount   int
	MinNextBid decimal.Decimal
	SoftClose  time.Duration
	AsOf       time.Time
}

type AuctionManager struct {
	store    domain.AuctionStore
	settings domain.SettingsProvider
	eventPub domain.EventPublisher
	clock    clock.Clock
	log      logger.Logger
}

func NewAuctionManager(
	store domain.AuctionStore,
	settings domain.SettingsProvider,
	eventPub domain.EventPublisher,
	clk clock.Clock,
	log logger.Logger,
) *AuctionManager {
	return &AuctionManager{
		store:    store,
		settings: settings,
		eventPub: eventPub,
		clock:    clk,
		log:      log,
	}
}

func (am *AuctionManager) CreateAuction(ctx context.Context, req CreateAuctionRequest) (*domain.Auction, error) {
	switch {
	case req.ListingID == "" || req.SellerID == "":
		return nil, fmt.Errorf("listing and seller are required: %w", domain.ErrInvalidAuction)
	case !req.EndTime.After(req.StartTime):
		return nil, fmt.Errorf("end time must be after start time: %w", domain.ErrInvalidAuction)
	case req.StartingPrice.IsNegative():
		return nil, fmt.Errorf("starting price must not be negative: %w", domain.ErrInvalidAuction)
	case req.MinIncrement.IsNegative():
		return nil, fmt.Errorf("minimum increment must not be negative: %w", domain.ErrInvalidAuction)
	case req.SoftClose < 0:
		return nil, fmt.Errorf("soft close window must not be negative: %w", domain.ErrInvalidAuction)
	}

	now := am.clock.Now()
	auction := &domain.Auction{
		ID:              utils.GenerateID("auction"),
		ListingID:       req.ListingID,
		SellerID:        req.SellerID,
		StartTime:       req.StartTime.UTC(),
		EndTime:         req.EndTime.UTC(),
		StartingPrice:   req.StartingPrice,
		MinIncrement:    req.MinIncrement,
		SoftClose:       req.SoftClose,
		DepositRequired: req.DepositRequired,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := am.store.CreateAuction(ctx, auction); err != nil {
		return nil, err
	}

	am.log.Info("Auction created", "auction_id", auction.ID, "listing_id", auction.ListingID,
		"start_time", auction.StartTime, "end_time", auction.EndTime)
	return auction, nil
}

func (am *AuctionManager) GetAuction(ctx context.Context, auctionID string) (*AuctionView, error) {
	snap, err := am.store.GetSnapshot(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	settings, err := am.settings.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("load bidding settings: %w", err)
	}

	now := am.clock.Now()
	return &AuctionView{
		Auction:    snap.Auction,
		Status:     snap.Auction.StatusAt(now),
		HighBid:    snap.HighBid,
		BidCount:   snap.BidCount,
		MinNextBid: MinNextBid(settings, snap),
		SoftClose:  settings.SoftCloseFor(&snap.Auction),
		AsOf:       now,
	}, nil
}

func (am *AuctionManager) GetBidHistory(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	return am.store.GetBidHistory(ctx, auctionID)
}

// AnnounceClosed publishes auction_ended once for every auction whose end
// time has passed. An auction whose event could not be published stays
// unannounced and is retried on the next call.
func (am *AuctionManager) AnnounceClosed(ctx context.Context) (int, error) {
	now := am.clock.Now()
	due, err := am.store.ListUnannounced(ctx, now)
	if err != nil {
		return 0, err
	}

	announced := 0
	for _, snap := range due {
		auction := snap.Auction
		event := &domain.BidEvent{
			Type:      domain.AuctionEnded,
			AuctionID: auction.ID,
			ListingID: auction.ListingID,
			EndTime:   &auction.EndTime,
			Timestamp: now,
		}
		if snap.HighBid != nil {
			event.UserID = snap.HighBid.BidderID
			event.Amount = snap.HighBid.Amount.String()
		}

		if err := am.eventPub.PublishBiddingEvent(ctx, event); err != nil {
			am.log.Error("Failed to publish auction ended", "auction_id", auction.ID, "error", err)
			continue
		}
		if err := am.store.MarkAnnounced(ctx, auction.ID, now); err != nil && !errors.Is(err, domain.ErrNotFound) {
			am.log.Error("Failed to record auction announcement", "auction_id", auction.ID, "error", err)
			continue
		}

		am.log.Info("Auction ended", "auction_id", auction.ID, "winner_id", event.UserID,
			"amount", event.Amount, "end_time", auction.EndTime)
		announced++
	}
	return announced, nil
}
