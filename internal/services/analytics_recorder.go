package services

import (
	"context"

	"material-exchange/internal/domain"
	"material-exchange/pkg/logger"
)

// AnalyticsRecorder copies the auction event stream into the reporting
// store. Outbid events are per-user notifications and are not recorded.
type AnalyticsRecorder struct {
	repo domain.BidEventRepository
	log  logger.Logger
}

func NewAnalyticsRecorder(repo domain.BidEventRepository, log logger.Logger) *AnalyticsRecorder {
	return &AnalyticsRecorder{
		repo: repo,
		log:  log,
	}
}

func (ar *AnalyticsRecorder) Start(ctx context.Context, subscriber domain.EventSubscriber) error {
	ar.log.Info("Starting analytics recorder")

	return subscriber.SubscribeToBidEvents(ctx, func(event *domain.BidEvent) error {
		return ar.record(ctx, event)
	})
}

func (ar *AnalyticsRecorder) record(ctx context.Context, event *domain.BidEvent) error {
	switch event.Type {
	case domain.BidAccepted, domain.AuctionExtended, domain.AuctionEnded:
	default:
		return nil
	}

	ar.log.Debug("Storing bid event", "type", event.Type, "auction_id", event.AuctionID,
		"user_id", event.UserID, "amount", event.Amount)
	return ar.repo.SaveBidEvent(context.WithoutCancel(ctx), event)
}
