package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"material-exchange/internal/domain"
	"material-exchange/pkg/clock"
	"material-exchange/pkg/logger"
)

type BidService struct {
	store         domain.AuctionStore
	locker        domain.AuctionLocker
	settings      domain.SettingsProvider
	deposits      domain.DepositChecker
	idempotency   domain.IdempotencyStore
	outbid        *OutbidNotifier
	eventPub      domain.EventPublisher
	clock         clock.Clock
	notifyTimeout time.Duration
	log           logger.Logger
}

func NewBidService(
	store domain.AuctionStore,
	locker domain.AuctionLocker,
	settings domain.SettingsProvider,
	deposits domain.DepositChecker,
	idempotency domain.IdempotencyStore,
	outbid *OutbidNotifier,
	eventPub domain.EventPublisher,
	clk clock.Clock,
	notifyTimeout time.Duration,
	log logger.Logger,
) *BidService {
	return &BidService{
		store:         store,
		locker:        locker,
		settings:      settings,
		deposits:      deposits,
		idempotency:   idempotency,
		outbid:        outbid,
		eventPub:      eventPub,
		clock:         clk,
		notifyTimeout: notifyTimeout,
		log:           log,
	}
}

// PlaceBid evaluates and, if valid, commits a bid. Expected rejections are
// reported in the result; the returned error is reserved for storage and
// collaborator failures, in which case nothing was committed.
func (s *BidService) PlaceBid(ctx context.Context, req domain.BidRequest) (*domain.BidResult, error) {
	if req.AuctionID == "" || req.BidderID == "" {
		return nil, fmt.Errorf("auction and bidder are required: %w", domain.ErrInvalidRequest)
	}

	s.log.Info("Placing bid", "auction_id", req.AuctionID, "user_id", req.BidderID, "amount", req.Amount.String())

	// Settings and deposit status are read once, before the lock, and the
	// evaluation below uses exactly these values.
	settings, err := s.settings.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("load bidding settings: %w", err)
	}
	deposit, err := s.deposits.DepositStatus(ctx, req.AuctionID, req.BidderID)
	if err != nil {
		return nil, fmt.Errorf("load deposit status: %w", err)
	}

	result, commit, auction, err := s.placeLocked(ctx, req, settings, deposit)
	if errors.Is(err, domain.ErrIdempotencyConflict) {
		s.log.Warn("Idempotency key reused", "auction_id", req.AuctionID, "user_id", req.BidderID, "error", err)
		return nil, err
	}
	if err != nil {
		s.log.Error("Failed to place bid", "auction_id", req.AuctionID, "user_id", req.BidderID, "error", err)
		return nil, err
	}

	if commit != nil {
		s.afterCommit(ctx, auction, commit)
	}

	if result.Accepted {
		s.log.Info("Bid accepted", "auction_id", req.AuctionID, "user_id", req.BidderID,
			"amount", req.Amount.String(), "end_time", result.NewEndTime, "extended", result.Extended,
			"replayed", result.Replayed)
	} else {
		s.log.Info("Bid rejected", "auction_id", req.AuctionID, "user_id", req.BidderID,
			"amount", req.Amount.String(), "reason", result.Reason)
	}
	return result, nil
}

// placeLocked holds the auction lock from the snapshot read until the commit
// returns. Nothing slow or external runs in here.
func (s *BidService) placeLocked(
	ctx context.Context,
	req domain.BidRequest,
	settings domain.Settings,
	deposit domain.DepositStatus,
) (*domain.BidResult, *domain.Commit, *domain.Auction, error) {
	release, err := s.locker.Acquire(ctx, req.AuctionID)
	if err != nil {
		if errors.Is(err, domain.ErrBusy) {
			return domain.Rejected(domain.ReasonBusy), nil, nil, nil
		}
		return nil, nil, nil, fmt.Errorf("acquire auction lock: %w", err)
	}
	defer release()

	if req.IdempotencyKey != "" && s.idempotency != nil {
		prior, err := s.idempotency.Lookup(ctx, req.AuctionID, req.BidderID, req.IdempotencyKey)
		switch {
		case err != nil:
			s.log.Warn("Idempotency lookup failed", "auction_id", req.AuctionID, "key", req.IdempotencyKey, "error", err)
		case prior != nil && !prior.Amount.Equal(req.Amount):
			return nil, nil, nil, fmt.Errorf("key %q was used for amount %s: %w",
				req.IdempotencyKey, prior.Amount, domain.ErrIdempotencyConflict)
		case prior != nil:
			prior.Result.Replayed = true
			return prior.Result, nil, nil, nil
		}
	}

	snap, err := s.store.GetSnapshot(ctx, req.AuctionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Rejected(domain.ReasonNotFound), nil, nil, nil
		}
		return nil, nil, nil, err
	}

	now := s.clock.Now()
	decision := Validate(snap, req.BidderID, req.Amount, deposit, settings, now)
	if !decision.Accepted() {
		return rejection(decision), nil, nil, nil
	}

	// Bid timestamps follow insertion order even if the clock steps back.
	if snap.HighBid != nil && now.Before(snap.HighBid.Timestamp) {
		now = snap.HighBid.Timestamp
	}

	commit, err := s.store.AppendBid(ctx, req.AuctionID, domain.NewBid{
		BidderID:       req.BidderID,
		Amount:         req.Amount,
		Timestamp:      now,
		SoftClose:      settings.SoftCloseFor(&snap.Auction),
		MinRaise:       IncrementFor(settings, &snap.Auction, snap.CurrentHigh()),
		IdempotencyKey: req.IdempotencyKey,
	})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.Rejected(domain.ReasonNotFound), nil, nil, nil
	case errors.Is(err, domain.ErrLedgerConflict):
		// The ledger moved under a snapshot we held the lock for. Report the
		// minimum against the ledger rather than committing anything.
		s.log.Warn("Ledger changed while holding auction lock", "auction_id", req.AuctionID, "error", err)
		fresh, serr := s.store.GetSnapshot(ctx, req.AuctionID)
		if serr != nil {
			return nil, nil, nil, serr
		}
		return rejection(Decision{
			Reason:     domain.ReasonBelowMinimum,
			MinNextBid: MinNextBid(settings, fresh),
		}), nil, nil, nil
	case err != nil:
		return nil, nil, nil, err
	}

	endTime := commit.EndTime
	result := &domain.BidResult{
		Accepted:     true,
		CommittedBid: commit.Bid,
		NewEndTime:   &endTime,
		Extended:     commit.Extended,
	}

	if req.IdempotencyKey != "" && s.idempotency != nil {
		entry := &domain.IdempotentBid{Amount: req.Amount, Result: result}
		if err := s.idempotency.Remember(ctx, req.AuctionID, req.BidderID, req.IdempotencyKey, entry); err != nil {
			s.log.Warn("Failed to remember idempotency key", "auction_id", req.AuctionID, "key", req.IdempotencyKey, "error", err)
		}
	}

	auction := snap.Auction
	auction.EndTime = commit.EndTime
	return result, commit, &auction, nil
}

// afterCommit publishes events and fires the outbid trigger. It runs after
// the lock is released, detached from the caller's cancellation, and never
// changes the bid result.
func (s *BidService) afterCommit(ctx context.Context, auction *domain.Auction, commit *domain.Commit) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()

	if s.eventPub != nil {
		events := []*domain.BidEvent{{
			Type:      domain.BidAccepted,
			AuctionID: auction.ID,
			ListingID: auction.ListingID,
			UserID:    commit.Bid.BidderID,
			Amount:    commit.Bid.Amount.String(),
			EndTime:   &commit.EndTime,
			Timestamp: commit.Bid.Timestamp,
		}}
		if commit.Extended {
			events = append(events, &domain.BidEvent{
				Type:      domain.AuctionExtended,
				AuctionID: auction.ID,
				ListingID: auction.ListingID,
				EndTime:   &commit.EndTime,
				Timestamp: commit.Bid.Timestamp,
			})
		}
		for _, event := range events {
			if err := s.eventPub.PublishBiddingEvent(ctx, event); err != nil {
				s.log.Error("Failed to publish bidding event", "type", event.Type, "auction_id", auction.ID, "error", err)
			}
		}
	}

	if s.outbid != nil {
		s.outbid.NotifyDisplaced(ctx, auction, commit.PreviousHigh, commit.Bid)
	}
}

func rejection(d Decision) *domain.BidResult {
	result := domain.Rejected(d.Reason)
	switch d.Reason {
	case domain.ReasonBelowMinimum:
		minNext := d.MinNextBid
		result.MinNextBid = &minNext
	case domain.ReasonDepositRequired:
		dep := d.RequiredDeposit
		result.RequiredDeposit = &dep
	}
	return result
}
