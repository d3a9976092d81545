package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"material-exchange/internal/domain"
	"material-exchange/pkg/utils"
)

type auctionRecord struct {
	auction   domain.Auction
	bids      []*domain.Bid
	announced bool
}

// AuctionStore keeps auctions and their ledgers in process memory. It backs
// the "memory" store driver and the service tests.
type AuctionStore struct {
	mu       sync.RWMutex
	auctions map[string]*auctionRecord
}

func NewAuctionStore() *AuctionStore {
	return &AuctionStore{
		auctions: make(map[string]*auctionRecord),
	}
}

func (s *AuctionStore) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.auctions[auction.ID]; exists {
		return fmt.Errorf("auction %s already exists: %w", auction.ID, domain.ErrInvalidAuction)
	}
	s.auctions[auction.ID] = &auctionRecord{auction: *auction}
	return nil
}

func (s *AuctionStore) GetSnapshot(ctx context.Context, auctionID string) (*domain.AuctionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.auctions[auctionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec.snapshot(), nil
}

func (s *AuctionStore) AppendBid(ctx context.Context, auctionID string, bid domain.NewBid) (*domain.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.auctions[auctionID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	// The high bid is the ledger tail: amounts only ever increase.
	snap := rec.snapshot()
	if !bid.Clears(snap.CurrentHigh()) {
		return nil, fmt.Errorf("amount %s, high %s: %w", bid.Amount, snap.CurrentHigh(), domain.ErrLedgerConflict)
	}

	ext := domain.MaybeExtend(rec.auction.EndTime, bid.SoftClose, bid.Timestamp)

	committed := &domain.Bid{
		ID:             utils.GenerateID("bid"),
		AuctionID:      auctionID,
		BidderID:       bid.BidderID,
		Amount:         bid.Amount,
		Timestamp:      bid.Timestamp,
		Sequence:       int64(len(rec.bids) + 1),
		IdempotencyKey: bid.IdempotencyKey,
	}
	rec.bids = append(rec.bids, committed)
	rec.auction.EndTime = ext.EndTime
	rec.auction.UpdatedAt = bid.Timestamp

	return &domain.Commit{
		Bid:          copyBid(committed),
		PreviousHigh: snap.HighBid,
		EndTime:      ext.EndTime,
		Extended:     ext.Extended,
	}, nil
}

func (s *AuctionStore) GetBidHistory(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.auctions[auctionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := make([]*domain.Bid, 0, len(rec.bids))
	for _, b := range rec.bids {
		out = append(out, copyBid(b))
	}
	return out, nil
}

func (s *AuctionStore) ListUnannounced(ctx context.Context, now time.Time) ([]*domain.AuctionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.AuctionSnapshot
	for _, rec := range s.auctions {
		if rec.announced || rec.auction.StatusAt(now) != domain.AuctionClosed {
			continue
		}
		out = append(out, rec.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Auction.EndTime.Before(out[j].Auction.EndTime)
	})
	return out, nil
}

func (s *AuctionStore) MarkAnnounced(ctx context.Context, auctionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.auctions[auctionID]
	if !ok {
		return domain.ErrNotFound
	}
	rec.announced = true
	return nil
}

func (r *auctionRecord) snapshot() *domain.AuctionSnapshot {
	snap := &domain.AuctionSnapshot{
		Auction:  r.auction,
		BidCount: len(r.bids),
	}
	if n := len(r.bids); n > 0 {
		snap.HighBid = copyBid(r.bids[n-1])
	}
	return snap
}

func copyBid(b *domain.Bid) *domain.Bid {
	c := *b
	return &c
}
