package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Auction struct {
	ID              string
	ListingID       string
	SellerID        string
	StartTime       time.Time
	EndTime         time.Time
	StartingPrice   decimal.Decimal
	MinIncrement    decimal.Decimal
	SoftClose       time.Duration
	DepositRequired bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StatusAt derives the lifecycle state from the clock. There is no stored
// status column; a row whose end time has passed is closed whether or not
// anything has announced it.
func (a *Auction) StatusAt(now time.Time) AuctionStatus {
	switch {
	case now.Before(a.StartTime):
		return AuctionScheduled
	case now.Before(a.EndTime):
		return AuctionActive
	default:
		return AuctionClosed
	}
}

type AuctionStatus int

const (
	AuctionScheduled AuctionStatus = iota
	AuctionActive
	AuctionClosed
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionScheduled:
		return "scheduled"
	case AuctionActive:
		return "active"
	case AuctionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Bid is an accepted ledger entry. Entries are never updated or deleted.
type Bid struct {
	ID             string          `json:"id"`
	AuctionID      string          `json:"auction_id"`
	BidderID       string          `json:"bidder_id"`
	Amount         decimal.Decimal `json:"amount"`
	Timestamp      time.Time       `json:"timestamp"`
	Sequence       int64           `json:"sequence"`
	IdempotencyKey string          `json:"-"`
}

// NewBid is what the bidding core hands to the store for a single append.
type NewBid struct {
	BidderID  string
	Amount    decimal.Decimal
	Timestamp time.Time
	SoftClose time.Duration

	// MinRaise is the increment the bid was validated against. The store
	// enforces it again against the high it re-derives from the ledger.
	MinRaise       decimal.Decimal
	IdempotencyKey string
}

// Clears reports whether the bid may follow high in the ledger.
func (b NewBid) Clears(high decimal.Decimal) bool {
	return b.Amount.GreaterThan(high) && !b.Amount.LessThan(high.Add(b.MinRaise))
}

// Commit is the outcome of a successful AppendBid.
type Commit struct {
	Bid          *Bid
	PreviousHigh *Bid
	EndTime      time.Time
	Extended     bool
}

// AuctionSnapshot is a point-in-time read of an auction and its ledger head.
type AuctionSnapshot struct {
	Auction  Auction
	HighBid  *Bid
	BidCount int
}

// CurrentHigh is the amount the next bid has to beat. With an empty ledger
// that is the starting price.
func (s *AuctionSnapshot) CurrentHigh() decimal.Decimal {
	if s.HighBid != nil {
		return s.HighBid.Amount
	}
	return s.Auction.StartingPrice
}

// LeaderID returns the bidder currently holding the high bid, or "".
func (s *AuctionSnapshot) LeaderID() string {
	if s.HighBid != nil {
		return s.HighBid.BidderID
	}
	return ""
}

type DepositStatus string

const (
	DepositNone       DepositStatus = "none"
	DepositAuthorized DepositStatus = "authorized"
	DepositReleased   DepositStatus = "released"
)

func ParseDepositStatus(s string) DepositStatus {
	switch DepositStatus(s) {
	case DepositAuthorized:
		return DepositAuthorized
	case DepositReleased:
		return DepositReleased
	default:
		return DepositNone
	}
}

type IncrementStrategy string

const (
	IncrementFixed      IncrementStrategy = "fixed"
	IncrementPercentage IncrementStrategy = "percentage"
)

// Settings is the externally owned bidding configuration. A value is read
// once per bid evaluation and never mutated by the core.
type Settings struct {
	SoftClose         time.Duration
	IncrementStrategy IncrementStrategy
	FixedIncrement    decimal.Decimal
	IncrementPercent  decimal.Decimal
	DepositRequired   bool
	DepositPercent    decimal.Decimal
	MinorUnits        int32
}

// SoftCloseFor returns the trailing window in effect for an auction.
func (s Settings) SoftCloseFor(a *Auction) time.Duration {
	if a.SoftClose > 0 {
		return a.SoftClose
	}
	return s.SoftClose
}

func (s Settings) DepositRequiredFor(a *Auction) bool {
	return a.DepositRequired || s.DepositRequired
}

// MaxMinorUnits is the scale of the amount columns in the SQL store.
const MaxMinorUnits = 4

// Check rejects settings the bidding core cannot evaluate.
func (s Settings) Check() error {
	if s.IncrementStrategy != IncrementFixed && s.IncrementStrategy != IncrementPercentage {
		return fmt.Errorf("unknown increment strategy %q", s.IncrementStrategy)
	}
	if s.MinorUnits < 0 || s.MinorUnits > MaxMinorUnits {
		return fmt.Errorf("minor units %d outside 0..%d", s.MinorUnits, MaxMinorUnits)
	}
	return nil
}

// MinorUnit is the smallest representable amount, e.g. 0.01 for two digits.
func (s Settings) MinorUnit() decimal.Decimal {
	return decimal.New(1, -s.MinorUnits)
}

type BidEvent struct {
	Type           BidEventType `json:"type"`
	AuctionID      string       `json:"auction_id"`
	ListingID      string       `json:"listing_id,omitempty"`
	UserID         string       `json:"user_id,omitempty"`
	Amount         string       `json:"amount,omitempty"`
	PreviousAmount string       `json:"previous_amount,omitempty"`
	EndTime        *time.Time   `json:"end_time,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

type BidEventType string

const (
	BidAccepted     BidEventType = "bid_accepted"
	AuctionExtended BidEventType = "auction_extended"
	BidderOutbid    BidEventType = "outbid"
	AuctionEnded    BidEventType = "auction_ended"
)

// OutbidNotification is handed to the notification collaborator when a new
// high bid displaces another bidder.
type OutbidNotification struct {
	RecipientID    string
	AuctionID      string
	ListingID      string
	PreviousAmount decimal.Decimal
	NewAmount      decimal.Decimal
	At             time.Time
}
