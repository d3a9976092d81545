package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("auction not found")
	ErrBusy     = errors.New("auction busy, retry later")
	ErrStorage  = errors.New("storage failure")

	// ErrLedgerConflict is returned by a store when the amount handed to
	// AppendBid does not clear the high bid it re-derived from the ledger by
	// the minimum raise. Under the per-auction lock this only happens when a
	// distributed lock lease expired while its holder was still working.
	ErrLedgerConflict = errors.New("bid does not exceed ledger high")

	ErrInvalidAuction = errors.New("invalid auction")
	ErrInvalidRequest = errors.New("invalid bid request")

	// ErrIdempotencyConflict means a bidder reused an idempotency key for a
	// bid with a different amount.
	ErrIdempotencyConflict = errors.New("idempotency key reused for a different bid")
)

// RejectReason discriminates the expected, non-exceptional outcomes of a bid
// evaluation. They are returned inside BidResult, never as errors.
type RejectReason string

const (
	ReasonNone            RejectReason = ""
	ReasonNotFound        RejectReason = "not_found"
	ReasonNotOpen         RejectReason = "not_open"
	ReasonSelfBid         RejectReason = "self_bid"
	ReasonInvalidAmount   RejectReason = "invalid_amount"
	ReasonDepositRequired RejectReason = "deposit_required"
	ReasonBelowMinimum    RejectReason = "below_minimum"
	ReasonBusy            RejectReason = "busy"
)

// Retryable reports whether the same request may succeed if resent.
func (r RejectReason) Retryable() bool {
	return r == ReasonBusy
}

type BidRequest struct {
	AuctionID      string
	BidderID       string
	Amount         decimal.Decimal
	IdempotencyKey string
}

type BidResult struct {
	Accepted        bool
	Reason          RejectReason
	CommittedBid    *Bid
	NewEndTime      *time.Time
	Extended        bool
	MinNextBid      *decimal.Decimal
	RequiredDeposit *decimal.Decimal
	// Replayed is set when the result was served from the idempotency store.
	Replayed bool
}

// IdempotentBid is what the idempotency store keeps per bidder key: the
// amount that was asked for and the result it produced.
type IdempotentBid struct {
	Amount decimal.Decimal `json:"amount"`
	Result *BidResult      `json:"result"`
}

func Rejected(reason RejectReason) *BidResult {
	return &BidResult{Reason: reason}
}
