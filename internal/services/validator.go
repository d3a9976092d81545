package services

import (
	"time"

	"material-exchange/internal/domain"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Decision is the outcome of Validate.
type Decision struct {
	Reason          domain.RejectReason
	MinNextBid      decimal.Decimal
	RequiredDeposit decimal.Decimal
}

func (d Decision) Accepted() bool {
	return d.Reason == domain.ReasonNone
}

// IncrementFor returns the minimum raise over currentHigh. Percentage
// increments are rounded half-up to the currency minor unit, and no increment
// is ever smaller than one minor unit so two accepted bids can never tie.
func IncrementFor(settings domain.Settings, auction *domain.Auction, currentHigh decimal.Decimal) decimal.Decimal {
	var inc decimal.Decimal
	switch settings.IncrementStrategy {
	case domain.IncrementPercentage:
		inc = currentHigh.Mul(settings.IncrementPercent).Div(hundred)
	default:
		inc = auction.MinIncrement
		if !inc.IsPositive() {
			inc = settings.FixedIncrement
		}
	}
	// decimal rounds half away from zero, which is half-up for positive amounts
	inc = inc.Round(settings.MinorUnits)
	if minUnit := settings.MinorUnit(); inc.LessThan(minUnit) {
		inc = minUnit
	}
	return inc
}

// MinNextBid is the smallest amount the snapshot would accept right now.
func MinNextBid(settings domain.Settings, snap *domain.AuctionSnapshot) decimal.Decimal {
	high := snap.CurrentHigh()
	return high.Add(IncrementFor(settings, &snap.Auction, high))
}

// RequiredDeposit is the amount the payments collaborator has to authorize
// for a bid of the given size.
func RequiredDeposit(settings domain.Settings, amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(settings.DepositPercent).Div(hundred).Round(settings.MinorUnits)
}

// Validate evaluates a bid against a snapshot. Checks run in a fixed order
// and the first failure wins. It has no side effects and must be re-run on a
// fresh snapshot under the auction lock before anything is committed.
func Validate(
	snap *domain.AuctionSnapshot,
	bidderID string,
	amount decimal.Decimal,
	deposit domain.DepositStatus,
	settings domain.Settings,
	now time.Time,
) Decision {
	auction := &snap.Auction

	if auction.StatusAt(now) != domain.AuctionActive {
		return Decision{Reason: domain.ReasonNotOpen}
	}

	if bidderID == auction.SellerID {
		return Decision{Reason: domain.ReasonSelfBid}
	}

	if !amount.IsPositive() || !amount.Equal(amount.Round(settings.MinorUnits)) {
		return Decision{Reason: domain.ReasonInvalidAmount}
	}

	if settings.DepositRequiredFor(auction) && deposit != domain.DepositAuthorized {
		return Decision{
			Reason:          domain.ReasonDepositRequired,
			RequiredDeposit: RequiredDeposit(settings, amount),
		}
	}

	if minNext := MinNextBid(settings, snap); amount.LessThan(minNext) {
		return Decision{Reason: domain.ReasonBelowMinimum, MinNextBid: minNext}
	}

	return Decision{}
}
