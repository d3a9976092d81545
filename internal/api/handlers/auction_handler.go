package handlers

import (
	"net/http"
	"time"

	"material-exchange/internal/domain"
	"material-exchange/internal/services"
	"material-exchange/pkg/logger"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

const (
	HeaderUserID         = "X-User-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

type AuctionHandler struct {
	auctionManager *services.AuctionManager
	bidService     *services.BidService
	log            logger.Logger
}

type CreateAuctionRequest struct {
	ListingID        string          `json:"listing_id"`
	StartTime        time.Time       `json:"start_time"`
	EndTime          time.Time       `json:"end_time"`
	StartingPrice    decimal.Decimal `json:"starting_price"`
	MinIncrement     decimal.Decimal `json:"min_increment"`
	SoftCloseSeconds int64           `json:"soft_close_seconds"`
	DepositRequired  bool            `json:"deposit_required"`
}

type AuctionResponse struct {
	AuctionID        string          `json:"auction_id"`
	ListingID        string          `json:"listing_id"`
	SellerID         string          `json:"seller_id"`
	StartTime        time.Time       `json:"start_time"`
	EndTime          time.Time       `json:"end_time"`
	StartingPrice    decimal.Decimal `json:"starting_price"`
	MinIncrement     decimal.Decimal `json:"min_increment"`
	SoftCloseSeconds int64           `json:"soft_close_seconds"`
	DepositRequired  bool            `json:"deposit_required"`
	Status           string          `json:"status,omitempty"`
	HighBid          *domain.Bid     `json:"high_bid,omitempty"`
	BidCount         int             `json:"bid_count"`
	MinNextBid       *string         `json:"min_next_bid,omitempty"`
}

type PlaceBidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type BidResponse struct {
	Accepted        bool        `json:"accepted"`
	Reason          string      `json:"reason,omitempty"`
	CommittedBid    *domain.Bid `json:"committed_bid,omitempty"`
	NewEndTime      *time.Time  `json:"new_end_time,omitempty"`
	Extended        bool        `json:"extended,omitempty"`
	MinNextBid      *string     `json:"min_next_bid,omitempty"`
	RequiredDeposit *string     `json:"required_deposit,omitempty"`
}

func NewAuctionHandler(auctionManager *services.AuctionManager, bidService *services.BidService, log logger.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctionManager: auctionManager,
		bidService:     bidService,
		log:            log,
	}
}

// Register mounts the REST routes under /api/v1.
func (h *AuctionHandler) Register(e *echo.Echo) {
	api := e.Group("/api/v1")
	api.POST("/auctions", h.CreateAuction)
	api.GET("/auctions/:id", h.GetAuction)
	api.GET("/auctions/:id/bids", h.GetBidHistory)
	api.POST("/auctions/:id/bids", h.PlaceBid)
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

func (h *AuctionHandler) CreateAuction(c echo.Context) error {
	sellerID := c.Request().Header.Get(HeaderUserID)
	if sellerID == "" {
		return errorJSON(c, http.StatusBadRequest, HeaderUserID+" header required")
	}

	var req CreateAuctionRequest
	if err := c.Bind(&req); err != nil {
		h.log.Warn("Failed to bind request", "error", err)
		return errorJSON(c, http.StatusBadRequest, "Invalid request body")
	}

	auction, err := h.auctionManager.CreateAuction(c.Request().Context(), services.CreateAuctionRequest{
		ListingID:       req.ListingID,
		SellerID:        sellerID,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		StartingPrice:   req.StartingPrice,
		MinIncrement:    req.MinIncrement,
		SoftClose:       time.Duration(req.SoftCloseSeconds) * time.Second,
		DepositRequired: req.DepositRequired,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidAuction) {
			return errorJSON(c, http.StatusBadRequest, err.Error())
		}
		h.log.Error("Failed to create auction", "error", err)
		return errorJSON(c, http.StatusInternalServerError, "Failed to create auction")
	}

	return c.JSON(http.StatusCreated, toAuctionResponse(auction))
}

func (h *AuctionHandler) GetAuction(c echo.Context) error {
	auctionID := c.Param("id")

	view, err := h.auctionManager.GetAuction(c.Request().Context(), auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "Auction not found")
		}
		h.log.Error("Failed to load auction", "auction_id", auctionID, "error", err)
		return errorJSON(c, http.StatusInternalServerError, "Failed to load auction")
	}

	resp := toAuctionResponse(&view.Auction)
	resp.SoftCloseSeconds = int64(view.SoftClose / time.Second)
	resp.Status = view.Status.String()
	resp.HighBid = view.HighBid
	resp.BidCount = view.BidCount
	if view.Status != domain.AuctionClosed {
		minNext := view.MinNextBid.String()
		resp.MinNextBid = &minNext
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *AuctionHandler) GetBidHistory(c echo.Context) error {
	auctionID := c.Param("id")

	bids, err := h.auctionManager.GetBidHistory(c.Request().Context(), auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "Auction not found")
		}
		h.log.Error("Failed to load bid history", "auction_id", auctionID, "error", err)
		return errorJSON(c, http.StatusInternalServerError, "Failed to load bid history")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"auction_id": auctionID,
		"bids":       bids,
	})
}

func (h *AuctionHandler) PlaceBid(c echo.Context) error {
	bidderID := c.Request().Header.Get(HeaderUserID)
	if bidderID == "" {
		return errorJSON(c, http.StatusBadRequest, HeaderUserID+" header required")
	}

	var req PlaceBidRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request body")
	}

	result, err := h.bidService.PlaceBid(c.Request().Context(), domain.BidRequest{
		AuctionID:      c.Param("id"),
		BidderID:       bidderID,
		Amount:         req.Amount,
		IdempotencyKey: c.Request().Header.Get(HeaderIdempotencyKey),
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			return errorJSON(c, http.StatusBadRequest, err.Error())
		}
		if errors.Is(err, domain.ErrIdempotencyConflict) {
			return errorJSON(c, http.StatusConflict, HeaderIdempotencyKey+" already used for a different bid")
		}
		// Storage details stay in the log.
		return errorJSON(c, http.StatusInternalServerError, "Failed to place bid")
	}

	if result.Replayed {
		c.Response().Header().Set(HeaderReplayed, "true")
	}
	return c.JSON(bidStatus(c, result), toBidResponse(result))
}

func bidStatus(c echo.Context, result *domain.BidResult) int {
	switch {
	case result.Accepted:
		return http.StatusCreated
	case result.Reason == domain.ReasonNotFound:
		return http.StatusNotFound
	case result.Reason == domain.ReasonBusy:
		c.Response().Header().Set("Retry-After", "1")
		return http.StatusTooManyRequests
	default:
		return http.StatusUnprocessableEntity
	}
}

func toBidResponse(result *domain.BidResult) BidResponse {
	resp := BidResponse{
		Accepted:     result.Accepted,
		Reason:       string(result.Reason),
		CommittedBid: result.CommittedBid,
		NewEndTime:   result.NewEndTime,
		Extended:     result.Extended,
	}
	if result.MinNextBid != nil {
		s := result.MinNextBid.String()
		resp.MinNextBid = &s
	}
	if result.RequiredDeposit != nil {
		s := result.RequiredDeposit.String()
		resp.RequiredDeposit = &s
	}
	return resp
}

func toAuctionResponse(a *domain.Auction) AuctionResponse {
	return AuctionResponse{
		AuctionID:        a.ID,
		ListingID:        a.ListingID,
		SellerID:         a.SellerID,
		StartTime:        a.StartTime,
		EndTime:          a.EndTime,
		StartingPrice:    a.StartingPrice,
		MinIncrement:     a.MinIncrement,
		SoftCloseSeconds: int64(a.SoftClose / time.Second),
		DepositRequired:  a.DepositRequired,
	}
}
