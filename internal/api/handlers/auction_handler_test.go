package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"material-exchange/internal/domain"
	"material-exchange/internal/infrastructure/lock"
	"material-exchange/internal/infrastructure/memory"
	"material-exchange/internal/services"
	"material-exchange/pkg/clock"
	"material-exchange/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopPublisher struct{}

func (nopPublisher) PublishBiddingEvent(ctx context.Context, event *domain.BidEvent) error { return nil }

type nopSink struct{}

func (nopSink) NotifyOutbid(ctx context.Context, n *domain.OutbidNotification) error { return nil }

type heldLocker struct{}

func (heldLocker) Acquire(ctx context.Context, auctionID string) (func(), error) {
	return nil, domain.ErrBusy
}

type testServer struct {
	echo     *echo.Echo
	store    *memory.AuctionStore
	clock    *clock.MockClock
	deposits *memory.DepositBook
	start    time.Time
}

func newTestServer(t *testing.T, locker domain.AuctionLocker) *testServer {
	t.Helper()

	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	log := logger.NewNop()
	store := memory.NewAuctionStore()
	clk := clock.NewMockClock(start.Add(time.Minute))
	deposits := memory.NewDepositBook()
	settings := memory.NewSettingsProvider(domain.Settings{
		SoftClose:         180 * time.Second,
		IncrementStrategy: domain.IncrementFixed,
		FixedIncrement:    decimal.NewFromInt(10),
		DepositPercent:    decimal.NewFromInt(10),
		MinorUnits:        2,
	})
	if locker == nil {
		locker = lock.NewKeyedMutex(time.Second)
	}

	bidService := services.NewBidService(store, locker, settings, deposits, memory.NewIdempotencyStore(),
		services.NewOutbidNotifier(nopSink{}, log), nopPublisher{}, clk, time.Second, log)
	manager := services.NewAuctionManager(store, settings, nopPublisher{}, clk, log)

	e := echo.New()
	NewAuctionHandler(manager, bidService, log).Register(e)

	require.NoError(t, store.CreateAuction(context.Background(), &domain.Auction{
		ID:              "auction-1",
		ListingID:       "listing-1",
		SellerID:        "seller",
		StartTime:       start,
		EndTime:         start.Add(time.Hour),
		StartingPrice:   decimal.NewFromInt(20),
		DepositRequired: false,
	}))

	return &testServer{echo: e, store: store, clock: clk, deposits: deposits, start: start}
}

func (s *testServer) do(method, path, user, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decodeBid(t *testing.T, rec *httptest.ResponseRecorder) BidResponse {
	t.Helper()
	var resp BidResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestPlaceBid_StatusMapping(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/api/v1/auctions/auction-1/bids", "alice", `{"amount":"30"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	accepted := decodeBid(t, rec)
	assert.True(t, accepted.Accepted)
	require.NotNil(t, accepted.CommittedBid)
	assert.Equal(t, "alice", accepted.CommittedBid.BidderID)

	rec = s.do(http.MethodPost, "/api/v1/auctions/auction-1/bids", "bob", `{"amount":"35"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	below := decodeBid(t, rec)
	assert.Equal(t, "below_minimum", below.Reason)
	require.NotNil(t, below.MinNextBid)
	assert.Equal(t, "40", *below.MinNextBid)

	rec = s.do(http.MethodPost, "/api/v1/auctions/auction-1/bids", "seller", `{"amount":"100"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "self_bid", decodeBid(t, rec).Reason)

	rec = s.do(http.MethodPost, "/api/v1/auctions/missing/bids", "bob", `{"amount":"100"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/auctions/auction-1/bids", "", `{"amount":"100"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/auctions/auction-1/bids", "bob", `{"amount":"lots"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.clock.Set(s.start.Add(2 * time.Hour))
	rec = s.do(http.MethodPost, "/api/v1/auctions/auction-1/bids", "bob", `{"amount":"100"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "not_open", decodeBid(t, rec).Reason)
}

func TestPlaceBid_BusyMapsToTooManyRequests(t *testing.T) {
	s := newTestServer(t, heldLocker{})

	rec := s.do(http.MethodPost, "/api/v1/auctions/auction-1/bids", "alice", `{"amount":"30"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "busy", decodeBid(t, rec).Reason)
}

func TestPlaceBid_IdempotencyKeyReplays(t *testing.T) {
	s := newTestServer(t, nil)

	first := s.do(http.MethodPost, "/api/v1/auctions/auction-1/bids", "alice", `{"amount":"30"}`, HeaderIdempotencyKey, "k-1")
	require.Equal(t, http.StatusCreated, first.Code)
	second := s.do(http.MethodPost, "/api/v1/auctions/auction-1/bids", "alice", `{"amount":"30"}`, HeaderIdempotencyKey, "k-1")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(HeaderReplayed))
	assert.Equal(t, decodeBid(t, first).CommittedBid.ID, decodeBid(t, second).CommittedBid.ID)

	reused := s.do(http.MethodPost, "/api/v1/auctions/auction-1/bids", "alice", `{"amount":"45"}`, HeaderIdempotencyKey, "k-1")
	assert.Equal(t, http.StatusConflict, reused.Code)

	other := s.do(http.MethodPost, "/api/v1/auctions/auction-1/bids", "bob", `{"amount":"40"}`, HeaderIdempotencyKey, "k-1")
	require.Equal(t, http.StatusCreated, other.Code)
	assert.Empty(t, other.Header().Get(HeaderReplayed))
	assert.Equal(t, "bob", decodeBid(t, other).CommittedBid.BidderID)

	history, err := s.store.GetBidHistory(context.Background(), "auction-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestPlaceBid_SubMinorUnitAmount(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/api/v1/auctions/auction-1/bids", "alice", `{"amount":"30.001"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_amount", decodeBid(t, rec).Reason)

	history, err := s.store.GetBidHistory(context.Background(), "auction-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestPlaceBid_DepositRequired(t *testing.T) {
	s := newTestServer(t, nil)
	require.NoError(t, s.store.CreateAuction(context.Background(), &domain.Auction{
		ID:              "auction-2",
		SellerID:        "seller",
		StartTime:       s.start,
		EndTime:         s.start.Add(time.Hour),
		DepositRequired: true,
	}))

	rec := s.do(http.MethodPost, "/api/v1/auctions/auction-2/bids", "alice", `{"amount":"250"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeBid(t, rec)
	assert.Equal(t, "deposit_required", resp.Reason)
	require.NotNil(t, resp.RequiredDeposit)
	assert.Equal(t, "25", *resp.RequiredDeposit)
}

func TestCreateAndGetAuction(t *testing.T) {
	s := newTestServer(t, nil)

	body := `{"listing_id":"listing-9","start_time":"2026-09-01T10:00:00Z","end_time":"2026-09-01T12:00:00Z","starting_price":"15.50","min_increment":"2.5","soft_close_seconds":120}`
	rec := s.do(http.MethodPost, "/api/v1/auctions", "seller-9", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created AuctionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "seller-9", created.SellerID)
	assert.Equal(t, int64(120), created.SoftCloseSeconds)

	rec = s.do(http.MethodGet, "/api/v1/auctions/"+created.AuctionID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched AuctionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, "active", fetched.Status)
	require.NotNil(t, fetched.MinNextBid)
	assert.Equal(t, "18", *fetched.MinNextBid)

	rec = s.do(http.MethodPost, "/api/v1/auctions", "seller-9",
		`{"listing_id":"listing-9","start_time":"2026-09-01T12:00:00Z","end_time":"2026-09-01T10:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/auctions/missing", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBidHistory(t *testing.T) {
	s := newTestServer(t, nil)

	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/auctions/auction-1/bids", "alice", `{"amount":"30"}`).Code)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/auctions/auction-1/bids", "bob", `{"amount":"45.5"}`).Code)

	rec := s.do(http.MethodGet, "/api/v1/auctions/auction-1/bids", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Bids []domain.Bid `json:"bids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Bids, 2)
	assert.Equal(t, "bob", resp.Bids[1].BidderID)
	assert.True(t, decimal.RequireFromString("45.5").Equal(resp.Bids[1].Amount))
}
