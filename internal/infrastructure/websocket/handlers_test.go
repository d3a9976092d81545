package websocket

import (
	"context"
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

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsTestServer struct {
	url   string
	store *memory.AuctionStore
	conns *ConnectionManager
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()

	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	log := logger.NewNop()
	store := memory.NewAuctionStore()
	clk := clock.NewMockClock(start.Add(time.Minute))
	settings := memory.NewSettingsProvider(domain.Settings{
		SoftClose:         180 * time.Second,
		IncrementStrategy: domain.IncrementFixed,
		FixedIncrement:    decimal.NewFromInt(10),
		DepositPercent:    decimal.NewFromInt(10),
		MinorUnits:        2,
	})
	require.NoError(t, store.CreateAuction(context.Background(), &domain.Auction{
		ID:            "auction-1",
		ListingID:     "listing-1",
		SellerID:      "seller",
		StartTime:     start,
		EndTime:       start.Add(time.Hour),
		StartingPrice: decimal.NewFromInt(20),
	}))

	bidService := services.NewBidService(store, lock.NewKeyedMutex(time.Second), settings,
		memory.NewDepositBook(), memory.NewIdempotencyStore(), nil, nil, clk, time.Second, log)
	manager := services.NewAuctionManager(store, settings, nil, clk, log)
	conns := NewConnectionManager(log)

	r := mux.NewRouter()
	r.HandleFunc("/ws/auctions/{auctionID}", NewWebSocketHandler(bidService, manager, conns, log).HandleConnection)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &wsTestServer{
		url:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		store: store,
		conns: conns,
	}
}

func (s *wsTestServer) dial(t *testing.T, auctionID, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.url+"/ws/auctions/"+auctionID+"?user_id="+userID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func exchange(t *testing.T, conn *websocket.Conn, msg map[string]string) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var reply map[string]interface{}
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func TestWebSocketHandler_PlaceBid(t *testing.T) {
	s := newWSTestServer(t)
	conn := s.dial(t, "auction-1", "alice")

	reply := exchange(t, conn, map[string]string{"type": "place_bid", "amount": "30", "idempotency_key": "ws-1"})
	assert.Equal(t, "bid_result", reply["type"])
	assert.Equal(t, true, reply["accepted"])
	bid, ok := reply["bid"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "alice", bid["bidder_id"])
	assert.Contains(t, reply, "end_time")

	reply = exchange(t, conn, map[string]string{"type": "place_bid", "amount": "35"})
	assert.Equal(t, false, reply["accepted"])
	assert.Equal(t, "below_minimum", reply["reason"])
	assert.Equal(t, "40", reply["min_next_bid"])

	reply = exchange(t, conn, map[string]string{"type": "place_bid", "amount": "50.005"})
	assert.Equal(t, false, reply["accepted"])
	assert.Equal(t, "invalid_amount", reply["reason"])

	reply = exchange(t, conn, map[string]string{"type": "place_bid", "amount": "45", "idempotency_key": "ws-1"})
	assert.Equal(t, "error", reply["type"])

	history, err := s.store.GetBidHistory(context.Background(), "auction-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, decimal.NewFromInt(30).Equal(history[0].Amount))
}

func TestWebSocketHandler_MalformedMessages(t *testing.T) {
	s := newWSTestServer(t)
	conn := s.dial(t, "auction-1", "bob")

	reply := exchange(t, conn, map[string]string{"type": "place_bid", "amount": "a lot"})
	assert.Equal(t, "error", reply["type"])
	assert.Equal(t, "invalid amount format", reply["message"])

	reply = exchange(t, conn, map[string]string{"type": "withdraw"})
	assert.Equal(t, "error", reply["type"])

	reply = exchange(t, conn, map[string]string{"type": "ping"})
	assert.Equal(t, "pong", reply["type"])

	history, err := s.store.GetBidHistory(context.Background(), "auction-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestWebSocketHandler_RejectsUnknownAuctionAndMissingUser(t *testing.T) {
	s := newWSTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(s.url+"/ws/auctions/missing?user_id=alice", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(s.url+"/ws/auctions/auction-1", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestWebSocketHandler_BroadcastReachesRoom(t *testing.T) {
	s := newWSTestServer(t)
	alice := s.dial(t, "auction-1", "alice")
	bob := s.dial(t, "auction-1", "bob")

	require.Eventually(t, func() bool {
		return len(s.conns.GetConnectionsForAuction("auction-1")) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.conns.BroadcastToAuction("auction-1", map[string]string{"type": "bid_update", "amount": "30"}))

	for _, conn := range []*websocket.Conn{alice, bob} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg map[string]string
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "bid_update", msg["type"])
	}
}
