package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"material-exchange/internal/domain"
	"material-exchange/internal/services"
	"material-exchange/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// inboundMessage is what clients send over the socket. Amount is a decimal
// string so no precision is lost in transit.
type inboundMessage struct {
	Type           string `json:"type"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

type WebSocketHandler struct {
	bidService  *services.BidService
	auctionMgr  *services.AuctionManager
	connManager domain.ConnectionManager
	log         logger.Logger
}

func NewWebSocketHandler(bidService *services.BidService, auctionMgr *services.AuctionManager,
	connManager domain.ConnectionManager, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		bidService:  bidService,
		auctionMgr:  auctionMgr,
		connManager: connManager,
		log:         log,
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["auctionID"]

	view, err := h.auctionMgr.GetAuction(r.Context(), auctionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "auction not found", http.StatusNotFound)
			return
		}
		h.log.Error("Failed to load auction", "error", err, "auction_id", auctionID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if view.Status == domain.AuctionClosed {
		h.log.Info("Rejected connection - auction has ended", "auction_id", auctionID)
		http.Error(w, "auction has already ended", http.StatusForbidden)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	wsConn := NewWebSocketConnection(conn, userID, auctionID, h.log)

	if err := h.connManager.RegisterConnection(userID, auctionID, wsConn); err != nil {
		h.log.Error("Failed to register connection", "error", err)
		conn.Close()
		return
	}

	go h.handleMessages(wsConn, userID, auctionID)
}

func (h *WebSocketHandler) handleMessages(conn *WebSocketConnection, userID, auctionID string) {
	defer func() {
		// A reconnect may already have replaced this socket in the room.
		for _, current := range h.connManager.GetConnectionsForAuction(auctionID) {
			if current == domain.WebSocketConnection(conn) {
				h.connManager.UnregisterConnection(userID, auctionID)
				break
			}
		}
		conn.Close()
	}()

	for {
		var msg inboundMessage
		if err := conn.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("Failed to read message", "user_id", userID, "auction_id", auctionID, "error", err)
			}
			return
		}

		switch msg.Type {
		case "place_bid":
			h.handleBidMessage(conn, userID, auctionID, msg)
		case "ping":
			conn.Send(map[string]string{"type": "pong"})
		default:
			conn.Send(map[string]string{"type": "error", "message": "unknown message type"})
		}
	}
}

func (h *WebSocketHandler) handleBidMessage(conn *WebSocketConnection, userID, auctionID string, msg inboundMessage) {
	amount, err := decimal.NewFromString(msg.Amount)
	if err != nil {
		conn.Send(map[string]string{"type": "error", "message": "invalid amount format"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := h.bidService.PlaceBid(ctx, domain.BidRequest{
		AuctionID:      auctionID,
		BidderID:       userID,
		Amount:         amount,
		IdempotencyKey: msg.IdempotencyKey,
	})
	if errors.Is(err, domain.ErrIdempotencyConflict) {
		conn.Send(map[string]string{"type": "error", "message": "idempotency key already used for a different bid"})
		return
	}
	if err != nil {
		h.log.Error("Failed to place bid", "error", err)
		conn.Send(map[string]string{"type": "error", "message": "failed to place bid"})
		return
	}

	conn.Send(bidResultMessage(result))
}

func bidResultMessage(result *domain.BidResult) map[string]interface{} {
	msg := map[string]interface{}{
		"type":     "bid_result",
		"accepted": result.Accepted,
	}
	if result.Reason != domain.ReasonNone {
		msg["reason"] = result.Reason
	}
	if result.CommittedBid != nil {
		msg["bid"] = result.CommittedBid
	}
	if result.NewEndTime != nil {
		msg["end_time"] = result.NewEndTime
		msg["extended"] = result.Extended
	}
	if result.MinNextBid != nil {
		msg["min_next_bid"] = result.MinNextBid.String()
	}
	if result.RequiredDeposit != nil {
		msg["required_deposit"] = result.RequiredDeposit.String()
	}
	return msg
}

type WebSocketConnection struct {
	conn      *websocket.Conn
	userID    string
	auctionID string
	log       logger.Logger
	writeMu   sync.Mutex
}

func NewWebSocketConnection(conn *websocket.Conn, userID, auctionID string, log logger.Logger) *WebSocketConnection {
	return &WebSocketConnection{
		conn:      conn,
		userID:    userID,
		auctionID: auctionID,
		log:       log,
	}
}

// Send may be called from the read loop and the event listener at once;
// gorilla connections allow a single concurrent writer.
func (wsc *WebSocketConnection) Send(message interface{}) error {
	wsc.writeMu.Lock()
	defer wsc.writeMu.Unlock()
	return wsc.conn.WriteJSON(message)
}

func (wsc *WebSocketConnection) Close() error {
	return wsc.conn.Close()
}

func (wsc *WebSocketConnection) UserID() string {
	return wsc.userID
}

func (wsc *WebSocketConnection) AuctionID() string {
	return wsc.auctionID
}
