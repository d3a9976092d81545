package handlers

import (
	"net/http"

	"material-exchange/internal/domain"
	"material-exchange/internal/infrastructure/websocket"
	"material-exchange/internal/services"
	"material-exchange/pkg/logger"

	"github.com/gorilla/mux"
)

type WebSocketHandlers struct {
	wsHandler *websocket.WebSocketHandler
}

func NewWebSocketHandlers(bidService *services.BidService, auctionMgr *services.AuctionManager,
	connManager domain.ConnectionManager, log logger.Logger) *WebSocketHandlers {
	return &WebSocketHandlers{
		wsHandler: websocket.NewWebSocketHandler(bidService, auctionMgr, connManager, log),
	}
}

func (h *WebSocketHandlers) HandleConnection(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleConnection(w, r)
}

// Register mounts the websocket endpoint on the bidding-service router.
func (h *WebSocketHandlers) Register(r *mux.Router) {
	r.HandleFunc("/ws/auctions/{auctionID}", h.HandleConnection)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
}
