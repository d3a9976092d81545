package websocket

import (
	"encoding/json"
	"sync"

	"material-exchange/internal/domain"
	"material-exchange/pkg/logger"
)

// room holds the live sockets watching one auction, one per bidder.
type room map[string]domain.WebSocketConnection

// ConnectionManager tracks auction rooms and, for outbid delivery, the
// auctions each bidder is watching on this instance.
type ConnectionManager struct {
	mutex    sync.RWMutex
	rooms    map[string]room                // auctionID -> room
	watching map[string]map[string]struct{} // userID -> auctionIDs
	log      logger.Logger
}

func NewConnectionManager(log logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		rooms:    make(map[string]room),
		watching: make(map[string]map[string]struct{}),
		log:      log,
	}
}

func (cm *ConnectionManager) RegisterConnection(userID, auctionID string, conn domain.WebSocketConnection) error {
	cm.mutex.Lock()
	r, ok := cm.rooms[auctionID]
	if !ok {
		r = make(room)
		cm.rooms[auctionID] = r
	}
	previous := r[userID]
	r[userID] = conn
	if cm.watching[userID] == nil {
		cm.watching[userID] = make(map[string]struct{})
	}
	cm.watching[userID][auctionID] = struct{}{}
	size := len(r)
	cm.mutex.Unlock()

	// A bidder reconnecting to the same auction replaces the old socket.
	if previous != nil && previous != conn {
		previous.Close()
	}

	cm.log.Info("Bidder joined auction room", "user_id", userID, "auction_id", auctionID, "room_size", size)
	return nil
}

func (cm *ConnectionManager) UnregisterConnection(userID, auctionID string) error {
	cm.mutex.Lock()
	cm.leave(userID, auctionID)
	cm.mutex.Unlock()

	cm.log.Info("Bidder left auction room", "user_id", userID, "auction_id", auctionID)
	return nil
}

// leave requires cm.mutex to be held.
func (cm *ConnectionManager) leave(userID, auctionID string) {
	if r, ok := cm.rooms[auctionID]; ok {
		delete(r, userID)
		if len(r) == 0 {
			delete(cm.rooms, auctionID)
		}
	}
	if auctions, ok := cm.watching[userID]; ok {
		delete(auctions, auctionID)
		if len(auctions) == 0 {
			delete(cm.watching, userID)
		}
	}
}

// CloseAndUnregisterConnections empties an auction room once it has ended.
func (cm *ConnectionManager) CloseAndUnregisterConnections(auctionID string) error {
	cm.mutex.Lock()
	members := make(room, len(cm.rooms[auctionID]))
	for userID, conn := range cm.rooms[auctionID] {
		members[userID] = conn
		cm.leave(userID, auctionID)
	}
	cm.mutex.Unlock()

	for userID, conn := range members {
		if err := conn.Close(); err != nil {
			cm.log.Warn("Failed to close bidder socket", "user_id", userID, "auction_id", auctionID, "error", err)
		}
	}

	cm.log.Info("Auction room closed", "auction_id", auctionID, "bidders", len(members))
	return nil
}

func (cm *ConnectionManager) GetConnectionsForAuction(auctionID string) []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	conns := make([]domain.WebSocketConnection, 0, len(cm.rooms[auctionID]))
	for _, conn := range cm.rooms[auctionID] {
		conns = append(conns, conn)
	}
	return conns
}

func (cm *ConnectionManager) GetConnectionsForUser(userID string) []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	var conns []domain.WebSocketConnection
	for auctionID := range cm.watching[userID] {
		if conn, ok := cm.rooms[auctionID][userID]; ok {
			conns = append(conns, conn)
		}
	}
	return conns
}

// BroadcastToAuction sends bid_update, auction_extended and auction_ended
// frames to every bidder in the room.
func (cm *ConnectionManager) BroadcastToAuction(auctionID string, message interface{}) error {
	frame, err := json.Marshal(message)
	if err != nil {
		return err
	}
	conns := cm.GetConnectionsForAuction(auctionID)
	cm.log.Debug("Broadcasting auction update", "auction_id", auctionID, "bidders", len(conns))
	cm.deliver(conns, frame)
	return nil
}

// NotifyUser sends a frame, typically an outbid notice, to every room the
// bidder is watching on this instance.
func (cm *ConnectionManager) NotifyUser(userID string, message interface{}) error {
	frame, err := json.Marshal(message)
	if err != nil {
		return err
	}
	conns := cm.GetConnectionsForUser(userID)
	if len(conns) == 0 {
		cm.log.Debug("Bidder not connected to this instance", "user_id", userID)
		return nil
	}
	cm.deliver(conns, frame)
	return nil
}

// deliver writes a pre-encoded frame and evicts sockets whose write fails.
func (cm *ConnectionManager) deliver(conns []domain.WebSocketConnection, frame []byte) {
	for _, conn := range conns {
		if err := conn.Send(json.RawMessage(frame)); err != nil {
			cm.log.Warn("Dropping bidder socket after failed send", "user_id", conn.UserID(),
				"auction_id", conn.AuctionID(), "error", err)
			cm.evict(conn)
		}
	}
}

func (cm *ConnectionManager) evict(conn domain.WebSocketConnection) {
	cm.mutex.Lock()
	if current, ok := cm.rooms[conn.AuctionID()][conn.UserID()]; ok && current == conn {
		cm.leave(conn.UserID(), conn.AuctionID())
	}
	cm.mutex.Unlock()
	conn.Close()
}
