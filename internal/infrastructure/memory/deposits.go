package memory

import (
	"context"
	"sync"

	"material-exchange/internal/domain"
)

// DepositBook is an in-memory stand-in for the payments collaborator.
type DepositBook struct {
	mu       sync.RWMutex
	statuses map[string]domain.DepositStatus
}

func NewDepositBook() *DepositBook {
	return &DepositBook{statuses: make(map[string]domain.DepositStatus)}
}

func (d *DepositBook) Set(auctionID, bidderID string, status domain.DepositStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses[auctionID+"/"+bidderID] = status
}

func (d *DepositBook) DepositStatus(ctx context.Context, auctionID, bidderID string) (domain.DepositStatus, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if status, ok := d.statuses[auctionID+"/"+bidderID]; ok {
		return status, nil
	}
	return domain.DepositNone, nil
}
