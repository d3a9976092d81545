package memory

import (
	"context"
	"sync"

	"material-exchange/internal/domain"
)

// SettingsProvider holds a mutable settings value. Update may be called at
// any time, which is how tests model an administrator changing settings
// between two bids.
type SettingsProvider struct {
	mu       sync.RWMutex
	settings domain.Settings
}

func NewSettingsProvider(settings domain.Settings) *SettingsProvider {
	return &SettingsProvider{settings: settings}
}

func (p *SettingsProvider) Current(ctx context.Context) (domain.Settings, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings, nil
}

func (p *SettingsProvider) Update(settings domain.Settings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings = settings
}
