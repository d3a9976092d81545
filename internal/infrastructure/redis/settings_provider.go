package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"material-exchange/internal/domain"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const settingsKey = "bidding_settings"

type settingsDocument struct {
	SoftCloseSeconds  int64           `json:"soft_close_seconds"`
	IncrementStrategy string          `json:"increment_strategy"`
	FixedIncrement    decimal.Decimal `json:"fixed_increment"`
	IncrementPercent  decimal.Decimal `json:"increment_percent"`
	DepositRequired   bool            `json:"deposit_required"`
	DepositPercent    decimal.Decimal `json:"deposit_percent"`
	MinorUnits        int32           `json:"minor_units"`
}

func toDocument(s domain.Settings) settingsDocument {
	return settingsDocument{
		SoftCloseSeconds:  int64(s.SoftClose / time.Second),
		IncrementStrategy: string(s.IncrementStrategy),
		FixedIncrement:    s.FixedIncrement,
		IncrementPercent:  s.IncrementPercent,
		DepositRequired:   s.DepositRequired,
		DepositPercent:    s.DepositPercent,
		MinorUnits:        s.MinorUnits,
	}
}

func (d settingsDocument) toDomain() (domain.Settings, error) {
	settings := domain.Settings{
		SoftClose:         time.Duration(d.SoftCloseSeconds) * time.Second,
		IncrementStrategy: domain.IncrementStrategy(d.IncrementStrategy),
		FixedIncrement:    d.FixedIncrement,
		IncrementPercent:  d.IncrementPercent,
		DepositRequired:   d.DepositRequired,
		DepositPercent:    d.DepositPercent,
		MinorUnits:        d.MinorUnits,
	}
	if err := settings.Check(); err != nil {
		return domain.Settings{}, fmt.Errorf("%s: %w", settingsKey, err)
	}
	return settings, nil
}

// SettingsProvider reads the shared bidding settings document on every call,
// so an administrator's change applies to the very next bid.
type SettingsProvider struct {
	client   *redis.Client
	defaults domain.Settings
}

func NewSettingsProvider(client *redis.Client, defaults domain.Settings) *SettingsProvider {
	return &SettingsProvider{
		client:   client,
		defaults: defaults,
	}
}

func (p *SettingsProvider) Current(ctx context.Context) (domain.Settings, error) {
	data, err := p.client.Get(ctx, settingsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Seed the configured defaults without overwriting a concurrent writer.
			if err := p.seed(ctx); err != nil {
				return domain.Settings{}, err
			}
			return p.defaults, nil
		}
		return domain.Settings{}, fmt.Errorf("read %s: %w", settingsKey, err)
	}

	var doc settingsDocument
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return domain.Settings{}, fmt.Errorf("decode %s: %w", settingsKey, err)
	}
	return doc.toDomain()
}

// Update replaces the stored settings.
func (p *SettingsProvider) Update(ctx context.Context, settings domain.Settings) error {
	if err := settings.Check(); err != nil {
		return err
	}
	data, err := json.Marshal(toDocument(settings))
	if err != nil {
		return err
	}
	return p.client.Set(ctx, settingsKey, string(data), 0).Err()
}

func (p *SettingsProvider) seed(ctx context.Context) error {
	data, err := json.Marshal(toDocument(p.defaults))
	if err != nil {
		return err
	}
	return p.client.SetNX(ctx, settingsKey, string(data), 0).Err()
}
