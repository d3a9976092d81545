package app

import (
	"context"
	"database/sql"
	"fmt"

	"material-exchange/internal/config"
	"material-exchange/internal/domain"
	"material-exchange/internal/infrastructure/lock"
	"material-exchange/internal/infrastructure/memory"
	"material-exchange/internal/infrastructure/mysql"
	redisinfra "material-exchange/internal/infrastructure/redis"
	"material-exchange/internal/services"
	"material-exchange/pkg/clock"
	"material-exchange/pkg/logger"
	"material-exchange/pkg/utils"

	"github.com/go-redis/redis/v8"
)

// Core is the bidding core shared by the auction and bidding services.
type Core struct {
	Redis          *redis.Client
	DB             *sql.DB
	Store          domain.AuctionStore
	Publisher      *redisinfra.EventPublisherImpl
	Subscriber     *redisinfra.RedisEventSubscriber
	BidService     *services.BidService
	AuctionManager *services.AuctionManager
}

// NewCore connects to Redis and, for the mysql driver, MySQL, and wires the
// bidding core. sink receives outbid notifications; nil publishes them on
// the Redis event bus.
func NewCore(ctx context.Context, cfg *config.Config, sink domain.NotificationSink, log logger.Logger) (*Core, error) {
	settings, err := cfg.Settings.ToDomain()
	if err != nil {
		return nil, err
	}

	rdb, err := utils.InitializeRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("Connected to Redis", "address", cfg.Redis.Address)

	core := &Core{Redis: rdb}

	switch cfg.Store.Driver {
	case "mysql":
		db, err := utils.InitializeMysql(ctx, cfg)
		if err != nil {
			rdb.Close()
			return nil, err
		}
		if err := mysql.Migrate(ctx, db); err != nil {
			db.Close()
			rdb.Close()
			return nil, err
		}
		log.Info("Connected to MySQL")
		core.DB = db
		core.Store = mysql.NewMySQLAuctionStore(db)
	case "memory":
		log.Warn("Using in-memory auction store; state is lost on restart")
		core.Store = memory.NewAuctionStore()
	default:
		rdb.Close()
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	var locker domain.AuctionLocker
	switch cfg.Bidding.Lock {
	case "local":
		locker = lock.NewKeyedMutex(cfg.Bidding.LockTimeout)
	default:
		locker = redisinfra.NewAuctionLock(rdb, cfg.Bidding.LockTimeout, cfg.Bidding.LockLease, log)
	}

	core.Publisher = redisinfra.NewEventPublisher(rdb)
	core.Subscriber = redisinfra.NewRedisEventSubscriber(rdb, log)
	if sink == nil {
		sink = core.Publisher
	}

	settingsProvider := redisinfra.NewSettingsProvider(rdb, settings)
	clk := clock.NewRealClock()

	core.BidService = services.NewBidService(
		core.Store,
		locker,
		settingsProvider,
		redisinfra.NewDepositLedger(rdb),
		redisinfra.NewIdempotencyStore(rdb, cfg.Bidding.IdempotencyTTL),
		services.NewOutbidNotifier(sink, log),
		core.Publisher,
		clk,
		cfg.Bidding.NotifyTimeout,
		log,
	)
	core.AuctionManager = services.NewAuctionManager(core.Store, settingsProvider, core.Publisher, clk, log)

	return core, nil
}

func (c *Core) Close() error {
	var firstErr error
	if c.DB != nil {
		firstErr = c.DB.Close()
	}
	if err := c.Redis.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
