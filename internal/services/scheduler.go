package services

import (
	"context"

	"material-exchange/internal/domain"
	"material-exchange/pkg/logger"

	"github.com/robfig/cron/v3"
)

// CronAuctionScheduler runs the closing sweep on one instance at a time.
type CronAuctionScheduler struct {
	cron           *cron.Cron
	spec           string
	auctionMgr     *AuctionManager
	leaderElection domain.LeaderElection
	instanceID     string
	log            logger.Logger
}

func NewCronAuctionScheduler(spec string, auctionMgr *AuctionManager, leaderElection domain.LeaderElection,
	instanceID string, log logger.Logger) *CronAuctionScheduler {
	return &CronAuctionScheduler{
		cron:           cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		spec:           spec,
		auctionMgr:     auctionMgr,
		leaderElection: leaderElection,
		instanceID:     instanceID,
		log:            log,
	}
}

func (s *CronAuctionScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting auction scheduler", "spec", s.spec)

	_, err := s.cron.AddFunc(s.spec, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *CronAuctionScheduler) Stop(ctx context.Context) error {
	s.log.Info("Stopping auction scheduler")
	<-s.cron.Stop().Done()

	if s.leaderElection != nil {
		return s.leaderElection.ReleaseLeadership(ctx, s.instanceID)
	}
	return nil
}

// Sweep announces ended auctions if this instance holds leadership.
func (s *CronAuctionScheduler) Sweep(ctx context.Context) {
	if !s.isLeader(ctx) {
		return
	}

	count, err := s.auctionMgr.AnnounceClosed(ctx)
	if err != nil {
		s.log.Error("Closing sweep failed", "error", err)
		return
	}
	if count > 0 {
		s.log.Info("Closing sweep finished", "announced", count)
	}
}

func (s *CronAuctionScheduler) isLeader(ctx context.Context) bool {
	if s.leaderElection == nil {
		return true
	}

	leader, err := s.leaderElection.IsLeader(ctx, s.instanceID)
	if err != nil {
		s.log.Error("Failed to check leadership", "error", err)
		return false
	}
	if leader {
		return true
	}

	leader, err = s.leaderElection.BecomeLeader(ctx, s.instanceID)
	if err != nil {
		s.log.Error("Failed to acquire leadership", "error", err)
		return false
	}
	return leader
}
