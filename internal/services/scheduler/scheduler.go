// Package scheduler runs the admin service's recurring maintenance: push
// channel replacement ahead of expiry, and housekeeping.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/handlers"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
)

// Service owns the admin cron entries.
type Service struct {
	config       *common.Config
	storage      interfaces.StorageManager
	watch        *handlers.WatchHandler
	housekeeping *handlers.HousekeepingHandler
	cron         *cron.Cron
	logger       arbor.ILogger
	running      bool
}

// NewService creates the scheduler service.
func NewService(config *common.Config, storage interfaces.StorageManager, watch *handlers.WatchHandler, housekeeping *handlers.HousekeepingHandler, logger arbor.ILogger) *Service {
	return &Service{
		config:       config,
		storage:      storage,
		watch:        watch,
		housekeeping: housekeeping,
		cron:         cron.New(),
		logger:       logger,
	}
}

// Start registers the cron entries and begins scheduling.
func (s *Service) Start() error {
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.config.Scheduler.WatchReplaceSchedule, s.replaceExpiringChannels); err != nil {
		return fmt.Errorf("failed to register watch replace job: %w", err)
	}
	if _, err := s.cron.AddFunc(s.config.Scheduler.HousekeepingSchedule, s.runHousekeeping); err != nil {
		return fmt.Errorf("failed to register housekeeping job: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info().
		Str("watch_replace", s.config.Scheduler.WatchReplaceSchedule).
		Str("housekeeping", s.config.Scheduler.HousekeepingSchedule).
		Msg("Scheduler started")
	return nil
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Service) Stop() {
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info().Msg("Scheduler stopped")
}

// replaceExpiringChannels replaces every active channel expiring within the
// configured window. Channels never auto-renew; this is the only renewal path.
func (s *Service) replaceExpiringChannels() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	window := 48 * time.Hour
	if parsed, err := time.ParseDuration(s.config.Scheduler.ReplaceWindow); err == nil && parsed > 0 {
		window = parsed
	}
	deadline := time.Now().Add(window)

	tenantID := s.config.Tenant.ID
	expiring, err := s.storage.Channels().ListExpiring(ctx, tenantID, deadline)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list expiring channels")
		return
	}
	if len(expiring) == 0 {
		s.logger.Debug().Msg("No channels due for replacement")
		return
	}

	for _, channel := range expiring {
		newChannel, _, err := s.watch.ReplaceChannel(ctx, tenantID, channel.CalendarID)
		if err != nil {
			s.logger.Error().
				Err(err).
				Str("channel_id", channel.ChannelID).
				Str("calendar_id", channel.CalendarID).
				Msg("Scheduled channel replacement failed")
			continue
		}
		s.logger.Info().
			Str("old_channel_id", channel.ChannelID).
			Str("new_channel_id", newChannel.ChannelID).
			Msg("Channel replaced ahead of expiry")
	}
}

// runHousekeeping executes one housekeeping pass.
func (s *Service) runHousekeeping() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := s.housekeeping.Run(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Scheduled housekeeping failed")
	}
}
