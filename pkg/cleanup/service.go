// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/skyhound/recongraph/pkg/config"
	"github.com/skyhound/recongraph/pkg/store"
)

// Service periodically enforces retention policies:
//   - Removes terminal missions past the retention window
//   - Removes durable event rows past their TTL
//
// All operations are idempotent and safe to run from multiple replicas.
type Service struct {
	config   *config.RetentionConfig
	missions *store.MissionStore
	logs     *store.LogStore

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, missions *store.MissionStore, logs *store.LogStore) *Service {
	return &Service{
		config:   cfg,
		missions: missions,
		logs:     logs,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"mission_retention_days", s.config.MissionRetentionDays,
		"event_ttl", s.config.EventTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.purgeOldMissions(ctx)
	s.purgeExpiredEvents(ctx)
}

func (s *Service) purgeOldMissions(_ context.Context) {
	count, err := s.missions.DeleteOlderThan(context.Background(), s.config.MissionRetentionDays)
	if err != nil {
		slog.Error("Retention: mission purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged old missions", "count", count)
	}
}

func (s *Service) purgeExpiredEvents(_ context.Context) {
	count, err := s.logs.DeleteExpired(context.Background(), s.config.EventTTL)
	if err != nil {
		slog.Error("Retention: event cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: cleaned up expired events", "count", count)
	}
}
