package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/skyhound/recongraph/pkg/models"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// Service delivers mission notifications. It satisfies the orchestrator's
// Notifier interface.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger

	mu      sync.Mutex
	threads map[string]string // mission id -> thread ts of the start message
}

// NewService creates a new notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return NewServiceWithClient(NewClient(cfg.Token, cfg.Channel), cfg.DashboardURL)
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "notify"),
		threads:      make(map[string]string),
	}
}

// MissionStarted announces that a mission began running. The message
// timestamp is cached so terminal notifications thread under it.
// Fail-open: errors are logged, never returned.
func (s *Service) MissionStarted(ctx context.Context, m *models.Mission) {
	if s == nil {
		return
	}

	blocks := BuildStartedMessage(m, s.dashboardURL)
	ts, err := s.client.PostMessage(ctx, blocks, "", 5*time.Second)
	if err != nil {
		s.logger.Error("Failed to send mission start notification",
			"mission_id", m.ID,
			"error", err)
		return
	}

	s.mu.Lock()
	s.threads[m.ID] = ts
	s.mu.Unlock()
}

// MissionFinished announces a terminal mission status, threaded under the
// start message when one was delivered.
// Fail-open: errors are logged, never returned.
func (s *Service) MissionFinished(ctx context.Context, m *models.Mission, status string) {
	if s == nil {
		return
	}

	s.mu.Lock()
	threadTS := s.threads[m.ID]
	delete(s.threads, m.ID)
	s.mu.Unlock()

	blocks := BuildFinishedMessage(m, status, s.dashboardURL)
	if _, err := s.client.PostMessage(ctx, blocks, threadTS, 10*time.Second); err != nil {
		s.logger.Error("Failed to send mission notification",
			"mission_id", m.ID,
			"status", status,
			"error", err)
	}
}
