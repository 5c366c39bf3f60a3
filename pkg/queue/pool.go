// Package queue implements the mission worker pool: workers poll the
// database queue with jitter, claim missions atomically, heartbeat their
// claims, and hand execution to the orchestrator. A reaper returns orphaned
// missions (dead worker, stale heartbeat) to the queue.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skyhound/recongraph/pkg/config"
	"github.com/skyhound/recongraph/pkg/models"
)

// MissionExecutor runs one claimed mission to a terminal state.
type MissionExecutor interface {
	Execute(ctx context.Context, m *models.Mission) error
}

// MissionQueue is the claim surface the pool needs from the mission store.
type MissionQueue interface {
	ClaimNext(ctx context.Context, workerID string, maxConcurrent int) (*models.Mission, error)
	Heartbeat(ctx context.Context, missionID, workerID string) error
	RequeueOrphans(ctx context.Context, threshold time.Duration) ([]string, error)
}

// Pool is the per-replica worker pool.
type Pool struct {
	missions MissionQueue
	executor MissionExecutor
	cfg      *config.QueueConfig
	workerID string

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	active        int
	claimFailures int
	lastClaimErr  string
}

// PoolHealth is a point-in-time view of the pool for health reporting.
type PoolHealth struct {
	IsHealthy      bool   `json:"is_healthy"`
	WorkerID       string `json:"worker_id"`
	Workers        int    `json:"workers"`
	ActiveMissions int    `json:"active_missions"`
	MaxConcurrent  int    `json:"max_concurrent"`
	DBError        string `json:"db_error,omitempty"`
}

// NewPool creates a worker pool. The worker id is stable for the process
// lifetime and identifies this replica's claims.
func NewPool(missions MissionQueue, executor MissionExecutor, cfg *config.QueueConfig) *Pool {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}
	return &Pool{
		missions: missions,
		executor: executor,
		cfg:      cfg,
		workerID: fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
	}
}

// WorkerID returns the pool's claim identity.
func (p *Pool) WorkerID() string { return p.workerID }

// Health reports whether workers can still reach the queue. Three claim
// failures in a row marks the pool unhealthy until a claim succeeds.
func (p *Pool) Health() *PoolHealth {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &PoolHealth{
		IsHealthy:      p.claimFailures < 3,
		WorkerID:       p.workerID,
		Workers:        p.cfg.WorkerCount,
		ActiveMissions: p.active,
		MaxConcurrent:  p.cfg.MaxConcurrentMissions,
		DBError:        p.lastClaimErr,
	}
}

// Start launches the workers and the orphan reaper. Non-blocking.
func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.workerLoop(runCtx, i)
	}
	p.wg.Add(1)
	go p.reaperLoop(runCtx)

	slog.Info("Worker pool started",
		"worker_id", p.workerID,
		"workers", p.cfg.WorkerCount,
		"max_concurrent", p.cfg.MaxConcurrentMissions)
}

// Stop cancels polling and waits for in-flight missions up to the graceful
// shutdown timeout. Missions still running after that are abandoned; their
// stale heartbeats get them requeued by another replica's reaper.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped")
	case <-time.After(p.cfg.GracefulShutdownTimeout):
		slog.Warn("Worker pool shutdown timed out; abandoning in-flight missions")
	}
}

// workerLoop polls for claimable missions with jittered intervals so
// replicas do not thundering-herd the queue.
func (p *Pool) workerLoop(ctx context.Context, n int) {
	defer p.wg.Done()
	log := slog.With("worker_id", p.workerID, "worker", n)

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.pollInterval()):
		}

		m, err := p.missions.ClaimNext(ctx, p.workerID, p.cfg.MaxConcurrentMissions)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("Failed to claim mission", "error", err)
				p.recordClaimError(err)
			}
			continue
		}
		p.recordClaimError(nil)
		if m == nil {
			continue
		}
		p.runMission(ctx, log, m)
	}
}

func (p *Pool) recordClaimError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		p.claimFailures = 0
		p.lastClaimErr = ""
		return
	}
	p.claimFailures++
	p.lastClaimErr = err.Error()
}

func (p *Pool) pollInterval() time.Duration {
	interval := p.cfg.PollInterval
	if jitter := p.cfg.PollIntervalJitter; jitter > 0 {
		interval += time.Duration(rand.Int63n(int64(2*jitter))) - jitter
	}
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	return interval
}

// runMission executes one claimed mission under the mission deadline, with
// a heartbeat keeping the claim fresh. A rejected heartbeat means the claim
// was lost (API cancel, orphan requeue, delete); the run is aborted so the
// cancellation lands within one heartbeat interval.
func (p *Pool) runMission(ctx context.Context, log *slog.Logger, m *models.Mission) {
	log = log.With("mission_id", m.ID, "target", m.Target)
	log.Info("Claimed mission")

	p.mu.Lock()
	p.active++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	missionCtx, cancel := context.WithTimeout(ctx, p.cfg.MissionTimeout)
	defer cancel()

	hbDone := make(chan struct{})
	go p.heartbeatLoop(missionCtx, cancel, m.ID, hbDone)

	err := p.executor.Execute(missionCtx, m)
	close(hbDone)
	if err != nil {
		log.Error("Mission execution failed", "error", err)
		return
	}
	log.Info("Mission execution finished")
}

func (p *Pool) heartbeatLoop(ctx context.Context, abort context.CancelFunc, missionID string, done <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.missions.Heartbeat(ctx, missionID, p.workerID); err != nil {
				slog.Warn("Heartbeat rejected; aborting mission run",
					"mission_id", missionID, "error", err)
				abort()
				return
			}
		}
	}
}

// reaperLoop periodically requeues missions whose worker stopped
// heartbeating.
func (p *Pool) reaperLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := p.missions.RequeueOrphans(ctx, p.cfg.OrphanThreshold)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("Orphan scan failed", "error", err)
				}
				continue
			}
			if len(ids) > 0 {
				slog.Warn("Requeued orphaned missions", "mission_ids", ids)
			}
		}
	}
}
