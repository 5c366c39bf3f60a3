package config

import "time"

// QueueConfig contains queue and worker pool configuration.
// These values control how missions are polled, claimed, and processed.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica.
	// Each worker independently polls and claims queued missions.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentMissions is the global limit of missions being processed
	// across ALL replicas. Enforced by a database COUNT(*) check at claim time.
	MaxConcurrentMissions int `yaml:"max_concurrent_missions"`

	// PollInterval is the base interval for checking queued missions.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// MissionTimeout is the maximum wall-clock time a mission may run.
	MissionTimeout time.Duration `yaml:"mission_timeout"`

	// GracefulShutdownTimeout is the max time to wait for active missions
	// to finish during shutdown. Should match MissionTimeout.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// OrphanDetectionInterval is how often to scan for orphaned missions.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how long a mission can go without a heartbeat
	// before it is considered orphaned and re-queued.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`

	// HeartbeatInterval is how often a worker refreshes its claim.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		MaxConcurrentMissions:   5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		MissionTimeout:          30 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Minute,
		OrphanDetectionInterval: 5 * time.Minute,
		OrphanThreshold:         5 * time.Minute,
		HeartbeatInterval:       30 * time.Second,
	}
}
