package config

import "time"

// RetentionConfig controls the background cleanup of finished missions and
// their durable event logs.
type RetentionConfig struct {
	// MissionRetentionDays is how long finished missions are kept.
	MissionRetentionDays int `yaml:"mission_retention_days"`

	// EventTTL is how long durable event log rows are kept.
	EventTTL time.Duration `yaml:"event_ttl"`

	// CleanupInterval is how often the cleanup pass runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		MissionRetentionDays: 90,
		EventTTL:             24 * time.Hour,
		CleanupInterval:      1 * time.Hour,
	}
}
