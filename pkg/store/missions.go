package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/skyhound/recongraph/pkg/models"
)

// MissionStore persists mission rows: lifecycle, worker claims, heartbeats,
// and reports.
type MissionStore struct {
	db *sql.DB
}

// NewMissionStore creates a mission store over an open database pool.
func NewMissionStore(db *sql.DB) *MissionStore {
	return &MissionStore{db: db}
}

const missionColumns = `id, target, scope, mode, status, phase, error_code, error_stage, error_message,
	claimed_by, last_heartbeat, report, created_at, started_at, completed_at`

func scanMission(row interface{ Scan(dest ...any) error }) (*models.Mission, error) {
	var (
		m         models.Mission
		scopeRaw  []byte
		reportRaw []byte
	)
	err := row.Scan(&m.ID, &m.Target, &scopeRaw, &m.Mode, &m.Status, &m.Phase,
		&m.ErrorCode, &m.ErrorStage, &m.ErrorMessage,
		&m.ClaimedBy, &m.LastHeartbeat, &reportRaw,
		&m.CreatedAt, &m.StartedAt, &m.CompletedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(scopeRaw, &m.Scope); err != nil {
		return nil, fmt.Errorf("failed to decode mission scope: %w", err)
	}
	if reportRaw != nil {
		m.Report = &models.Report{}
		if err := json.Unmarshal(reportRaw, m.Report); err != nil {
			return nil, fmt.Errorf("failed to decode mission report: %w", err)
		}
	}
	return &m, nil
}

// Create inserts a new mission in QUEUED state.
func (s *MissionStore) Create(ctx context.Context, m *models.Mission) error {
	scopeRaw, err := json.Marshal(m.Scope)
	if err != nil {
		return fmt.Errorf("failed to encode scope: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO missions (id, target, scope, mode, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		m.ID, m.Target, scopeRaw, m.Mode, models.StatusQueued).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert mission: %w", err)
	}
	m.Status = models.StatusQueued
	return nil
}

// Get returns one mission by id.
func (s *MissionStore) Get(ctx context.Context, id string) (*models.Mission, error) {
	m, err := scanMission(s.db.QueryRowContext(ctx,
		`SELECT `+missionColumns+` FROM missions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mission: %w", err)
	}
	return m, nil
}

// List returns missions ordered newest first, optionally filtered by status.
func (s *MissionStore) List(ctx context.Context, status string, limit, offset int) ([]*models.Mission, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + missionColumns + ` FROM missions`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list missions: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Mission, 0)
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ClaimNext atomically claims the oldest QUEUED mission for a worker using
// FOR UPDATE SKIP LOCKED, so concurrent workers never claim the same row.
// maxConcurrent bounds RUNNING missions globally. Returns nil when nothing
// is claimable.
func (s *MissionStore) ClaimNext(ctx context.Context, workerID string, maxConcurrent int) (*models.Mission, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var running int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM missions WHERE status = $1`, models.StatusRunning).Scan(&running); err != nil {
		return nil, fmt.Errorf("failed to count running missions: %w", err)
	}
	if running >= maxConcurrent {
		return nil, nil
	}

	row := tx.QueryRowContext(ctx, `
		SELECT `+missionColumns+`
		FROM missions
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, models.StatusQueued)
	m, err := scanMission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select queued mission: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE missions
		SET status = $1, claimed_by = $2, last_heartbeat = $3, started_at = $3
		WHERE id = $4`,
		models.StatusRunning, workerID, now, m.ID); err != nil {
		return nil, fmt.Errorf("failed to claim mission: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	m.Status = models.StatusRunning
	m.ClaimedBy = &workerID
	m.LastHeartbeat = &now
	m.StartedAt = &now
	return m, nil
}

// Heartbeat refreshes a worker's claim on a running mission.
func (s *MissionStore) Heartbeat(ctx context.Context, missionID, workerID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE missions SET last_heartbeat = now()
		WHERE id = $1 AND claimed_by = $2 AND status = $3`,
		missionID, workerID, models.StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to heartbeat: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrMissionNotFound
	}
	return nil
}

// SetPhase records the mission's current pipeline phase.
func (s *MissionStore) SetPhase(ctx context.Context, missionID, phase string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE missions SET phase = $1 WHERE id = $2`, phase, missionID)
	if err != nil {
		return fmt.Errorf("failed to set phase: %w", err)
	}
	return nil
}

// ErrInvalidTransition is returned when a status update violates the
// mission state machine.
var ErrInvalidTransition = errors.New("invalid mission status transition")

// UpdateStatus transitions a mission's status, enforcing the state machine.
// Terminal transitions also stamp completed_at.
func (s *MissionStore) UpdateStatus(ctx context.Context, missionID, status string) error {
	m, err := s.Get(ctx, missionID)
	if err != nil {
		return err
	}
	if !models.ValidStatusTransition(m.Status, status) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, m.Status, status)
	}

	if models.TerminalStatus(status) {
		_, err = s.db.ExecContext(ctx, `
			UPDATE missions SET status = $1, completed_at = now(), claimed_by = NULL
			WHERE id = $2`, status, missionID)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE missions SET status = $1 WHERE id = $2`, status, missionID)
	}
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

// MarkFailed transitions a mission to FAILED with its fault context.
func (s *MissionStore) MarkFailed(ctx context.Context, missionID, code, stage, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE missions
		SET status = $1, error_code = $2, error_stage = $3, error_message = $4,
		    completed_at = now(), claimed_by = NULL
		WHERE id = $5 AND status = $6`,
		models.StatusFailed, code, stage, message, missionID, models.StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark mission failed: %w", err)
	}
	return nil
}

// SaveReport persists the final report for a mission.
func (s *MissionStore) SaveReport(ctx context.Context, missionID string, report *models.Report) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE missions SET report = $1 WHERE id = $2`, raw, missionID)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// Delete removes a mission and all dependent rows (nodes, edges, logs, and
// layouts cascade).
func (s *MissionStore) Delete(ctx context.Context, missionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM missions WHERE id = $1`, missionID)
	if err != nil {
		return fmt.Errorf("failed to delete mission: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrMissionNotFound
	}
	return nil
}

// DeleteAll removes every mission; child rows (nodes, edges, logs, layouts)
// go with them via FK cascade. Returns the ids of the deleted missions so
// callers can evict caches and close streams.
func (s *MissionStore) DeleteAll(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `DELETE FROM missions RETURNING id`)
	if err != nil {
		return nil, fmt.Errorf("failed to clear missions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RequeueOrphans returns RUNNING missions whose heartbeat is older than
// threshold to the queue, clearing the stale claim. Returns the ids of the
// requeued missions.
func (s *MissionStore) RequeueOrphans(ctx context.Context, threshold time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	rows, err := s.db.QueryContext(ctx, `
		UPDATE missions
		SET status = $1, claimed_by = NULL, last_heartbeat = NULL
		WHERE status = $2 AND (last_heartbeat IS NULL OR last_heartbeat < $3)
		RETURNING id`,
		models.StatusQueued, models.StatusRunning, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to requeue orphans: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteOlderThan removes terminal missions past the retention window and
// returns how many were deleted.
func (s *MissionStore) DeleteOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM missions
		WHERE status IN ($1, $2, $3) AND completed_at < $4`,
		models.StatusCompleted, models.StatusFailed, models.StatusCancelled, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old missions: %w", err)
	}
	return res.RowsAffected()
}
