package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/skyhound/recongraph/pkg/events"
)

// LogStore durably records published envelopes. It backs both the bus sink
// and the WebSocket catchup protocol.
type LogStore struct {
	db *sql.DB
}

// NewLogStore creates a log store over an open database pool.
func NewLogStore(db *sql.DB) *LogStore {
	return &LogStore{db: db}
}

// AppendEvent implements events.LogSink. Envelope serialization failures are
// the caller's bug; row insert failures propagate so the bus can log them.
func (s *LogStore) AppendEvent(ctx context.Context, missionID string, env events.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO logs (mission_id, event_type, envelope)
		VALUES ($1, $2, $3)`,
		missionID, env.EventType, raw)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// CatchupEvents implements events.CatchupQuerier: durable events for a
// mission with id strictly greater than sinceID, oldest first.
func (s *LogStore) CatchupEvents(ctx context.Context, missionID string, sinceID int64, limit int) ([]events.CatchupEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, envelope FROM logs
		WHERE mission_id = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3`,
		missionID, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query catchup events: %w", err)
	}
	defer rows.Close()

	out := make([]events.CatchupEvent, 0)
	for rows.Next() {
		var ev events.CatchupEvent
		if err := rows.Scan(&ev.ID, &ev.Envelope); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteExpired removes durable events older than ttl and returns how many
// rows were deleted.
func (s *LogStore) DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired events: %w", err)
	}
	return res.RowsAffected()
}
