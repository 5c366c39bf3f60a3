package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrLayoutNotFound is returned when a layout name is unknown for a mission.
var ErrLayoutNotFound = errors.New("layout not found")

// Layout is a saved dashboard graph arrangement for one mission.
type Layout struct {
	MissionID string          `json:"mission_id"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// LayoutStore persists named dashboard layouts per mission.
type LayoutStore struct {
	db *sql.DB
}

// NewLayoutStore creates a layout store over an open database pool.
func NewLayoutStore(db *sql.DB) *LayoutStore {
	return &LayoutStore{db: db}
}

// Save upserts a layout by (mission, name).
func (s *LayoutStore) Save(ctx context.Context, missionID, name string, data json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO layouts (mission_id, name, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (mission_id, name)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		missionID, name, data)
	if err != nil {
		return fmt.Errorf("failed to save layout: %w", err)
	}
	return nil
}

// Get returns one layout by (mission, name).
func (s *LayoutStore) Get(ctx context.Context, missionID, name string) (*Layout, error) {
	l := &Layout{MissionID: missionID, Name: name}
	err := s.db.QueryRowContext(ctx, `
		SELECT data, updated_at FROM layouts
		WHERE mission_id = $1 AND name = $2`,
		missionID, name).Scan(&l.Data, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLayoutNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get layout: %w", err)
	}
	return l, nil
}

// List returns the layout names saved for a mission.
func (s *LayoutStore) List(ctx context.Context, missionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM layouts WHERE mission_id = $1 ORDER BY name`, missionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list layouts: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Delete removes one layout.
func (s *LayoutStore) Delete(ctx context.Context, missionID, name string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM layouts WHERE mission_id = $1 AND name = $2`, missionID, name)
	if err != nil {
		return fmt.Errorf("failed to delete layout: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrLayoutNotFound
	}
	return nil
}
