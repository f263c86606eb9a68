package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/terrarium-core/internal/device"
)

// ActuatorEvent is one committed actuator change.
type ActuatorEvent struct {
	ID        int64           `json:"id"`
	Actuator  device.Actuator `json:"actuator"`
	State     json.RawMessage `json:"state"`
	Source    device.Source   `json:"source"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventRepository stores actuator history.
type EventRepository interface {
	// RecordEvent stores a state snapshot for an actuator.
	RecordEvent(ctx context.Context, actuator device.Actuator, state any, source device.Source, at time.Time) error

	// Recent returns events newest first. An empty actuator means all.
	Recent(ctx context.Context, actuator device.Actuator, limit int) ([]ActuatorEvent, error)

	// Prune deletes events older than olderThan.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteEventRepository implements EventRepository using SQLite.
type SQLiteEventRepository struct {
	db *sql.DB
}

// NewSQLiteEventRepository creates an event repository.
func NewSQLiteEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

// RecordEvent inserts an actuator event.
func (r *SQLiteEventRepository) RecordEvent(ctx context.Context, actuator device.Actuator, state any, source device.Source, at time.Time) error {
	if _, ok := device.ParseActuator(string(actuator)); !ok {
		return fmt.Errorf("%w: unknown actuator %q", ErrInvalidRecord, actuator)
	}
	if source == "" {
		source = device.SourceSystem
	}
	if at.IsZero() {
		at = time.Now()
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO actuator_events (actuator, state, source, created_at) VALUES (?, ?, ?, ?)",
		string(actuator),
		string(stateJSON),
		string(source),
		at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting actuator event: %w", err)
	}
	return nil
}

// Recent returns events newest first (default 50, max 200).
func (r *SQLiteEventRepository) Recent(ctx context.Context, actuator device.Actuator, limit int) ([]ActuatorEvent, error) {
	limit = clampLimit(limit)

	query := `SELECT id, actuator, state, source, created_at FROM actuator_events`
	args := []any{}
	if actuator != "" {
		query += ` WHERE actuator = ?`
		args = append(args, string(actuator))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying actuator events: %w", err)
	}
	defer rows.Close()

	events := make([]ActuatorEvent, 0, limit)
	for rows.Next() {
		var (
			ev        ActuatorEvent
			actuator  string
			state     string
			source    string
			createdAt string
		)
		if err := rows.Scan(&ev.ID, &actuator, &state, &source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning actuator event: %w", err)
		}
		ts, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		ev.Actuator = device.Actuator(actuator)
		ev.State = json.RawMessage(state)
		ev.Source = device.Source(source)
		ev.CreatedAt = ts
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating actuator events: %w", err)
	}
	return events, nil
}

// Prune deletes events older than olderThan.
func (r *SQLiteEventRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	return prune(ctx, r.db, "actuator_events", "created_at", olderThan)
}
