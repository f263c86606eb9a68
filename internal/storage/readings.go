package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/terrarium-core/internal/device"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// timeLayout keeps lexical order equal to chronological order.
const timeLayout = "2006-01-02T15:04:05.000Z"

// ReadingRepository stores sensor readings.
type ReadingRepository interface {
	// SaveReading inserts a reading, replacing one with the same ID.
	SaveReading(ctx context.Context, reading device.Reading) error

	// Recent returns the newest readings first (default 50, max 200).
	Recent(ctx context.Context, limit int) ([]device.Reading, error)

	// Prune deletes readings older than olderThan.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteReadingRepository implements ReadingRepository using SQLite.
type SQLiteReadingRepository struct {
	db *sql.DB
}

// NewSQLiteReadingRepository creates a reading repository.
//
// Parameters:
//   - db: Open SQLite connection with migrations applied
//
// Returns:
//   - *SQLiteReadingRepository: Repository instance ready for use
func NewSQLiteReadingRepository(db *sql.DB) *SQLiteReadingRepository {
	return &SQLiteReadingRepository{db: db}
}

// SaveReading inserts a reading. Saving the same ID again overwrites it, so
// a manual re-upload does not duplicate history.
func (r *SQLiteReadingRepository) SaveReading(ctx context.Context, reading device.Reading) error {
	if reading.ID == "" {
		return fmt.Errorf("%w: reading id is required", ErrInvalidRecord)
	}
	raw := string(reading.Raw)
	if raw == "" {
		raw = "{}"
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO readings (id, recorded_at, moisture, light, temperature, humidity, raw)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		reading.ID,
		reading.Timestamp.UTC().Format(timeLayout),
		nullable(reading.Moisture),
		nullable(reading.Light),
		nullable(reading.Temperature),
		nullable(reading.Humidity),
		raw,
	)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}
	return nil
}

// Recent returns the newest readings first.
func (r *SQLiteReadingRepository) Recent(ctx context.Context, limit int) ([]device.Reading, error) {
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, recorded_at, moisture, light, temperature, humidity, raw
		 FROM readings
		 ORDER BY recorded_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	readings := make([]device.Reading, 0, limit)
	for rows.Next() {
		var (
			reading     device.Reading
			recordedAt  string
			moisture    sql.NullInt64
			light       sql.NullInt64
			temperature sql.NullFloat64
			humidity    sql.NullFloat64
			raw         string
		)
		if err := rows.Scan(&reading.ID, &recordedAt, &moisture, &light, &temperature, &humidity, &raw); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}

		ts, err := parseTimestamp(recordedAt)
		if err != nil {
			return nil, err
		}
		reading.Timestamp = ts
		if moisture.Valid {
			v := int(moisture.Int64)
			reading.Moisture = &v
		}
		if light.Valid {
			v := int(light.Int64)
			reading.Light = &v
		}
		if temperature.Valid {
			v := temperature.Float64
			reading.Temperature = &v
		}
		if humidity.Valid {
			v := humidity.Float64
			reading.Humidity = &v
		}
		if raw != "" && raw != "{}" {
			reading.Raw = json.RawMessage(raw)
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return readings, nil
}

// Prune deletes readings older than olderThan.
//
// Returns:
//   - int64: Number of rows deleted
func (r *SQLiteReadingRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	return prune(ctx, r.db, "readings", "recorded_at", olderThan)
}

func prune(ctx context.Context, db *sql.DB, table, column string, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: olderThan must be positive", ErrInvalidRecord)
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s < ?", table, column), //nolint:gosec // table and column are constants
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning %s: %w", table, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// nullable returns nil for a nil pointer so the column is stored as NULL.
func nullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

// parseTimestamp parses a timestamp stored in SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}
	ts, err := time.Parse(timeLayout, value)
	if err == nil {
		return ts, nil
	}
	if fallback, fallbackErr := time.Parse(time.RFC3339, value); fallbackErr == nil {
		return fallback, nil
	}
	return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
}
