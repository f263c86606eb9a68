package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/terrarium-core/internal/device"
)

// autoControlKey is the settings row holding the control targets.
const autoControlKey = "auto_control"

// SettingsRepository persists the auto-control configuration.
type SettingsRepository interface {
	// LoadAutoControl returns the stored configuration, or ErrNotFound.
	LoadAutoControl(ctx context.Context) (device.AutoControlConfig, error)

	// SaveAutoControl stores the configuration.
	SaveAutoControl(ctx context.Context, cfg device.AutoControlConfig) error
}

// SQLiteSettingsRepository implements SettingsRepository using SQLite.
type SQLiteSettingsRepository struct {
	db *sql.DB
}

// NewSQLiteSettingsRepository creates a settings repository.
func NewSQLiteSettingsRepository(db *sql.DB) *SQLiteSettingsRepository {
	return &SQLiteSettingsRepository{db: db}
}

// LoadAutoControl reads the stored configuration. A stored value that no
// longer validates is reported as ErrInvalidRecord.
func (r *SQLiteSettingsRepository) LoadAutoControl(ctx context.Context) (device.AutoControlConfig, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", autoControlKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return device.AutoControlConfig{}, ErrNotFound
	}
	if err != nil {
		return device.AutoControlConfig{}, fmt.Errorf("querying settings: %w", err)
	}

	cfg := device.DefaultAutoControlConfig()
	if err := json.Unmarshal([]byte(value), &cfg); err != nil {
		return device.AutoControlConfig{}, fmt.Errorf("%w: unmarshalling auto control: %w", ErrInvalidRecord, err)
	}
	if err := cfg.Validate(); err != nil {
		return device.AutoControlConfig{}, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return cfg, nil
}

// SaveAutoControl upserts the configuration.
func (r *SQLiteSettingsRepository) SaveAutoControl(ctx context.Context, cfg device.AutoControlConfig) error {
	value, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling auto control: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		autoControlKey,
		string(value),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving auto control: %w", err)
	}
	return nil
}
