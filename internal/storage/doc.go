// Package storage keeps the terrarium's local history in SQLite.
//
// Three tables back it (see migrations/):
//
//   - readings: every sensor reading, written by the poller's sink
//   - actuator_events: every committed actuator change with its source
//   - settings: the auto-control targets, restored at startup
//
// The Recorder subscribes to device.Store changes and writes events and
// settings on its own goroutine, so a slow disk never stalls a command.
//
// Usage:
//
//	readings := storage.NewSQLiteReadingRepository(db.DB)
//	events := storage.NewSQLiteEventRepository(db.DB)
//	settings := storage.NewSQLiteSettingsRepository(db.DB)
//
//	recorder := storage.NewRecorder(events, settings, log)
//	recorder.Start()
//	defer recorder.Stop()
//	unsubscribe := store.Subscribe(recorder.Handle)
//	defer unsubscribe()
package storage
