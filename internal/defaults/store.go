// Package defaults persists which audio outputs should be selected by
// default and at what volume. Rows survive daemon restarts so the
// reconciler can re-apply preferences each time the audio server comes up.
package defaults

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"
	_ "modernc.org/sqlite"

	"platter/internal/api"
	"platter/internal/config"
)

// Entry is one persisted default-output row. Presence of a row means the
// output is a configured default; Volume is the level applied before the
// output is selected.
type Entry struct {
	OutputID  string
	Name      string
	Volume    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store provides durable access to default-output rows backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the defaults database under the configured data
// directory and applies any pending migrations.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	if cfg == nil {
		return nil, api.Wrap(api.ErrPersistence, "defaults", "open", errors.New("config is nil"))
	}
	dbPath := filepath.Join(cfg.Paths.DataDir, "platter.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, api.Wrap(api.ErrPersistence, "defaults", "open", fmt.Errorf("create data directory: %w", err))
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, api.Wrap(api.ErrPersistence, "defaults", "open", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, api.Wrap(api.ErrPersistence, "defaults", "migrate", err)
	}
	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path reports the database file location, used for diagnostics output.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Get returns the entry for an output id, or ok=false when the output has
// no configured default.
func (s *Store) Get(ctx context.Context, outputID string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT output_id, name, default_volume, created_at, updated_at FROM default_outputs WHERE output_id = ?",
		outputID)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, api.Wrap(api.ErrPersistence, "defaults", "get", err)
	}
	return entry, true, nil
}

// FindByName returns the entry whose stored output name matches after case
// folding and whitespace trimming. Output ids are not stable across audio
// server restarts on some backends, so the name is the fallback key.
func (s *Store) FindByName(ctx context.Context, name string) (Entry, bool, error) {
	want := NormalizeName(name)
	if want == "" {
		return Entry{}, false, nil
	}

	entries, err := s.All(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	for _, entry := range entries {
		if NormalizeName(entry.Name) == want {
			return entry, true, nil
		}
	}
	return Entry{}, false, nil
}

// Set upserts a default for the output, clamping volume to the valid range.
func (s *Store) Set(ctx context.Context, outputID, name string, volume int) (Entry, error) {
	if strings.TrimSpace(outputID) == "" {
		return Entry{}, api.Wrap(api.ErrValidation, "defaults", "set", errors.New("output id is required"))
	}
	volume = clampVolume(volume)
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.ExecContext(ctx, `
INSERT INTO default_outputs (output_id, name, default_volume, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(output_id) DO UPDATE SET
    name = excluded.name,
    default_volume = excluded.default_volume,
    updated_at = excluded.updated_at`,
		outputID, strings.TrimSpace(name), volume, now, now)
	if err != nil {
		return Entry{}, api.Wrap(api.ErrPersistence, "defaults", "set", err)
	}

	entry, ok, err := s.Get(ctx, outputID)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, api.Wrap(api.ErrPersistence, "defaults", "set", errors.New("row missing after upsert"))
	}
	return entry, nil
}

// Remove deletes the default for an output. Removing an output that has no
// default is not an error.
func (s *Store) Remove(ctx context.Context, outputID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM default_outputs WHERE output_id = ?", outputID)
	if err != nil {
		return api.Wrap(api.ErrPersistence, "defaults", "remove", err)
	}
	return nil
}

// All returns every persisted default ordered by output name.
func (s *Store) All(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT output_id, name, default_volume, created_at, updated_at FROM default_outputs ORDER BY name, output_id")
	if err != nil {
		return nil, api.Wrap(api.ErrPersistence, "defaults", "list", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, api.Wrap(api.ErrPersistence, "defaults", "list", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, api.Wrap(api.ErrPersistence, "defaults", "list", err)
	}
	return entries, nil
}

// Replace swaps the entire defaults table for the provided map of output id
// to volume in one transaction. Names are preserved for ids that already
// have a row.
func (s *Store) Replace(ctx context.Context, volumes map[string]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return api.Wrap(api.ErrPersistence, "defaults", "replace", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	existing := map[string]string{}
	rows, err := tx.QueryContext(ctx, "SELECT output_id, name FROM default_outputs")
	if err != nil {
		return api.Wrap(api.ErrPersistence, "defaults", "replace", err)
	}
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return api.Wrap(api.ErrPersistence, "defaults", "replace", err)
		}
		existing[id] = name
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return api.Wrap(api.ErrPersistence, "defaults", "replace", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, "DELETE FROM default_outputs"); err != nil {
		return api.Wrap(api.ErrPersistence, "defaults", "replace", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for id, volume := range volumes {
		if strings.TrimSpace(id) == "" {
			continue
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO default_outputs (output_id, name, default_volume, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
			id, existing[id], clampVolume(volume), now, now)
		if err != nil {
			return api.Wrap(api.ErrPersistence, "defaults", "replace", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return api.Wrap(api.ErrPersistence, "defaults", "replace", err)
	}
	return nil
}

// RecordName refreshes the stored display name for an output that already
// has a default, keeping the name-fallback lookup accurate as the audio
// server renames outputs.
func (s *Store) RecordName(ctx context.Context, outputID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		"UPDATE default_outputs SET name = ?, updated_at = ? WHERE output_id = ? AND name != ?",
		name, now, outputID, name)
	if err != nil {
		return api.Wrap(api.ErrPersistence, "defaults", "record name", err)
	}
	return nil
}

// NormalizeName produces the comparison key used for name-based lookups.
func NormalizeName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

func clampVolume(volume int) int {
	if volume < 0 {
		return 0
	}
	if volume > 100 {
		return 100
	}
	return volume
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var entry Entry
	var createdAt, updatedAt string
	if err := row.Scan(&entry.OutputID, &entry.Name, &entry.Volume, &createdAt, &updatedAt); err != nil {
		return Entry{}, err
	}
	entry.CreatedAt = parseTimestamp(createdAt)
	entry.UpdatedAt = parseTimestamp(updatedAt)
	return entry, nil
}

func parseTimestamp(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
