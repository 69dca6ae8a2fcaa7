// Package preset persists named automation schedules — ordered lists of
// remotectl.Command — in SQLite, so a saved graph wiring/parameter sequence
// can be replayed later against a live engine.Context. The storage shape
// mirrors server/internal/store's sqlite-migration pattern: an Open that
// creates-or-migrates a single file, plain database/sql underneath, UUID
// primary keys in the style of the blob store.
package preset

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"audiograph/engine"
	"audiograph/remotectl"
)

// ErrNotFound is returned when no preset exists for a given ID.
var ErrNotFound = errors.New("preset not found")

// Preset is a named, ordered sequence of control commands — typically
// graph connections followed by initial parameter automation — recorded
// once and replayable on demand.
type Preset struct {
	ID        string
	Name      string
	Commands  []remotectl.Command
	CreatedAt time.Time
}

// Summary is a lightweight listing row, omitting the command payload.
type Summary struct {
	ID           string
	Name         string
	CommandCount int
	CreatedAt    time.Time
}

// Store persists presets in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("preset: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("preset: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("preset: open sqlite database: %w", err)
	}

	st := &Store{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("preset store opened", "path", path)
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS presets (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	commands TEXT NOT NULL,
	command_count INTEGER NOT NULL CHECK(command_count >= 0),
	created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_presets_name ON presets(name);
CREATE INDEX IF NOT EXISTS idx_presets_created_at ON presets(created_at_unix_ms);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("preset: run sqlite migrations: %w", err)
	}
	slog.Debug("preset migrations applied")
	return nil
}

// Save persists cmds under name and returns the new preset's UUID.
func (s *Store) Save(ctx context.Context, name string, cmds []remotectl.Command) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("preset: name is required")
	}
	if len(cmds) == 0 {
		return "", fmt.Errorf("preset: at least one command is required")
	}

	data, err := json.Marshal(cmds)
	if err != nil {
		return "", fmt.Errorf("preset: marshal commands: %w", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	const q = `INSERT INTO presets (id, name, commands, command_count, created_at_unix_ms) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, id, name, string(data), len(cmds), now.UnixMilli()); err != nil {
		return "", fmt.Errorf("preset: insert preset: %w", err)
	}
	slog.Info("preset saved", "preset_id", id, "name", name, "commands", len(cmds), "payload", humanize.Bytes(uint64(len(data))))
	return id, nil
}

// Load returns the preset named by id.
func (s *Store) Load(ctx context.Context, id string) (Preset, error) {
	const q = `SELECT id, name, commands, created_at_unix_ms FROM presets WHERE id = ?`
	var (
		p              Preset
		data           string
		createdAtUnixM int64
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(&p.ID, &p.Name, &data, &createdAtUnixM)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Preset{}, ErrNotFound
		}
		return Preset{}, fmt.Errorf("preset: query preset: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &p.Commands); err != nil {
		return Preset{}, fmt.Errorf("preset: unmarshal commands: %w", err)
	}
	p.CreatedAt = time.UnixMilli(createdAtUnixM).UTC()
	return p, nil
}

// List returns every stored preset, most recently created first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	const q = `SELECT id, name, command_count, created_at_unix_ms FROM presets ORDER BY created_at_unix_ms DESC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("preset: query presets: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sm             Summary
			createdAtUnixM int64
		)
		if err := rows.Scan(&sm.ID, &sm.Name, &sm.CommandCount, &createdAtUnixM); err != nil {
			return nil, fmt.Errorf("preset: scan preset: %w", err)
		}
		sm.CreatedAt = time.UnixMilli(createdAtUnixM).UTC()
		out = append(out, sm)
	}
	return out, rows.Err()
}

// Delete removes the preset named by id, if present.
func (s *Store) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM presets WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("preset: delete preset: %w", err)
	}
	return nil
}

// Apply replays every command in p against ctx/reg via remotectl.Apply, in
// order. Validation failures (unknown op/node/param) from individual
// commands are collected and joined rather than aborting the replay early —
// a partially-applicable preset still wires up what it can, mirroring
// remotectl's own best-effort posture toward non-fatal per-command errors.
func Apply(ctx *engine.Context, reg *remotectl.Registry, p Preset) error {
	var errs []error
	for i, cmd := range p.Commands {
		if err := remotectl.Apply(ctx, reg, cmd); err != nil {
			errs = append(errs, fmt.Errorf("preset %q command %d (%s): %w", p.Name, i, cmd.Op, err))
		}
	}
	return errors.Join(errs...)
}
