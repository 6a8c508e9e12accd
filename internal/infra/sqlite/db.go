// Package sqlite provides SQLite-backed persistence for the model catalog,
// the only piece of ambient (non-core) state this orchestrator keeps beyond
// the Prompt Cache. Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO required

	"github.com/tutu-network/tutu/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db. Enables WAL
// mode, foreign keys, and a 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS models (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL,
			ram_bytes        INTEGER NOT NULL,
			tier             TEXT NOT NULL,
			tags             TEXT NOT NULL DEFAULT '[]',
			priority         TEXT NOT NULL DEFAULT 'MEDIUM',
			tokens_per_sec   REAL NOT NULL DEFAULT 0,
			context_length   INTEGER NOT NULL DEFAULT 0,
			specialization   TEXT NOT NULL DEFAULT '[]',
			installed_at     INTEGER NOT NULL,
			last_used        INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_models_tier ON models(tier)`,
	}
	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Model catalog repository ───────────────────────────────────────────────

// UpsertModel inserts or updates an installed model's catalog row.
func (d *DB) UpsertModel(cfg domain.ModelConfig) error {
	tags, err := json.Marshal(cfg.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	spec, err := json.Marshal(cfg.Specialization)
	if err != nil {
		return fmt.Errorf("marshal specialization: %w", err)
	}

	_, err = d.db.Exec(
		`INSERT INTO models (id, name, ram_bytes, tier, tags, priority, tokens_per_sec, context_length, specialization, installed_at, last_used)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			ram_bytes=excluded.ram_bytes,
			tier=excluded.tier,
			tags=excluded.tags,
			priority=excluded.priority,
			tokens_per_sec=excluded.tokens_per_sec,
			context_length=excluded.context_length,
			specialization=excluded.specialization`,
		cfg.ID, cfg.Name, cfg.RAMBytes, string(cfg.Tier), string(tags),
		string(cfg.Priority), cfg.TokensPerSecond, cfg.ContextLength, string(spec),
		time.Now().Unix(), nil,
	)
	return err
}

// GetModel retrieves a single catalog row by id.
func (d *DB) GetModel(id string) (*domain.ModelConfig, error) {
	row := d.db.QueryRow(
		`SELECT id, name, ram_bytes, tier, tags, priority, tokens_per_sec, context_length, specialization
		 FROM models WHERE id = ?`, id,
	)
	return scanModel(row)
}

// ListModels returns every installed model, most recently used first.
func (d *DB) ListModels() ([]domain.ModelConfig, error) {
	rows, err := d.db.Query(
		`SELECT id, name, ram_bytes, tier, tags, priority, tokens_per_sec, context_length, specialization
		 FROM models ORDER BY COALESCE(last_used, installed_at) DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ModelConfig
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// DeleteModel removes a catalog row.
func (d *DB) DeleteModel(id string) error {
	result, err := d.db.Exec(`DELETE FROM models WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return domain.ErrModelNotFound
	}
	return nil
}

// TouchModel updates a catalog row's last_used timestamp.
func (d *DB) TouchModel(id string) error {
	_, err := d.db.Exec(`UPDATE models SET last_used = ? WHERE id = ?`, time.Now().Unix(), id)
	return err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanModel(s scanner) (*domain.ModelConfig, error) {
	var m domain.ModelConfig
	var tags, spec string
	var tier, priority string

	err := s.Scan(&m.ID, &m.Name, &m.RAMBytes, &tier, &tags, &priority,
		&m.TokensPerSecond, &m.ContextLength, &spec)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	m.Tier = domain.Tier(tier)
	m.Priority = domain.PriorityTag(priority)
	if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(spec), &m.Specialization); err != nil {
		return nil, fmt.Errorf("unmarshal specialization: %w", err)
	}
	return &m, nil
}
