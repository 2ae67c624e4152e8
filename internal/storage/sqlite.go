package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding per-item reconciliation state and
// the apply history journal.
type Store struct {
	db *sql.DB
}

const dbFile = "parity.db"

// pragmas run on every new connection. WAL is skipped for in-memory databases.
var pragmas = []struct {
	stmt   string
	onDisk bool
}{
	{"PRAGMA busy_timeout = 5000", false},
	{"PRAGMA journal_mode = WAL", true},
}

// Open opens the state database in dataDir, creating it when missing, and
// applies pending migrations. ":memory:" opens a throwaway database.
func Open(dataDir string) (*Store, error) {
	inMemory := dataDir == ":memory:"
	dsn := dataDir
	if !inMemory {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, dbFile)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: the engine and the API share it, and SQLite serializes
	// writers anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(inMemory); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(inMemory bool) error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	for _, p := range pragmas {
		if p.onDisk && inMemory {
			continue
		}
		if _, err := s.db.Exec(p.stmt); err != nil {
			return fmt.Errorf("%s: %w", p.stmt, err)
		}
	}
	if err := s.migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies every embedded migration not yet listed in schema_version,
// in file name order, each in its own transaction.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	applied, err := s.AppliedMigrations()
	if err != nil {
		return fmt.Errorf("listing applied migrations: %w", err)
	}
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, err := parseMigrationVersion(name)
		if err != nil {
			return err
		}
		if done[version] {
			continue
		}
		if err := s.applyMigration(version, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(version int, name string) error {
	content, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		return fmt.Errorf("reading migration %s: %w", name, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("migration %d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("applying migration %d: %w", version, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("recording migration %d: %w", version, err)
	}
	return tx.Commit()
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Item state ---

// SetKey upserts a single state key. Each call is its own statement, so a
// write to one key never depends on another.
func (s *Store) SetKey(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO item_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) AllKeys() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM item_state")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		result[k] = v
	}
	return result, rows.Err()
}

// --- Apply history ---

// historyTimeLayout is fixed-width so created_at sorts lexically.
const historyTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (s *Store) AppendHistory(h HistoryEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO apply_history (id, item_id, from_state, to_state, value, backend, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.ItemID, h.FromState, h.ToState, h.Value, h.Backend, h.Error,
		h.CreatedAt.UTC().Format(historyTimeLayout),
	)
	return err
}

// ListHistory returns the most recent entries first. An empty itemID lists
// entries for every item.
func (s *Store) ListHistory(itemID string, limit int) ([]HistoryEntry, error) {
	query := `SELECT id, item_id, from_state, to_state, value, backend, error, created_at FROM apply_history`
	var args []any
	if itemID != "" {
		query += ` WHERE item_id = ?`
		args = append(args, itemID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var createdAt string
		if err := rows.Scan(&h.ID, &h.ItemID, &h.FromState, &h.ToState, &h.Value, &h.Backend, &h.Error, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(historyTimeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		h.CreatedAt = t
		results = append(results, h)
	}
	return results, rows.Err()
}
