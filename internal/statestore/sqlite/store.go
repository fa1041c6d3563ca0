// Package sqlite provides a single-file SQLite state store. It suits
// standalone runs where a Postgres instance is not available but archive
// state must survive restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/linkvault/archiver/internal/archive"
)

// Options configures Store behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent
	// performance. Recommended for most use cases.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Store persists item lifecycle rows in a SQLite database file.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens or creates a Store at the specified directory.
func Open(dbDir string, opts Options) (*Store, error) {
	dbPath := filepath.Join(dbDir, "archiver.db")

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// modernc.org/sqlite uses mode=rw to prevent creating new files and
	// mode=rwc to allow creation.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, dbPath: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	const schema = `
CREATE TABLE IF NOT EXISTS archives (
	url TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	archived INTEGER NOT NULL DEFAULT 0,
	item_status TEXT,
	success INTEGER,
	rearchivable INTEGER,
	folder TEXT,
	media TEXT,
	final_media TEXT,
	metadata TEXT,
	updated_at TEXT NOT NULL
)`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create archives table: %w", err)
	}
	return nil
}

// Name implements archive.StateStore.
func (s *Store) Name() string { return "sqlite" }

// Started upserts the row in started state, leaving archived data alone.
func (s *Store) Started(ctx context.Context, rec *archive.Record) error {
	const query = `
INSERT INTO archives (url, status, updated_at)
VALUES (?, 'started', ?)
ON CONFLICT (url) DO UPDATE SET status = 'started', updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, rec.URL, nowUTC()); err != nil {
		return fmt.Errorf("upsert started row: %w", err)
	}
	return nil
}

// Fetch returns the previously archived record for the URL, or nil when
// the URL has never completed.
func (s *Store) Fetch(ctx context.Context, rec *archive.Record) (*archive.Record, error) {
	const query = `
SELECT item_status, success, rearchivable, folder, media, final_media, metadata
FROM archives
WHERE url = ? AND archived = 1`

	var (
		itemStatus     sql.NullString
		success        sql.NullBool
		rearchivable   sql.NullBool
		folder         sql.NullString
		mediaJSON      sql.NullString
		finalMediaJSON sql.NullString
		metadataJSON   sql.NullString
	)
	row := s.db.QueryRowContext(ctx, query, rec.URL)
	err := row.Scan(&itemStatus, &success, &rearchivable, &folder,
		&mediaJSON, &finalMediaJSON, &metadataJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select archive row: %w", err)
	}

	out := archive.NewRecord(rec.URL)
	out.Status = itemStatus.String
	out.Success = success.Bool
	out.Rearchivable = rearchivable.Bool
	out.Folder = folder.String
	if mediaJSON.Valid && mediaJSON.String != "" {
		if err := json.Unmarshal([]byte(mediaJSON.String), &out.Media); err != nil {
			return nil, fmt.Errorf("decode media column: %w", err)
		}
	}
	if finalMediaJSON.Valid && finalMediaJSON.String != "" {
		if err := json.Unmarshal([]byte(finalMediaJSON.String), &out.FinalMedia); err != nil {
			return nil, fmt.Errorf("decode final media column: %w", err)
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &out.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata column: %w", err)
		}
	}
	return out, nil
}

// Done upserts the full archived record in done state.
func (s *Store) Done(ctx context.Context, rec *archive.Record) error {
	mediaJSON, err := json.Marshal(rec.Media)
	if err != nil {
		return fmt.Errorf("marshal media: %w", err)
	}
	finalMediaJSON := []byte(nil)
	if rec.FinalMedia != nil {
		if finalMediaJSON, err = json.Marshal(rec.FinalMedia); err != nil {
			return fmt.Errorf("marshal final media: %w", err)
		}
	}
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	const query = `
INSERT INTO archives (url, status, archived, item_status, success, rearchivable, folder, media, final_media, metadata, updated_at)
VALUES (?, 'done', 1, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (url) DO UPDATE SET
	status = 'done',
	archived = 1,
	item_status = excluded.item_status,
	success = excluded.success,
	rearchivable = excluded.rearchivable,
	folder = excluded.folder,
	media = excluded.media,
	final_media = excluded.final_media,
	metadata = excluded.metadata,
	updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		rec.URL, rec.Status, rec.Success, rec.Rearchivable, rec.Folder,
		string(mediaJSON), nullableString(finalMediaJSON), string(metadataJSON), nowUTC())
	if err != nil {
		return fmt.Errorf("upsert done row: %w", err)
	}
	return nil
}

// Failed marks the row failed, keeping any previously archived data.
func (s *Store) Failed(ctx context.Context, rec *archive.Record) error {
	return s.setState(ctx, rec.URL, "failed")
}

// Aborted marks the row aborted, keeping any previously archived data.
func (s *Store) Aborted(ctx context.Context, rec *archive.Record) error {
	return s.setState(ctx, rec.URL, "aborted")
}

func (s *Store) setState(ctx context.Context, url, state string) error {
	const query = `
INSERT INTO archives (url, status, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (url) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, url, state, nowUTC()); err != nil {
		return fmt.Errorf("upsert %s row: %w", state, err)
	}
	return nil
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
