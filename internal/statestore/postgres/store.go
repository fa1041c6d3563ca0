// Package postgres provides a Postgres-backed state store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linkvault/archiver/internal/archive"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for archive rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the narrow pgxpool surface the store needs; it lets tests
// substitute pgxmock.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists item lifecycle rows and serves cache lookups from them.
type Store struct {
	pool  pool
	table string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("statestore.postgres.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "archives"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "archives"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Name implements archive.StateStore.
func (s *Store) Name() string { return "postgres" }

// Started upserts the row in started state. The archived flag and row
// payload are owned by Done, so a restart never clobbers cached data.
func (s *Store) Started(ctx context.Context, rec *archive.Record) error {
	query := fmt.Sprintf(`
INSERT INTO %s (url, status, updated_at)
VALUES ($1, 'started', $2)
ON CONFLICT (url) DO UPDATE SET status = 'started', updated_at = $2`, s.table)
	if _, err := s.pool.Exec(ctx, query, rec.URL, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert started row: %w", err)
	}
	return nil
}

// Fetch returns the previously archived record for the URL, or nil when
// the URL has never completed.
func (s *Store) Fetch(ctx context.Context, rec *archive.Record) (*archive.Record, error) {
	query := fmt.Sprintf(`
SELECT item_status, success, rearchivable, folder, media, final_media, metadata
FROM %s
WHERE url = $1 AND archived`, s.table)

	var (
		itemStatus     string
		success        bool
		rearchivable   bool
		folder         string
		mediaJSON      []byte
		finalMediaJSON []byte
		metadataJSON   []byte
	)
	row := s.pool.QueryRow(ctx, query, rec.URL)
	err := row.Scan(&itemStatus, &success, &rearchivable, &folder,
		&mediaJSON, &finalMediaJSON, &metadataJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select archive row: %w", err)
	}

	out := archive.NewRecord(rec.URL)
	out.Status = itemStatus
	out.Success = success
	out.Rearchivable = rearchivable
	out.Folder = folder
	if len(mediaJSON) > 0 {
		if err := json.Unmarshal(mediaJSON, &out.Media); err != nil {
			return nil, fmt.Errorf("decode media column: %w", err)
		}
	}
	if len(finalMediaJSON) > 0 {
		if err := json.Unmarshal(finalMediaJSON, &out.FinalMedia); err != nil {
			return nil, fmt.Errorf("decode final media column: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &out.Metadata); err != nil {
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
	var finalMediaJSON []byte
	if rec.FinalMedia != nil {
		if finalMediaJSON, err = json.Marshal(rec.FinalMedia); err != nil {
			return fmt.Errorf("marshal final media: %w", err)
		}
	}
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (url, status, archived, item_status, success, rearchivable, folder, media, final_media, metadata, updated_at)
VALUES ($1, 'done', TRUE, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (url) DO UPDATE SET
	status = 'done',
	archived = TRUE,
	item_status = $2,
	success = $3,
	rearchivable = $4,
	folder = $5,
	media = $6,
	final_media = $7,
	metadata = $8,
	updated_at = $9`, s.table)

	args := []any{
		rec.URL,
		rec.Status,
		rec.Success,
		rec.Rearchivable,
		rec.Folder,
		mediaJSON,
		finalMediaJSON,
		metadataJSON,
		time.Now().UTC(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
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
	query := fmt.Sprintf(`
INSERT INTO %s (url, status, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (url) DO UPDATE SET status = $2, updated_at = $3`, s.table)
	if _, err := s.pool.Exec(ctx, query, url, state, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert %s row: %w", state, err)
	}
	return nil
}
