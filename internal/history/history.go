// Package history appends matrix runs to a Postgres table so results can be
// compared across releases.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/deixis/loadmatrix/internal/env"
	"github.com/deixis/loadmatrix/internal/report"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type Config struct {
	URL             string
	PingTimeout     time.Duration
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// ConfigFromEnv reads LOADMATRIX_DATABASE_* settings. An empty URL leaves
// history disabled.
func ConfigFromEnv() (Config, error) {
	pingTimeout, err := env.Duration("LOADMATRIX_DATABASE_PING_TIMEOUT", 2*time.Second)
	if err != nil {
		return Config{}, err
	}
	maxOpenConns, err := env.Int("LOADMATRIX_DATABASE_MAX_OPEN_CONNS", 2)
	if err != nil {
		return Config{}, err
	}
	connMaxLifetime, err := env.Duration("LOADMATRIX_DATABASE_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		URL:             env.String("LOADMATRIX_DATABASE_URL", ""),
		PingTimeout:     pingTimeout,
		MaxOpenConns:    maxOpenConns,
		ConnMaxLifetime: connMaxLifetime,
	}
	if !cfg.Enabled() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Enabled reports whether a database URL is configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}

func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("LOADMATRIX_DATABASE_URL is required")
	}
	if c.PingTimeout <= 0 {
		return errors.New("LOADMATRIX_DATABASE_PING_TIMEOUT must be positive")
	}
	if c.MaxOpenConns < 1 {
		return errors.New("LOADMATRIX_DATABASE_MAX_OPEN_CONNS must be >= 1")
	}
	if c.ConnMaxLifetime < 0 {
		return errors.New("LOADMATRIX_DATABASE_CONN_MAX_LIFETIME must be >= 0")
	}
	return nil
}

func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS matrix_results (
	run_id          TEXT        NOT NULL,
	started_at      TIMESTAMPTZ NOT NULL,
	version         TEXT        NOT NULL,
	commit          TEXT        NOT NULL DEFAULT '',
	position        INTEGER     NOT NULL,
	loader          TEXT        NOT NULL,
	runtime         TEXT        NOT NULL,
	import          BOOLEAN     NOT NULL,
	import_cache    BOOLEAN     NOT NULL,
	import_no_cache BOOLEAN     NOT NULL,
	errors          TEXT,
	PRIMARY KEY (run_id, loader, runtime)
)`

const insertRecord = `
INSERT INTO matrix_results
	(run_id, started_at, version, commit, position, loader, runtime, import, import_cache, import_no_cache, errors)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// Recorder writes runs to the matrix_results table.
type Recorder struct {
	db *sql.DB
}

func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// EnsureSchema creates the results table if it does not exist.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating matrix_results: %w", err)
	}
	return nil
}

// Record inserts one row per record of the run in a single transaction.
func (r *Recorder) Record(ctx context.Context, run *report.Run) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, rec := range run.Records {
		_, err := tx.ExecContext(ctx, insertRecord,
			run.ID, run.StartedAt, run.Version, run.Commit, i,
			rec.Loader, rec.Runtime, rec.Import, rec.ImportCache, rec.ImportNoCache, rec.Errors,
		)
		if err != nil {
			return fmt.Errorf("inserting %s/%s: %w", rec.Runtime, rec.Loader, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Passing returns, for the most recent runs first, how many records passed
// the import check.
func (r *Recorder) Passing(ctx context.Context, limit int) ([]Summary, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT run_id, MIN(started_at), MIN(version), COUNT(*) FILTER (WHERE import), COUNT(*)
FROM matrix_results
GROUP BY run_id
ORDER BY MIN(started_at) DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.RunID, &s.StartedAt, &s.Version, &s.Passed, &s.Total); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Summary is the per-run pass count returned by Passing.
type Summary struct {
	RunID     string
	StartedAt time.Time
	Version   string
	Passed    int
	Total     int
}
