// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitegen/internal/crawler"
)

var validTablePrefix = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTablePrefix = "sitegen"

// ManifestStoreConfig controls the Postgres connection pool used for pass manifests.
type ManifestStoreConfig struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// ManifestStore writes one row per pass into <prefix>_passes and one row per
// written slot into <prefix>_outputs.
type ManifestStore struct {
	pool    pool
	passes  string
	outputs string
}

// NewManifestStore creates a Postgres-backed ManifestStore using the provided config.
func NewManifestStore(ctx context.Context, cfg ManifestStoreConfig) (*ManifestStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("manifest.dsn is required")
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
	if err := checkPrefix(cfg.TablePrefix); err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewManifestStoreWithPool(p, cfg.TablePrefix)
}

// NewManifestStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewManifestStoreWithPool(p pool, prefix string) (*ManifestStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if prefix == "" {
		prefix = defaultTablePrefix
	}
	if err := checkPrefix(prefix); err != nil {
		return nil, err
	}
	return &ManifestStore{
		pool:    p,
		passes:  prefix + "_passes",
		outputs: prefix + "_outputs",
	}, nil
}

func checkPrefix(prefix string) error {
	if prefix != "" && !validTablePrefix.MatchString(prefix) {
		return fmt.Errorf("invalid table prefix %q", prefix)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *ManifestStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the manifest tables when they do not exist.
func (s *ManifestStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id          TEXT PRIMARY KEY,
	entry       TEXT NOT NULL,
	status      TEXT NOT NULL,
	outputs     INTEGER NOT NULL,
	errors      INTEGER NOT NULL,
	error_texts JSONB NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS %[2]s (
	pass_id TEXT NOT NULL REFERENCES %[1]s (id),
	slot    TEXT NOT NULL,
	hash    TEXT NOT NULL,
	bytes   INTEGER NOT NULL,
	uri     TEXT,
	PRIMARY KEY (pass_id, slot)
)`, s.passes, s.outputs)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create manifest tables: %w", err)
	}
	return nil
}

// RecordPass inserts the pass row and its output rows in one transaction.
func (s *ManifestStore) RecordPass(ctx context.Context, record crawler.PassRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("manifest store is not configured")
	}
	sum := record.Summary
	if sum.ID == "" {
		return fmt.Errorf("pass id is required")
	}
	errorsJSON, err := json.Marshal(nonNil(record.ErrorTexts))
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}

	passQuery := fmt.Sprintf(`
INSERT INTO %s (
	id,
	entry,
	status,
	outputs,
	errors,
	error_texts,
	started_at,
	duration_ms,
	recorded_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, s.passes)
	outputQuery := fmt.Sprintf(`
INSERT INTO %s (pass_id, slot, hash, bytes, uri) VALUES ($1,$2,$3,$4,$5)`, s.outputs)

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, passQuery,
			sum.ID,
			sum.Entry,
			string(sum.Status),
			sum.Outputs,
			sum.Errors,
			errorsJSON,
			sum.StartedAt,
			sum.DurationMs,
			record.RecordedAt,
		); err != nil {
			return fmt.Errorf("insert pass: %w", err)
		}
		for _, out := range record.Outputs {
			if _, err := tx.Exec(ctx, outputQuery, sum.ID, out.Slot, out.Hash, out.Bytes, out.URI); err != nil {
				return fmt.Errorf("insert output %s: %w", out.Slot, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record pass: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
