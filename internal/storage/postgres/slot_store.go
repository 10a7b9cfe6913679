// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/avatar-ingest/internal/avatar"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "avatar_attachments"

// SlotStoreConfig controls the Postgres connection pool used for avatar slots.
type SlotStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// SlotStore keeps one row per owner; writing a new attachment replaces the old one.
type SlotStore struct {
	pool  dbPool
	table string
}

// NewSlotStore creates a Postgres-backed SlotStore using the provided config.
func NewSlotStore(ctx context.Context, cfg SlotStoreConfig) (*SlotStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SlotStore{pool: pool, table: table}, nil
}

// NewSlotStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewSlotStoreWithPool(pool dbPool, table string) (*SlotStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &SlotStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *SlotStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies the database is reachable.
func (s *SlotStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the slot table when it does not exist.
func (s *SlotStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	owner_type   TEXT NOT NULL,
	owner_id     TEXT NOT NULL,
	blob_uri     TEXT NOT NULL,
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL,
	byte_size    BIGINT NOT NULL,
	checksum     TEXT NOT NULL,
	source_url   TEXT NOT NULL,
	attached_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (owner_type, owner_id)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// PutAttachment upserts the owner's slot in a single statement.
func (s *SlotStore) PutAttachment(ctx context.Context, att avatar.Attachment) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("slot store is not configured")
	}
	if att.Owner.IsZero() {
		return fmt.Errorf("attachment owner is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	owner_type,
	owner_id,
	blob_uri,
	filename,
	content_type,
	byte_size,
	checksum,
	source_url,
	attached_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (owner_type, owner_id) DO UPDATE SET
	blob_uri = EXCLUDED.blob_uri,
	filename = EXCLUDED.filename,
	content_type = EXCLUDED.content_type,
	byte_size = EXCLUDED.byte_size,
	checksum = EXCLUDED.checksum,
	source_url = EXCLUDED.source_url,
	attached_at = EXCLUDED.attached_at`, s.table)

	args := []any{
		att.Owner.Type,
		att.Owner.ID,
		att.BlobURI,
		att.Filename,
		att.ContentType,
		att.ByteSize,
		att.Checksum,
		att.SourceURL,
		att.AttachedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert attachment: %w", err)
	}
	return nil
}

// GetAttachment reads the owner's slot, returning avatar.ErrSlotEmpty when there is none.
func (s *SlotStore) GetAttachment(ctx context.Context, ref avatar.OwnerRef) (avatar.Attachment, error) {
	query := fmt.Sprintf(`
SELECT blob_uri, filename, content_type, byte_size, checksum, source_url, attached_at
FROM %s
WHERE owner_type = $1 AND owner_id = $2`, s.table)

	att := avatar.Attachment{Owner: ref}
	err := s.pool.QueryRow(ctx, query, ref.Type, ref.ID).Scan(
		&att.BlobURI,
		&att.Filename,
		&att.ContentType,
		&att.ByteSize,
		&att.Checksum,
		&att.SourceURL,
		&att.AttachedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return avatar.Attachment{}, avatar.ErrSlotEmpty
	}
	if err != nil {
		return avatar.Attachment{}, fmt.Errorf("select attachment: %w", err)
	}
	return att, nil
}
