package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/poiesic/docusense/storage"
)

// uniqueViolation is the SQLSTATE of a unique constraint violation.
const uniqueViolation = "23505"

// Backend wraps a pgx connection pool with the pgvector types registered.
type Backend struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenBackend connects to dsn, verifies the connection and applies the schema.
func OpenBackend(ctx context.Context, dsn string) (*Backend, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	// The vector type must exist before pgvector can register its codecs.
	if err := ensureExtension(ctx, config.ConnConfig); err != nil {
		return nil, err
	}
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	b := &Backend{
		pool:   pool,
		logger: slog.Default().With("component", "postgres"),
	}
	if err := b.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

// Close closes the connection pool.
func (b *Backend) Close() error {
	b.pool.Close()
	b.logger.Debug("connection pool closed")
	return nil
}

// WithTx runs fn in a transaction, committing when fn returns nil.
func (b *Backend) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, b.pool, fn)
}

// notFound maps pgx.ErrNoRows to storage.ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, what)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS collections (
		name            TEXT PRIMARY KEY,
		dimension       INTEGER NOT NULL DEFAULT 0,
		ready_documents INTEGER NOT NULL DEFAULT 0,
		chunk_count     INTEGER NOT NULL DEFAULT 0,
		token_total     BIGINT NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id          BIGSERIAL PRIMARY KEY,
		collection  TEXT NOT NULL,
		title       TEXT NOT NULL DEFAULT '',
		source_type TEXT NOT NULL,
		source      TEXT NOT NULL DEFAULT '',
		content     TEXT NOT NULL DEFAULT '',
		checksum    TEXT NOT NULL,
		status      TEXT NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		chunk_count INTEGER NOT NULL DEFAULT 0,
		job_id      TEXT NOT NULL DEFAULT '',
		metadata    JSONB,
		inserted_at TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		UNIQUE (collection, checksum)
	)`,
	`CREATE INDEX IF NOT EXISTS documents_collection_idx ON documents (collection, id)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		id          BIGSERIAL PRIMARY KEY,
		document_id BIGINT NOT NULL REFERENCES documents (id),
		collection  TEXT NOT NULL,
		sequence    INTEGER NOT NULL,
		text        TEXT NOT NULL,
		span_start  INTEGER NOT NULL,
		span_end    INTEGER NOT NULL,
		header      TEXT NOT NULL DEFAULT '',
		token_count INTEGER NOT NULL DEFAULT 0,
		embedding   vector NOT NULL,
		UNIQUE (document_id, sequence)
	)`,
	`CREATE INDEX IF NOT EXISTS chunks_collection_idx ON chunks (collection)`,
	`CREATE TABLE IF NOT EXISTS chunk_terms (
		collection  TEXT NOT NULL,
		term        TEXT NOT NULL,
		chunk_id    BIGINT NOT NULL REFERENCES chunks (id),
		document_id BIGINT NOT NULL,
		sequence    INTEGER NOT NULL,
		tf          INTEGER NOT NULL,
		length      INTEGER NOT NULL,
		PRIMARY KEY (collection, term, chunk_id)
	)`,
	`CREATE INDEX IF NOT EXISTS chunk_terms_chunk_idx ON chunk_terms (chunk_id)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id           TEXT PRIMARY KEY,
		document_id  BIGINT NOT NULL,
		collection   TEXT NOT NULL,
		state        TEXT NOT NULL,
		progress     INTEGER NOT NULL DEFAULT 0,
		attempts     INTEGER NOT NULL DEFAULT 0,
		error        TEXT NOT NULL DEFAULT '',
		error_kind   TEXT NOT NULL DEFAULT '',
		supersedes   TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL,
		started_at   TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS jobs_state_idx ON jobs (state, created_at)`,
	`CREATE TABLE IF NOT EXISTS answers (
		id         BIGSERIAL PRIMARY KEY,
		collection TEXT NOT NULL,
		question   TEXT NOT NULL,
		text       TEXT NOT NULL,
		citations  JSONB NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		latency_ns BIGINT NOT NULL,
		model      TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS feedback (
		id         BIGSERIAL PRIMARY KEY,
		answer_id  BIGINT NOT NULL REFERENCES answers (id),
		rating     INTEGER NOT NULL,
		note       TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

func ensureExtension(ctx context.Context, connConfig *pgx.ConnConfig) error {
	conn, err := pgx.ConnectConfig(ctx, connConfig.Copy())
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	return err
}

// migrate applies the schema. Every statement is idempotent.
func (b *Backend) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := b.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// NewRepositories connects to dsn and returns every repository built on it.
// Closing the bundle closes the pool.
func NewRepositories(ctx context.Context, dsn string) (*storage.Repositories, error) {
	backend, err := OpenBackend(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return storage.NewRepositories(
		newDocumentRepository(backend),
		newChunkRepository(backend),
		newJobRepository(backend),
		newAnswerRepository(backend),
		backend.Close,
	), nil
}
