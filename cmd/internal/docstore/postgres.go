package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"projecthub/cmd/internal/docstore/migrations"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresBackend stores documents in docstore.documents. Revisions follow
// the CouchDB "<n>-<hex>" shape and are checked in the WHERE clause of every
// update and delete.
//
// The pgx pool is owned by the caller; the backend never closes it.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend wraps pool.
func NewPostgresBackend(pool *pgxpool.Pool) (*PostgresBackend, error) {
	if pool == nil {
		return nil, errors.New("docstore: nil pool")
	}
	return &PostgresBackend{pool: pool}, nil
}

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

// Migrate applies the embedded schema migrations.
func (p *PostgresBackend) Migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	db := stdlib.OpenDBFromPool(p.pool)
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("docstore: goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("docstore: migrate: %w", err)
	}
	return nil
}

// Fetch implements Backend.
func (p *PostgresBackend) Fetch(ctx context.Context, db, key string) (Current, json.RawMessage, error) {
	const op = "docstore.postgres.Fetch"

	var (
		rev  string
		body []byte
	)
	err := p.pool.QueryRow(ctx,
		`SELECT rev, body FROM docstore.documents WHERE db = $1 AND id = $2`,
		db, key,
	).Scan(&rev, &body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Current{}, nil, notFound(op, key)
		}
		return Current{}, nil, &TransportError{Op: op, Err: err}
	}

	out, err := withMeta(body, key, Revision(rev))
	if err != nil {
		return Current{}, nil, &TransportError{Op: op, Err: err}
	}
	return Present(key, Revision(rev)), out, nil
}

// Write implements Backend.
func (p *PostgresBackend) Write(ctx context.Context, db string, cur Current, body json.RawMessage) (Revision, error) {
	const op = "docstore.postgres.Write"

	clean, err := stripMeta(body)
	if err != nil {
		return "", invalid(op, err.Error())
	}

	old, present := cur.Rev()
	next := nextRevision(old)

	var sql string
	var args []any
	if present {
		sql = `UPDATE docstore.documents
		          SET rev = $4, body = $5, updated_at = now()
		        WHERE db = $1 AND id = $2 AND rev = $3`
		args = []any{db, cur.Key(), string(old), string(next), []byte(clean)}
	} else {
		sql = `INSERT INTO docstore.documents (db, id, rev, body)
		       VALUES ($1, $2, $3, $4)
		       ON CONFLICT (db, id) DO NOTHING`
		args = []any{db, cur.Key(), string(next), []byte(clean)}
	}

	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return "", &TransportError{Op: op, Err: err}
	}
	if tag.RowsAffected() == 0 {
		return "", conflict(op, cur.Key())
	}
	return next, nil
}

// Remove implements Backend.
func (p *PostgresBackend) Remove(ctx context.Context, db string, cur Current) error {
	const op = "docstore.postgres.Remove"

	rev, ok := cur.Rev()
	if !ok {
		return invalid(op, "delete requires a revision")
	}
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM docstore.documents WHERE db = $1 AND id = $2 AND rev = $3`,
		db, cur.Key(), string(rev),
	)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM docstore.documents WHERE db = $1 AND id = $2)`,
		db, cur.Key(),
	).Scan(&exists)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if exists {
		return conflict(op, cur.Key())
	}
	return notFound(op, cur.Key())
}

// Ping implements Backend.
func (p *PostgresBackend) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return &TransportError{Op: "docstore.postgres.Ping", Err: err}
	}
	return nil
}
