package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores documents in a Postgres table for multi-instance
// deployments of the document server.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, now: time.Now}
}

// OpenPostgres connects to dsn and makes sure the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := NewPostgres(pool)
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			path        TEXT PRIMARY KEY,
			parent      TEXT NOT NULL,
			data        JSONB NOT NULL,
			update_time TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_documents_parent ON documents (parent);`)
	if err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getPG(ctx context.Context, q pgQuerier, path string, lock bool) (*Document, error) {
	query := `SELECT path, data, update_time FROM documents WHERE path = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var d Document
	err := q.QueryRow(ctx, query, path).Scan(&d.Path, &d.Data, &d.UpdateTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", path, err)
	}
	return &d, nil
}

func (p *Postgres) Get(ctx context.Context, path string) (Document, error) {
	if err := ValidateDocPath(path); err != nil {
		return Document{}, err
	}
	d, err := getPG(ctx, p.pool, path, false)
	if err != nil {
		return Document{}, err
	}
	if d == nil {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return *d, nil
}

func (p *Postgres) List(ctx context.Context, collection string) ([]Document, error) {
	if err := ValidateCollectionPath(collection); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx,
		`SELECT path, data, update_time FROM documents WHERE parent = $1 ORDER BY path`, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.Path, &d.Data, &d.UpdateTime); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

type pgTxn struct{ tx pgx.Tx }

func (t pgTxn) get(ctx context.Context, path string) (*Document, error) {
	return getPG(ctx, t.tx, path, true)
}

func (t pgTxn) put(ctx context.Context, doc Document) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO documents (path, parent, data, update_time) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, update_time = EXCLUDED.update_time`,
		doc.Path, Parent(doc.Path), []byte(doc.Data), doc.UpdateTime,
	)
	if err != nil {
		return fmt.Errorf("put document %s: %w", doc.Path, err)
	}
	return nil
}

func (t pgTxn) del(ctx context.Context, path string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM documents WHERE path = $1`, path); err != nil {
		return fmt.Errorf("delete document %s: %w", path, err)
	}
	return nil
}

func (p *Postgres) Commit(ctx context.Context, writes []Write) ([]Change, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	changes, err := commit(ctx, pgTxn{tx: tx}, writes, p.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit documents: %w", err)
	}
	return changes, nil
}
