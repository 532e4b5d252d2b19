package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLite stores documents in the documents table created by the database
// migrations.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db, now: time.Now}
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getSQL(ctx context.Context, q sqlQuerier, path string) (*Document, error) {
	var d Document
	var data string
	err := q.QueryRowContext(ctx, `SELECT path, data, update_time FROM documents WHERE path = ?`, path).
		Scan(&d.Path, &data, &d.UpdateTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", path, err)
	}
	d.Data = []byte(data)
	return &d, nil
}

func (s *SQLite) Get(ctx context.Context, path string) (Document, error) {
	if err := ValidateDocPath(path); err != nil {
		return Document{}, err
	}
	d, err := getSQL(ctx, s.db, path)
	if err != nil {
		return Document{}, err
	}
	if d == nil {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return *d, nil
}

func (s *SQLite) List(ctx context.Context, collection string) ([]Document, error) {
	if err := ValidateCollectionPath(collection); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, data, update_time FROM documents WHERE parent = ? ORDER BY path`, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var d Document
		var data string
		if err := rows.Scan(&d.Path, &data, &d.UpdateTime); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.Data = []byte(data)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

type sqliteTxn struct{ tx *sql.Tx }

func (t sqliteTxn) get(ctx context.Context, path string) (*Document, error) {
	return getSQL(ctx, t.tx, path)
}

func (t sqliteTxn) put(ctx context.Context, doc Document) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO documents (path, parent, data, update_time) VALUES (?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET data = excluded.data, update_time = excluded.update_time`,
		doc.Path, Parent(doc.Path), string(doc.Data), doc.UpdateTime,
	)
	if err != nil {
		return fmt.Errorf("put document %s: %w", doc.Path, err)
	}
	return nil
}

func (t sqliteTxn) del(ctx context.Context, path string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete document %s: %w", path, err)
	}
	return nil
}

func (s *SQLite) Commit(ctx context.Context, writes []Write) ([]Change, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	changes, err := commit(ctx, sqliteTxn{tx: tx}, writes, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit documents: %w", err)
	}
	return changes, nil
}
