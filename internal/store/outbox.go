package store

import (
	"database/sql"
	"fmt"
	"time"
)

// QueuedWrite is one remote commit waiting in the outbox table. Writes
// holds the encoded document writes.
type QueuedWrite struct {
	ID        int64
	Op        string
	Writes    []byte
	CreatedAt time.Time
}

// OutboxStore journals remote commits so they survive a restart.
type OutboxStore struct {
	db *sql.DB
}

func NewOutboxStore(db *sql.DB) *OutboxStore {
	return &OutboxStore{db: db}
}

func (s *OutboxStore) Append(op string, writes []byte) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO outbox (op, writes, created_at) VALUES (?, ?, ?)`,
		op, string(writes), time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("append outbox: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append outbox: %w", err)
	}
	return id, nil
}

// Pending returns queued commits oldest first.
func (s *OutboxStore) Pending() ([]QueuedWrite, error) {
	rows, err := s.db.Query(`SELECT id, op, writes, created_at FROM outbox ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close()

	var queued []QueuedWrite
	for rows.Next() {
		var q QueuedWrite
		var writes string
		if err := rows.Scan(&q.ID, &q.Op, &writes, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		q.Writes = []byte(writes)
		queued = append(queued, q)
	}
	return queued, rows.Err()
}

// Ack removes a delivered or abandoned commit.
func (s *OutboxStore) Ack(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM outbox WHERE id = ?`, id); err != nil {
		return fmt.Errorf("ack outbox %d: %w", id, err)
	}
	return nil
}
