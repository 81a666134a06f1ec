// Package exchangestore persists the secure-ID snapshot associated with
// each in-flight operation that expects a response message, so that a
// secure-ID change between request and response can be detected and the
// stale response discarded. It is backed by a single-file SQLite
// database opened through database/sql, the same driver-agnostic
// pattern the rest of this codebase uses for relational storage.
package exchangestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/oriys/courier/internal/logging"
)

// MessageContext is a row of the message_context table: the secure ID
// that was current when an operation-carrying message was accepted.
type MessageContext struct {
	ID          int64
	OperationID int64
	SecureID    string
	MessageType string
	Timestamp   time.Time
}

// ErrDuplicateOperation is returned by Add when operation_id is already
// recorded; callers treat this as "already tracked", not a failure.
var ErrDuplicateOperation = errors.New("exchangestore: operation already recorded")

// ErrNotFound is returned by Get when no context exists for an operation.
var ErrNotFound = errors.New("exchangestore: no such operation")

// Store wraps the message_context table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at filename and
// ensures the message_context schema exists.
func Open(filename string) (*Store, error) {
	db, err := sql.Open("sqlite3", filename+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("exchangestore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite: one writer at a time, avoid SQLITE_BUSY churn
	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS message_context (
		id INTEGER PRIMARY KEY,
		timestamp TIMESTAMP,
		secure_id TEXT NOT NULL,
		operation_id INTEGER NOT NULL,
		message_type TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("exchangestore: create table: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`CREATE UNIQUE INDEX IF NOT EXISTS msgctx_operationid_idx ON message_context(operation_id)`)
	if err != nil {
		return fmt.Errorf("exchangestore: create index: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error fn returns, mirroring the original's with_cursor.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("exchangestore: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Op().Warn("exchangestore rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("exchangestore: commit: %w", err)
	}
	return nil
}

// Add records a new message context for operationID, secureID and
// messageType. If operationID is already present, ErrDuplicateOperation
// is returned and no row is inserted.
func (s *Store) Add(ctx context.Context, operationID int64, secureID, messageType string) (*MessageContext, error) {
	var mc *MessageContext
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO message_context (operation_id, secure_id, message_type, timestamp) VALUES (?, ?, ?, ?)`,
			operationID, secureID, messageType, time.Now().UTC())
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return ErrDuplicateOperation
			}
			return fmt.Errorf("exchangestore: insert: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("exchangestore: last insert id: %w", err)
		}
		mc = &MessageContext{
			ID:          id,
			OperationID: operationID,
			SecureID:    secureID,
			MessageType: messageType,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mc, nil
}

// Get returns the MessageContext for operationID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, operationID int64) (*MessageContext, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, operation_id, secure_id, message_type, timestamp FROM message_context WHERE operation_id=?`,
		operationID)
	var mc MessageContext
	if err := row.Scan(&mc.ID, &mc.OperationID, &mc.SecureID, &mc.MessageType, &mc.Timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("exchangestore: get: %w", err)
	}
	return &mc, nil
}

// Remove deletes the context row by its primary key.
func (s *Store) Remove(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM message_context WHERE id=?`, id)
		if err != nil {
			return fmt.Errorf("exchangestore: delete: %w", err)
		}
		return nil
	})
}

// AllOperationIDs returns every operation_id currently tracked.
func (s *Store) AllOperationIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT operation_id FROM message_context`)
	if err != nil {
		return nil, fmt.Errorf("exchangestore: query: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("exchangestore: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
