package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/skdvlpr/gomercatocrm/internal/ack"
)

// ErrMissingExternalID is returned when a message without an external id is
// written. Unconfirmed local sends are never persisted.
var ErrMissingExternalID = errors.New("message has no external id")

// Upsert stores m unless a message with the same chat and external id is
// already present. For a present message only the allowed mutations are
// applied: a missing temp id is bound and the ack is raised. A uniqueness
// violation is reported as AlreadyPresent (AckRaised when the ack moved),
// never as an error.
func (db *DB) Upsert(ctx context.Context, m *Message) (UpsertResult, error) {
	if m.ExternalID == "" {
		return 0, ErrMissingExternalID
	}
	now := time.Now().UnixMilli()
	res, err := db.ExecContext(ctx, `
		INSERT INTO messages (chat_id, external_id, temp_id, body, from_me, timestamp, ack_level, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, external_id) DO NOTHING`,
		m.ChatID, m.ExternalID, m.TempID, m.Body, m.FromMe, m.Timestamp, m.AckLevel, m.Status, now, now)
	if err != nil && !isUniqueViolation(err) {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	if err == nil {
		if n, _ := res.RowsAffected(); n == 1 {
			return Inserted, nil
		}
	}

	if m.TempID != "" {
		if _, err := db.ExecContext(ctx, `
			UPDATE messages SET temp_id = ?, updated_at = ?
			WHERE chat_id = ? AND external_id = ? AND temp_id = ''`,
			m.TempID, now, m.ChatID, m.ExternalID); err != nil {
			return 0, fmt.Errorf("bind temp id: %w", err)
		}
	}
	if m.AckLevel.Valid && m.FromMe {
		raised, err := db.RaiseAck(ctx, m.ChatID, m.ExternalID, ack.Level(m.AckLevel.Int64), m.Status)
		if err != nil {
			return 0, err
		}
		if raised {
			return AckRaised, nil
		}
	}
	return AlreadyPresent, nil
}

// ListByChat returns the most recent limit messages of a chat in the given
// order. limit <= 0 means 100.
func (db *DB) ListByChat(ctx context.Context, chatID string, limit int, order Order) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, chat_id, external_id, temp_id, body, from_me, timestamp, ack_level, status
		FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if order == Chronological {
		slices.Reverse(msgs)
	}
	return msgs, nil
}

// Get returns a message by external id. An empty chatID matches any chat.
// It returns nil when the message is unknown.
func (db *DB) Get(ctx context.Context, chatID, externalID string) (*Message, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, chat_id, external_id, temp_id, body, from_me, timestamp, ack_level, status
		FROM messages
		WHERE external_id = ? AND (? = '' OR chat_id = ?)
		ORDER BY id
		LIMIT 1`, externalID, chatID, chatID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// RaiseAck moves the ack of a stored own message to level if the ack state
// machine allows it. It reports whether the row changed. Unknown messages and
// inbound messages are left alone.
func (db *DB) RaiseAck(ctx context.Context, chatID, externalID string, level ack.Level, status string) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id      int64
		fromMe  bool
		current sql.NullInt64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, from_me, ack_level FROM messages
		WHERE external_id = ? AND (? = '' OR chat_id = ?)
		ORDER BY id LIMIT 1`, externalID, chatID, chatID).Scan(&id, &fromMe, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load ack: %w", err)
	}
	if !fromMe {
		return false, nil
	}

	from := ack.Pending
	if current.Valid {
		from = ack.Level(current.Int64)
	}
	next, changed := ack.Apply(from, level)
	if !changed {
		return false, nil
	}
	if status == "" {
		status = next.String()
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET ack_level = ?, status = ?, updated_at = ? WHERE id = ?`,
		int64(next), status, time.Now().UnixMilli(), id); err != nil {
		return false, fmt.Errorf("update ack: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit ack: %w", err)
	}
	return true, nil
}

// MessageCount returns the total number of stored messages.
func (db *DB) MessageCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (Message, error) {
	var m Message
	err := s.Scan(&m.ID, &m.ChatID, &m.ExternalID, &m.TempID, &m.Body, &m.FromMe, &m.Timestamp, &m.AckLevel, &m.Status)
	return m, err
}
