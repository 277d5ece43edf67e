package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteMessageStore is the reference persistence collaborator. Deployments
// that delegate durability to a hosted store swap this for their own
// MessageStore implementation.
type SQLiteMessageStore struct {
	db *sql.DB
}

func NewSQLiteMessageStore(db *sql.DB) *SQLiteMessageStore {
	return &SQLiteMessageStore{db: db}
}

func (s *SQLiteMessageStore) SaveMessage(ctx context.Context, msg *Message) error {
	query := `INSERT INTO messages (id, chat_id, to_user_id, sender, content, kind,
	        file_url, file_name, file_size, sent_at, is_read, read_by)
	        VALUES (@id, @chat_id, @to_user_id, @sender, @content, @kind,
	        @file_url, @file_name, @file_size, @sent_at, @is_read, @read_by)`
	_, err := s.db.ExecContext(ctx, query,
		sql.Named("id", msg.ID), sql.Named("chat_id", msg.ChatID),
		sql.Named("to_user_id", msg.ToUserID), sql.Named("sender", msg.Sender),
		sql.Named("content", msg.Content), sql.Named("kind", string(msg.Kind)),
		sql.Named("file_url", msg.FileURL), sql.Named("file_name", msg.FileName),
		sql.Named("file_size", msg.FileSize), sql.Named("sent_at", msg.SentAt),
		sql.Named("is_read", msg.Read), sql.Named("read_by", msg.ReadBy),
	)
	if err != nil {
		return fmt.Errorf("ExecContext(insert message): %w", err)
	}
	return nil
}

func (s *SQLiteMessageStore) LoadHistory(ctx context.Context, chatID string, limit, offset int) ([]Message, error) {
	if limit == 0 {
		limit = 100
	}
	query := `SELECT id, chat_id, to_user_id, sender, content, kind,
	        file_url, file_name, file_size, sent_at, is_read, read_by
	        FROM messages WHERE chat_id = @chat_id
	        ORDER BY sent_at DESC, id LIMIT @limit OFFSET @offset`
	rows, err := s.db.QueryContext(ctx, query,
		sql.Named("chat_id", chatID), sql.Named("limit", limit), sql.Named("offset", offset))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var kind string
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.ToUserID, &msg.Sender,
			&msg.Content, &kind, &msg.FileURL, &msg.FileName, &msg.FileSize,
			&msg.SentAt, &msg.Read, &msg.ReadBy); err != nil {
			return nil, fmt.Errorf("Scan: %w", err)
		}
		msg.Kind = MessageKind(kind)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return messages, nil
}

func (s *SQLiteMessageStore) UpdateReadFlag(ctx context.Context, messageID, readBy string) (*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	query := `UPDATE messages SET is_read = 1, read_by = @read_by WHERE id = @id`
	res, err := tx.ExecContext(ctx, query,
		sql.Named("read_by", readBy), sql.Named("id", messageID))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(update read flag): %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrUnknownMessage
	}

	query = `SELECT id, chat_id, to_user_id, sender, content, kind,
	        file_url, file_name, file_size, sent_at, is_read, read_by
	        FROM messages WHERE id = @id`
	var msg Message
	var kind string
	err = tx.QueryRowContext(ctx, query, sql.Named("id", messageID)).
		Scan(&msg.ID, &msg.ChatID, &msg.ToUserID, &msg.Sender,
			&msg.Content, &kind, &msg.FileURL, &msg.FileName, &msg.FileSize,
			&msg.SentAt, &msg.Read, &msg.ReadBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownMessage
	}
	if err != nil {
		return nil, fmt.Errorf("QueryRowContext: %w", err)
	}
	msg.Kind = MessageKind(kind)

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Commit: %w", err)
	}
	return &msg, nil
}

func (s *SQLiteMessageStore) SetPresenceLastSeen(ctx context.Context, userID string, ts time.Time) error {
	query := `INSERT INTO presence (user_id, last_seen) VALUES (@user_id, @last_seen)
	        ON CONFLICT (user_id) DO UPDATE SET last_seen = @last_seen`
	_, err := s.db.ExecContext(ctx, query,
		sql.Named("user_id", userID), sql.Named("last_seen", ts))
	if err != nil {
		return fmt.Errorf("ExecContext(upsert presence): %w", err)
	}
	return nil
}

// PresenceLastSeen returns the recorded last-seen timestamp for a user, used
// for display when the user is offline.
func (s *SQLiteMessageStore) PresenceLastSeen(ctx context.Context, userID string) (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT last_seen FROM presence WHERE user_id = @user_id`,
		sql.Named("user_id", userID)).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("QueryRowContext: %w", err)
	}
	return ts, nil
}
