package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ChatMessage is a persisted chatbox message.
type ChatMessage struct {
	ID          int64     `json:"id"`
	Ts          time.Time `json:"ts"`
	UserID      string    `json:"user_id,omitempty"`
	DisplayName string    `json:"display_name"`
	Text        string    `json:"text"`
}

// InsertChat persists a chatbox message.
func (s *Store) InsertChat(ctx context.Context, msg ChatMessage) error {
	if msg.DisplayName == "" || msg.Text == "" {
		return fmt.Errorf("%w: display_name and text are required", ErrInvalidEntry)
	}

	const query = `INSERT INTO chat (ts, user_id, display_name, text) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		msg.Ts.UTC().Format(TimeFormat),
		nullString(msg.UserID),
		msg.DisplayName,
		msg.Text,
	)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

// RecentChat returns up to limit chat messages, newest first.
func (s *Store) RecentChat(ctx context.Context, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = defaultLimit
	} else if limit > maxLimit {
		limit = maxLimit
	}

	const query = `SELECT id, ts, user_id, display_name, text FROM chat ORDER BY ts DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat: %w", err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var (
			msg    ChatMessage
			ts     string
			userID sql.NullString
		)
		if err := rows.Scan(&msg.ID, &ts, &userID, &msg.DisplayName, &msg.Text); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		msg.UserID = userID.String
		msg.Ts, err = time.Parse(TimeFormat, ts)
		if err != nil {
			return nil, fmt.Errorf("parse ts %q: %w", ts, err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}
