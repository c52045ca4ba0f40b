package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ModerationRecord is the persisted block/mute relationship between the
// local user and a peer.
type ModerationRecord struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Block       bool      `json:"block"`
	Mute        bool      `json:"mute"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GetModeration returns the persisted moderation record for a user.
// The second return is false if no record exists.
func (s *Store) GetModeration(ctx context.Context, userID string) (ModerationRecord, bool, error) {
	const query = `SELECT user_id, display_name, block, mute, updated_at FROM moderation WHERE user_id = ?`

	var (
		rec         ModerationRecord
		displayName sql.NullString
		block, mute int
		updatedAt   string
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&rec.UserID, &displayName, &block, &mute, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ModerationRecord{}, false, nil
	}
	if err != nil {
		return ModerationRecord{}, false, fmt.Errorf("get moderation: %w", err)
	}

	rec.DisplayName = displayName.String
	rec.Block = block != 0
	rec.Mute = mute != 0
	rec.UpdatedAt, err = time.Parse(TimeFormat, updatedAt)
	if err != nil {
		return ModerationRecord{}, false, fmt.Errorf("parse updated_at %q: %w", updatedAt, err)
	}
	return rec, true, nil
}

// SetModeration upserts the moderation record for a user.
func (s *Store) SetModeration(ctx context.Context, rec ModerationRecord) error {
	if rec.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidEntry)
	}

	const query = `
	INSERT INTO moderation (user_id, display_name, block, mute, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		display_name = excluded.display_name,
		block        = excluded.block,
		mute         = excluded.mute,
		updated_at   = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.UserID,
		nullString(rec.DisplayName),
		boolToInt(rec.Block),
		boolToInt(rec.Mute),
		rec.UpdatedAt.UTC().Format(TimeFormat),
	)
	if err != nil {
		return fmt.Errorf("set moderation: %w", err)
	}
	return nil
}

// DeleteModeration removes the persisted record for a user.
func (s *Store) DeleteModeration(ctx context.Context, userID string) error {
	const query = `DELETE FROM moderation WHERE user_id = ?`
	if _, err := s.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("delete moderation: %w", err)
	}
	return nil
}

// AgainstMeRecord is one active moderation held against the local user.
type AgainstMeRecord struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Type        string    `json:"type"`
	CreatedAt   time.Time `json:"created_at"`
}

// UpsertAgainstMe inserts a moderation-against-me entry, first removing
// any existing entry for the same (user, type) so at most one active
// entry per type per user remains.
func (s *Store) UpsertAgainstMe(ctx context.Context, userID, displayName, typ string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin against-me upsert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM moderation_against_me WHERE user_id = ? AND type = ?`,
		userID, typ,
	); err != nil {
		return fmt.Errorf("clear against-me entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO moderation_against_me (user_id, display_name, type, created_at) VALUES (?, ?, ?, ?)`,
		userID, nullString(displayName), typ, at.UTC().Format(TimeFormat),
	); err != nil {
		return fmt.Errorf("insert against-me entry: %w", err)
	}

	return tx.Commit()
}

// ListAgainstMe returns all active moderation-against-me entries.
func (s *Store) ListAgainstMe(ctx context.Context) ([]AgainstMeRecord, error) {
	const query = `SELECT id, user_id, display_name, type, created_at FROM moderation_against_me ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list against-me: %w", err)
	}
	defer rows.Close()

	var out []AgainstMeRecord
	for rows.Next() {
		var (
			rec         AgainstMeRecord
			displayName sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &displayName, &rec.Type, &createdAt); err != nil {
			return nil, fmt.Errorf("scan against-me row: %w", err)
		}
		rec.DisplayName = displayName.String
		rec.CreatedAt, err = time.Parse(TimeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
