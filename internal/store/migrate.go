package store

import (
	"context"
	"fmt"
)

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// migrate runs database migrations.
func (s *Store) migrate(ctx context.Context) error {
	if err := s.createFeedTable(ctx); err != nil {
		return err
	}
	if err := s.createModerationTables(ctx); err != nil {
		return err
	}
	if err := s.createChatTable(ctx); err != nil {
		return err
	}
	return nil
}

func (s *Store) createFeedTable(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS feed (
		id             INTEGER PRIMARY KEY,
		entry_id       TEXT NOT NULL,
		ts             TEXT NOT NULL,
		type           TEXT NOT NULL,
		user_id        TEXT,
		display_name   TEXT,
		payload_json   TEXT,
		ingested_at    TEXT NOT NULL,
		schema_version INTEGER NOT NULL,
		UNIQUE(entry_id)
	);

	CREATE INDEX IF NOT EXISTS idx_feed_ts ON feed(ts);
	CREATE INDEX IF NOT EXISTS idx_feed_type_ts ON feed(type, ts);
	CREATE INDEX IF NOT EXISTS idx_feed_ts_id ON feed(ts, id);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create feed table: %w", err)
	}
	return nil
}

func (s *Store) createModerationTables(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS moderation (
		user_id      TEXT PRIMARY KEY,
		display_name TEXT,
		block        INTEGER NOT NULL,
		mute         INTEGER NOT NULL,
		updated_at   TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS moderation_against_me (
		id           INTEGER PRIMARY KEY,
		user_id      TEXT NOT NULL,
		display_name TEXT,
		type         TEXT NOT NULL,
		created_at   TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_against_me_user_type ON moderation_against_me(user_id, type);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create moderation tables: %w", err)
	}
	return nil
}

func (s *Store) createChatTable(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS chat (
		id           INTEGER PRIMARY KEY,
		ts           TEXT NOT NULL,
		user_id      TEXT,
		display_name TEXT NOT NULL,
		text         TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chat_ts ON chat(ts);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create chat table: %w", err)
	}
	return nil
}
