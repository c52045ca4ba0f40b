package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/graaaaa/instancewatch/internal/feed"
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

// feedRow is the internal type representing a feed table row.
type feedRow struct {
	ID            int64
	EntryID       string
	Ts            string
	Type          string
	UserID        sql.NullString
	DisplayName   sql.NullString
	PayloadJSON   sql.NullString
	IngestedAt    string
	SchemaVersion int
}

// FeedRecord is a stored feed entry with its row id and timestamps.
type FeedRecord struct {
	ID         int64      `json:"id"`
	IngestedAt time.Time  `json:"ingested_at"`
	Entry      feed.Entry `json:"entry"`
}

// InsertFeed inserts a feed entry into the history.
// Returns false without error if the entry id was already stored.
func (s *Store) InsertFeed(ctx context.Context, e *feed.Entry) (inserted bool, err error) {
	if err := validateEntry(e); err != nil {
		return false, err
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("marshal entry: %w", err)
	}

	const query = `
	INSERT INTO feed
	(entry_id, ts, type, user_id, display_name, payload_json, ingested_at, schema_version)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(entry_id) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.CreatedAt.UTC().Format(TimeFormat),
		string(e.Type),
		nullString(e.UserID),
		nullString(e.DisplayName),
		sql.NullString{String: string(payload), Valid: true},
		time.Now().UTC().Format(TimeFormat),
		CurrentSchemaVersion,
	)
	if err != nil {
		return false, fmt.Errorf("insert feed entry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

// FeedFilter contains filter options for querying the feed history.
type FeedFilter struct {
	Since  *time.Time
	Until  *time.Time
	Type   *feed.Type
	Limit  int
	Cursor *string
}

// FeedResult contains the result of a feed query.
type FeedResult struct {
	Items      []FeedRecord
	NextCursor *string
}

// QueryFeed queries feed history with optional filters and cursor-based
// pagination, ordered ts ascending.
func (s *Store) QueryFeed(ctx context.Context, f FeedFilter) (FeedResult, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	} else if limit > maxLimit {
		limit = maxLimit
	}

	var (
		sb   strings.Builder
		args []any
	)

	sb.WriteString(`
SELECT id, entry_id, ts, type, user_id, display_name, payload_json, ingested_at, schema_version
FROM feed
WHERE 1=1
`)

	if f.Since != nil {
		sb.WriteString(" AND ts >= ?")
		args = append(args, f.Since.UTC().Format(TimeFormat))
	}
	if f.Until != nil {
		sb.WriteString(" AND ts < ?")
		args = append(args, f.Until.UTC().Format(TimeFormat))
	}
	if f.Type != nil && *f.Type != "" {
		sb.WriteString(" AND type = ?")
		args = append(args, string(*f.Type))
	}

	// Cursor handling (composite cursor: ts|id)
	if f.Cursor != nil && *f.Cursor != "" {
		cursorTime, cursorID, err := decodeCursor(*f.Cursor)
		if err != nil {
			return FeedResult{}, fmt.Errorf("decode cursor: %w", err)
		}
		sb.WriteString(" AND (ts > ? OR (ts = ? AND id > ?))")
		cursorTimeStr := cursorTime.UTC().Format(TimeFormat)
		args = append(args, cursorTimeStr, cursorTimeStr, cursorID)
	}

	sb.WriteString(" ORDER BY ts ASC, id ASC")
	sb.WriteString(" LIMIT ?")
	args = append(args, limit+1) // fetch one extra to detect next page

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return FeedResult{}, fmt.Errorf("query feed: %w", err)
	}
	defer rows.Close()

	items := make([]FeedRecord, 0, limit+1)
	for rows.Next() {
		var r feedRow
		if err := rows.Scan(
			&r.ID, &r.EntryID, &r.Ts, &r.Type, &r.UserID,
			&r.DisplayName, &r.PayloadJSON, &r.IngestedAt, &r.SchemaVersion,
		); err != nil {
			return FeedResult{}, fmt.Errorf("scan feed row: %w", err)
		}
		rec, err := r.toRecord()
		if err != nil {
			return FeedResult{}, err
		}
		items = append(items, *rec)
	}
	if err := rows.Err(); err != nil {
		return FeedResult{}, fmt.Errorf("rows error: %w", err)
	}

	var nextCursor *string
	if len(items) > limit {
		last := items[limit-1]
		items = items[:limit]
		c := EncodeCursor(last.Entry.CreatedAt, last.ID)
		nextCursor = &c
	}

	return FeedResult{Items: items, NextCursor: nextCursor}, nil
}

// GetLastFeedTime returns the timestamp of the most recent feed entry.
// Returns zero time if the history is empty.
func (s *Store) GetLastFeedTime(ctx context.Context) (time.Time, error) {
	const query = `SELECT ts FROM feed ORDER BY ts DESC, id DESC LIMIT 1`

	var ts string
	err := s.db.QueryRowContext(ctx, query).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get last feed time: %w", err)
	}

	t, err := time.Parse(TimeFormat, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse ts %q: %w", ts, err)
	}
	return t, nil
}

func (r *feedRow) toRecord() (*FeedRecord, error) {
	ingestedAt, err := time.Parse(TimeFormat, r.IngestedAt)
	if err != nil {
		return nil, fmt.Errorf("parse ingested_at %q: %w", r.IngestedAt, err)
	}

	rec := &FeedRecord{ID: r.ID, IngestedAt: ingestedAt}

	if r.PayloadJSON.Valid && r.PayloadJSON.String != "" {
		if err := json.Unmarshal([]byte(r.PayloadJSON.String), &rec.Entry); err != nil {
			return nil, fmt.Errorf("unmarshal entry %d: %w", r.ID, err)
		}
	} else {
		// Minimal reconstruction for rows without payload.
		ts, err := time.Parse(TimeFormat, r.Ts)
		if err != nil {
			return nil, fmt.Errorf("parse ts %q: %w", r.Ts, err)
		}
		rec.Entry = feed.Entry{
			ID:        r.EntryID,
			Type:      feed.Type(r.Type),
			CreatedAt: ts,
		}
		if r.UserID.Valid {
			rec.Entry.UserID = r.UserID.String
		}
		if r.DisplayName.Valid {
			rec.Entry.DisplayName = r.DisplayName.String
		}
	}

	return rec, nil
}

// validateEntry checks that required fields are set.
func validateEntry(e *feed.Entry) error {
	if e == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalidEntry)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEntry)
	}
	if e.Type == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidEntry)
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at is required", ErrInvalidEntry)
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
