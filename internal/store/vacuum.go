package store

import (
	"context"
	"fmt"
	"time"
)

// DefaultRetention is how long feed history and chat messages are kept.
const DefaultRetention = 90 * 24 * time.Hour

// Vacuum deletes feed and chat rows older than before, then reclaims
// space. Intended to run at startup and periodically.
func (s *Store) Vacuum(ctx context.Context, before time.Time) (deleted int64, err error) {
	cutoff := before.UTC().Format(TimeFormat)

	res, err := s.db.ExecContext(ctx, `DELETE FROM feed WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("vacuum feed: %w", err)
	}
	n, _ := res.RowsAffected()
	deleted += n

	res, err = s.db.ExecContext(ctx, `DELETE FROM chat WHERE ts < ?`, cutoff)
	if err != nil {
		return deleted, fmt.Errorf("vacuum chat: %w", err)
	}
	n, _ = res.RowsAffected()
	deleted += n

	if deleted > 0 {
		// Incremental vacuum is not enabled; a full VACUUM after bulk
		// deletes keeps the file size bounded.
		if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
			return deleted, fmt.Errorf("vacuum database: %w", err)
		}
	}
	return deleted, nil
}
