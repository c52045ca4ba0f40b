package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/graaaaa/instancewatch/internal/feed"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func feedEntry(id string, sec int) *feed.Entry {
	return &feed.Entry{
		ID:          id,
		Type:        feed.TypePlayerJoined,
		CreatedAt:   time.Date(2024, 5, 1, 12, 0, sec, 0, time.UTC),
		DisplayName: "alice",
	}
}

func TestOpenUsesWAL(t *testing.T) {
	s := openTestStore(t)
	mode, err := s.journalMode()
	if err != nil {
		t.Fatalf("journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal mode = %q, want wal", mode)
	}
}

func TestInsertFeedDeduplicatesByEntryID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	inserted, err := s.InsertFeed(ctx, feedEntry("e1", 0))
	if err != nil || !inserted {
		t.Fatalf("first insert = (%v, %v)", inserted, err)
	}

	inserted, err = s.InsertFeed(ctx, feedEntry("e1", 0))
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if inserted {
		t.Error("duplicate entry id must not insert")
	}
}

func TestInsertFeedValidates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cases := []*feed.Entry{
		nil,
		{Type: feed.TypePlayerJoined, CreatedAt: time.Now()},
		{ID: "e1", CreatedAt: time.Now()},
		{ID: "e1", Type: feed.TypePlayerJoined},
	}
	for i, e := range cases {
		if _, err := s.InsertFeed(ctx, e); !errors.Is(err, ErrInvalidEntry) {
			t.Errorf("case %d: err = %v, want invalid entry", i, err)
		}
	}
}

func TestQueryFeedPagination(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.InsertFeed(ctx, feedEntry(fmt.Sprintf("e%d", i), i)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	page1, err := s.QueryFeed(ctx, FeedFilter{Limit: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page1.Items) != 2 || page1.NextCursor == nil {
		t.Fatalf("page1 = %d items, cursor %v", len(page1.Items), page1.NextCursor)
	}
	if page1.Items[0].Entry.ID != "e0" || page1.Items[1].Entry.ID != "e1" {
		t.Errorf("page1 order = %s, %s", page1.Items[0].Entry.ID, page1.Items[1].Entry.ID)
	}

	page2, err := s.QueryFeed(ctx, FeedFilter{Limit: 2, Cursor: page1.NextCursor})
	if err != nil {
		t.Fatalf("query page2: %v", err)
	}
	if len(page2.Items) != 2 || page2.Items[0].Entry.ID != "e2" {
		t.Fatalf("page2 = %+v", page2.Items)
	}

	page3, err := s.QueryFeed(ctx, FeedFilter{Limit: 2, Cursor: page2.NextCursor})
	if err != nil {
		t.Fatalf("query page3: %v", err)
	}
	if len(page3.Items) != 1 || page3.NextCursor != nil {
		t.Errorf("page3 = %d items, cursor %v, want final page", len(page3.Items), page3.NextCursor)
	}
}

func TestQueryFeedSameTimestampPagination(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Three entries at the identical timestamp; the row id breaks the tie.
	for i := 0; i < 3; i++ {
		if _, err := s.InsertFeed(ctx, feedEntry(fmt.Sprintf("same%d", i), 0)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	page1, err := s.QueryFeed(ctx, FeedFilter{Limit: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	page2, err := s.QueryFeed(ctx, FeedFilter{Limit: 2, Cursor: page1.NextCursor})
	if err != nil {
		t.Fatalf("query page2: %v", err)
	}
	if len(page2.Items) != 1 || page2.Items[0].Entry.ID != "same2" {
		t.Errorf("page2 = %+v, want the remaining row", page2.Items)
	}
}

func TestQueryFeedFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	join := feedEntry("j1", 0)
	left := feedEntry("l1", 10)
	left.Type = feed.TypePlayerLeft
	for _, e := range []*feed.Entry{join, left} {
		if _, err := s.InsertFeed(ctx, e); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	typ := feed.TypePlayerLeft
	res, err := s.QueryFeed(ctx, FeedFilter{Type: &typ})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].Entry.ID != "l1" {
		t.Errorf("type filter = %+v", res.Items)
	}

	since := time.Date(2024, 5, 1, 12, 0, 5, 0, time.UTC)
	res, err = s.QueryFeed(ctx, FeedFilter{Since: &since})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].Entry.ID != "l1" {
		t.Errorf("since filter = %+v", res.Items)
	}

	until := since
	res, err = s.QueryFeed(ctx, FeedFilter{Until: &until})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].Entry.ID != "j1" {
		t.Errorf("until filter = %+v", res.Items)
	}
}

func TestQueryFeedInvalidCursor(t *testing.T) {
	s := openTestStore(t)
	bad := "not base64!"
	_, err := s.QueryFeed(context.Background(), FeedFilter{Cursor: &bad})
	if !errors.Is(err, ErrInvalidCursor) {
		t.Errorf("err = %v, want invalid cursor", err)
	}
}

func TestQueryFeedRoundTripsPayload(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := feedEntry("p1", 0)
	e.Type = feed.TypePlayerLeft
	e.Player = &feed.PlayerPayload{Text: "has left", Elapsed: 90 * time.Second}
	if _, err := s.InsertFeed(ctx, e); err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := s.QueryFeed(ctx, FeedFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	got := res.Items[0].Entry
	if got.Player == nil || got.Player.Text != "has left" || got.Player.Elapsed != 90*time.Second {
		t.Errorf("payload = %+v", got.Player)
	}
}

func TestGetLastFeedTime(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.GetLastFeedTime(ctx)
	if err != nil || !got.IsZero() {
		t.Fatalf("empty history = (%v, %v), want zero time", got, err)
	}

	last := feedEntry("e9", 30)
	for _, e := range []*feed.Entry{feedEntry("e1", 0), last} {
		if _, err := s.InsertFeed(ctx, e); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err = s.GetLastFeedTime(ctx)
	if err != nil {
		t.Fatalf("last feed time: %v", err)
	}
	if !got.Equal(last.CreatedAt) {
		t.Errorf("got %v, want %v", got, last.CreatedAt)
	}
}

func TestModerationLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetModeration(ctx, "usr_a")
	if err != nil || ok {
		t.Fatalf("missing record = (%v, %v)", ok, err)
	}

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := ModerationRecord{UserID: "usr_a", DisplayName: "alice", Block: true, UpdatedAt: at}
	if err := s.SetModeration(ctx, rec); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := s.GetModeration(ctx, "usr_a")
	if err != nil || !ok {
		t.Fatalf("get = (%v, %v)", ok, err)
	}
	if !got.Block || got.Mute || got.DisplayName != "alice" || !got.UpdatedAt.Equal(at) {
		t.Errorf("record = %+v", got)
	}

	// Upsert flips the state in place.
	rec.Block = false
	rec.Mute = true
	if err := s.SetModeration(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _, _ = s.GetModeration(ctx, "usr_a")
	if got.Block || !got.Mute {
		t.Errorf("after upsert = %+v", got)
	}

	if err := s.DeleteModeration(ctx, "usr_a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.GetModeration(ctx, "usr_a"); ok {
		t.Error("record should be gone")
	}
}

func TestAgainstMeKeepsOnePerUserAndType(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := s.UpsertAgainstMe(ctx, "usr_a", "alice", "block", at); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertAgainstMe(ctx, "usr_a", "alice", "block", at.Add(time.Hour)); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if err := s.UpsertAgainstMe(ctx, "usr_a", "alice", "mute", at); err != nil {
		t.Fatalf("mute upsert: %v", err)
	}

	recs, err := s.ListAgainstMe(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want one per type", len(recs))
	}
	for _, r := range recs {
		if r.Type == "block" && !r.CreatedAt.Equal(at.Add(time.Hour)) {
			t.Errorf("block record = %+v, want the later timestamp", r)
		}
	}
}

func TestChatInsertAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		err := s.InsertChat(ctx, ChatMessage{
			Ts:          base.Add(time.Duration(i) * time.Second),
			DisplayName: "alice",
			Text:        fmt.Sprintf("msg %d", i),
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	msgs, err := s.RecentChat(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Text != "msg 2" || msgs[1].Text != "msg 1" {
		t.Errorf("recent = %+v, want newest first", msgs)
	}

	if err := s.InsertChat(ctx, ChatMessage{Ts: base}); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("empty message err = %v, want invalid entry", err)
	}
}

func TestVacuumDeletesOldRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := feedEntry("old", 0)
	recent := feedEntry("recent", 30)
	for _, e := range []*feed.Entry{old, recent} {
		if _, err := s.InsertFeed(ctx, e); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := s.InsertChat(ctx, ChatMessage{Ts: old.CreatedAt, DisplayName: "a", Text: "stale"}); err != nil {
		t.Fatalf("insert chat: %v", err)
	}

	cutoff := time.Date(2024, 5, 1, 12, 0, 15, 0, time.UTC)
	deleted, err := s.Vacuum(ctx, cutoff)
	if err != nil {
		t.Fatalf("vacuum: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want feed row + chat row", deleted)
	}

	res, err := s.QueryFeed(ctx, FeedFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].Entry.ID != "recent" {
		t.Errorf("surviving rows = %+v", res.Items)
	}
}
