package photon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/graaaaa/instancewatch/internal/feed"
	"github.com/graaaaa/instancewatch/internal/identity"
	"github.com/graaaaa/instancewatch/internal/session"
)

type fakeWorlds struct {
	worldID   string
	worldName string
	err       error
	calls     []string
}

func (f *fakeWorlds) ResolveShortName(_ context.Context, shortName string) (string, string, error) {
	f.calls = append(f.calls, shortName)
	return f.worldID, f.worldName, f.err
}

// queuePoster buffers posted closures so tests can run async
// continuations at a chosen point.
type queuePoster struct {
	fns chan func()
}

func newQueuePoster() *queuePoster {
	return &queuePoster{fns: make(chan func(), 8)}
}

func (q *queuePoster) Post(fn func()) { q.fns <- fn }

func (q *queuePoster) runNext(t *testing.T) {
	t.Helper()
	select {
	case fn := <-q.fns:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("no posted continuation arrived")
	}
}

func portalEvent(data map[string]any, t time.Time) RawEvent {
	return RawEvent{Code: CodePortal, Parameters: map[int]any{paramData: data}, ReceivedAt: t}
}

func TestPortalSpawnWorldEmitsInline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.d.Dispatch(ctx, joinEvent(1, map[string]any{"id": "usr_a", "displayName": "alice"}, at(0)))
	h.d.Dispatch(ctx, portalEvent(map[string]any{
		"kind":      "spawn_world",
		"portalId":  "prt_1",
		"ownerId":   "usr_a",
		"worldId":   "wrld_x",
		"worldName": "The Pit",
	}, at(1)))

	spawns := h.sink.byType(feed.TypePortalSpawn)
	if len(spawns) != 1 {
		t.Fatalf("got %d spawns, want 1", len(spawns))
	}
	e := spawns[0]
	if e.DisplayName != "alice" || e.Portal.WorldName != "The Pit" || e.Portal.WorldID != "wrld_x" {
		t.Errorf("entry = %+v portal = %+v", e, e.Portal)
	}
}

func TestPortalSpawnResolvesShortNameAsync(t *testing.T) {
	sess := session.NewContext()
	sink := &recordingSink{}
	em := feed.NewEmitter(feed.NewDeduper(0), []feed.Sink{sink})
	poster := newQueuePoster()
	worlds := &fakeWorlds{worldID: "wrld_y", worldName: "Hidden Garden"}
	d := NewDispatcher(sess, identity.NewResolver(), em, poster, WithWorldResolver(worlds))
	ctx := context.Background()

	d.Dispatch(ctx, portalEvent(map[string]any{
		"kind":      "spawn",
		"portalId":  "prt_2",
		"shortName": "garden42",
		"ownerId":   "usr_b",
	}, at(0)))

	if len(sink.byType(feed.TypePortalSpawn)) != 0 {
		t.Fatal("spawn entry must wait for the lookup")
	}

	poster.runNext(t)

	spawns := sink.byType(feed.TypePortalSpawn)
	if len(spawns) != 1 {
		t.Fatalf("got %d spawns, want 1", len(spawns))
	}
	if spawns[0].Portal.WorldName != "Hidden Garden" || spawns[0].Portal.WorldID != "wrld_y" {
		t.Errorf("portal = %+v", spawns[0].Portal)
	}
	if len(worlds.calls) != 1 || worlds.calls[0] != "garden42" {
		t.Errorf("lookups = %v", worlds.calls)
	}
}

func TestPortalSpawnLookupFailureFallsBackToShortName(t *testing.T) {
	sess := session.NewContext()
	sink := &recordingSink{}
	em := feed.NewEmitter(feed.NewDeduper(0), []feed.Sink{sink})
	poster := newQueuePoster()
	worlds := &fakeWorlds{err: errors.New("api down")}
	d := NewDispatcher(sess, identity.NewResolver(), em, poster, WithWorldResolver(worlds))

	d.Dispatch(context.Background(), portalEvent(map[string]any{
		"kind":      "spawn",
		"portalId":  "prt_3",
		"shortName": "garden42",
	}, at(0)))
	poster.runNext(t)

	spawns := sink.byType(feed.TypePortalSpawn)
	if len(spawns) != 1 {
		t.Fatalf("got %d spawns, want 1", len(spawns))
	}
	if spawns[0].Portal.WorldName != "garden42" || spawns[0].Portal.WorldID != "" {
		t.Errorf("portal = %+v", spawns[0].Portal)
	}
}

func TestPortalSpawnContinuationDroppedAfterReset(t *testing.T) {
	sess := session.NewContext()
	sink := &recordingSink{}
	em := feed.NewEmitter(feed.NewDeduper(0), []feed.Sink{sink})
	poster := newQueuePoster()
	worlds := &fakeWorlds{worldID: "wrld_y", worldName: "Hidden Garden"}
	d := NewDispatcher(sess, identity.NewResolver(), em, poster, WithWorldResolver(worlds))

	d.Dispatch(context.Background(), portalEvent(map[string]any{
		"kind":      "spawn",
		"portalId":  "prt_4",
		"shortName": "garden42",
	}, at(0)))

	// The instance changed while the lookup was in flight.
	sess.Reset(session.Location{WorldID: "wrld_next"})
	poster.runNext(t)

	if got := sink.byType(feed.TypePortalSpawn); len(got) != 0 {
		t.Errorf("got %d spawns, want none after reset", len(got))
	}
}

func TestPortalDeleteReportsTrafficAndDuration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.d.Dispatch(ctx, joinEvent(1, map[string]any{"id": "usr_a", "displayName": "alice"}, at(0)))
	h.d.Dispatch(ctx, portalEvent(map[string]any{
		"kind":      "spawn_world",
		"portalId":  "prt_5",
		"ownerId":   "usr_a",
		"worldId":   "wrld_x",
		"worldName": "The Pit",
	}, at(10)))

	h.d.Dispatch(ctx, portalEvent(map[string]any{"kind": "leave", "portalId": "prt_5"}, at(20)))
	h.d.Dispatch(ctx, portalEvent(map[string]any{"kind": "leave", "portalId": "prt_5"}, at(25)))

	h.d.Dispatch(ctx, portalEvent(map[string]any{"kind": "delete", "portalId": "prt_5"}, at(205)))

	deletes := h.sink.byType(feed.TypeDeletedPortal)
	if len(deletes) != 1 {
		t.Fatalf("got %d deletes, want 1", len(deletes))
	}
	p := deletes[0].Portal
	if p.PlayerCount != 2 {
		t.Errorf("player count = %d, want 2", p.PlayerCount)
	}
	if p.Duration != "3m 15s" {
		t.Errorf("duration = %q, want 3m 15s", p.Duration)
	}
}

func TestPortalDeleteUnknownPortalSilent(t *testing.T) {
	h := newHarness(t)
	h.d.Dispatch(context.Background(), portalEvent(map[string]any{"kind": "delete", "portalId": "prt_none"}, at(0)))
	if len(h.sink.entries) != 0 {
		t.Error("unknown portal delete must be silent")
	}
}

func TestPortalLeaveConsumedByProtocolLeave(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.d.Dispatch(ctx, joinEvent(1, map[string]any{"id": "usr_a", "displayName": "alice"}, at(0)))
	h.d.Dispatch(ctx, portalEvent(map[string]any{
		"kind":     "spawn_world",
		"portalId": "prt_6",
		"worldId":  "wrld_x",
	}, at(1)))

	h.d.Dispatch(ctx, portalEvent(map[string]any{"kind": "leave", "portalId": "prt_6"}, at(5)))
	p, _ := h.sess.Portal("prt_6")
	if p.PlayerCount != 1 || p.PendingLeaveCount != 1 {
		t.Fatalf("portal = %+v, want one pending leave", p)
	}

	h.d.Dispatch(ctx, RawEvent{Code: CodeLeave, Parameters: map[int]any{paramActor: 1}, ReceivedAt: at(6)})
	p, _ = h.sess.Portal("prt_6")
	if p.PendingLeaveCount != 0 {
		t.Error("protocol leave should consume the pending portal leave")
	}
	if p.PlayerCount != 1 {
		t.Error("the traffic count must survive consumption")
	}
}

func TestPortalErrorEmitsMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.d.Dispatch(ctx, joinEvent(1, map[string]any{"id": "usr_a", "displayName": "alice"}, at(0)))
	h.d.Dispatch(ctx, RawEvent{Code: CodePortal, Parameters: map[int]any{
		paramActor: 1,
		paramData:  map[string]any{"kind": "error", "message": "portal limit reached"},
	}, ReceivedAt: at(1)})

	errs := h.sink.byType(feed.TypePortalError)
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
	if errs[0].Portal.Message != "portal limit reached" || errs[0].DisplayName != "alice" {
		t.Errorf("entry = %+v portal = %+v", errs[0], errs[0].Portal)
	}
}
