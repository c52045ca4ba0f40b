package feed

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordingSink struct {
	entries []*Entry
	err     error
}

func (s *recordingSink) Publish(_ context.Context, e *Entry) error {
	s.entries = append(s.entries, e)
	return s.err
}

func TestEmitterAssignsIDAndFansOut(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	em := NewEmitter(NewDeduper(0), []Sink{a, b})

	e := &Entry{Type: TypePlayerJoined, DisplayName: "alice", CreatedAt: time.Now()}
	if !em.Emit(context.Background(), e) {
		t.Fatal("emit should admit the entry")
	}
	if e.ID == "" {
		t.Error("emit should assign an id")
	}
	if len(a.entries) != 1 || len(b.entries) != 1 {
		t.Errorf("fan-out got %d/%d entries, want 1/1", len(a.entries), len(b.entries))
	}
}

func TestEmitterDropsUnknownType(t *testing.T) {
	s := &recordingSink{}
	em := NewEmitter(NewDeduper(0), []Sink{s})

	if em.Emit(context.Background(), &Entry{Type: "Bogus", CreatedAt: time.Now()}) {
		t.Error("unknown type should be rejected")
	}
	if len(s.entries) != 0 {
		t.Error("rejected entry must not reach sinks")
	}
}

func TestEmitterSinkErrorDoesNotStopFanOut(t *testing.T) {
	failing := &recordingSink{err: errors.New("sink down")}
	ok := &recordingSink{}
	em := NewEmitter(NewDeduper(0), []Sink{failing, ok})

	if !em.Emit(context.Background(), &Entry{Type: TypeLocation, CreatedAt: time.Now()}) {
		t.Fatal("emit should still admit the entry")
	}
	if len(ok.entries) != 1 {
		t.Error("later sinks should still receive the entry")
	}
}

func TestEmitterDedupAcrossReset(t *testing.T) {
	s := &recordingSink{}
	em := NewEmitter(NewDeduper(time.Minute), []Sink{s})
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	em.Emit(context.Background(), &Entry{Type: TypePlayerJoined, DisplayName: "alice", CreatedAt: base})
	if em.Emit(context.Background(), &Entry{Type: TypePlayerJoined, DisplayName: "alice", CreatedAt: base.Add(time.Second)}) {
		t.Error("duplicate should be suppressed")
	}

	em.Reset()
	if !em.Emit(context.Background(), &Entry{Type: TypePlayerJoined, DisplayName: "alice", CreatedAt: base.Add(2 * time.Second)}) {
		t.Error("reset should allow the entry again")
	}
	if len(s.entries) != 2 {
		t.Errorf("got %d sink entries, want 2", len(s.entries))
	}
}
