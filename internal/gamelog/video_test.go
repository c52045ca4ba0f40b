package gamelog

import (
	"testing"
	"time"

	"github.com/graaaaa/instancewatch/internal/feed"
	"github.com/graaaaa/instancewatch/internal/watcher"
)

type stubHandle struct{ stopped bool }

func (h *stubHandle) Stop() bool {
	h.stopped = true
	return true
}

type stubTimer struct {
	fns     []func()
	handles []*stubHandle
}

func (st *stubTimer) afterFunc(_ time.Duration, f func()) watcher.TimerHandle {
	st.fns = append(st.fns, f)
	h := &stubHandle{}
	st.handles = append(st.handles, h)
	return h
}

func TestProjectorSnapshotProjectsPosition(t *testing.T) {
	p := NewProjector()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	p.Start(VideoInfo{URL: "https://v/1", Name: "clip", Length: 300}, start)

	snap := p.Snapshot(start.Add(45 * time.Second))
	if snap == nil {
		t.Fatal("snapshot should exist while playing")
	}
	if snap.Position != 45 {
		t.Errorf("position = %v, want 45", snap.Position)
	}
	if snap.URL != "https://v/1" || snap.Title != "clip" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestProjectorStartPositionShiftsOrigin(t *testing.T) {
	p := NewProjector()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// Playback reported already 30s in.
	p.Start(VideoInfo{URL: "https://v/1", Length: 300, Position: 30}, start)

	snap := p.Snapshot(start.Add(10 * time.Second))
	if snap.Position != 40 {
		t.Errorf("position = %v, want 40", snap.Position)
	}
}

func TestProjectorSnapshotClampsToLength(t *testing.T) {
	p := NewProjector()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	p.Start(VideoInfo{URL: "https://v/1", Length: 60}, start)

	snap := p.Snapshot(start.Add(2 * time.Minute))
	if snap.Position != 60 {
		t.Errorf("position = %v, want clamp at 60", snap.Position)
	}
}

func TestProjectorStopClearsProjection(t *testing.T) {
	timer := &stubTimer{}
	p := NewProjector(
		WithProjectorAfterFunc(timer.afterFunc),
		WithProjectorPush(func(*feed.VideoPayload) {}),
	)
	start := time.Now()
	p.Start(VideoInfo{URL: "https://v/1"}, start)

	if len(timer.fns) != 1 {
		t.Fatalf("ticker armed %d times, want 1", len(timer.fns))
	}

	p.Stop()
	if p.Snapshot(start.Add(time.Second)) != nil {
		t.Error("snapshot after stop should be nil")
	}
	if !timer.handles[0].stopped {
		t.Error("stop should cancel the ticker")
	}
}

func TestProjectorTickRearmsUntilFinished(t *testing.T) {
	timer := &stubTimer{}
	var pushes []*feed.VideoPayload
	p := NewProjector(
		WithProjectorAfterFunc(timer.afterFunc),
		WithProjectorPush(func(v *feed.VideoPayload) { pushes = append(pushes, v) }),
	)

	// Started long ago relative to wall time, so the first tick already
	// sees the video finished.
	p.Start(VideoInfo{URL: "https://v/1", Length: 10}, time.Now().Add(-time.Minute))

	if len(timer.fns) != 1 {
		t.Fatalf("armed %d, want 1", len(timer.fns))
	}
	timer.fns[0]()

	if len(pushes) != 1 {
		t.Fatalf("got %d pushes, want 1", len(pushes))
	}
	if pushes[0].Position != 10 {
		t.Errorf("pushed position = %v, want clamped 10", pushes[0].Position)
	}
	if len(timer.fns) != 1 {
		t.Error("finished video must not re-arm the ticker")
	}

	// The projection stays visible until replaced or stopped.
	if p.Snapshot(time.Now()) == nil {
		t.Error("finished video should still snapshot")
	}

	// An unfinished video re-arms.
	p.Start(VideoInfo{URL: "https://v/2", Length: 3600}, time.Now())
	timer.fns[len(timer.fns)-1]()
	if len(timer.fns) != 3 {
		t.Errorf("armed %d, want re-arm for unfinished video", len(timer.fns))
	}
}

func TestProjectorWithoutPushDoesNotArm(t *testing.T) {
	timer := &stubTimer{}
	p := NewProjector(WithProjectorAfterFunc(timer.afterFunc))

	p.Start(VideoInfo{URL: "https://v/1"}, time.Now())
	if len(timer.fns) != 0 {
		t.Error("ticker without a push sink is pointless")
	}
}
