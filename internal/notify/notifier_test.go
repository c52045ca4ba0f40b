package notify

import (
	"context"
	"testing"
	"time"

	"github.com/graaaaa/instancewatch/internal/feed"
)

// scriptedSender returns the scripted results in order and records each
// payload it was handed.
type scriptedSender struct {
	results []SendResult
	calls   []DiscordPayload
}

func (s *scriptedSender) Send(_ context.Context, p DiscordPayload) (SendResult, time.Duration) {
	s.calls = append(s.calls, p)
	r := SendOK
	if len(s.results) > 0 {
		r = s.results[0]
		s.results = s.results[1:]
	}
	return r, 0
}

type manualTimer struct {
	fns []func()
}

func (m *manualTimer) afterFunc(_ time.Duration, f func()) TimerHandle {
	m.fns = append(m.fns, f)
	return manualHandle{}
}

type manualHandle struct{}

func (manualHandle) Stop() bool { return true }

func allowAll() Filter {
	f := make(Filter, len(feed.Types()))
	for _, t := range feed.Types() {
		f[t] = ModeOn
	}
	return f
}

func TestNotifierBatchesUntilTimerFires(t *testing.T) {
	sender := &scriptedSender{}
	timer := &manualTimer{}
	n := NewNotifier(sender, 3, allowAll(), WithNotifierAfterFunc(timer.afterFunc))

	n.handleEntry(entryAt(feed.TypePlayerJoined, "alice", 0))
	n.handleEntry(entryAt(feed.TypePlayerJoined, "bob", 1))

	if len(timer.fns) != 1 {
		t.Fatalf("timer armed %d times, want 1", len(timer.fns))
	}
	if len(sender.calls) != 0 {
		t.Fatal("nothing may send before the timer fires")
	}

	n.flush(context.Background())

	if len(sender.calls) != 1 {
		t.Fatalf("got %d sends, want 1", len(sender.calls))
	}
	if n.QueueLength() != 0 {
		t.Error("queue should drain on flush")
	}
}

func TestNotifierCoalescesPerSubject(t *testing.T) {
	sender := &scriptedSender{}
	timer := &manualTimer{}
	n := NewNotifier(sender, 3, allowAll(), WithNotifierAfterFunc(timer.afterFunc))

	first := entryAt(feed.TypeChangeStatus, "alice", 0)
	first.Status = &feed.StatusPayload{Status: "join me"}
	second := entryAt(feed.TypeChangeStatus, "alice", 5)
	second.Status = &feed.StatusPayload{Status: "busy"}

	n.handleEntry(first)
	n.handleEntry(second)
	n.handleEntry(entryAt(feed.TypeChangeStatus, "bob", 6))

	if n.QueueLength() != 2 {
		t.Errorf("queue = %d, want latest-per-subject", n.QueueLength())
	}

	n.flush(context.Background())
	embeds := sender.calls[0].Embeds
	if len(embeds) != 2 {
		t.Fatalf("got %d embeds, want 2", len(embeds))
	}
	if got := embeds[0].Description; got != "**alice** is now busy " {
		t.Errorf("description = %q, want the later status", got)
	}
}

func TestNotifierCoalescesLocationOutright(t *testing.T) {
	sender := &scriptedSender{}
	timer := &manualTimer{}
	n := NewNotifier(sender, 3, allowAll(), WithNotifierAfterFunc(timer.afterFunc))

	a := entryAt(feed.TypeLocation, "", 0)
	a.Place = &feed.PlacePayload{WorldName: "First"}
	b := entryAt(feed.TypeLocation, "", 5)
	b.Place = &feed.PlacePayload{WorldName: "Second"}

	n.handleEntry(a)
	n.handleEntry(b)

	if n.QueueLength() != 1 {
		t.Fatalf("queue = %d, want 1", n.QueueLength())
	}

	n.flush(context.Background())
	if desc := sender.calls[0].Embeds[0].Description; desc != "Joined **Second**" {
		t.Errorf("description = %q", desc)
	}
}

func TestNotifierEnqueueRespectsFilter(t *testing.T) {
	sender := &scriptedSender{}
	n := NewNotifier(sender, 3, Filter{feed.TypePlayerJoined: ModeFriends})

	n.Enqueue(&feed.Entry{Type: feed.TypePlayerJoined})
	n.Enqueue(&feed.Entry{Type: feed.TypePlayerJoined, IsFriend: true})
	n.Enqueue(&feed.Entry{Type: feed.TypePlayerLeft})

	if got := len(n.entryCh); got != 1 {
		t.Errorf("accepted %d entries, want 1", got)
	}
}

func TestNotifierRetryableKeepsQueue(t *testing.T) {
	sender := &scriptedSender{results: []SendResult{SendRetryable}}
	timer := &manualTimer{}
	n := NewNotifier(sender, 3, allowAll(), WithNotifierAfterFunc(timer.afterFunc))

	n.handleEntry(entryAt(feed.TypePlayerJoined, "alice", 0))
	n.flush(context.Background())

	if n.backoffUntil.IsZero() {
		t.Fatal("retryable result should start a backoff window")
	}

	// A flush inside the window keeps the entries and re-arms the timer.
	n.handleEntry(entryAt(feed.TypePlayerJoined, "bob", 1))
	armed := len(timer.fns)
	n.flush(context.Background())
	if len(sender.calls) != 1 {
		t.Errorf("got %d sends, want no send during backoff", len(sender.calls))
	}
	if n.QueueLength() != 1 {
		t.Error("queue must survive the backoff flush")
	}
	if len(timer.fns) != armed+1 {
		t.Error("backoff flush should re-arm the timer")
	}
}

func TestNotifierFatalDisables(t *testing.T) {
	sender := &scriptedSender{results: []SendResult{SendFatal}}
	timer := &manualTimer{}
	n := NewNotifier(sender, 3, allowAll(), WithNotifierAfterFunc(timer.afterFunc))

	n.handleEntry(entryAt(feed.TypePlayerJoined, "alice", 0))
	n.flush(context.Background())

	st := n.Status()
	if !st.Disabled || st.DisabledReason == "" {
		t.Fatalf("status = %+v, want disabled", st)
	}

	// Disabled notifier drops everything at the door.
	n.Enqueue(&feed.Entry{Type: feed.TypePlayerJoined, IsFriend: true})
	if len(n.entryCh) != 0 {
		t.Error("disabled notifier must not accept entries")
	}
}

func TestNotifierQueueOverflowDropsOldest(t *testing.T) {
	sender := &scriptedSender{}
	timer := &manualTimer{}
	n := NewNotifier(sender, 3, allowAll(),
		WithNotifierAfterFunc(timer.afterFunc),
		WithMaxQueueSize(2),
	)

	// Distinct subjects so coalescing cannot shrink the queue.
	n.handleEntry(entryAt(feed.TypePlayerJoined, "a", 0))
	n.handleEntry(entryAt(feed.TypePlayerJoined, "b", 1))
	n.handleEntry(entryAt(feed.TypePlayerJoined, "c", 2))

	if n.QueueLength() != 2 {
		t.Fatalf("queue = %d, want capped at 2", n.QueueLength())
	}

	n.flush(context.Background())
	desc := sender.calls[0].Embeds[0].Description
	if desc != "**2 players** joined: b, c" {
		t.Errorf("description = %q, want the oldest entry dropped", desc)
	}
}

func TestNotifierRunFlushesOnStop(t *testing.T) {
	sender := &scriptedSender{}
	timer := &manualTimer{}
	n := NewNotifier(sender, 3, allowAll(), WithNotifierAfterFunc(timer.afterFunc))

	done := make(chan struct{})
	go func() {
		n.Run(context.Background())
		close(done)
	}()

	n.Enqueue(&feed.Entry{Type: feed.TypePlayerJoined, DisplayName: "alice", CreatedAt: time.Now()})

	// Wait for the loop to pick the entry up before stopping.
	deadline := time.Now().Add(2 * time.Second)
	for n.QueueLength() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	<-done

	if len(sender.calls) != 1 {
		t.Errorf("got %d sends, want a final flush on stop", len(sender.calls))
	}
}
