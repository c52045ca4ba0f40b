package watcher

import (
	"log/slog"
	"sort"
	"time"

	"github.com/graaaaa/instancewatch/internal/session"
)

// ScanInterval is how often the watcher inspects heartbeats while
// armed.
const ScanInterval = 500 * time.Millisecond

// DefaultTimeout is the heartbeat age after which a peer is flagged.
const DefaultTimeout = 6 * time.Second

// DefaultJoinGrace is the minimum occupancy age before a peer can be
// flagged; a freshly joined client legitimately goes quiet while the
// world loads.
const DefaultJoinGrace = 70 * time.Second

// Poster routes a closure onto the engine goroutine.
type Poster interface {
	Post(fn func())
}

// Clock provides time for deterministic testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Watcher periodically flags occupants whose heartbeat has gone stale
// and pushes the flagged names to the overlay. All methods must be
// called from the engine goroutine; the timer callback reposts itself
// there, so no further synchronization is needed.
type Watcher struct {
	sess  *session.Context
	post  Poster
	push  func(names []string)
	after AfterFunc
	clock Clock

	timeout   time.Duration
	joinGrace time.Duration
	logger    *slog.Logger

	running bool
	handle  TimerHandle
	last    []string
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithTimeout sets the heartbeat timeout.
func WithTimeout(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithJoinGrace sets the minimum occupancy age before flagging.
func WithJoinGrace(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.joinGrace = d
		}
	}
}

// WithAfterFunc sets the timer implementation (for testing).
func WithAfterFunc(after AfterFunc) Option {
	return func(w *Watcher) {
		if after != nil {
			w.after = after
		}
	}
}

// WithClock sets the clock (for testing).
func WithClock(c Clock) Option {
	return func(w *Watcher) {
		if c != nil {
			w.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a Watcher. push receives the flagged names, ordered by
// how long each peer has been silent (shortest first), on every scan
// that has any, and an empty slice when the set clears.
func New(sess *session.Context, post Poster, push func(names []string), opts ...Option) *Watcher {
	w := &Watcher{
		sess:      sess,
		post:      post,
		push:      push,
		after:     DefaultAfterFunc,
		clock:     realClock{},
		timeout:   DefaultTimeout,
		joinGrace: DefaultJoinGrace,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// EnsureRunning arms the scan timer if it is not already armed. Called
// after every join; the watcher disarms itself when the lobby drops
// below two occupants.
func (w *Watcher) EnsureRunning() {
	if w.running {
		return
	}
	w.running = true
	w.arm()
}

// Stop disarms the watcher and clears the overlay. Called on session
// reset and shutdown.
func (w *Watcher) Stop() {
	if w.handle != nil {
		w.handle.Stop()
		w.handle = nil
	}
	w.running = false
	if len(w.last) > 0 {
		w.push(nil)
	}
	w.last = nil
}

func (w *Watcher) arm() {
	w.handle = w.after(ScanInterval, func() {
		w.post.Post(w.scan)
	})
}

// Scan runs one heartbeat inspection immediately. Exposed for tests;
// production scans come from the timer.
func (w *Watcher) Scan() {
	w.scan()
}

func (w *Watcher) scan() {
	if !w.running {
		return
	}

	// Alone (or empty) lobbies have nobody to compare heartbeats
	// against; the game stops relaying anything when idle.
	if w.sess.OccupantCount() < 2 {
		w.Stop()
		return
	}

	now := w.clock.Now()
	local := w.sess.LocalPeer()

	type stale struct {
		name    string
		elapsed time.Duration
	}
	var hits []stale
	for _, occ := range w.sess.Occupants() {
		if occ.PeerID == local {
			continue
		}
		if now.Sub(occ.JoinedAt) < w.joinGrace {
			continue
		}
		if age := now.Sub(occ.LastHeartbeat); age > w.timeout {
			hits = append(hits, stale{occ.DisplayName, age})
		}
	}

	// Shortest silence first; a peer that just went quiet may still
	// recover, the longest-silent one is almost certainly gone.
	sort.Slice(hits, func(i, j int) bool { return hits[i].elapsed < hits[j].elapsed })
	var flagged []string
	if len(hits) > 0 {
		flagged = make([]string, len(hits))
		for i, h := range hits {
			flagged[i] = h.name
		}
	}

	// Non-empty sets are re-pushed every scan to keep the overlay
	// message alive past its display timeout; an emptied set is pushed
	// once to clear it.
	if len(flagged) > 0 || !equalNames(flagged, w.last) {
		w.push(flagged)
	}
	w.last = flagged

	w.arm()
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
