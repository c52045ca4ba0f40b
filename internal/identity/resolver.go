// Package identity maps ephemeral per-session peer ids to stable user
// identities, with an async lookup path against the outbound web API.
package identity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/graaaaa/instancewatch/internal/session"
)

// User is a resolved user profile. FetchedAt records when the data was
// obtained so staleness can be judged.
type User struct {
	ID                string
	DisplayName       string
	IsFriend          bool
	IsFavorite        bool
	Status            string
	StatusDescription string
	AvatarID          string
	FetchedAt         time.Time
}

// Client is the outbound web API collaborator used for identity
// lookups. Implementations live outside this core.
type Client interface {
	GetUser(ctx context.Context, userID string) (*User, error)
}

// Clock provides time for deterministic testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// DefaultFreshWindow is the default window within which remotely
// fetched profile data is trusted over the inline event profile.
const DefaultFreshWindow = 60 * time.Second

// Resolver binds peer ids to user ids for the current session and
// caches user profiles across sessions. Callers that need a resolved
// identity queue continuations per peer; they are flushed in arrival
// order on Bind and discarded on Reset.
type Resolver struct {
	mu      sync.Mutex
	byPeer  map[session.PeerID]string
	users   map[string]*User
	pending map[session.PeerID][]func(userID string)

	client      Client
	freshWindow time.Duration
	clock       Clock
	logger      *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClient sets the lookup client. Without one, lookups fall back to
// the inline profile immediately.
func WithClient(c Client) Option {
	return func(r *Resolver) { r.client = c }
}

// WithFreshWindow sets the remote-data freshness window.
func WithFreshWindow(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.freshWindow = d
		}
	}
}

// WithClock sets the clock (for testing).
func WithClock(c Clock) Option {
	return func(r *Resolver) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver creates a Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		byPeer:      make(map[session.PeerID]string),
		users:       make(map[string]*User),
		pending:     make(map[session.PeerID][]func(string)),
		freshWindow: DefaultFreshWindow,
		clock:       realClock{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bind associates a peer with a user id and flushes any queued
// continuations for that peer in arrival order.
func (r *Resolver) Bind(peer session.PeerID, userID string) {
	if userID == "" {
		return
	}

	r.mu.Lock()
	r.byPeer[peer] = userID
	queued := r.pending[peer]
	delete(r.pending, peer)
	r.mu.Unlock()

	for _, fn := range queued {
		fn(userID)
	}
}

// Resolve returns the user id bound to peer, if any.
func (r *Resolver) Resolve(peer session.PeerID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byPeer[peer]
	return id, ok
}

// WhenResolved invokes fn with the peer's user id, immediately if the
// binding exists, otherwise once Bind is called. Queued continuations
// are discarded on Reset, never dropped silently while the session
// lives.
func (r *Resolver) WhenResolved(peer session.PeerID, fn func(userID string)) {
	r.mu.Lock()
	if id, ok := r.byPeer[peer]; ok {
		r.mu.Unlock()
		fn(id)
		return
	}
	r.pending[peer] = append(r.pending[peer], fn)
	r.mu.Unlock()
}

// PendingCount returns the number of peers with queued continuations.
func (r *Resolver) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// CachedUser returns the cached profile for userID, if any.
func (r *Resolver) CachedUser(userID string) (*User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, false
	}
	cpy := *u
	return &cpy, true
}

// StoreUser caches a profile.
func (r *Resolver) StoreUser(u *User) {
	if u == nil || u.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cpy := *u
	r.users[u.ID] = &cpy
}

// stale reports whether the cached profile (if any) is older than the
// freshness window.
func (r *Resolver) stale(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return true
	}
	return r.clock.Now().Sub(u.FetchedAt) > r.freshWindow
}

// Refresh ensures a profile for userID, asynchronously when a remote
// lookup is needed. The inline profile from the triggering event is the
// fallback: remote data is only trusted when the event is recent
// (within the freshness window of now), otherwise a live profile
// fetched now may not describe the peer as it was at event time.
//
// done is invoked with the chosen profile; when a lookup is issued it
// runs on a worker goroutine, so callers must route done back onto
// their own loop (and epoch-guard it).
func (r *Resolver) Refresh(ctx context.Context, userID string, eventAt time.Time, inline *User, done func(*User)) {
	if inline != nil {
		inline.FetchedAt = eventAt
	}

	if !r.stale(userID) {
		u, _ := r.CachedUser(userID)
		done(u)
		return
	}

	if r.client == nil {
		r.StoreUser(inline)
		done(inline)
		return
	}

	eventFresh := absDuration(r.clock.Now().Sub(eventAt)) <= r.freshWindow

	go func() {
		remote, err := r.client.GetUser(ctx, userID)
		switch {
		case err != nil:
			// Lookup failure falls back to the inline event profile.
			r.logger.Warn("identity lookup failed, using inline profile",
				"user_id", userID,
				"error", err,
			)
			r.StoreUser(inline)
			done(inline)
		case !eventFresh:
			r.logger.Debug("event outside freshness window, using inline profile",
				"user_id", userID,
			)
			r.StoreUser(inline)
			done(inline)
		default:
			remote.FetchedAt = r.clock.Now()
			r.StoreUser(remote)
			done(remote)
		}
	}()
}

// Reset clears per-session peer bindings and discards queued
// continuations. The cross-session user cache survives.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPeer = make(map[session.PeerID]string)
	r.pending = make(map[session.PeerID][]func(string))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
