// Package moderation diffs incoming block/mute signals against the
// persisted moderation state and emits lifecycle transitions exactly
// once per change.
package moderation

import (
	"context"
	"log/slog"
	"time"

	"github.com/graaaaa/instancewatch/internal/feed"
	"github.com/graaaaa/instancewatch/internal/store"
)

// Store is the persistence surface the reconciler needs.
type Store interface {
	GetModeration(ctx context.Context, userID string) (store.ModerationRecord, bool, error)
	SetModeration(ctx context.Context, rec store.ModerationRecord) error
	DeleteModeration(ctx context.Context, userID string) error
	UpsertAgainstMe(ctx context.Context, userID, displayName, typ string, at time.Time) error
}

// Emitter is the feed funnel the reconciler publishes transitions to.
type Emitter interface {
	Emit(ctx context.Context, e *feed.Entry) bool
}

// Reconciler applies (block, mute) signals for a user against the
// persisted record. Callers must serialize calls per user id; the
// engine loop guarantees this by running all reconciliations on one
// goroutine.
type Reconciler struct {
	store   Store
	emitter Emitter
	logger  *slog.Logger

	// lastEmitted tracks the last transition type emitted this session
	// per user, so a repeated signal that still describes an active
	// moderation can re-announce only when the type flips.
	lastEmitted map[string]feed.Type
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReconciler creates a Reconciler.
func NewReconciler(st Store, em Emitter, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:       st,
		emitter:     em,
		logger:      slog.Default(),
		lastEmitted: make(map[string]feed.Type),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reset clears the per-session emission memory.
func (r *Reconciler) Reset() {
	r.lastEmitted = make(map[string]feed.Type)
}

// Reconcile diffs the incoming (block, mute) state for a user against
// the persisted record. At most one feed entry is emitted per call.
// Store failures are logged and never abort the loop.
func (r *Reconciler) Reconcile(ctx context.Context, userID, displayName string, block, mute bool, at time.Time) {
	if userID == "" {
		return
	}

	prior, existed, err := r.store.GetModeration(ctx, userID)
	if err != nil {
		r.logger.Error("moderation read failed", "user_id", userID, "error", err)
		return
	}

	transition := r.transitionType(userID, prior, existed, block, mute)

	if transition != "" {
		r.emitModeration(ctx, transition, userID, displayName, at)
	}

	r.persist(ctx, userID, displayName, block, mute, existed, at)
}

// transitionType decides which single transition (if any) this call
// announces. Block transitions take precedence when both flags changed
// in the same signal.
func (r *Reconciler) transitionType(userID string, prior store.ModerationRecord, existed, block, mute bool) feed.Type {
	if !existed {
		switch {
		case block:
			return feed.TypeBlocked
		case mute:
			return feed.TypeMuted
		default:
			return ""
		}
	}

	switch {
	case !prior.Block && block:
		return feed.TypeBlocked
	case prior.Block && !block:
		return feed.TypeUnblocked
	case !prior.Mute && mute:
		return feed.TypeMuted
	case prior.Mute && !mute:
		return feed.TypeUnmuted
	}

	// Unchanged: re-announce only if the active type differs from the
	// last transition emitted this session for this user.
	active := activeType(block, mute)
	if active != "" && r.lastEmitted[userID] != active {
		return active
	}
	return ""
}

func activeType(block, mute bool) feed.Type {
	switch {
	case block:
		return feed.TypeBlocked
	case mute:
		return feed.TypeMuted
	default:
		return ""
	}
}

func (r *Reconciler) emitModeration(ctx context.Context, typ feed.Type, userID, displayName string, at time.Time) {
	r.emitter.Emit(ctx, &feed.Entry{
		Type:        typ,
		CreatedAt:   at,
		UserID:      userID,
		DisplayName: displayName,
	})
	r.lastEmitted[userID] = typ

	// Active moderations held against the local user are mirrored into
	// the against-me table, at most one entry per (user, type).
	if typ == feed.TypeBlocked || typ == feed.TypeMuted {
		if err := r.store.UpsertAgainstMe(ctx, userID, displayName, string(typ), at); err != nil {
			r.logger.Error("against-me upsert failed", "user_id", userID, "error", err)
		}
	}
}

func (r *Reconciler) persist(ctx context.Context, userID, displayName string, block, mute, existed bool, at time.Time) {
	if !block && !mute {
		if existed {
			if err := r.store.DeleteModeration(ctx, userID); err != nil {
				r.logger.Error("moderation delete failed", "user_id", userID, "error", err)
			}
		}
		return
	}

	err := r.store.SetModeration(ctx, store.ModerationRecord{
		UserID:      userID,
		DisplayName: displayName,
		Block:       block,
		Mute:        mute,
		UpdatedAt:   at,
	})
	if err != nil {
		r.logger.Error("moderation write failed", "user_id", userID, "error", err)
	}
}
