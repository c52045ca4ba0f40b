// Package engine runs the single goroutine all state mutation happens
// on. Protocol events, log records, timer callbacks and async lookup
// continuations are all posted here as closures; handlers never need
// locks of their own.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/graaaaa/instancewatch/internal/feed"
	"github.com/graaaaa/instancewatch/internal/gamelog"
	"github.com/graaaaa/instancewatch/internal/photon"
	"github.com/graaaaa/instancewatch/internal/session"
)

// DefaultQueueSize is the closure queue depth. Submissions block when
// it fills; the loop is cheap enough that this only happens under
// replay bursts.
const DefaultQueueSize = 256

// Engine owns the closure queue and the loop that drains it.
type Engine struct {
	sess   *session.Context
	msgs   chan func()
	logger *slog.Logger

	dispatcher *photon.Dispatcher
	pipeline   *gamelog.Pipeline
}

// Option configures an Engine.
type Option func(*Engine)

// WithQueueSize sets the closure queue depth.
func WithQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.msgs = make(chan func(), n)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Engine around the session context. The dispatcher and
// pipeline are attached afterwards via Bind; they need the engine as
// their Poster first.
func New(sess *session.Context, opts ...Option) *Engine {
	e := &Engine{
		sess:   sess,
		msgs:   make(chan func(), DefaultQueueSize),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Bind attaches the event handlers. Must happen before Run.
func (e *Engine) Bind(d *photon.Dispatcher, p *gamelog.Pipeline) {
	e.dispatcher = d
	e.pipeline = p
}

// Post queues a closure for execution on the engine goroutine. Safe to
// call from any goroutine; blocks when the queue is full.
func (e *Engine) Post(fn func()) {
	if fn == nil {
		return
	}
	e.msgs <- fn
}

// SubmitProtocol queues a protocol event for dispatch.
func (e *Engine) SubmitProtocol(ctx context.Context, ev photon.RawEvent) {
	e.Post(func() { e.dispatcher.Dispatch(ctx, ev) })
}

// SubmitRecord queues a game log record.
func (e *Engine) SubmitRecord(ctx context.Context, rec *gamelog.Record) {
	e.Post(func() { e.pipeline.Handle(ctx, rec) })
}

// Run drains the queue until ctx is cancelled. Closures still queued at
// cancellation are dropped; persisted state is already consistent after
// every closure.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("engine loop started")
	defer e.logger.Info("engine loop stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-e.msgs:
			fn()
		}
	}
}

// Snapshot is the current-state view served by the API.
type Snapshot struct {
	Location   session.Location   `json:"location"`
	Occupants  []session.Occupant `json:"occupants"`
	Portals    []session.Portal   `json:"portals"`
	NowPlaying *feed.VideoPayload `json:"now_playing,omitempty"`
	TakenAt    time.Time          `json:"taken_at"`
}

// Snapshot reads the current session state. Safe from any goroutine;
// the session context is internally locked.
func (e *Engine) Snapshot() Snapshot {
	now := time.Now()
	snap := Snapshot{
		Location:  e.sess.Location(),
		Occupants: e.sess.Occupants(),
		Portals:   e.sess.Portals(),
		TakenAt:   now,
	}
	if e.pipeline != nil {
		snap.NowPlaying = e.pipeline.Video().Snapshot(now)
	}
	return snap
}
