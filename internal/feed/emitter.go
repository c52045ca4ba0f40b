package feed

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Sink receives admitted feed entries. Implementations must not retain
// the entry past the call unless they copy it.
type Sink interface {
	Publish(ctx context.Context, e *Entry) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, e *Entry) error

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, e *Entry) error {
	return f(ctx, e)
}

// Emitter is the single funnel for feed entries: it assigns ids,
// applies (type, display name) deduplication and fans out to the
// registered sinks. Sink errors are logged and never propagate back
// into event handling.
type Emitter struct {
	dedup  *Deduper
	sinks  []Sink
	logger *slog.Logger
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithEmitterLogger sets the logger.
func WithEmitterLogger(logger *slog.Logger) EmitterOption {
	return func(em *Emitter) {
		if logger != nil {
			em.logger = logger
		}
	}
}

// NewEmitter creates an Emitter with the given dedup window and sinks.
func NewEmitter(dedup *Deduper, sinks []Sink, opts ...EmitterOption) *Emitter {
	em := &Emitter{
		dedup:  dedup,
		sinks:  sinks,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(em)
	}
	if em.dedup == nil {
		em.dedup = NewDeduper(DefaultDedupWindow)
	}
	return em
}

// Emit assigns an id, dedups and fans the entry out. Returns true if
// the entry was admitted.
func (em *Emitter) Emit(ctx context.Context, e *Entry) bool {
	if e == nil {
		return false
	}
	if !e.Type.Valid() {
		em.logger.Warn("dropping entry with unknown type", "type", e.Type)
		return false
	}

	if !em.dedup.Admit(e) {
		em.logger.Debug("duplicate entry suppressed",
			"type", e.Type,
			"display_name", e.DisplayName,
		)
		return false
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	for _, sink := range em.sinks {
		if err := sink.Publish(ctx, e); err != nil {
			em.logger.Error("sink publish failed",
				"type", e.Type,
				"error", err,
			)
		}
	}
	return true
}

// Reset clears dedup state on session transitions.
func (em *Emitter) Reset() {
	em.dedup.Reset()
}
