package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/graaaaa/instancewatch/internal/feed"
)

// NotifierStatus represents the current status of the notifier.
type NotifierStatus struct {
	Disabled       bool
	DisabledReason string
	DisabledAt     time.Time
}

// DefaultMaxQueueSize is the maximum number of entries held in queue.
const DefaultMaxQueueSize = 100

// Notifier batches feed entries and sends Discord notifications. It
// runs a dedicated goroutine for processing.
type Notifier struct {
	sender       Sender
	afterFunc    AfterFunc
	batchDelay   time.Duration
	filter       Filter
	backoff      *BackoffCalculator
	logger       *slog.Logger
	maxQueueSize int

	entryCh chan *feed.Entry
	flushCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}

	mu          sync.Mutex
	queue       []*feed.Entry
	timerHandle TimerHandle
	status      NotifierStatus

	backoffAttempt int
	backoffUntil   time.Time

	stopOnce sync.Once
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithNotifierAfterFunc sets the timer function (for testing).
func WithNotifierAfterFunc(af AfterFunc) NotifierOption {
	return func(n *Notifier) { n.afterFunc = af }
}

// WithNotifierLogger sets the logger.
func WithNotifierLogger(logger *slog.Logger) NotifierOption {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithMaxQueueSize sets the maximum queue size.
func WithMaxQueueSize(size int) NotifierOption {
	return func(n *Notifier) {
		if size > 0 {
			n.maxQueueSize = size
		}
	}
}

// NewNotifier creates a Notifier. Call Run to start processing.
func NewNotifier(sender Sender, batchDelaySec int, filter Filter, opts ...NotifierOption) *Notifier {
	if batchDelaySec <= 0 {
		batchDelaySec = 3
	}

	n := &Notifier{
		sender:       sender,
		afterFunc:    DefaultAfterFunc,
		batchDelay:   time.Duration(batchDelaySec) * time.Second,
		filter:       filter,
		backoff:      NewBackoffCalculator(DefaultBackoffConfig),
		logger:       slog.Default(),
		maxQueueSize: DefaultMaxQueueSize,
		entryCh:      make(chan *feed.Entry, 64),
		flushCh:      make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		queue:        make([]*feed.Entry, 0, 16),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Sink returns a feed sink feeding this notifier, for registration
// with the emitter.
func (n *Notifier) Sink() feed.Sink {
	return feed.SinkFunc(func(_ context.Context, e *feed.Entry) error {
		n.Enqueue(e)
		return nil
	})
}

// Run starts the processing loop. Blocks until Stop is called or ctx
// is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	defer close(n.doneCh)

	for {
		select {
		case e := <-n.entryCh:
			n.handleEntry(e)

		case <-n.flushCh:
			n.flush(ctx)

		case <-n.stopCh:
			n.flush(ctx)
			return

		case <-ctx.Done():
			// Fresh context for the final best-effort flush.
			n.flush(context.Background())
			return
		}
	}
}

// Enqueue adds a feed entry, subject to the filter. Safe from any
// goroutine; drops when the channel is full rather than blocking the
// engine.
func (n *Notifier) Enqueue(e *feed.Entry) {
	if e == nil {
		return
	}

	n.mu.Lock()
	disabled := n.status.Disabled
	n.mu.Unlock()
	if disabled {
		return
	}

	if !n.filter.Allows(e) {
		return
	}

	select {
	case n.entryCh <- e:
	default:
		n.logger.Warn("notification queue full, entry dropped", "type", e.Type)
	}
}

func (n *Notifier) handleEntry(e *feed.Entry) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.queue = append(n.queue, e)
	n.coalesceQueueLocked()

	if len(n.queue) > n.maxQueueSize {
		dropped := len(n.queue) - n.maxQueueSize
		n.queue = n.queue[dropped:]
		n.logger.Warn("queue overflow, dropped old entries", "dropped", dropped)
	}

	if n.timerHandle == nil {
		n.timerHandle = n.afterFunc(n.batchDelay, n.triggerFlush)
	}
}

// coalesceQueueLocked keeps only the latest entry per (type, subject).
// Must be called with mu held.
func (n *Notifier) coalesceQueueLocked() {
	if len(n.queue) <= 1 {
		return
	}

	seen := make(map[string]int)
	result := make([]*feed.Entry, 0, len(n.queue))

	for _, e := range n.queue {
		key := entryKey(e)
		if key == "" {
			result = append(result, e)
			continue
		}
		if idx, exists := seen[key]; exists {
			result[idx] = e
		} else {
			seen[key] = len(result)
			result = append(result, e)
		}
	}

	n.queue = result
}

// entryKey returns the coalescing key: location entries replace each
// other outright, per-player entries replace per (type, player).
func entryKey(e *feed.Entry) string {
	switch e.Type {
	case feed.TypeLocation, feed.TypeLocationDestination:
		return string(e.Type)
	}
	subject := e.UserID
	if subject == "" {
		subject = e.DisplayName
	}
	if subject == "" {
		return ""
	}
	return string(e.Type) + "|" + subject
}

func (n *Notifier) triggerFlush() {
	select {
	case n.flushCh <- struct{}{}:
	default:
	}
}

func (n *Notifier) flush(ctx context.Context) {
	n.mu.Lock()
	// The trigger consumed whatever timer was armed.
	n.timerHandle = nil
	if len(n.queue) == 0 {
		n.mu.Unlock()
		return
	}

	// During backoff the queue is kept and the flush rescheduled.
	if time.Now().Before(n.backoffUntil) {
		remaining := time.Until(n.backoffUntil)
		n.logger.Debug("in backoff period, keeping entries queued",
			"queue_size", len(n.queue),
			"remaining", remaining,
		)
		n.timerHandle = n.afterFunc(remaining, n.triggerFlush)
		n.mu.Unlock()
		return
	}

	entries := n.queue
	n.queue = make([]*feed.Entry, 0, 16)
	n.mu.Unlock()

	for _, payload := range BuildPayloads(entries) {
		result, retryAfter := n.sender.Send(ctx, payload)
		n.handleSendResult(result, retryAfter)
		if result != SendOK {
			break
		}
	}
}

func (n *Notifier) handleSendResult(result SendResult, retryAfter time.Duration) {
	switch result {
	case SendOK:
		n.backoffAttempt = 0
		n.backoffUntil = time.Time{}

	case SendRetryable:
		n.backoffAttempt++
		delay := retryAfter
		if delay == 0 {
			delay = n.backoff.Calculate(n.backoffAttempt)
		}
		n.backoffUntil = time.Now().Add(delay)
		n.logger.Warn("Discord send failed, backing off",
			"attempt", n.backoffAttempt,
			"backoff_until", n.backoffUntil,
		)

	case SendFatal:
		n.mu.Lock()
		n.status.Disabled = true
		n.status.DisabledReason = "fatal error (invalid webhook or authentication failed)"
		n.status.DisabledAt = time.Now()
		n.mu.Unlock()
		n.logger.Error("Discord send fatal error, notifications disabled")
	}
}

// Stop stops the notifier gracefully. Safe to call multiple times.
func (n *Notifier) Stop(ctx context.Context) error {
	n.stopOnce.Do(func() {
		close(n.stopCh)
	})

	select {
	case <-n.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the current notifier status. Safe for concurrent use.
func (n *Notifier) Status() NotifierStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// QueueLength returns the current queue length, for tests.
func (n *Notifier) QueueLength() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}
