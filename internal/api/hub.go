package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/graaaaa/instancewatch/internal/feed"
	"github.com/graaaaa/instancewatch/internal/store"
)

// StreamFrame is one SSE frame fanned out to stream clients. ID is the
// replay cursor for feed frames and empty for ephemeral ones.
type StreamFrame struct {
	ID    string
	Event string
	Data  []byte
}

const (
	eventFeed       = "feed"
	eventTimeout    = "timeout"
	eventNowPlaying = "now_playing"
)

// Hub fans stream frames out to connected SSE clients. A slow client's
// buffer filling drops frames for that client only; the feed history in
// the store is the source of truth for replay.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan StreamFrame
	overlayTTL time.Duration
	logger     *slog.Logger
}

type client struct {
	frames chan StreamFrame
}

const clientBufferSize = 64

// defaultOverlayTTL is how long the overlay keeps a pushed message
// visible when no explicit value is configured.
const defaultOverlayTTL = 6 * time.Second

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithOverlayTTL sets the display lifetime stamped onto overlay push
// frames.
func WithOverlayTTL(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.overlayTTL = d
		}
	}
}

// NewHub creates a Hub. Run must be called for it to do anything.
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan StreamFrame, 256),
		overlayTTL: defaultOverlayTTL,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	clients := make(map[*client]struct{})
	for {
		select {
		case <-ctx.Done():
			for c := range clients {
				close(c.frames)
			}
			return
		case c := <-h.register:
			clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.frames)
			}
		case frame := <-h.broadcast:
			for c := range clients {
				select {
				case c.frames <- frame:
				default:
					h.logger.Debug("stream client lagging, frame dropped")
				}
			}
		}
	}
}

// Broadcast queues a frame for all clients. Non-blocking; frames are
// dropped when the hub itself is saturated.
func (h *Hub) Broadcast(frame StreamFrame) {
	select {
	case h.broadcast <- frame:
	default:
		h.logger.Warn("stream hub saturated, frame dropped", "event", frame.Event)
	}
}

func (h *Hub) subscribe() *client {
	c := &client{frames: make(chan StreamFrame, clientBufferSize)}
	h.register <- c
	return c
}

func (h *Hub) unsubscribe(c *client) {
	h.unregister <- c
}

// OverlaySink returns a feed sink that pushes admitted entries to the
// hub as overlay-shaped feed frames. The frame id is a store cursor so
// reconnecting clients can replay from it.
func (h *Hub) OverlaySink() feed.Sink {
	return feed.SinkFunc(func(ctx context.Context, e *feed.Entry) error {
		data, err := json.Marshal(feed.ToOverlay(e))
		if err != nil {
			return err
		}
		h.Broadcast(StreamFrame{
			ID:    store.EncodeCursor(e.CreatedAt, 0),
			Event: eventFeed,
			Data:  data,
		})
		return nil
	})
}

// timeoutFrame is the payload of a watcher push. TTLMs tells the
// overlay how long to keep the message on screen.
type timeoutFrame struct {
	Flagged []string  `json:"flagged"`
	TTLMs   int64     `json:"ttl_ms"`
	At      time.Time `json:"at"`
}

// PushTimeouts adapts the hub to the timeout watcher's push callback.
func (h *Hub) PushTimeouts(names []string) {
	data, err := json.Marshal(timeoutFrame{
		Flagged: names,
		TTLMs:   h.overlayTTL.Milliseconds(),
		At:      time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("marshal timeout frame failed", "error", err)
		return
	}
	h.Broadcast(StreamFrame{Event: eventTimeout, Data: data})
}

// PushNowPlaying adapts the hub to the video projector's push callback.
// A nil payload means playback ended.
func (h *Hub) PushNowPlaying(v *feed.VideoPayload) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshal now-playing frame failed", "error", err)
		return
	}
	h.Broadcast(StreamFrame{Event: eventNowPlaying, Data: data})
}
