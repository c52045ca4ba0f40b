package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/graaaaa/instancewatch/internal/feed"
	"github.com/graaaaa/instancewatch/internal/store"
)

const (
	heartbeatInterval    = 20 * time.Second
	missedEventsPageSize = 100
	maxMissedEventsPages = 5
)

// handleStream serves the SSE overlay stream. Clients reconnecting with
// a Last-Event-ID cursor get entries missed while disconnected replayed
// from the store before live frames resume.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Subscribe before replay so nothing falls in the gap. Live frames
	// buffer in the client channel while replay writes.
	c := s.hub.subscribe()
	defer s.hub.unsubscribe(c)

	if lastID := r.Header.Get("Last-Event-ID"); lastID != "" && s.store != nil {
		if err := s.replayMissed(w, r, flusher, lastID); err != nil {
			s.logger.Debug("missed event replay aborted", "error", err)
			return
		}
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, open := <-c.frames:
			if !open {
				return
			}
			if err := writeFrame(w, frame); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// replayMissed pages through stored entries after the cursor and writes
// them as feed frames. Replay is bounded; a client away long enough to
// exceed it re-syncs from /api/v1/feed instead.
func (s *Server) replayMissed(w http.ResponseWriter, r *http.Request, flusher http.Flusher, cursor string) error {
	for page := 0; page < maxMissedEventsPages; page++ {
		res, err := s.store.QueryFeed(r.Context(), store.FeedFilter{
			Limit:  missedEventsPageSize,
			Cursor: &cursor,
		})
		if err != nil {
			return fmt.Errorf("query missed entries: %w", err)
		}
		for i := range res.Items {
			rec := &res.Items[i]
			data, err := json.Marshal(feed.ToOverlay(&rec.Entry))
			if err != nil {
				return fmt.Errorf("marshal replay entry: %w", err)
			}
			frame := StreamFrame{
				ID:    store.EncodeCursor(rec.Entry.CreatedAt, rec.ID),
				Event: eventFeed,
				Data:  data,
			}
			if err := writeFrame(w, frame); err != nil {
				return err
			}
		}
		flusher.Flush()
		if res.NextCursor == nil {
			return nil
		}
		cursor = *res.NextCursor
	}
	return nil
}

func writeFrame(w http.ResponseWriter, frame StreamFrame) error {
	if frame.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", frame.ID); err != nil {
			return err
		}
	}
	if frame.Event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", frame.Event); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", frame.Data)
	return err
}
