package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/graaaaa/instancewatch/internal/feed"
	"github.com/graaaaa/instancewatch/internal/store"
)

// handleHealth reports liveness. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleNow serves the current lobby snapshot.
func (s *Server) handleNow(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not running", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

// feedResponse is the paginated feed history response.
type feedResponse struct {
	Items      []store.FeedRecord `json:"items"`
	NextCursor *string            `json:"next_cursor,omitempty"`
}

// handleFeed serves the feed history query endpoint. Supported query
// parameters: since, until (RFC 3339), type, limit, cursor.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "history store unavailable", nil)
		return
	}

	var filter store.FeedFilter
	q := r.URL.Query()

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp", nil)
			return
		}
		filter.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid until timestamp", nil)
			return
		}
		filter.Until = &t
	}
	if v := q.Get("type"); v != "" {
		t := feed.Type(v)
		if !t.Valid() {
			writeError(w, http.StatusBadRequest, "unknown feed type", nil)
			return
		}
		filter.Type = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit", nil)
			return
		}
		filter.Limit = n
	}
	if v := q.Get("cursor"); v != "" {
		filter.Cursor = &v
	}

	res, err := s.store.QueryFeed(r.Context(), filter)
	if err != nil {
		if filter.Cursor != nil {
			writeError(w, http.StatusBadRequest, "invalid cursor", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "feed query failed", err)
		return
	}

	writeJSON(w, http.StatusOK, feedResponse{
		Items:      res.Items,
		NextCursor: res.NextCursor,
	})
}
