package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/graaaaa/instancewatch/internal/photon"
)

const (
	relayPongWait   = 60 * time.Second
	relayPingPeriod = 25 * time.Second
	relayMaxMessage = 1 << 20
)

var relayUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The listener is loopback-only and the route sits behind basic
	// auth; the relay mod is not a browser, so origin checks add
	// nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleRelay accepts the websocket the in-game relay mod connects to.
// Each binary message is one msgpack protocol envelope; decode failures
// drop the message, not the connection.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not running", nil)
		return
	}

	conn, err := relayUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("relay upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.logger.Info("relay connected", "remote", conn.RemoteAddr().String())
	defer s.logger.Info("relay disconnected", "remote", conn.RemoteAddr().String())

	conn.SetReadLimit(relayMaxMessage)
	conn.SetReadDeadline(time.Now().Add(relayPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(relayPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(relayPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(10 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("relay read failed", "error", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			s.logger.Debug("relay ignoring non-binary message", "type", msgType)
			continue
		}

		ev, err := photon.DecodeFrame(data, time.Now())
		if err != nil {
			s.logger.Warn("relay envelope decode failed", "error", err)
			continue
		}
		s.engine.SubmitProtocol(r.Context(), ev)
	}
}
