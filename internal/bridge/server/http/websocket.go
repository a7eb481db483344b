package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The bridge lives on a closed vehicle network.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleTelemetryWS streams snapshots to one websocket client. Each client is
// an independent hub subscriber: a slow client only loses its own superseded
// snapshots and is disconnected when it cannot keep up at all.
func (s *Server) handleTelemetryWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("Websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close()

	sub := s.backend.Hub.Subscribe()
	defer s.backend.Hub.Unsubscribe(sub)

	s.log.Info("Telemetry subscriber connected", "remote", r.RemoteAddr)

	// Drain client frames so close and ping control messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.backend.Hub.Unsubscribe(sub)
				return
			}
		}
	}()

	for {
		select {
		case <-sub.Done():
			s.log.Info("Telemetry subscriber disconnected", "remote", r.RemoteAddr,
				"delivered", sub.LastDelivered())
			return
		case snap := <-sub.Updates():
			conn.SetWriteDeadline(time.Now().Add(s.backend.Deadline))
			if err := conn.WriteJSON(snap); err != nil {
				s.log.Debug("Telemetry write failed, dropping subscriber",
					"remote", r.RemoteAddr, "err", err)
				return
			}
			sub.MarkDelivered(snap.Version)
		}
	}
}
