package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/usbshare/internal/devicestate"
)

const (
	// writeWait is the time allowed to write one message
	writeWait = 10 * time.Second

	// pongWait is how long the stream waits for a pong before giving up
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	eventBuffer = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Any LAN client may watch; the API has no browser-facing origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents upgrades to a WebSocket and streams an EventMessage with the
// current device list, then one per device list change.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	updates, cancel := s.devices.Subscribe(eventBuffer)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Event stream upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}
	remoteAddr := r.RemoteAddr

	s.wg.Add(1)
	defer s.wg.Done()
	s.trackStream(remoteAddr, conn)
	defer func() {
		_ = conn.Close()
		s.untrackStream(remoteAddr)
	}()

	// The reader only services control frames; it exits when the peer goes away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	devices, err := s.devices.Devices(r.Context())
	if err != nil && !devicestate.IsStale(err) {
		s.logger.Warn("No initial device list for event stream", zap.Error(err))
	} else if err := s.writeEvent(conn, devices, time.Now().UTC()); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := s.writeEvent(conn, update.Devices, update.RefreshedAt); err != nil {
				s.logger.Debug("Event stream write failed", zap.String("remote_addr", remoteAddr), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, devices []devicestate.UsbDevice, refreshedAt time.Time) error {
	if devices == nil {
		devices = []devicestate.UsbDevice{}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(EventMessage{
		Type:        EventTypeDevices,
		Devices:     devices,
		RefreshedAt: refreshedAt,
	})
}
