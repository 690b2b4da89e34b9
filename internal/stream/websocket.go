package stream

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeHTTP upgrades the request to a WebSocket and serves it as a client
// until it disconnects. Requests are refused with 503 while the server is
// not running or is at capacity.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.State() != StateRunning {
		http.Error(w, "broadcast server not running", http.StatusServiceUnavailable)
		return
	}
	if s.ClientCount() >= s.maxClients {
		s.metrics.ClientsRejectedTotal.Inc()
		s.logger.Debug("websocket rejected at capacity", "remote", r.RemoteAddr)
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c, ok := s.admit(KindWebSocket, &wsTransport{conn: conn})
	if !ok {
		return
	}
	s.serveClient(c)
}
