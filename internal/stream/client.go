package stream

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Kind identifies a client transport.
type Kind string

// Transports.
const (
	KindTCP       Kind = "tcp"
	KindWebSocket Kind = "websocket"
)

// ClientInfo is a diagnostic snapshot of one connected client.
type ClientInfo struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connected_at"`
}

// frame is one record in both of its wire forms.
type frame struct {
	line   []byte // no delimiter
	framed []byte // line + '\n'
}

func newFrame(line []byte) frame {
	framed := make([]byte, len(line)+1)
	copy(framed, line)
	framed[len(line)] = '\n'
	return frame{line: framed[:len(line)], framed: framed}
}

// transport is the per-connection I/O used by the server.
type transport interface {
	send(f frame) error
	// drain reads and discards inbound data until the peer goes away.
	drain() error
	close() error
	remoteAddr() string
}

type client struct {
	ClientInfo
	t         transport
	closeOnce sync.Once
}

func newClient(kind Kind, t transport) *client {
	return &client{
		ClientInfo: ClientInfo{
			ID:          uuid.NewString(),
			Kind:        kind,
			Remote:      t.remoteAddr(),
			ConnectedAt: time.Now(),
		},
		t: t,
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		_ = c.t.close()
	})
}

type tcpTransport struct {
	conn net.Conn
}

func (t *tcpTransport) send(f frame) error {
	_, err := t.conn.Write(f.framed)
	return err
}

func (t *tcpTransport) drain() error {
	buf := make([]byte, 512)
	for {
		if _, err := t.conn.Read(buf); err != nil {
			return err
		}
	}
}

func (t *tcpTransport) close() error {
	return t.conn.Close()
}

func (t *tcpTransport) remoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// wsTransport sends each record as one text message without the delimiter.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) send(f frame) error {
	return t.conn.WriteMessage(websocket.TextMessage, f.line)
}

func (t *wsTransport) drain() error {
	for {
		if _, _, err := t.conn.NextReader(); err != nil {
			return err
		}
	}
}

func (t *wsTransport) close() error {
	return t.conn.Close()
}

func (t *wsTransport) remoteAddr() string {
	return t.conn.RemoteAddr().String()
}
