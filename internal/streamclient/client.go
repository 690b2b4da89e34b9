// Package streamclient reads the rawinputd line protocol.
package streamclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"rawinputd/internal/input"
)

// maxLine bounds a single wire record.
const maxLine = 64 * 1024

// ErrLineTooLong is returned when the server sends a record without a
// delimiter within maxLine bytes.
var ErrLineTooLong = errors.New("streamclient: line too long")

// Client is a connection to a broadcast server. It is not safe for
// concurrent use.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	// Validate checks every line against the wire schema before decoding.
	Validate bool
}

// Dial connects to addr ("host:port").
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 4096),
	}
}

// NextLine returns the next record without its delimiter. It returns io.EOF
// once the server closes the connection.
func (c *Client) NextLine() ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := c.reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > maxLine {
			return nil, ErrLineTooLong
		}
		if !isPrefix {
			return line, nil
		}
	}
}

// Next reads and decodes the next event.
func (c *Client) Next() (input.Event, []byte, error) {
	line, err := c.NextLine()
	if err != nil {
		return input.Event{}, nil, err
	}
	if c.Validate {
		if err := input.ValidateLine(line); err != nil {
			return input.Event{}, line, err
		}
	}
	ev, err := input.Decode(line)
	if err != nil {
		return input.Event{}, line, err
	}
	return ev, line, nil
}

// RemoteAddr returns the server address.
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the connection. A blocked Next returns an error.
func (c *Client) Close() error {
	return c.conn.Close()
}
