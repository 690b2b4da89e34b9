package streamclient

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rawinputd/internal/input"
	"rawinputd/internal/stream"
)

func startServer(t *testing.T) *stream.Server {
	t.Helper()
	s := stream.New(stream.Config{Host: "127.0.0.1"})
	require.NoError(t, s.Start(context.Background(), 0))
	t.Cleanup(s.Stop)
	return s
}

func dial(t *testing.T, s *stream.Server) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	return c
}

func TestNextDecodesEvents(t *testing.T) {
	s := startServer(t)
	c := dial(t, s)
	c.Validate = true

	s.Broadcast([]byte(`{"device_id":"0xAB12","type":"keyboard","vkey":65,"timestamp":1234}`))
	s.Broadcast([]byte(`{"device_id":"0x1F","type":"mouse","dx":-3,"dy":7,"buttons":1,"timestamp":1240}`))

	ev, line, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"device_id":"0xAB12","type":"keyboard","vkey":65,"timestamp":1234}`, string(line))
	assert.Equal(t, "0xAB12", ev.DeviceID)
	assert.Equal(t, input.KeyboardPayload{VKey: 65}, ev.Payload)
	assert.Equal(t, uint64(1234), ev.Timestamp)

	ev, _, err = c.Next()
	require.NoError(t, err)
	assert.Equal(t, input.DeviceMouse, ev.Type())
	assert.Equal(t, input.MousePayload{DX: -3, DY: 7, Buttons: 1}, ev.Payload)
}

func TestNextReportsEOFOnStop(t *testing.T) {
	s := startServer(t)
	c := dial(t, s)

	s.Stop()
	_, _, err := c.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestValidateRejectsMalformedLine(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	c := NewClient(client)
	defer c.Close()
	c.Validate = true

	go server.Write([]byte("{\"device_id\":\"0x1\",\"type\":\"joystick\",\"timestamp\":1}\n"))

	_, line, err := c.Next()
	require.Error(t, err)
	assert.Contains(t, string(line), "joystick")
}

func TestNextLineTooLong(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	c := NewClient(client)
	defer c.Close()

	go server.Write([]byte(strings.Repeat("x", maxLine+10) + "\n"))

	_, err := c.NextLine()
	assert.True(t, errors.Is(err, ErrLineTooLong))
}

func TestDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Dial(context.Background(), addr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), addr)
}
