// Package websocket connects to an engine's WebSocket event feed and
// delivers each text message as a raw frame.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/runtrace/runtrace/pkg/stream"
)

const (
	handshakeTimeout = 10 * time.Second
	pongWait         = 60 * time.Second
	pingInterval     = 30 * time.Second
)

// Client reads engine frames from a WebSocket endpoint.
type Client struct {
	url     string
	headers http.Header
	logger  *slog.Logger
}

func NewClient(url string, headers http.Header, logger *slog.Logger) *Client {
	return &Client{
		url:     url,
		headers: headers,
		logger:  logger.With("module", "websocket_client", "url", url),
	}
}

// Stream dials the endpoint and delivers frames until the peer closes the
// connection or the context is cancelled.
func (c *Client) Stream(ctx context.Context, handler stream.FrameHandler) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, c.url, c.headers)
	if err != nil {
		return fmt.Errorf("failed to dial stream endpoint: %w", err)
	}
	defer conn.Close()

	c.logger.InfoContext(ctx, "Connected to WebSocket stream")

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)

	go c.keepAlive(ctx, conn, done)

	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.InfoContext(ctx, "WebSocket stream closed by peer")

				return nil
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return fmt.Errorf("stream timed out waiting for frames: %w", err)
			}

			return fmt.Errorf("stream read failed: %w", err)
		}

		if messageType != websocket.TextMessage {
			continue
		}

		if err := handler(ctx, raw); err != nil {
			c.logger.WarnContext(ctx, "Frame rejected", "error", err)
		}
	}
}

// keepAlive pings the peer on an interval and closes the connection when the
// context ends, which unblocks the read loop.
func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.Close()

			return
		case <-ticker.C:
			deadline := time.Now().Add(handshakeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
