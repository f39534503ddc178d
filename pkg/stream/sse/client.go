// Package sse connects to an engine's Server-Sent Events endpoint and
// delivers each event's data payload as a raw frame.
package sse

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/runtrace/runtrace/pkg/stream"
)

// Engine SSE streams can carry large node outputs in a single event.
const maxFrameSize = 10 * 1024 * 1024

// Client reads an SSE stream over HTTP.
type Client struct {
	url        string
	headers    http.Header
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(url string, headers http.Header, logger *slog.Logger) *Client {
	return &Client{
		url:        url,
		headers:    headers,
		httpClient: &http.Client{},
		logger:     logger.With("module", "sse_client", "url", url),
	}
}

// Stream connects and delivers each event's data payload until the server
// closes the stream or the context is cancelled.
func (c *Client) Stream(ctx context.Context, handler stream.FrameHandler) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build stream request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	for key, values := range c.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream endpoint returned status %d", resp.StatusCode)
	}

	c.logger.InfoContext(ctx, "Connected to SSE stream")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	var data []string

	for scanner.Scan() {
		line := scanner.Text()

		// A blank line terminates the event.
		if line == "" {
			if len(data) > 0 {
				c.deliver(ctx, handler, strings.Join(data, "\n"))

				data = data[:0]
			}

			continue
		}

		// Comment lines keep the connection alive.
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}

		value = strings.TrimPrefix(value, " ")

		if field == "data" {
			data = append(data, value)
		}
	}

	if len(data) > 0 {
		c.deliver(ctx, handler, strings.Join(data, "\n"))
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil
		}

		return fmt.Errorf("stream read failed: %w", err)
	}

	c.logger.InfoContext(ctx, "SSE stream closed by server")

	return nil
}

func (c *Client) deliver(ctx context.Context, handler stream.FrameHandler, payload string) {
	if err := handler(ctx, []byte(payload)); err != nil {
		c.logger.WarnContext(ctx, "Frame rejected", "error", err)
	}
}
