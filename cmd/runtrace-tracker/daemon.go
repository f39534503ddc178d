package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/runtrace/runtrace/pkg/history"
	"github.com/runtrace/runtrace/pkg/relay"
	"github.com/runtrace/runtrace/pkg/stream"
	"github.com/runtrace/runtrace/pkg/stream/sse"
	"github.com/runtrace/runtrace/pkg/stream/websocket"
)

const reconnectDelay = 3 * time.Second

// Daemon runs the tracker pipeline: an optional engine stream source feeding
// the relay, the relay consuming the bus, and an optional retention sweeper.
type Daemon struct {
	trackerID   string
	relay       *relay.Relay
	retention   *history.Retention
	streamURL   string
	streamToken string
	logger      *slog.Logger
}

func NewDaemon(
	trackerID string,
	rly *relay.Relay,
	retention *history.Retention,
	streamURL string,
	streamToken string,
	logger *slog.Logger,
) *Daemon {
	return &Daemon{
		trackerID:   trackerID,
		relay:       rly,
		retention:   retention,
		streamURL:   streamURL,
		streamToken: streamToken,
		logger:      logger,
	}
}

// Start runs the pipeline until the context is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.relay.Start(ctx); err != nil {
		return err
	}

	if d.retention != nil {
		if err := d.retention.Start(ctx); err != nil {
			return err
		}

		defer func() {
			if err := d.retention.Stop(ctx); err != nil {
				d.logger.ErrorContext(ctx, "Failed to stop retention sweeper", "error", err)
			}
		}()
	}

	if d.streamURL != "" {
		go d.consumeStream(ctx)
	}

	d.logger.InfoContext(ctx, "Tracker daemon started")

	<-ctx.Done()

	d.logger.Info("Tracker daemon shutting down")

	return nil
}

// consumeStream keeps a connection to the engine stream open, reconnecting
// after transient failures.
func (d *Daemon) consumeStream(ctx context.Context) {
	source := d.newSource()

	for {
		err := source.Stream(ctx, d.relay.Ingest)

		if ctx.Err() != nil {
			return
		}

		if err != nil {
			d.logger.ErrorContext(ctx, "Engine stream disconnected", "error", err)
		} else {
			d.logger.InfoContext(ctx, "Engine stream ended, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (d *Daemon) newSource() stream.Source {
	headers := http.Header{}
	if d.streamToken != "" {
		headers.Set("Authorization", "Bearer "+d.streamToken)
	}

	if strings.HasPrefix(d.streamURL, "ws://") || strings.HasPrefix(d.streamURL, "wss://") {
		return websocket.NewClient(d.streamURL, headers, d.logger)
	}

	return sse.NewClient(d.streamURL, headers, d.logger)
}
