package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/runtrace/runtrace/pkg/history"
	"github.com/runtrace/runtrace/pkg/history/file"
	"github.com/runtrace/runtrace/pkg/history/postgres"
	"github.com/runtrace/runtrace/pkg/history/redis"
	"github.com/runtrace/runtrace/pkg/log"
)

// NewHistory creates a run history store from a connection URL. file:// paths
// select the file store; redis:// and postgres:// URLs their backends.
func NewHistory(ctx context.Context, historyURL string) (history.History, error) {
	provider, _, found := strings.Cut(historyURL, "://")
	if !found {
		provider = "file"
	}

	switch provider {
	case "file":
		return file.NewHistory(historyURL), nil
	case "redis":
		return redis.NewHistory(ctx, historyURL)
	case "postgres", "postgresql":
		return postgres.NewHistory(ctx, log.WithModule("history"), historyURL)
	default:
		return nil, fmt.Errorf("unsupported history provider: %s", provider)
	}
}
