// Package redis provides Redis-backed storage for completed run records.
// Records are stored one hash entry per run, with a sorted set indexing
// runs by creation time so listings stay newest-first.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/runtrace/runtrace/pkg/history"
	"github.com/runtrace/runtrace/pkg/models"
)

const (
	runsHashKey  = "runtrace:runs"
	runsIndexKey = "runtrace:runs:by_created"

	connectTimeout = 5 * time.Second
)

// History implements the history.History interface on Redis.
type History struct {
	client goredis.UniversalClient
}

// NewHistory connects to Redis using a redis:// URL and verifies the
// connection with a ping before returning.
func NewHistory(ctx context.Context, rawURL string) (*History, error) {
	opts, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}

	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &History{client: client}, nil
}

func parseURL(rawURL string) (*goredis.Options, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	addr := parsed.Host
	if addr == "" {
		addr = "localhost:6379"
	}

	password, _ := parsed.User.Password()

	db := 0

	if len(parsed.Path) > 1 {
		db, err = strconv.Atoi(parsed.Path[1:])
		if err != nil {
			return nil, fmt.Errorf("invalid redis db value: %w", err)
		}
	}

	return &goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}, nil
}

func (h *History) SaveRun(ctx context.Context, record *models.RunRecord) error {
	if record == nil || record.ID == "" {
		return history.NewRunError("SaveRun", "", errors.New("record has no id"))
	}

	data, err := json.Marshal(record)
	if err != nil {
		return history.NewRunError("SaveRun", record.ID, err)
	}

	pipe := h.client.TxPipeline()
	pipe.HSet(ctx, runsHashKey, record.ID, data)
	pipe.ZAdd(ctx, runsIndexKey, goredis.Z{
		Score:  float64(record.CreatedAt.UnixNano()),
		Member: record.ID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return history.NewRunError("SaveRun", record.ID, err)
	}

	return nil
}

func (h *History) Runs(ctx context.Context, opts history.ListOptions) (*history.ListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	totalCount, err := h.client.ZCard(ctx, runsIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}

	start := int64(opts.Offset)
	stop := start + int64(opts.Limit) - 1

	ids, err := h.client.ZRevRange(ctx, runsIndexKey, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*models.RunRecord, 0, len(ids))

	for _, id := range ids {
		record, err := h.RunByID(ctx, id)
		if err != nil {
			if history.IsRunNotFound(err) {
				continue
			}

			return nil, err
		}

		runs = append(runs, record)
	}

	return &history.ListResult{
		Runs:        runs,
		TotalCount:  totalCount,
		HasNextPage: start+int64(len(ids)) < totalCount,
	}, nil
}

func (h *History) RunByID(ctx context.Context, id string) (*models.RunRecord, error) {
	data, err := h.client.HGet(ctx, runsHashKey, id).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, history.NewRunError("RunByID", id, history.ErrRunNotFound)
		}

		return nil, history.NewRunError("RunByID", id, err)
	}

	var record models.RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, history.NewRunError("RunByID", id, err)
	}

	return &record, nil
}

func (h *History) DeleteRun(ctx context.Context, id string) error {
	removed, err := h.client.HDel(ctx, runsHashKey, id).Result()
	if err != nil {
		return history.NewRunError("DeleteRun", id, err)
	}

	if removed == 0 {
		return history.NewRunError("DeleteRun", id, history.ErrRunNotFound)
	}

	if err := h.client.ZRem(ctx, runsIndexKey, id).Err(); err != nil {
		return history.NewRunError("DeleteRun", id, err)
	}

	return nil
}

func (h *History) HealthCheck(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

func (h *History) Close(_ context.Context) error {
	return h.client.Close()
}
