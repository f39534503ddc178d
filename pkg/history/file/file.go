// Package file provides file-based storage for completed run records.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/runtrace/runtrace/pkg/history"
	"github.com/runtrace/runtrace/pkg/models"
)

const runFileMode = 0o600
const runDirMode = 0o755

// History implements the history.History interface on the file system, one
// JSON document per run under <root>/runs.
type History struct {
	root string
}

// NewHistory creates a file-backed history rooted at the given directory.
func NewHistory(root string) *History {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &History{root: cleanRoot}
}

func (h *History) runsDir() string {
	return filepath.Join(h.root, "runs")
}

func (h *History) runPath(id string) string {
	return filepath.Join(h.runsDir(), id+".json")
}

func (h *History) SaveRun(_ context.Context, record *models.RunRecord) error {
	if record == nil || record.ID == "" {
		return history.NewRunError("SaveRun", "", fmt.Errorf("record has no id"))
	}

	if err := os.MkdirAll(h.runsDir(), runDirMode); err != nil {
		return history.NewRunError("SaveRun", record.ID, err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return history.NewRunError("SaveRun", record.ID, err)
	}

	if err := os.WriteFile(h.runPath(record.ID), data, runFileMode); err != nil {
		return history.NewRunError("SaveRun", record.ID, err)
	}

	return nil
}

func (h *History) Runs(ctx context.Context, opts history.ListOptions) (*history.ListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	root := os.DirFS(h.runsDir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list run files: %w", err)
	}

	all := make([]*models.RunRecord, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		runID := strings.TrimSuffix(file, ".json")

		record, err := h.RunByID(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
		}

		all = append(all, record)
	}

	// Newest first.
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	totalCount := int64(len(all))
	startIdx := opts.Offset
	endIdx := opts.Offset + opts.Limit

	if startIdx >= len(all) {
		return &history.ListResult{
			Runs:        make([]*models.RunRecord, 0),
			TotalCount:  totalCount,
			HasNextPage: false,
		}, nil
	}

	if endIdx > len(all) {
		endIdx = len(all)
	}

	return &history.ListResult{
		Runs:        all[startIdx:endIdx],
		TotalCount:  totalCount,
		HasNextPage: endIdx < len(all),
	}, nil
}

func (h *History) RunByID(_ context.Context, id string) (*models.RunRecord, error) {
	data, err := os.ReadFile(h.runPath(id))
	if err != nil {
		if os.IsNotExist(err) {
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

func (h *History) DeleteRun(_ context.Context, id string) error {
	err := os.Remove(h.runPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return history.NewRunError("DeleteRun", id, history.ErrRunNotFound)
		}

		return history.NewRunError("DeleteRun", id, err)
	}

	return nil
}

// HealthCheck verifies the root directory exists.
func (h *History) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(h.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. For file-based history there is
// nothing to clean up.
func (h *History) Close(_ context.Context) error {
	return nil
}
