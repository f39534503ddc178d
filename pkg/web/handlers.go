package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/runtrace/runtrace/pkg/history"
	"github.com/runtrace/runtrace/pkg/manager"
)

// Ingestor accepts one raw engine frame, validates it, and hands it to the
// tracking pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, raw []byte) error
}

type APIHandlers struct {
	manager   *manager.Manager
	history   history.History
	ingestor  Ingestor
	validator *validator.Validate
}

func NewAPIHandlers(
	mgr *manager.Manager,
	h history.History,
	ingestor Ingestor,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		manager:   mgr,
		history:   h,
		ingestor:  ingestor,
		validator: validate,
	}
}

// IngestEvent accepts one engine frame pushed over HTTP. The frame's own
// identifiers select the run; the response only confirms acceptance.
func (h *APIHandlers) IngestEvent(c fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return badRequest(c, "Event body is required")
	}

	if err := h.ingestor.Ingest(c.Context(), body); err != nil {
		return badRequest(c, err.Error())
	}

	return c.SendStatus(fiber.StatusAccepted)
}

// GetRuns lists the live trackers of this instance.
func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	snapshots := h.manager.Snapshots()

	return c.JSON(RunListResponse{
		Runs:  snapshots,
		Count: len(snapshots),
	})
}

// GetRun returns the live execution tree of one run.
func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	tr, ok := h.manager.Tracker(id)
	if !ok {
		return notFound(c, "Run is not tracked")
	}

	return c.JSON(tr.Snapshot())
}

// StopRun cancels a live run.
func (h *APIHandlers) StopRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	record, err := h.manager.Stop(c.Context(), id)
	if err != nil {
		return handleRunError(c, err)
	}

	// Stopping an idle or already-finished run is a no-op; only a run that
	// was actually interrupted becomes retryable.
	canRetry := false
	if tr, ok := h.manager.Tracker(id); ok {
		canRetry = tr.CanRetry()
	}

	return c.JSON(StopResponse{
		RunID:    record.ID,
		State:    record.State,
		CanRetry: canRetry,
		Progress: record.Progress,
	})
}

// ResetRun discards a run's execution state, returning its tracker to idle.
func (h *APIHandlers) ResetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	if err := h.manager.Reset(id); err != nil {
		return handleRunError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// RemoveRun evicts a run's tracker from memory. Archived history survives.
func (h *APIHandlers) RemoveRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	if err := h.manager.Remove(id); err != nil {
		return handleRunError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ToggleExpanded flips the expansion hint for an iteration or loop container.
func (h *APIHandlers) ToggleExpanded(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	var req ToggleExpandedRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	tr, ok := h.manager.Tracker(id)
	if !ok {
		return notFound(c, "Run is not tracked")
	}

	switch req.Kind {
	case "iteration":
		tr.ToggleIterationExpanded(req.ContainerID)
	case "loop":
		tr.ToggleLoopExpanded(req.ContainerID)
	}

	return c.JSON(tr.Snapshot())
}

// GetArchivedRuns lists archived runs, newest first.
func (h *APIHandlers) GetArchivedRuns(c fiber.Ctx) error {
	opts, err := parseListOptions(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.history.Runs(c.Context(), *opts)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"runs":          result.Runs,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  opts.Limit,
			"offset": opts.Offset,
		},
	})
}

// GetArchivedRun returns one archived run record.
func (h *APIHandlers) GetArchivedRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	record, err := h.history.RunByID(c.Context(), id)
	if err != nil {
		return handleRunError(c, err)
	}

	return c.JSON(record)
}

// DeleteArchivedRun removes one archived run record.
func (h *APIHandlers) DeleteArchivedRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	if err := h.history.DeleteRun(c.Context(), id); err != nil {
		return handleRunError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func parseListOptions(c fiber.Ctx) (*history.ListOptions, error) {
	opts := &history.ListOptions{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		opts.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		opts.Offset = offset
	}

	return opts, nil
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Runtrace API is healthy"
	httpStatus := http.StatusOK
	historyCheck := "ok"

	if err := h.history.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "Runtrace API is unhealthy"
		httpStatus = http.StatusInternalServerError
		historyCheck = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"history": historyCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
