package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/mikoto/overseer/internal/domain"
	"github.com/mikoto/overseer/internal/planstream"
	"github.com/mikoto/overseer/internal/service"
)

// PlanningHandler handles planning session, thread, revision and generation
// endpoints.
type PlanningHandler struct {
	planning   *service.PlanningService
	planClient *planstream.Client

	// One stream controller per thread: starting a new generation on a
	// thread cancels the one still in flight.
	mu          sync.Mutex
	controllers map[int64]*planstream.Controller
}

// NewPlanningHandler creates a new PlanningHandler.
func NewPlanningHandler(planning *service.PlanningService, planClient *planstream.Client) *PlanningHandler {
	return &PlanningHandler{
		planning:    planning,
		planClient:  planClient,
		controllers: make(map[int64]*planstream.Controller),
	}
}

type sessionRequest struct {
	RepositoryLinkID int64  `json:"repository_link_id" validate:"required"`
	Model            string `json:"model" validate:"required"`
	ModelLabel       string `json:"model_label" validate:"required"`
}

// GetOrCreateSession returns the task's planning session, creating it (and
// its default thread) on first use.
func (h *PlanningHandler) GetOrCreateSession(c echo.Context) error {
	actorID, ok := ActorID(c)
	if !ok {
		return domain.ErrUnauthorized
	}
	taskID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req sessionRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	view, err := h.planning.GetOrCreateSession(c.Request().Context(), actorID, taskID, req.RepositoryLinkID, req.Model, req.ModelLabel)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, view)
}

type threadRequest struct {
	Model      string `json:"model" validate:"required"`
	ModelLabel string `json:"model_label" validate:"required"`
}

// AddThread appends a thread for another model to a session.
func (h *PlanningHandler) AddThread(c echo.Context) error {
	actorID, ok := ActorID(c)
	if !ok {
		return domain.ErrUnauthorized
	}
	sessionID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req threadRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	thread, err := h.planning.AddThread(c.Request().Context(), actorID, sessionID, req.Model, req.ModelLabel)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, thread)
}

// Revisions returns a thread's labeled revision history.
func (h *PlanningHandler) Revisions(c echo.Context) error {
	actorID, ok := ActorID(c)
	if !ok {
		return domain.ErrUnauthorized
	}
	threadID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	revisions, err := h.planning.Revisions(c.Request().Context(), actorID, threadID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, revisions)
}

type generateRequest struct {
	Feedback *string `json:"feedback,omitempty"`
}

// Generate drives one plan generation for a thread and proxies its events to
// the client as server-sent events. On finish the completed document is
// persisted as the thread's next revision; on error or disconnect nothing
// is. Closing the connection aborts the upstream generation.
func (h *PlanningHandler) Generate(c echo.Context) error {
	actorID, ok := ActorID(c)
	if !ok {
		return domain.ErrUnauthorized
	}
	threadID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput)
	}

	ctx := c.Request().Context()
	thread, session, task, err := h.planning.GenerationInput(ctx, actorID, threadID)
	if err != nil {
		return err
	}

	description := ""
	if task.Description != nil {
		description = *task.Description
	}

	events, err := h.controller(threadID).Generate(ctx, planstream.Request{
		ThreadID:         thread.ID,
		RepositoryLinkID: session.RepositoryLinkID,
		TaskTitle:        task.Title,
		TaskDescription:  description,
		Model:            thread.Model,
		CurrentVersion:   thread.CurrentVersion,
		Feedback:         req.Feedback,
	})
	if err != nil {
		return err
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	for event := range events {
		switch event.Type {
		case planstream.EventFinish:
			revision, saveErr := h.planning.SaveRevision(ctx, actorID, threadID, thread.CurrentVersion, event.Content, req.Feedback)
			if saveErr != nil {
				// Includes the ErrConflict a racing generation loses
				// with; the winner's revision stands, this output is
				// surfaced but not persisted.
				writeSSE(res, map[string]any{"type": "error", "errorText": saveErr.Error(), "content": event.Content})
				break
			}
			writeSSE(res, map[string]any{
				"type":     "finish",
				"kind":     event.Kind,
				"revision": revision,
			})

		case planstream.EventError:
			writeSSE(res, map[string]any{"type": "error", "errorText": event.Err.Error(), "content": event.Content})

		case planstream.EventTextDelta:
			writeSSE(res, map[string]any{"type": "text-delta", "delta": event.Delta, "kind": event.Kind})

		case planstream.EventToolStarted, planstream.EventToolResolved:
			writeSSE(res, map[string]any{"type": string(event.Type), "label": event.ToolLabel})
		}
	}

	fmt.Fprint(res, "data: [DONE]\n\n")
	res.Flush()
	return nil
}

func (h *PlanningHandler) controller(threadID int64) *planstream.Controller {
	h.mu.Lock()
	defer h.mu.Unlock()
	ctrl, ok := h.controllers[threadID]
	if !ok {
		ctrl = planstream.NewController(h.planClient)
		h.controllers[threadID] = ctrl
	}
	return ctrl
}

func writeSSE(res *echo.Response, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(res, "data: %s\n\n", data)
	res.Flush()
}
