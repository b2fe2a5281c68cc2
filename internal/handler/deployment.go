package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mikoto/overseer/internal/domain"
	"github.com/mikoto/overseer/internal/poller"
	"github.com/mikoto/overseer/internal/service"
)

// DeploymentHandler handles deployment endpoints.
type DeploymentHandler struct {
	dispatch    *service.DispatchService
	status      *service.StatusService
	deployments service.DeploymentStore
	poller      *poller.Poller
}

// NewDeploymentHandler creates a new DeploymentHandler.
func NewDeploymentHandler(dispatch *service.DispatchService, status *service.StatusService, deployments service.DeploymentStore, p *poller.Poller) *DeploymentHandler {
	return &DeploymentHandler{dispatch: dispatch, status: status, deployments: deployments, poller: p}
}

type startRequest struct {
	RepositoryLinkID int64  `json:"repository_link_id" validate:"required"`
	Mode             string `json:"mode" validate:"required,oneof=plan execute"`
	Model            string `json:"model" validate:"required"`
	ThreadID         *int64 `json:"thread_id,omitempty"`
	RevisionVersion  *int   `json:"revision_version,omitempty"`
}

// Start dispatches a new agent run for a task.
func (h *DeploymentHandler) Start(c echo.Context) error {
	actorID, ok := ActorID(c)
	if !ok {
		return domain.ErrUnauthorized
	}
	taskID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req startRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	deployment, err := h.dispatch.Start(c.Request().Context(), actorID, service.StartParams{
		TaskID:           taskID,
		RepositoryLinkID: req.RepositoryLinkID,
		Mode:             domain.DeploymentMode(req.Mode),
		Model:            req.Model,
		ThreadID:         req.ThreadID,
		RevisionVersion:  req.RevisionVersion,
	})

	// A partial failure still started the run: the issue exists and the
	// row is persisted. Report it alongside the deployment so the caller
	// can retry the comment via continue instead of re-creating the issue.
	var partial *service.PartialDispatchError
	if errors.As(err, &partial) {
		h.poller.Track(deployment.TaskID, deployment.ID)
		return c.JSON(http.StatusCreated, Envelope{
			Data: map[string]any{"deployment": deployment},
			Error: &APIError{
				Code:    "partial_dispatch",
				Message: partial.Error(),
			},
		})
	}
	if err != nil {
		return err
	}

	h.poller.Track(deployment.TaskID, deployment.ID)
	return JSON(c, http.StatusCreated, deployment)
}

type continueRequest struct {
	Model        string  `json:"model" validate:"required"`
	CustomPrompt *string `json:"custom_prompt,omitempty"`
}

// Continue accepts a plan or retries a run on the same issue.
func (h *DeploymentHandler) Continue(c echo.Context) error {
	actorID, ok := ActorID(c)
	if !ok {
		return domain.ErrUnauthorized
	}
	deploymentID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req continueRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	deployment, err := h.dispatch.Continue(c.Request().Context(), actorID, deploymentID, service.ContinueParams{
		Model:        req.Model,
		CustomPrompt: req.CustomPrompt,
	})
	if err != nil {
		return err
	}

	h.poller.Track(deployment.TaskID, deployment.ID)
	return JSON(c, http.StatusOK, deployment)
}

// Cancel posts the cooperative cancellation marker for a run.
func (h *DeploymentHandler) Cancel(c echo.Context) error {
	actorID, ok := ActorID(c)
	if !ok {
		return domain.ErrUnauthorized
	}
	deploymentID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	deployment, err := h.dispatch.Cancel(c.Request().Context(), actorID, deploymentID)
	if err != nil {
		return err
	}

	h.poller.Untrack(deployment.TaskID, deployment.ID)
	return JSON(c, http.StatusOK, deployment)
}

// Get returns a deployment's persisted row without touching the tracker.
func (h *DeploymentHandler) Get(c echo.Context) error {
	actorID, ok := ActorID(c)
	if !ok {
		return domain.ErrUnauthorized
	}
	deploymentID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	deployment, err := h.deployments.FindByID(c.Request().Context(), deploymentID)
	if err != nil {
		return err
	}
	if err := h.status.Authorize(c.Request().Context(), actorID, deployment); err != nil {
		return err
	}
	return JSON(c, http.StatusOK, deployment)
}

// Feed resolves a deployment against the tracker and returns the classified
// comment feed with the derived status.
func (h *DeploymentHandler) Feed(c echo.Context) error {
	actorID, ok := ActorID(c)
	if !ok {
		return domain.ErrUnauthorized
	}
	deploymentID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	feed, err := h.status.Resolve(c.Request().Context(), actorID, deploymentID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, feed)
}

// ListForTask returns a task's deployments, newest first.
func (h *DeploymentHandler) ListForTask(c echo.Context) error {
	actorID, ok := ActorID(c)
	if !ok {
		return domain.ErrUnauthorized
	}
	taskID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	if err := h.status.AuthorizeTask(c.Request().Context(), actorID, taskID); err != nil {
		return err
	}
	deployments, err := h.deployments.ListByTask(c.Request().Context(), taskID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, deployments)
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", domain.ErrInvalidInput, name)
	}
	return id, nil
}
