package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/wandertune/api/internal/middleware"
	"github.com/wandertune/api/internal/model"
	"github.com/wandertune/api/internal/service"
	"github.com/wandertune/api/internal/store"
	"github.com/wandertune/api/pkg/response"
)

type TaskHandler struct {
	service   *service.TaskService
	validator *validator.Validate
}

func NewTaskHandler(svc *service.TaskService, v *validator.Validate) *TaskHandler {
	return &TaskHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/tasks
// @Summary      Create generation task
// @Description  Create a music generation task for uploaded images and a location
// @Tags         Tasks
// @Accept       json
// @Produce      json
// @Param        request body model.CreateTaskRequest true "Task creation request"
// @Success      201 {object} model.CreateTaskResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/tasks [post]
func (h *TaskHandler) Create(c *fiber.Ctx) error {
	var req model.CreateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	// A bearer token, when present, pins the task to the caller.
	if userID := middleware.GetUserID(c); userID != "" {
		req.UserID = userID
	}

	task, err := h.service.Create(c.Context(), &req)
	if err != nil {
		var vErr *service.ValidationError
		if errors.As(err, &vErr) {
			return response.ValidationError(c, vErr.Message, nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, model.CreateTaskResponse{
		ID:       task.ID,
		Status:   task.Status,
		Progress: task.Progress,
	})
}

// Get handles GET /api/tasks/:id
// @Summary      Get task detail
// @Description  Get full task state including analysis, lyrics and result URLs when present
// @Tags         Tasks
// @Produce      json
// @Param        id path string true "Task ID"
// @Success      200 {object} model.Task
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/tasks/{id} [get]
func (h *TaskHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Task ID is required", nil)
	}

	task, err := h.service.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return response.NotFound(c, "Task not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, task)
}

// List handles GET /api/tasks
// @Summary      List tasks
// @Description  List task summaries, newest first, optionally filtered by user and status
// @Tags         Tasks
// @Produce      json
// @Param        userId query string false "Filter by user ID"
// @Param        status query string false "Filter by status"
// @Param        limit  query int    false "Page size (default 50)"
// @Param        offset query int    false "Page offset"
// @Success      200 {object} model.ListTasksResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/tasks [get]
func (h *TaskHandler) List(c *fiber.Ctx) error {
	status := c.Query("status")
	if status != "" && !model.IsValidTaskStatus(status) {
		return response.ValidationError(c, "Unknown status filter", nil)
	}

	filter := store.ListFilter{
		UserID: c.Query("userId"),
		Status: status,
	}
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	result, err := h.service.List(c.Context(), filter, limit, offset)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Delete handles DELETE /api/tasks/:id
// @Summary      Delete task
// @Description  Delete a task together with its callback logs and image files
// @Tags         Tasks
// @Produce      json
// @Param        id path string true "Task ID"
// @Success      200 {object} map[string]bool
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/tasks/{id} [delete]
func (h *TaskHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Task ID is required", nil)
	}

	if err := h.service.Delete(c.Context(), id); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return response.NotFound(c, "Task not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, fiber.Map{"success": true})
}

// Callback handles POST /api/tasks/:id/callback
// @Summary      Provider callback sink
// @Description  Debug-only sink that records provider callback payloads
// @Tags         Tasks
// @Accept       json
// @Produce      json
// @Param        id path string true "Task ID"
// @Success      200 {object} map[string]bool
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/tasks/{id}/callback [post]
func (h *TaskHandler) Callback(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Task ID is required", nil)
	}

	body := c.Body()
	if len(body) == 0 {
		body = []byte("{}")
	}

	var probe struct {
		Type string `json:"type"`
	}
	_ = c.BodyParser(&probe)

	if err := h.service.AppendCallback(c.Context(), id, probe.Type, body); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return response.NotFound(c, "Task not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, fiber.Map{"success": true})
}

// CleanupFiles handles POST /api/maintenance/cleanup-files
// @Summary      Clean up orphaned files
// @Description  Delete uploaded files no task references anymore
// @Tags         Maintenance
// @Produce      json
// @Success      200 {object} model.CleanupFilesResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/maintenance/cleanup-files [post]
func (h *TaskHandler) CleanupFiles(c *fiber.Ctx) error {
	result, err := h.service.CleanupOrphanedFiles(c.Context())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, result)
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
