package task

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/staffdesk/staffdesk/internal/httputil"
	"github.com/staffdesk/staffdesk/internal/logging"
)

// Handler contains HTTP handlers for task CRUD
type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

type taskRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	AssignedToID int64  `json:"assigned_to_id"`
	Status       string `json:"status"`
}

func (req *taskRequest) validate() string {
	if req.Title == "" {
		return "title is required"
	}
	if req.AssignedToID == 0 {
		return "assigned_to_id is required"
	}
	if req.Status != "" && !ValidStatus(req.Status) {
		return "status must be one of Pending, In Progress, Completed"
	}
	return ""
}

// List handles task listing with filtering, search and ordering
// @Summary      List tasks
// @Tags         tasks
// @Produce      json
// @Security     BearerAuth
// @Param        status query string false "Filter by exact status"
// @Param        assignee query string false "Filter by exact assignee name"
// @Param        assignee_contains query string false "Filter by assignee name substring"
// @Param        search query string false "Search title, description or assignee name"
// @Param        ordering query string false "created_at or updated_at, '-' prefix for descending"
// @Success      200 {array} Task
// @Failure      400 {object} httputil.ErrorResponse "Unsupported ordering"
// @Router       /tasks [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := ListFilter{
		Status:           query.Get("status"),
		Assignee:         query.Get("assignee"),
		AssigneeContains: query.Get("assignee_contains"),
		Search:           query.Get("search"),
		Ordering:         query.Get("ordering"),
	}

	tasks, err := h.repo.List(r.Context(), filter)
	if err != nil {
		if errors.Is(err, ErrBadOrdering) {
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeValidationFailed, http.StatusBadRequest)
			return
		}
		logging.GetLoggerFromContext(r.Context()).Error("failed to list tasks", "error", err.Error())
		httputil.RespondErrorWithCode(w, "failed to list tasks", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	httputil.RespondJSON(w, tasks, http.StatusOK)
}

// Create handles task creation
// @Summary      Create a task
// @Tags         tasks
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body taskRequest true "Task fields"
// @Success      201 {object} Task
// @Failure      400 {object} httputil.ErrorResponse
// @Router       /tasks [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		httputil.RespondErrorWithCode(w, msg, httputil.CodeValidationFailed, http.StatusBadRequest)
		return
	}

	status := req.Status
	if status == "" {
		status = StatusPending
	}

	created, err := h.repo.Create(r.Context(), &Task{
		Title:        req.Title,
		Description:  req.Description,
		AssignedToID: req.AssignedToID,
		Status:       status,
	})
	if err != nil {
		if errors.Is(err, ErrUnknownAssignee) {
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeValidationFailed, http.StatusBadRequest)
			return
		}
		logger.Error("failed to create task", "error", err.Error())
		httputil.RespondErrorWithCode(w, "failed to create task", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("task created", "task_id", created.ID)
	httputil.RespondJSON(w, created, http.StatusCreated)
}

// Get handles fetching one task
// @Summary      Get a task
// @Tags         tasks
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Task ID"
// @Success      200 {object} Task
// @Failure      404 {object} httputil.ErrorResponse
// @Router       /tasks/{id} [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	t, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeNotFound, http.StatusNotFound)
			return
		}
		logging.GetLoggerFromContext(r.Context()).Error("failed to get task", "error", err.Error())
		httputil.RespondErrorWithCode(w, "failed to get task", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	httputil.RespondJSON(w, t, http.StatusOK)
}

// Update handles replacing a task's fields
// @Summary      Update a task
// @Tags         tasks
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Task ID"
// @Param        request body taskRequest true "Task fields"
// @Success      200 {object} Task
// @Failure      400 {object} httputil.ErrorResponse
// @Failure      404 {object} httputil.ErrorResponse
// @Router       /tasks/{id} [put]
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		httputil.RespondErrorWithCode(w, msg, httputil.CodeValidationFailed, http.StatusBadRequest)
		return
	}

	status := req.Status
	if status == "" {
		status = StatusPending
	}

	updated, err := h.repo.Update(r.Context(), &Task{
		ID:           id,
		Title:        req.Title,
		Description:  req.Description,
		AssignedToID: req.AssignedToID,
		Status:       status,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeNotFound, http.StatusNotFound)
		case errors.Is(err, ErrUnknownAssignee):
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeValidationFailed, http.StatusBadRequest)
		default:
			logging.GetLoggerFromContext(r.Context()).Error("failed to update task", "error", err.Error())
			httputil.RespondErrorWithCode(w, "failed to update task", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	httputil.RespondJSON(w, updated, http.StatusOK)
}

// Delete handles task removal
// @Summary      Delete a task
// @Tags         tasks
// @Security     BearerAuth
// @Param        id path int true "Task ID"
// @Success      204
// @Failure      404 {object} httputil.ErrorResponse
// @Router       /tasks/{id} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeNotFound, http.StatusNotFound)
			return
		}
		logging.GetLoggerFromContext(r.Context()).Error("failed to delete task", "error", err.Error())
		httputil.RespondErrorWithCode(w, "failed to delete task", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.RespondErrorWithCode(w, "invalid task id", httputil.CodeValidationFailed, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
