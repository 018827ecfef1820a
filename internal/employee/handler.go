package employee

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/staffdesk/staffdesk/internal/httputil"
	"github.com/staffdesk/staffdesk/internal/logging"
)

// Handler contains HTTP handlers for employee CRUD
type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

type employeeRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Department string `json:"department"`
	Position   string `json:"position"`
}

func (req *employeeRequest) validate() string {
	if req.Name == "" {
		return "name is required"
	}
	if req.Email == "" {
		return "email is required"
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return "invalid email format"
	}
	return ""
}

// List handles employee listing
// @Summary      List employees
// @Tags         employees
// @Produce      json
// @Security     BearerAuth
// @Param        department query string false "Filter by department"
// @Param        search query string false "Search name or email"
// @Success      200 {array} Employee
// @Router       /employees [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Department: r.URL.Query().Get("department"),
		Search:     r.URL.Query().Get("search"),
	}

	employees, err := h.repo.List(r.Context(), filter)
	if err != nil {
		logging.GetLoggerFromContext(r.Context()).Error("failed to list employees", "error", err.Error())
		httputil.RespondErrorWithCode(w, "failed to list employees", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	httputil.RespondJSON(w, employees, http.StatusOK)
}

// Create handles employee creation
// @Summary      Create an employee
// @Tags         employees
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body employeeRequest true "Employee fields"
// @Success      201 {object} Employee
// @Failure      400 {object} httputil.ErrorResponse
// @Failure      409 {object} httputil.ErrorResponse "Email already exists"
// @Router       /employees [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req employeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		httputil.RespondErrorWithCode(w, msg, httputil.CodeValidationFailed, http.StatusBadRequest)
		return
	}

	created, err := h.repo.Create(r.Context(), &Employee{
		Name:       req.Name,
		Email:      req.Email,
		Department: req.Department,
		Position:   req.Position,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeUserAlreadyExists, http.StatusConflict)
			return
		}
		logger.Error("failed to create employee", "error", err.Error())
		httputil.RespondErrorWithCode(w, "failed to create employee", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("employee created", "employee_id", created.ID)
	httputil.RespondJSON(w, created, http.StatusCreated)
}

// Get handles fetching one employee
// @Summary      Get an employee
// @Tags         employees
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Employee ID"
// @Success      200 {object} Employee
// @Failure      404 {object} httputil.ErrorResponse
// @Router       /employees/{id} [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	e, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeNotFound, http.StatusNotFound)
			return
		}
		logging.GetLoggerFromContext(r.Context()).Error("failed to get employee", "error", err.Error())
		httputil.RespondErrorWithCode(w, "failed to get employee", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	httputil.RespondJSON(w, e, http.StatusOK)
}

// Update handles replacing an employee's fields
// @Summary      Update an employee
// @Tags         employees
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Employee ID"
// @Param        request body employeeRequest true "Employee fields"
// @Success      200 {object} Employee
// @Failure      400 {object} httputil.ErrorResponse
// @Failure      404 {object} httputil.ErrorResponse
// @Router       /employees/{id} [put]
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req employeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		httputil.RespondErrorWithCode(w, msg, httputil.CodeValidationFailed, http.StatusBadRequest)
		return
	}

	updated, err := h.repo.Update(r.Context(), &Employee{
		ID:         id,
		Name:       req.Name,
		Email:      req.Email,
		Department: req.Department,
		Position:   req.Position,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeNotFound, http.StatusNotFound)
		case errors.Is(err, ErrDuplicateEmail):
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeUserAlreadyExists, http.StatusConflict)
		default:
			logging.GetLoggerFromContext(r.Context()).Error("failed to update employee", "error", err.Error())
			httputil.RespondErrorWithCode(w, "failed to update employee", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	httputil.RespondJSON(w, updated, http.StatusOK)
}

// Delete handles employee removal
// @Summary      Delete an employee
// @Tags         employees
// @Security     BearerAuth
// @Param        id path int true "Employee ID"
// @Success      204
// @Failure      404 {object} httputil.ErrorResponse
// @Router       /employees/{id} [delete]
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
		logging.GetLoggerFromContext(r.Context()).Error("failed to delete employee", "error", err.Error())
		httputil.RespondErrorWithCode(w, "failed to delete employee", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.RespondErrorWithCode(w, "invalid employee id", httputil.CodeValidationFailed, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
