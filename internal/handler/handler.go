package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/mtlprog/taskboard/internal/auth"
	"github.com/mtlprog/taskboard/internal/config"
	"github.com/mtlprog/taskboard/internal/database"
	"github.com/mtlprog/taskboard/internal/domain"
	"github.com/mtlprog/taskboard/internal/handler/dto"
	"github.com/mtlprog/taskboard/internal/middleware"
	"github.com/mtlprog/taskboard/internal/repository"
	"github.com/mtlprog/taskboard/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	db             *database.DB
	userService    *service.UserService
	projectService *service.ProjectService
	taskService    *service.TaskService
	authMiddleware *middleware.AuthMiddleware
	limits         RateLimits
}

// RateLimits holds the per-route rate limiting middlewares. A nil entry
// disables that limit.
type RateLimits struct {
	// Auth guards register and login.
	Auth func(http.Handler) http.Handler
	// General guards authenticated endpoints and runs after authentication.
	General func(http.Handler) http.Handler
}

// New creates a new Handler instance with all dependencies.
func New(db *database.DB, tokens *auth.TokenIssuer) *Handler {
	pool := db.Pool()

	// Create repositories
	taskRepo := repository.NewTaskRepository(pool)
	activityRepo := repository.NewActivityLogRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	projectRepo := repository.NewProjectRepository(pool)

	// Create services
	userService := service.NewUserService(db, userRepo, tokens)
	projectService := service.NewProjectService(db, projectRepo, userRepo, taskRepo)
	taskService := service.NewTaskService(db, taskRepo, activityRepo, projectRepo, userRepo)

	return &Handler{
		db:             db,
		userService:    userService,
		projectService: projectService,
		taskService:    taskService,
		authMiddleware: middleware.NewAuthMiddleware(tokens),
	}
}

// WithRateLimits sets the rate limits applied by RegisterRoutes.
func (h *Handler) WithRateLimits(limits RateLimits) *Handler {
	h.limits = limits
	return h
}

// RegisterRoutes registers all HTTP routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Operational endpoints
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Public auth endpoints
	mux.Handle("POST /api/v1/auth/register", limited(h.limits.Auth, http.HandlerFunc(h.handleRegister)))
	mux.Handle("POST /api/v1/auth/login", limited(h.limits.Auth, http.HandlerFunc(h.handleLogin)))

	// Authenticated endpoints
	h.protected(mux, "GET /api/v1/auth/me", h.handleMe)

	h.protected(mux, "GET /api/v1/users", h.handleListUsers)
	h.protected(mux, "PATCH /api/v1/users/{id}/promote", h.handlePromoteUser)
	h.protected(mux, "PATCH /api/v1/users/{id}/demote", h.handleDemoteUser)

	h.protected(mux, "POST /api/v1/projects", h.handleCreateProject)
	h.protected(mux, "GET /api/v1/projects", h.handleListProjects)
	h.protected(mux, "GET /api/v1/projects/{id}", h.handleGetProject)
	h.protected(mux, "GET /api/v1/projects/{id}/stats", h.handleProjectStats)
	h.protected(mux, "POST /api/v1/projects/{id}/invite", h.handleInviteMember)
	h.protected(mux, "DELETE /api/v1/projects/{id}/members/{memberId}", h.handleRemoveMember)
	h.protected(mux, "GET /api/v1/projects/{id}/tasks", h.handleListTasks)

	h.protected(mux, "POST /api/v1/tasks", h.handleCreateTask)
	h.protected(mux, "GET /api/v1/tasks/{id}", h.handleGetTask)
	h.protected(mux, "PATCH /api/v1/tasks/{id}", h.handleUpdateTask)
	h.protected(mux, "PATCH /api/v1/tasks/{id}/status", h.handleUpdateStatus)
	h.protected(mux, "GET /api/v1/tasks/{id}/activity", h.handleListActivity)
	h.protected(mux, "DELETE /api/v1/tasks/{id}", h.handleDeleteTask)
}

func (h *Handler) protected(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.Handle(pattern, h.authMiddleware.Authenticate(limited(h.limits.General, fn)))
}

func limited(limit func(http.Handler) http.Handler, next http.Handler) http.Handler {
	if limit == nil {
		return next
	}
	return limit(next)
}

// handleHealthz returns 200 OK if the database is reachable.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		slog.Error("database health check failed", "error", err)
		respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "database unavailable")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ping checks if the database is reachable (used for testing).
func (h *Handler) Ping(ctx context.Context) error {
	return h.db.Ping(ctx)
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a standard error response.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, dto.NewErrorResponse(code, message))
}

// respondDomainError maps a service error to its HTTP representation.
func respondDomainError(w http.ResponseWriter, err error) {
	status, code, message := dto.MapDomainError(err)
	respondError(w, status, code, message)
}

// currentActor returns the authenticated actor or writes 401.
func currentActor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return domain.Actor{}, false
	}
	return actor, true
}

// decodeJSON decodes and validates the request body into req.
// Returns false if the body was rejected (error already sent to client).
func decodeJSON(w http.ResponseWriter, r *http.Request, req any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(req); err != nil {
		if errors.Is(err, io.EOF) {
			respondError(w, http.StatusBadRequest, "INVALID_JSON", "request body is required")
			return false
		}
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return false
	}

	if fields := dto.Validate(req); len(fields) > 0 {
		resp := dto.NewErrorResponse("VALIDATION_ERROR", "request validation failed")
		resp.Error.Details = fields
		respondJSON(w, http.StatusBadRequest, resp)
		return false
	}

	return true
}

// extractID extracts and validates a UUID path parameter.
// Returns (id, true) if valid, ("", false) if invalid (error already sent to client).
func extractID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := r.PathValue(name)
	if id == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", name+" is required")
		return "", false
	}

	if _, err := uuid.Parse(id); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", name+" must be a valid UUID")
		return "", false
	}

	return id, true
}

// parsePage reads the page and limit query parameters.
// Returns false if they are out of range (error already sent to client).
func parsePage(w http.ResponseWriter, r *http.Request) (domain.PageRequest, bool) {
	page := domain.PageRequest{Page: 1, Limit: config.DefaultPageSize}
	query := r.URL.Query()

	if raw := query.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "page must be a positive integer")
			return page, false
		}
		page.Page = n
	}

	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > config.MaxPageSize {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR",
				fmt.Sprintf("limit must be between 1 and %d", config.MaxPageSize))
			return page, false
		}
		page.Limit = n
	}

	// (page-1)*limit must fit the row offset.
	if page.Page > math.MaxInt/page.Limit {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "page is out of range")
		return page, false
	}

	return page, true
}
