package handler

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/mtlprog/taskboard/internal/domain"
	"github.com/mtlprog/taskboard/internal/handler/dto"
	"github.com/mtlprog/taskboard/internal/service"
)

// handleCreateTask creates a new task in BACKLOG.
func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	var req dto.CreateTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	details, err := h.taskService.CreateTask(r.Context(), actor, service.CreateTaskParams{
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    domain.TaskPriority(req.Priority),
		AssigneeID:  req.AssigneeID,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.ToTaskResponse(details))
}

// handleGetTask retrieves task details.
func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	taskID, ok := extractID(w, r, "id")
	if !ok {
		return
	}

	details, err := h.taskService.GetTask(r.Context(), actor, taskID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskResponse(details))
}

// handleListTasks returns project tasks, newest first.
//
// Query parameters:
//   - status: comma-separated statuses
//   - priority: comma-separated priorities
//   - assignee: "me", "none" or a user UUID
//   - page, limit
func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	projectID, ok := extractID(w, r, "id")
	if !ok {
		return
	}

	page, ok := parsePage(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	params := service.TaskListParams{Page: page}

	for _, s := range splitAndTrim(query.Get("status"), ",") {
		params.Statuses = append(params.Statuses, domain.TaskStatus(strings.ToUpper(s)))
	}
	for _, p := range splitAndTrim(query.Get("priority"), ",") {
		params.Priorities = append(params.Priorities, domain.TaskPriority(strings.ToUpper(p)))
	}

	switch assignee := query.Get("assignee"); assignee {
	case "":
	case "me":
		params.AssigneeID = &actor.UserID
	case "none":
		params.Unassigned = true
	default:
		if _, err := uuid.Parse(assignee); err != nil {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "assignee must be 'me', 'none' or a user UUID")
			return
		}
		params.AssigneeID = &assignee
	}

	tasks, total, err := h.taskService.ListTasks(r.Context(), actor, projectID, params)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	resp := dto.TasksListResponse{
		Tasks:      make([]dto.TaskResponse, 0, len(tasks)),
		Pagination: dto.NewPagination(page, total),
	}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, dto.ToTaskResponse(t))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleUpdateTask applies a partial update. An explicit null or empty
// assignee_id unassigns the task.
func (h *Handler) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	taskID, ok := extractID(w, r, "id")
	if !ok {
		return
	}

	var req dto.UpdateTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	params := service.UpdateTaskParams{
		Title:       req.Title,
		Description: req.Description,
	}
	if req.Status != nil {
		status := domain.TaskStatus(*req.Status)
		params.Status = &status
	}
	if req.Priority != nil {
		priority := domain.TaskPriority(*req.Priority)
		params.Priority = &priority
	}
	if req.AssigneeID.Set {
		assignee := ""
		if req.AssigneeID.Value != nil {
			assignee = *req.AssigneeID.Value
			if assignee != "" {
				if _, err := uuid.Parse(assignee); err != nil {
					respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "assignee_id must be a valid UUID")
					return
				}
			}
		}
		params.AssigneeID = &assignee
	}

	details, err := h.taskService.UpdateTask(r.Context(), actor, taskID, params)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskResponse(details))
}

// handleUpdateStatus moves a task along the workflow.
func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	taskID, ok := extractID(w, r, "id")
	if !ok {
		return
	}

	var req dto.UpdateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	details, err := h.taskService.UpdateStatus(r.Context(), actor, taskID, domain.TaskStatus(req.Status))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskResponse(details))
}

// handleListActivity returns the task's activity log, newest first.
func (h *Handler) handleListActivity(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	taskID, ok := extractID(w, r, "id")
	if !ok {
		return
	}

	page, ok := parsePage(w, r)
	if !ok {
		return
	}

	logs, total, err := h.taskService.ListActivity(r.Context(), actor, taskID, page)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	resp := dto.ActivityListResponse{
		Logs:       make([]dto.ActivityLogResponse, 0, len(logs)),
		Pagination: dto.NewPagination(page, total),
	}
	for _, l := range logs {
		resp.Logs = append(resp.Logs, dto.ToActivityLogResponse(l))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleDeleteTask removes a task together with its activity log.
func (h *Handler) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	taskID, ok := extractID(w, r, "id")
	if !ok {
		return
	}

	if err := h.taskService.DeleteTask(r.Context(), actor, taskID); err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.MessageResponse{Message: "Task deleted"})
}

// splitAndTrim splits a string by separator and trims whitespace from each part.
func splitAndTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
