package handler

import (
	"net/http"

	"github.com/mtlprog/taskboard/internal/handler/dto"
	"github.com/mtlprog/taskboard/internal/service"
)

// handleCreateProject creates a project owned by the caller. OWNER role only.
func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	var req dto.CreateProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	project, err := h.projectService.CreateProject(r.Context(), actor, service.CreateProjectParams{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.ToProjectResponse(project))
}

// handleListProjects lists projects the caller owns or belongs to.
func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	page, ok := parsePage(w, r)
	if !ok {
		return
	}

	projects, total, err := h.projectService.ListProjects(r.Context(), actor, page)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	resp := dto.ProjectsListResponse{
		Projects:   make([]dto.ProjectResponse, 0, len(projects)),
		Pagination: dto.NewPagination(page, total),
	}
	for _, p := range projects {
		resp.Projects = append(resp.Projects, dto.ToProjectResponse(p))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetProject(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	projectID, ok := extractID(w, r, "id")
	if !ok {
		return
	}

	project, err := h.projectService.GetProject(r.Context(), actor, projectID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToProjectResponse(project))
}

// handleInviteMember adds an existing account to the project by email.
func (h *Handler) handleInviteMember(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	projectID, ok := extractID(w, r, "id")
	if !ok {
		return
	}

	var req dto.InviteMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	project, err := h.projectService.InviteMember(r.Context(), actor, projectID, req.Email)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToProjectResponse(project))
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	projectID, ok := extractID(w, r, "id")
	if !ok {
		return
	}
	memberID, ok := extractID(w, r, "memberId")
	if !ok {
		return
	}

	project, err := h.projectService.RemoveMember(r.Context(), actor, projectID, memberID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToProjectResponse(project))
}
