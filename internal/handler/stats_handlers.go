package handler

import (
	"net/http"

	"github.com/mtlprog/taskboard/internal/handler/dto"
)

// handleProjectStats returns task counters of a project by status and priority.
func (h *Handler) handleProjectStats(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	projectID, ok := extractID(w, r, "id")
	if !ok {
		return
	}

	stats, err := h.projectService.ProjectStats(r.Context(), actor, projectID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToProjectStatsResponse(projectID, stats))
}
