package handler

import (
	"context"
	"net/http"

	"github.com/mtlprog/taskboard/internal/domain"
	"github.com/mtlprog/taskboard/internal/handler/dto"
	"github.com/mtlprog/taskboard/internal/service"
)

// handleRegister creates a MEMBER account and returns an access token.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.userService.Register(r.Context(), service.RegisterParams{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.AuthResponse{
		Token: result.Token,
		User:  dto.ToUserResponse(result.User),
	})
}

// handleLogin exchanges credentials for an access token.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.userService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.AuthResponse{
		Token: result.Token,
		User:  dto.ToUserResponse(result.User),
	})
}

// handleMe returns the authenticated account.
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	user, err := h.userService.Me(r.Context(), actor)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToUserResponse(user))
}

// handleListUsers lists all accounts. OWNER only.
func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	users, err := h.userService.ListUsers(r.Context(), actor)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	resp := dto.UsersListResponse{Users: make([]dto.UserResponse, 0, len(users))}
	for _, u := range users {
		resp.Users = append(resp.Users, dto.ToUserResponse(u))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePromoteUser(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, h.userService.Promote)
}

func (h *Handler) handleDemoteUser(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, h.userService.Demote)
}

type roleChangeFunc func(ctx context.Context, actor domain.Actor, userID string) (*domain.User, error)

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request, change roleChangeFunc) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}

	userID, ok := extractID(w, r, "id")
	if !ok {
		return
	}

	user, err := change(r.Context(), actor, userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToUserResponse(user))
}
