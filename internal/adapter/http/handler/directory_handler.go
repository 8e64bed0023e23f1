package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/splitledger/internal/adapter/http/dto"
	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

// DirectoryService manages users and groups.
type DirectoryService interface {
	CreateUser(ctx context.Context, input usecase.CreateUserInput) (*domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	CreateGroup(ctx context.Context, input usecase.CreateGroupInput) (*domain.Group, error)
	GetGroup(ctx context.Context, id string) (*domain.Group, error)
	AddMember(ctx context.Context, groupID, userID string) (*domain.Group, error)
	RemoveMember(ctx context.Context, groupID, userID string) (*domain.Group, error)
	ListUserGroups(ctx context.Context, userID string) ([]usecase.UserGroup, error)
}

// DirectoryHandler handles user and group requests.
type DirectoryHandler struct {
	directory DirectoryService
	conv      dto.Converter
}

// NewDirectoryHandler creates a new DirectoryHandler.
func NewDirectoryHandler(directory DirectoryService, digits int32) *DirectoryHandler {
	return &DirectoryHandler{directory: directory, conv: dto.Converter{Digits: digits}}
}

// CreateUser registers a user.
func (h *DirectoryHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	user, err := h.directory.CreateUser(r.Context(), req.ToUseCaseInput())
	if err != nil {
		writeError(w, mapDomainError(err), "failed to create user", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, dto.UserFromDomain(user))
}

// GetUser returns a user by id.
func (h *DirectoryHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.directory.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, mapDomainError(err), "failed to get user", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.UserFromDomain(user))
}

// ListUserGroups returns the user's groups with the user's position in each.
func (h *DirectoryHandler) ListUserGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.directory.ListUserGroups(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, mapDomainError(err), "failed to list groups", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.conv.UserGroups(groups))
}

// CreateGroup creates a group. The creator is always a member.
func (h *DirectoryHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	group, err := h.directory.CreateGroup(r.Context(), req.ToUseCaseInput(caller(r, "")))
	if err != nil {
		writeError(w, mapDomainError(err), "failed to create group", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, dto.GroupFromDomain(group))
}

// GetGroup returns a group by id.
func (h *DirectoryHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.directory.GetGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, mapDomainError(err), "failed to get group", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.GroupFromDomain(group))
}

// AddMember adds a user to a group.
func (h *DirectoryHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req dto.AddMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	group, err := h.directory.AddMember(r.Context(), chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to add member", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.GroupFromDomain(group))
}

// RemoveMember removes a user from a group. Past entries are unaffected.
func (h *DirectoryHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	group, err := h.directory.RemoveMember(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, mapDomainError(err), "failed to remove member", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.GroupFromDomain(group))
}
