package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"odisea.app/cloud/internal/admin"
	"odisea.app/cloud/internal/auth"
	"odisea.app/cloud/internal/logger"
	"odisea.app/cloud/internal/models"
	"odisea.app/cloud/internal/storage"
)

type UserDirectory interface {
	List(ctx context.Context) ([]models.DirectoryEntry, error)
	Patch(ctx context.Context, actorID, userID string, body map[string]json.RawMessage) error
}

type AdminHandler struct {
	directory UserDirectory
}

func NewAdminHandler(d UserDirectory) *AdminHandler {
	return &AdminHandler{directory: d}
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	entries, err := h.directory.List(r.Context())
	if err != nil {
		logger.Error("Failed to list users", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": entries})
}

func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.FromContext(r.Context())
	userID := chi.URLParam(r, "id")

	var body map[string]json.RawMessage
	if err := decodeJSON(w, r, &body); err != nil || body == nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON object")
		return
	}

	err := h.directory.Patch(r.Context(), actor.UserID, userID, body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case errors.Is(err, admin.ErrInvalidPatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	default:
		logger.Error("Failed to update user", map[string]interface{}{
			"actor_id": actor.UserID,
			"user_id":  userID,
			"error":    err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "failed to update user")
	}
}
