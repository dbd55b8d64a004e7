package handlers

import (
	"context"
	"errors"
	"net/http"

	"odisea.app/cloud/internal/auth"
	"odisea.app/cloud/internal/checkout"
	"odisea.app/cloud/internal/logger"
)

type CheckoutStarter interface {
	Start(ctx context.Context, caller checkout.Caller, req checkout.Request) (string, error)
}

type CheckoutHandler struct {
	checkout CheckoutStarter
}

func NewCheckoutHandler(c CheckoutStarter) *CheckoutHandler {
	return &CheckoutHandler{checkout: c}
}

func (h *CheckoutHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req checkout.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	url, err := h.checkout.Start(r.Context(), checkout.Caller{UserID: id.UserID, Email: id.Email}, req)
	if err != nil {
		if errors.Is(err, checkout.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error("Failed to create checkout session", map[string]interface{}{
			"user_id": id.UserID,
			"error":   err.Error(),
		})
		writeError(w, http.StatusBadGateway, "failed to create checkout session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
