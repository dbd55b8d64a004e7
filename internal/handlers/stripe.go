package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"odisea.app/cloud/internal/logger"
	"odisea.app/cloud/internal/metrics"
	"odisea.app/cloud/internal/reconcile"
)

type EventReconciler interface {
	Handle(ctx context.Context, event *stripe.Event) (*reconcile.Result, error)
}

type StripeHandler struct {
	reconciler    EventReconciler
	webhookSecret string
}

func NewStripeHandler(reconciler EventReconciler, webhookSecret string) *StripeHandler {
	return &StripeHandler{
		reconciler:    reconciler,
		webhookSecret: strings.TrimSpace(webhookSecret),
	}
}

func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if h.webhookSecret == "" {
		status = http.StatusServiceUnavailable
		logger.Error("Stripe webhook secret not configured")
		writeError(w, status, "webhook secret not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		logger.Warn("Error reading webhook body", map[string]interface{}{"error": err.Error()})
		writeError(w, status, "failed to read request body")
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(signature) == "" {
		status = http.StatusBadRequest
		writeError(w, status, "missing Stripe signature")
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, h.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		status = http.StatusBadRequest
		logger.Warn("Error verifying webhook signature", map[string]interface{}{"error": err.Error()})
		writeError(w, status, "invalid Stripe signature")
		return
	}
	eventType = string(event.Type)

	result, err := h.reconciler.Handle(r.Context(), &event)
	if err != nil {
		userID := ""
		if result != nil {
			userID = result.UserID
		}
		fields := map[string]interface{}{
			"event_id":   event.ID,
			"event_type": eventType,
			"user_id":    userID,
			"error":      err.Error(),
		}

		if errors.Is(err, reconcile.ErrInvalidEvent) {
			status = http.StatusBadRequest
			logger.Warn("Rejected Stripe event", fields)
			writeError(w, status, err.Error())
			return
		}

		status = http.StatusInternalServerError
		logger.Error("Stripe webhook processing failed", fields)
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("event_type", eventType)
			scope.SetTag("event_id", event.ID)
			scope.SetUser(sentry.User{ID: userID})
			sentry.CaptureException(err)
		})
		writeError(w, status, "processing failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
