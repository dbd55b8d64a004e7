package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"odisea.app/cloud/internal/checkout"
	"odisea.app/cloud/internal/logger"
	"odisea.app/cloud/internal/metrics"
	"odisea.app/cloud/internal/models"
	"odisea.app/cloud/internal/storage"
)

// ErrInvalidEvent marks events that can never be applied, however often they
// are redelivered.
var ErrInvalidEvent = errors.New("invalid billing event")

const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentFailed       = "invoice.payment_failed"
)

// OutcomeIgnored is reported for event types nothing listens to.
const OutcomeIgnored models.Outcome = "ignored"

// legacyInvoice carries the top-level subscription reference that API
// versions before 2025-03-31 put on invoices. stripe.Invoice no longer has it.
type legacyInvoice struct {
	Subscription string `json:"subscription"`
}

// CustomerDirectory resolves the email Stripe holds for a customer.
type CustomerDirectory interface {
	CustomerEmail(ctx context.Context, customerID string) (string, error)
}

type Result struct {
	EventType string
	Outcome   models.Outcome
	UserID    string
}

type Reconciler struct {
	store     storage.Storage
	customers CustomerDirectory
}

func New(store storage.Storage, customers CustomerDirectory) *Reconciler {
	return &Reconciler{store: store, customers: customers}
}

// Handle applies one verified event. Errors wrapping ErrInvalidEvent should
// not be retried; any other error should.
func (r *Reconciler) Handle(ctx context.Context, event *stripe.Event) (*Result, error) {
	result := &Result{EventType: string(event.Type)}
	ev := models.BillingEvent{
		ID:        event.ID,
		Type:      string(event.Type),
		CreatedAt: time.Unix(event.Created, 0).UTC(),
	}

	var err error
	switch string(event.Type) {
	case EventCheckoutCompleted:
		err = r.handleCheckout(ctx, ev, event.Data, result)
	case EventSubscriptionDeleted, EventPaymentFailed:
		err = r.handleRevocation(ctx, ev, event.Data, result)
	default:
		result.Outcome = OutcomeIgnored
		logger.Info("Stripe event ignored", map[string]interface{}{
			"event_id":   ev.ID,
			"event_type": ev.Type,
		})
	}
	if err != nil {
		return result, err
	}

	metrics.ReconcileOutcomes.WithLabelValues(result.EventType, string(result.Outcome)).Inc()
	return result, nil
}

func (r *Reconciler) handleCheckout(ctx context.Context, ev models.BillingEvent, data *stripe.EventData, result *Result) error {
	var session stripe.CheckoutSession
	if err := decode(data, &session); err != nil {
		return err
	}

	userID := strings.TrimSpace(session.Metadata[checkout.MetaUserID])
	if userID == "" {
		return fmt.Errorf("%w: checkout session %s has no userId", ErrInvalidEvent, session.ID)
	}
	if _, err := uuid.Parse(userID); err != nil {
		return fmt.Errorf("%w: checkout session %s has malformed userId", ErrInvalidEvent, session.ID)
	}
	result.UserID = userID
	if session.Customer == nil || session.Customer.ID == "" {
		return fmt.Errorf("%w: checkout session %s has no customer", ErrInvalidEvent, session.ID)
	}
	customerID := session.Customer.ID

	email, err := r.customers.CustomerEmail(ctx, customerID)
	if err != nil {
		return err
	}
	if email == "" {
		return fmt.Errorf("%w: customer %s has no email", ErrInvalidEvent, customerID)
	}

	grant := &models.CheckoutGrant{
		Event:            ev,
		UserID:           userID,
		Email:            email,
		StripeCustomerID: customerID,
		SubscriptionType: models.SubscriptionIndividual,
	}
	if session.Subscription != nil {
		grant.StripeSubscriptionID = session.Subscription.ID
	}
	name := strings.TrimSpace(session.Metadata[checkout.MetaInstitutionName])
	domain := strings.TrimSpace(session.Metadata[checkout.MetaInstitutionDomain])
	if models.SubscriptionType(session.Metadata[checkout.MetaSubscriptionType]) == models.SubscriptionInstitution && name != "" && domain != "" {
		grant.SubscriptionType = models.SubscriptionInstitution
		grant.Institution = &models.InstitutionGrant{Name: name, Domain: strings.ToLower(domain)}
	}

	applied, err := r.store.ApplyCheckout(ctx, grant)
	if err != nil {
		return fmt.Errorf("failed to apply checkout: %w", err)
	}
	result.Outcome = applied.Outcome

	fields := map[string]interface{}{
		"event_id":          ev.ID,
		"user_id":           userID,
		"subscription_type": string(grant.SubscriptionType),
		"outcome":           string(applied.Outcome),
	}
	if applied.Outcome == models.OutcomeStale {
		logger.Warn("Stale checkout event skipped", fields)
	} else {
		logger.Info("Checkout completed", fields)
	}
	return nil
}

func (r *Reconciler) handleRevocation(ctx context.Context, ev models.BillingEvent, data *stripe.EventData, result *Result) error {
	subscriptionID, err := revokedSubscriptionID(ev.Type, data)
	if err != nil {
		return err
	}

	applied, err := r.store.ApplyRevocation(ctx, &models.Revocation{Event: ev, StripeSubscriptionID: subscriptionID})
	if err != nil {
		return fmt.Errorf("failed to apply revocation: %w", err)
	}
	result.Outcome = applied.Outcome
	if applied.Subscriber != nil {
		result.UserID = applied.Subscriber.UserID
	}

	fields := map[string]interface{}{
		"event_id":        ev.ID,
		"event_type":      ev.Type,
		"subscription_id": subscriptionID,
		"user_id":         result.UserID,
		"outcome":         string(applied.Outcome),
	}
	switch applied.Outcome {
	case models.OutcomeNotFound:
		logger.Info("No subscriber for revoked subscription", fields)
	case models.OutcomeStale:
		logger.Warn("Stale revocation event skipped", fields)
	default:
		logger.Info("Subscription revoked", fields)
	}
	return nil
}

func revokedSubscriptionID(eventType string, data *stripe.EventData) (string, error) {
	if eventType == EventSubscriptionDeleted {
		var sub stripe.Subscription
		if err := decode(data, &sub); err != nil {
			return "", err
		}
		if sub.ID == "" {
			return "", fmt.Errorf("%w: subscription without id", ErrInvalidEvent)
		}
		return sub.ID, nil
	}

	var inv stripe.Invoice
	if err := decode(data, &inv); err != nil {
		return "", err
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
		return inv.Parent.SubscriptionDetails.Subscription.ID, nil
	}

	// Endpoints pinned to an older API version still send the top-level field.
	var legacy legacyInvoice
	if err := decode(data, &legacy); err != nil {
		return "", err
	}
	return legacy.Subscription, nil
}

func decode(data *stripe.EventData, v interface{}) error {
	if data == nil || len(data.Raw) == 0 {
		return fmt.Errorf("%w: event has no data", ErrInvalidEvent)
	}
	if err := json.Unmarshal(data.Raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}
