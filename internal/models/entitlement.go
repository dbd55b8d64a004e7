package models

import "time"

// BillingEvent identifies the provider event a state change came from.
type BillingEvent struct {
	ID        string
	Type      string
	CreatedAt time.Time
}

// InstitutionGrant names the institution bought in an institution checkout.
type InstitutionGrant struct {
	Name   string
	Domain string
}

// CheckoutGrant is everything needed to apply a completed checkout.
type CheckoutGrant struct {
	Event                BillingEvent
	UserID               string
	Email                string
	StripeCustomerID     string
	StripeSubscriptionID string
	SubscriptionType     SubscriptionType
	Institution          *InstitutionGrant
}

// Revocation ends the entitlement tied to one provider subscription.
type Revocation struct {
	Event                BillingEvent
	StripeSubscriptionID string
}

// Outcome reports what the store did with a grant or revocation.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeNotFound Outcome = "not_found"
	OutcomeStale    Outcome = "stale"
)

// CheckoutResult is returned after a checkout grant was considered.
type CheckoutResult struct {
	Outcome     Outcome
	Subscriber  *Subscriber
	Institution *Institution
}

// RevocationResult is returned after a revocation was considered.
type RevocationResult struct {
	Outcome    Outcome
	Subscriber *Subscriber
}
