package models

import (
	"time"
)

type SubscriptionType string

const (
	SubscriptionIndividual  SubscriptionType = "individual"
	SubscriptionInstitution SubscriptionType = "institution"
)

func (t SubscriptionType) Valid() bool {
	return t == SubscriptionIndividual || t == SubscriptionInstitution
}

// Tier is the human-readable label stored alongside the subscription type.
func (t SubscriptionType) Tier() string {
	switch t {
	case SubscriptionInstitution:
		return "Institution"
	default:
		return "Individual"
	}
}

// Subscriber is the billing truth for one customer email.
type Subscriber struct {
	ID                   string           `json:"id" db:"id"`
	UserID               string           `json:"user_id" db:"user_id"`
	Email                string           `json:"email" db:"email"`
	StripeCustomerID     string           `json:"stripe_customer_id,omitempty" db:"stripe_customer_id"`
	StripeSubscriptionID string           `json:"stripe_subscription_id,omitempty" db:"stripe_subscription_id"`
	Subscribed           bool             `json:"subscribed" db:"subscribed"`
	SubscriptionType     SubscriptionType `json:"subscription_type" db:"subscription_type"`
	SubscriptionTier     string           `json:"subscription_tier" db:"subscription_tier"`
	InstitutionID        *string          `json:"institution_id,omitempty" db:"institution_id"`
	LastEventID          string           `json:"last_event_id,omitempty" db:"last_event_id"`
	LastEventAt          time.Time        `json:"last_event_at" db:"last_event_at"`
	UpdatedAt            time.Time        `json:"updated_at" db:"updated_at"`
}

// Institution is keyed by its organisational domain.
type Institution struct {
	ID                   string    `json:"id" db:"id"`
	Name                 string    `json:"name" db:"name"`
	Domain               string    `json:"domain" db:"domain"`
	ActiveSubscription   bool      `json:"active_subscription" db:"active_subscription"`
	StripeCustomerID     string    `json:"stripe_customer_id,omitempty" db:"stripe_customer_id"`
	StripeSubscriptionID string    `json:"stripe_subscription_id,omitempty" db:"stripe_subscription_id"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}
