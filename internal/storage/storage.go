package storage

import (
	"context"
	"errors"

	"odisea.app/cloud/internal/models"
)

// ErrNotFound is returned by mutations whose target row does not exist.
// Lookups return (nil, nil) instead.
var ErrNotFound = errors.New("storage: not found")

// Storage is the Entitlement Store plus the user directory it hangs off.
//
// ApplyCheckout creates the user row when the purchaser is not known yet.
// ApplyCheckout and ApplyRevocation are atomic: every row they touch is
// written in one transaction, and a grant or revocation whose event is older
// than the subscriber's last applied event is reported as OutcomeStale without
// writing anything.
type Storage interface {
	ApplyCheckout(ctx context.Context, grant *models.CheckoutGrant) (*models.CheckoutResult, error)
	ApplyRevocation(ctx context.Context, rev *models.Revocation) (*models.RevocationResult, error)

	FindSubscriberByEmail(ctx context.Context, email string) (*models.Subscriber, error)
	FindSubscriberBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Subscriber, error)
	ListSubscribers(ctx context.Context) ([]*models.Subscriber, error)

	GetInstitution(ctx context.Context, id string) (*models.Institution, error)
	FindInstitutionByDomain(ctx context.Context, domain string) (*models.Institution, error)
	SetInstitutionActive(ctx context.Context, id string, active bool) error

	GetUser(ctx context.Context, id string) (*models.User, error)
	SaveUser(ctx context.Context, user *models.User) error
	// EnsureUser creates the user and an empty profile when missing. A
	// non-empty email replaces the stored one.
	EnsureUser(ctx context.Context, user *models.User) error
	ListUsers(ctx context.Context) ([]*models.User, error)

	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	SaveProfile(ctx context.Context, profile *models.Profile) error
	ListProfiles(ctx context.Context) ([]*models.Profile, error)
	UpdateProfile(ctx context.Context, userID string, patch models.ProfilePatch) error
	SetBillingPremium(ctx context.Context, userID string, premium bool) error

	HasRole(ctx context.Context, userID string, role models.Role) (bool, error)
	SetRole(ctx context.Context, userID string, role models.Role, granted bool) error
	ListRoles(ctx context.Context) (map[string][]models.Role, error)

	Close() error
}

func institutionRef(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
