package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"odisea.app/cloud/internal/billing"
	"odisea.app/cloud/internal/logger"
	"odisea.app/cloud/internal/metrics"
	"odisea.app/cloud/internal/models"
)

var ErrInvalidRequest = errors.New("invalid checkout request")

// Metadata keys carried on the session and its subscription.
const (
	MetaUserID            = "userId"
	MetaSubscriptionType  = "subscriptionType"
	MetaInstitutionName   = "institutionName"
	MetaInstitutionDomain = "institutionDomain"
)

type Request struct {
	SubscriptionType  string `json:"subscriptionType" validate:"required,oneof=individual institution"`
	InstitutionName   string `json:"institutionName,omitempty" validate:"max=200"`
	InstitutionDomain string `json:"institutionDomain,omitempty" validate:"max=253"`
}

// Caller is the identity taken from the verified bearer token.
type Caller struct {
	UserID string
	Email  string
}

// Users records callers and answers email lookups for tokens without one.
type Users interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	EnsureUser(ctx context.Context, user *models.User) error
}

type Initiator struct {
	gateway  billing.Gateway
	users    Users
	prices   billing.Prices
	siteURL  string
	validate *validator.Validate
}

func New(gateway billing.Gateway, users Users, prices billing.Prices, siteURL string) *Initiator {
	return &Initiator{
		gateway:  gateway,
		users:    users,
		prices:   prices,
		siteURL:  strings.TrimRight(siteURL, "/"),
		validate: validator.New(),
	}
}

// Start creates a hosted subscription checkout for the caller and returns its
// URL. It never writes to the entitlement store.
func (i *Initiator) Start(ctx context.Context, caller Caller, req Request) (string, error) {
	subType, meta, err := i.normalize(req)
	if err != nil {
		metrics.CheckoutSessionsTotal.WithLabelValues("unknown", "invalid").Inc()
		return "", err
	}
	meta[MetaUserID] = caller.UserID

	email, err := i.resolveEmail(ctx, caller)
	if err != nil {
		return "", err
	}

	customerID, err := i.gateway.FindCustomerByEmail(ctx, email)
	if err != nil {
		metrics.CheckoutSessionsTotal.WithLabelValues(string(subType), "provider_error").Inc()
		return "", err
	}

	url, err := i.gateway.CreateCheckoutSession(ctx, &billing.SessionRequest{
		CustomerID:    customerID,
		CustomerEmail: email,
		Currency:      i.prices.Currency,
		Price:         i.prices.For(subType),
		SuccessURL:    i.siteURL + "/subscription/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     i.siteURL + "/pricing",
		Metadata:      meta,
	})
	if err != nil {
		metrics.CheckoutSessionsTotal.WithLabelValues(string(subType), "provider_error").Inc()
		return "", err
	}

	metrics.CheckoutSessionsTotal.WithLabelValues(string(subType), "created").Inc()
	logger.Info("Checkout session created", map[string]interface{}{
		"user_id":           caller.UserID,
		"subscription_type": string(subType),
		"existing_customer": customerID != "",
	})
	return url, nil
}

func (i *Initiator) normalize(req Request) (models.SubscriptionType, map[string]string, error) {
	req.SubscriptionType = strings.TrimSpace(req.SubscriptionType)
	if err := i.validate.Struct(req); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	subType := models.SubscriptionType(req.SubscriptionType)
	meta := map[string]string{MetaSubscriptionType: string(subType)}
	if subType != models.SubscriptionInstitution {
		return subType, meta, nil
	}

	name := strings.TrimSpace(req.InstitutionName)
	domain := strings.ToLower(strings.TrimSpace(req.InstitutionDomain))
	if name == "" {
		return "", nil, fmt.Errorf("%w: institutionName is required for institution subscriptions", ErrInvalidRequest)
	}
	if err := i.validate.Var(domain, "required,fqdn"); err != nil {
		return "", nil, fmt.Errorf("%w: institutionDomain must be a domain name", ErrInvalidRequest)
	}
	meta[MetaInstitutionName] = name
	meta[MetaInstitutionDomain] = domain
	return subType, meta, nil
}

// resolveEmail also records the caller, so the user and profile rows exist
// before the provider reports the payment.
func (i *Initiator) resolveEmail(ctx context.Context, caller Caller) (string, error) {
	if email := strings.TrimSpace(caller.Email); email != "" {
		if err := i.users.EnsureUser(ctx, &models.User{ID: caller.UserID, Email: email}); err != nil {
			return "", fmt.Errorf("failed to record user: %w", err)
		}
		return email, nil
	}
	user, err := i.users.GetUser(ctx, caller.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil || user.Email == "" {
		return "", fmt.Errorf("%w: no email on file for user", ErrInvalidRequest)
	}
	return user.Email, nil
}
