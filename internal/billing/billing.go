package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	stripecustomer "github.com/stripe/stripe-go/v82/customer"

	"odisea.app/cloud/internal/models"
)

// ErrProvider wraps every failure reported by the payment provider.
var ErrProvider = errors.New("billing provider error")

// Price is the fixed definition of one subscription tier.
type Price struct {
	ProductName string
	UnitAmount  int64
}

// Prices holds both tiers in one currency. Amounts are in minor units and
// billed monthly.
type Prices struct {
	Currency    string
	Individual  Price
	Institution Price
}

func DefaultPrices(currency string, individual, institution int64) Prices {
	return Prices{
		Currency:    strings.ToLower(currency),
		Individual:  Price{ProductName: "Odisea Individual", UnitAmount: individual},
		Institution: Price{ProductName: "Odisea Institution", UnitAmount: institution},
	}
}

func (p Prices) For(t models.SubscriptionType) Price {
	if t == models.SubscriptionInstitution {
		return p.Institution
	}
	return p.Individual
}

// SessionRequest describes a hosted subscription checkout. Exactly one of
// CustomerID and CustomerEmail is sent to the provider; CustomerID wins.
type SessionRequest struct {
	CustomerID    string
	CustomerEmail string
	Currency      string
	Price         Price
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

type Gateway interface {
	// FindCustomerByEmail returns "" when the provider knows no such customer.
	FindCustomerByEmail(ctx context.Context, email string) (string, error)
	CustomerEmail(ctx context.Context, customerID string) (string, error)
	CreateCheckoutSession(ctx context.Context, req *SessionRequest) (string, error)
}

// StripeGateway talks to Stripe through the package-level stripe-go clients.
// The function fields exist so tests can stand in for the network.
type StripeGateway struct {
	listCustomers func(params *stripe.CustomerListParams) *stripecustomer.Iter
	getCustomer   func(id string, params *stripe.CustomerParams) (*stripe.Customer, error)
	newSession    func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func NewStripeGateway(secretKey string) *StripeGateway {
	stripe.Key = strings.TrimSpace(secretKey)
	return &StripeGateway{
		listCustomers: stripecustomer.List,
		getCustomer:   stripecustomer.Get,
		newSession:    stripesession.New,
	}
}

func (g *StripeGateway) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := g.listCustomers(params)
	if iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("%w: list customers: %v", ErrProvider, err)
	}
	return "", nil
}

func (g *StripeGateway) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx

	c, err := g.getCustomer(customerID, params)
	if err != nil {
		return "", fmt.Errorf("%w: get customer %s: %v", ErrProvider, customerID, err)
	}
	if c == nil || c.Deleted {
		return "", fmt.Errorf("%w: customer %s is deleted", ErrProvider, customerID)
	}
	return strings.TrimSpace(c.Email), nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req *SessionRequest) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(req.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Price.ProductName),
					},
					UnitAmount: stripe.Int64(req.Price.UnitAmount),
					Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
						Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: req.Metadata,
		},
	}
	params.Context = ctx
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	session, err := g.newSession(params)
	if err != nil {
		return "", fmt.Errorf("%w: create checkout session: %v", ErrProvider, err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return "", fmt.Errorf("%w: checkout session has no url", ErrProvider)
	}
	return strings.TrimSpace(session.URL), nil
}
