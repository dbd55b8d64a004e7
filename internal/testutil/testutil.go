package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82/webhook"

	"odisea.app/cloud/internal/auth"
	"odisea.app/cloud/internal/billing"
	"odisea.app/cloud/internal/models"
	"odisea.app/cloud/internal/storage"
)

const (
	JWTSecret     = "test-jwt-secret-for-handlers"
	Audience      = "authenticated"
	WebhookSecret = "whsec_test_secret"
)

// SeedUser stores a user with an empty profile and returns its id.
func SeedUser(t *testing.T, store storage.Storage, email string, admin bool) string {
	t.Helper()
	ctx := context.Background()

	id := uuid.NewString()
	if err := store.SaveUser(ctx, &models.User{ID: id, Email: email, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("Failed to save user: %v", err)
	}
	if err := store.SaveProfile(ctx, &models.Profile{ID: id}); err != nil {
		t.Fatalf("Failed to save profile: %v", err)
	}
	if admin {
		if err := store.SetRole(ctx, id, models.RoleAdmin, true); err != nil {
			t.Fatalf("Failed to grant admin role: %v", err)
		}
	}
	return id
}

// Token signs a bearer token the way the auth provider would.
func Token(t *testing.T, userID, email string) string {
	t.Helper()
	claims := auth.Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(JWTSecret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

func Verifier() *auth.Verifier {
	return auth.NewVerifier(JWTSecret, Audience)
}

// StripeEvent builds a raw event body around object.
func StripeEvent(t *testing.T, id, eventType string, created int64, object interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     created,
		"api_version": "2025-03-31.basil",
		"data":        map[string]interface{}{"object": object},
	})
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}
	return payload
}

// WebhookRequest signs payload with WebhookSecret.
func WebhookRequest(t *testing.T, payload []byte) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    WebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

// CheckoutSession is a checkout.session object carrying the correlation
// metadata.
func CheckoutSession(customerID, subscriptionID string, metadata map[string]string) map[string]interface{} {
	return map[string]interface{}{
		"id":           "cs_test_" + subscriptionID,
		"object":       "checkout.session",
		"mode":         "subscription",
		"customer":     customerID,
		"subscription": subscriptionID,
		"metadata":     metadata,
	}
}

// JSONRequest builds a request with an optional bearer token.
func JSONRequest(t *testing.T, method, target string, body interface{}, token string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// DecodeJSON decodes a recorded response body into v.
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
}

// AssertErrorResponse checks the status and that the body is a JSON error.
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	if w.Code != expectedStatus {
		t.Errorf("Expected status %d, got %d (%s)", expectedStatus, w.Code, w.Body.String())
	}
	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if msg, _ := response["error"].(string); msg == "" {
		t.Errorf("Expected an error message, got %v", response)
	}
}

// Gateway is an in-memory billing.Gateway.
type Gateway struct {
	Customers map[string]string // email -> customer id
	Sessions  []*billing.SessionRequest
	Err       error
}

func NewGateway() *Gateway {
	return &Gateway{Customers: make(map[string]string)}
}

func (g *Gateway) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	if g.Err != nil {
		return "", g.Err
	}
	return g.Customers[email], nil
}

func (g *Gateway) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	if g.Err != nil {
		return "", g.Err
	}
	for email, id := range g.Customers {
		if id == customerID {
			return email, nil
		}
	}
	return "", billing.ErrProvider
}

func (g *Gateway) CreateCheckoutSession(ctx context.Context, req *billing.SessionRequest) (string, error) {
	if g.Err != nil {
		return "", g.Err
	}
	g.Sessions = append(g.Sessions, req)
	return "https://checkout.stripe.test/c/pay/cs_test_" + uuid.NewString()[:8], nil
}
