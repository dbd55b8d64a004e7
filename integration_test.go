package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"odisea.app/cloud/internal/config"
	"odisea.app/cloud/internal/handlers"
	"odisea.app/cloud/internal/models"
	"odisea.app/cloud/internal/storage"
	"odisea.app/cloud/internal/testutil"
	"odisea.app/cloud/internal/translate"
)

// Integration tests that drive complete workflows through the wired router.

type harness struct {
	server  *handlers.Server
	store   storage.Storage
	gateway *testutil.Gateway
}

func testConfig(translateURL string) *config.Config {
	return &config.Config{
		AuthJWTSecret:          testutil.JWTSecret,
		AuthAudience:           testutil.Audience,
		StripeWebhookSecret:    testutil.WebhookSecret,
		SiteURL:                "https://odisea.test",
		Currency:               "eur",
		IndividualPrice:        999,
		InstitutionPrice:       9900,
		TranslateAPIURL:        translateURL,
		TranslateDefaultSource: "es",
		AllowedOrigins:         []string{"https://odisea.test"},
		RateLimitPerMinute:     100,
	}
}

func newHarness(t *testing.T, store storage.Storage, translateURL string) *harness {
	t.Helper()
	gateway := testutil.NewGateway()
	cfg := testConfig(translateURL)
	translator := translate.New(cfg.TranslateAPIURL, "", cfg.TranslateDefaultSource, nil)
	return &harness{
		server:  newServer(cfg, store, gateway, translator, "test"),
		store:   store,
		gateway: gateway,
	}
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.server.ServeHTTP(w, req)
	return w
}

func stores(t *testing.T) map[string]storage.Storage {
	t.Helper()
	sqlite, err := storage.NewSQLiteStorage(t.TempDir() + "/odisea.db")
	if err != nil {
		t.Fatalf("Failed to open sqlite storage: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]storage.Storage{
		"memory": storage.NewMemoryStorage(),
		"sqlite": sqlite,
	}
}

func TestFullWorkflow_CheckoutToPremiumToCancellation(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, store, "")
			ctx := context.Background()
			userID := testutil.SeedUser(t, store, "ana@example.com", false)
			token := testutil.Token(t, userID, "ana@example.com")

			// Step 1: the client starts a checkout.
			w := h.do(testutil.JSONRequest(t, http.MethodPost, "/api/checkout",
				map[string]string{"subscriptionType": "individual"}, token))
			if w.Code != http.StatusOK {
				t.Fatalf("Checkout failed with status %d: %s", w.Code, w.Body.String())
			}
			session := h.gateway.Sessions[0]

			// Step 2: Stripe confirms the payment for the customer it created.
			h.gateway.Customers["ana@example.com"] = "cus_ana"
			created := time.Now().Unix()
			payload := testutil.StripeEvent(t, "evt_checkout", "checkout.session.completed", created,
				testutil.CheckoutSession("cus_ana", "sub_ana", session.Metadata))
			if w := h.do(testutil.WebhookRequest(t, payload)); w.Code != http.StatusOK {
				t.Fatalf("Checkout webhook failed with status %d: %s", w.Code, w.Body.String())
			}

			profile, err := store.GetProfile(ctx, userID)
			if err != nil {
				t.Fatalf("Failed to load profile: %v", err)
			}
			if !profile.IsPremium {
				t.Fatal("Expected premium after checkout")
			}

			// Step 3: a redelivery changes nothing.
			if w := h.do(testutil.WebhookRequest(t, payload)); w.Code != http.StatusOK {
				t.Fatalf("Replayed webhook failed with status %d", w.Code)
			}
			subs, _ := store.ListSubscribers(ctx)
			if len(subs) != 1 {
				t.Errorf("Expected 1 subscriber after replay, got %d", len(subs))
			}

			// Step 4: the subscription is cancelled.
			cancelled := testutil.StripeEvent(t, "evt_cancel", "customer.subscription.deleted", created+60,
				map[string]interface{}{"id": "sub_ana", "object": "subscription"})
			if w := h.do(testutil.WebhookRequest(t, cancelled)); w.Code != http.StatusOK {
				t.Fatalf("Cancellation webhook failed with status %d", w.Code)
			}

			profile, _ = store.GetProfile(ctx, userID)
			if profile.IsPremium {
				t.Error("Expected premium to be revoked after cancellation")
			}
			sub, _ := store.FindSubscriberByEmail(ctx, "ana@example.com")
			if sub == nil || sub.Subscribed {
				t.Errorf("Expected unsubscribed subscriber, got %+v", sub)
			}

			// Step 5: the original checkout arriving late does not resurrect it.
			if w := h.do(testutil.WebhookRequest(t, payload)); w.Code != http.StatusOK {
				t.Fatalf("Late webhook failed with status %d", w.Code)
			}
			profile, _ = store.GetProfile(ctx, userID)
			if profile.IsPremium {
				t.Error("Expected stale checkout to be ignored")
			}
		})
	}
}

func TestFullWorkflow_CheckoutForNewUser(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, store, "")
			ctx := context.Background()
			adminID := testutil.SeedUser(t, store, "admin@odisea.app", true)

			// The caller has a valid token but nothing stored yet.
			userID := uuid.NewString()
			token := testutil.Token(t, userID, "nuevo@example.com")

			w := h.do(testutil.JSONRequest(t, http.MethodPost, "/api/checkout",
				map[string]string{"subscriptionType": "individual"}, token))
			if w.Code != http.StatusOK {
				t.Fatalf("Checkout failed with status %d: %s", w.Code, w.Body.String())
			}
			session := h.gateway.Sessions[0]

			h.gateway.Customers["nuevo@example.com"] = "cus_nuevo"
			payload := testutil.StripeEvent(t, "evt_checkout", "checkout.session.completed", time.Now().Unix(),
				testutil.CheckoutSession("cus_nuevo", "sub_nuevo", session.Metadata))
			if w := h.do(testutil.WebhookRequest(t, payload)); w.Code != http.StatusOK {
				t.Fatalf("Checkout webhook failed with status %d: %s", w.Code, w.Body.String())
			}

			profile, err := store.GetProfile(ctx, userID)
			if err != nil {
				t.Fatalf("Failed to load profile: %v", err)
			}
			if profile == nil || !profile.IsPremium {
				t.Fatal("Expected premium after checkout")
			}

			adminToken := testutil.Token(t, adminID, "admin@odisea.app")
			w = h.do(testutil.JSONRequest(t, http.MethodGet, "/api/admin/users", nil, adminToken))
			if w.Code != http.StatusOK {
				t.Fatalf("Admin list failed with status %d", w.Code)
			}
			var list struct {
				Users []models.DirectoryEntry `json:"users"`
			}
			testutil.DecodeJSON(t, w, &list)
			found := false
			for _, u := range list.Users {
				if u.ID == userID {
					found = true
					if u.Email != "nuevo@example.com" {
						t.Errorf("Expected email nuevo@example.com, got %s", u.Email)
					}
					if u.Profile == nil || !u.Profile.IsPremium {
						t.Error("Expected directory entry to be premium")
					}
				}
			}
			if !found {
				t.Error("Expected new user in the admin directory")
			}
		})
	}
}

func TestFullWorkflow_InstitutionLifecycle(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, store, "")
			ctx := context.Background()
			userID := testutil.SeedUser(t, store, "dean@uni.edu", false)
			h.gateway.Customers["dean@uni.edu"] = "cus_uni"
			created := time.Now().Unix()

			payload := testutil.StripeEvent(t, "evt_inst", "checkout.session.completed", created,
				testutil.CheckoutSession("cus_uni", "sub_uni", map[string]string{
					"userId":            userID,
					"subscriptionType":  "institution",
					"institutionName":   "Universidad Central",
					"institutionDomain": "uni.edu",
				}))
			if w := h.do(testutil.WebhookRequest(t, payload)); w.Code != http.StatusOK {
				t.Fatalf("Institution webhook failed with status %d: %s", w.Code, w.Body.String())
			}

			inst, _ := store.FindInstitutionByDomain(ctx, "uni.edu")
			if inst == nil || !inst.ActiveSubscription {
				t.Fatalf("Expected active institution, got %+v", inst)
			}

			failed := testutil.StripeEvent(t, "evt_failed", "invoice.payment_failed", created+60,
				map[string]interface{}{
					"id":     "in_1",
					"object": "invoice",
					"parent": map[string]interface{}{
						"subscription_details": map[string]interface{}{"subscription": "sub_uni"},
					},
				})
			if w := h.do(testutil.WebhookRequest(t, failed)); w.Code != http.StatusOK {
				t.Fatalf("Payment failure webhook failed with status %d", w.Code)
			}

			inst, _ = store.FindInstitutionByDomain(ctx, "uni.edu")
			if inst.ActiveSubscription {
				t.Error("Expected institution to be deactivated")
			}
			profile, _ := store.GetProfile(ctx, userID)
			if profile.IsPremium {
				t.Error("Expected purchaser premium to be revoked")
			}
		})
	}
}

func TestFullWorkflow_AdminOverridesBilling(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, store, "")
			ctx := context.Background()
			adminID := testutil.SeedUser(t, store, "admin@odisea.app", true)
			userID := testutil.SeedUser(t, store, "ana@example.com", false)
			token := testutil.Token(t, adminID, "admin@odisea.app")

			w := h.do(testutil.JSONRequest(t, http.MethodPatch, "/api/admin/users/"+userID,
				map[string]interface{}{"is_premium": true, "country": "ES"}, token))
			if w.Code != http.StatusOK {
				t.Fatalf("Admin patch failed with status %d: %s", w.Code, w.Body.String())
			}

			// A later cancellation must not undo the manual grant.
			h.gateway.Customers["ana@example.com"] = "cus_ana"
			created := time.Now().Unix()
			checkoutEvt := testutil.StripeEvent(t, "evt_1", "checkout.session.completed", created,
				testutil.CheckoutSession("cus_ana", "sub_ana", map[string]string{"userId": userID, "subscriptionType": "individual"}))
			cancelEvt := testutil.StripeEvent(t, "evt_2", "customer.subscription.deleted", created+1,
				map[string]interface{}{"id": "sub_ana", "object": "subscription"})
			for _, p := range [][]byte{checkoutEvt, cancelEvt} {
				if w := h.do(testutil.WebhookRequest(t, p)); w.Code != http.StatusOK {
					t.Fatalf("Webhook failed with status %d", w.Code)
				}
			}

			profile, _ := store.GetProfile(ctx, userID)
			if !profile.IsPremium {
				t.Error("Expected admin override to survive cancellation")
			}

			w = h.do(testutil.JSONRequest(t, http.MethodPatch, "/api/admin/users/"+userID, `{"is_premium":null}`, token))
			if w.Code != http.StatusOK {
				t.Fatalf("Clearing override failed with status %d", w.Code)
			}
			profile, _ = store.GetProfile(ctx, userID)
			if profile.IsPremium {
				t.Error("Expected billing state to apply once the override is cleared")
			}

			w = h.do(testutil.JSONRequest(t, http.MethodGet, "/api/admin/users", nil, token))
			var response struct {
				Users []models.DirectoryEntry `json:"users"`
			}
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("Failed to decode users: %v", err)
			}
			for _, u := range response.Users {
				if u.ID == userID && (u.Profile == nil || u.Profile.Country != "ES") {
					t.Errorf("Expected country ES in directory entry, got %+v", u.Profile)
				}
			}
		})
	}
}

func TestFullWorkflow_TranslationDegrades(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Q      string `json:"q"`
			Target string `json:"target"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Target == "fr" {
			http.Error(w, "unsupported", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"translatedText": "Hello"})
	}))
	defer provider.Close()

	h := newHarness(t, storage.NewMemoryStorage(), provider.URL)

	tests := []struct {
		target   string
		expected translate.Result
	}{
		{"en", translate.Result{TranslatedText: "Hello", Success: true}},
		{"fr", translate.Result{TranslatedText: "Hola", Success: false}},
		{"es", translate.Result{TranslatedText: "Hola", Success: true}},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			w := h.do(testutil.JSONRequest(t, http.MethodPost, "/api/translate",
				map[string]string{"text": "Hola", "targetLang": tt.target}, ""))
			if w.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", w.Code)
			}
			var result translate.Result
			testutil.DecodeJSON(t, w, &result)
			if result != tt.expected {
				t.Errorf("Expected %+v, got %+v", tt.expected, result)
			}
		})
	}
}

func TestHealth_ReportsStore(t *testing.T) {
	sqlite, err := storage.NewSQLiteStorage(t.TempDir() + "/odisea.db")
	if err != nil {
		t.Fatalf("Failed to open sqlite storage: %v", err)
	}
	h := newHarness(t, sqlite, "")

	if w := h.do(httptest.NewRequest(http.MethodGet, "/health", nil)); w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	sqlite.Close()
	if w := h.do(httptest.NewRequest(http.MethodGet, "/health", nil)); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 after close, got %d", w.Code)
	}
}
