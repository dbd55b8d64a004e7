package handlers

import (
	"context"
	"net/http"
	"testing"

	"odisea.app/cloud/internal/models"
	"odisea.app/cloud/internal/testutil"
)

type listResponse struct {
	Users []models.DirectoryEntry `json:"users"`
}

func TestAdmin_RequiresAuthentication(t *testing.T) {
	env := newTestEnv(t)

	req := testutil.JSONRequest(t, http.MethodGet, "/api/admin/users", nil, "")
	testutil.AssertErrorResponse(t, env.do(req), http.StatusUnauthorized)
}

func TestAdmin_RequiresAdminRole(t *testing.T) {
	env := newTestEnv(t)
	userID := testutil.SeedUser(t, env.store, "ana@example.com", false)
	token := testutil.Token(t, userID, "ana@example.com")

	req := testutil.JSONRequest(t, http.MethodGet, "/api/admin/users", nil, token)
	testutil.AssertErrorResponse(t, env.do(req), http.StatusForbidden)

	req = testutil.JSONRequest(t, http.MethodPatch, "/api/admin/users/"+userID, map[string]bool{"is_admin": true}, token)
	testutil.AssertErrorResponse(t, env.do(req), http.StatusForbidden)

	isAdmin, _ := env.store.HasRole(context.Background(), userID, models.RoleAdmin)
	if isAdmin {
		t.Error("Expected a non-admin to be unable to promote themselves")
	}
}

func TestAdmin_ListUsers(t *testing.T) {
	env := newTestEnv(t)
	adminID := testutil.SeedUser(t, env.store, "admin@odisea.app", true)
	testutil.SeedUser(t, env.store, "ana@example.com", false)
	token := testutil.Token(t, adminID, "admin@odisea.app")

	w := env.do(testutil.JSONRequest(t, http.MethodGet, "/api/admin/users", nil, token))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d (%s)", w.Code, w.Body.String())
	}

	var response listResponse
	testutil.DecodeJSON(t, w, &response)
	if len(response.Users) != 2 {
		t.Fatalf("Expected 2 users, got %d", len(response.Users))
	}
	for _, u := range response.Users {
		if u.Email == "admin@odisea.app" && !u.IsAdmin {
			t.Error("Expected admin user to be flagged as admin")
		}
		if u.Email == "ana@example.com" && u.IsAdmin {
			t.Error("Expected regular user not to be flagged as admin")
		}
	}
}

func TestAdmin_UpdateUser(t *testing.T) {
	env := newTestEnv(t)
	adminID := testutil.SeedUser(t, env.store, "admin@odisea.app", true)
	userID := testutil.SeedUser(t, env.store, "ana@example.com", false)
	token := testutil.Token(t, adminID, "admin@odisea.app")

	body := `{"display_name":"Ana","is_premium":true,"created_at":"2020-01-01T00:00:00Z"}`
	w := env.do(testutil.JSONRequest(t, http.MethodPatch, "/api/admin/users/"+userID, body, token))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d (%s)", w.Code, w.Body.String())
	}

	var response map[string]bool
	testutil.DecodeJSON(t, w, &response)
	if !response["success"] {
		t.Error("Expected success to be true")
	}

	profile, _ := env.store.GetProfile(context.Background(), userID)
	if profile.DisplayName != "Ana" {
		t.Errorf("Expected display name Ana, got %q", profile.DisplayName)
	}
	if !profile.IsPremium {
		t.Error("Expected premium override to apply")
	}
}

func TestAdmin_PromotionTakesEffect(t *testing.T) {
	env := newTestEnv(t)
	adminID := testutil.SeedUser(t, env.store, "admin@odisea.app", true)
	userID := testutil.SeedUser(t, env.store, "ana@example.com", false)
	adminToken := testutil.Token(t, adminID, "admin@odisea.app")
	userToken := testutil.Token(t, userID, "ana@example.com")

	w := env.do(testutil.JSONRequest(t, http.MethodPatch, "/api/admin/users/"+userID, map[string]bool{"is_admin": true}, adminToken))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d (%s)", w.Code, w.Body.String())
	}

	w = env.do(testutil.JSONRequest(t, http.MethodGet, "/api/admin/users", nil, userToken))
	if w.Code != http.StatusOK {
		t.Errorf("Expected promoted user to reach admin routes, got %d", w.Code)
	}

	w = env.do(testutil.JSONRequest(t, http.MethodPatch, "/api/admin/users/"+userID, map[string]bool{"is_admin": false}, adminToken))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d (%s)", w.Code, w.Body.String())
	}

	w = env.do(testutil.JSONRequest(t, http.MethodGet, "/api/admin/users", nil, userToken))
	testutil.AssertErrorResponse(t, w, http.StatusForbidden)
}

func TestAdmin_UpdateUserErrors(t *testing.T) {
	env := newTestEnv(t)
	adminID := testutil.SeedUser(t, env.store, "admin@odisea.app", true)
	userID := testutil.SeedUser(t, env.store, "ana@example.com", false)
	token := testutil.Token(t, adminID, "admin@odisea.app")

	tests := []struct {
		name   string
		target string
		body   interface{}
		status int
	}{
		{"malformed JSON", userID, `{"display_name":`, http.StatusBadRequest},
		{"array body", userID, `[1,2]`, http.StatusBadRequest},
		{"no applicable fields", userID, map[string]string{"email": "x@example.com"}, http.StatusBadRequest},
		{"wrong type", userID, map[string]int{"display_name": 5}, http.StatusBadRequest},
		{"invalid id", "not-a-uuid", map[string]string{"display_name": "Ana"}, http.StatusBadRequest},
		{"unknown user", "0b6f1d1e-8f3a-4c57-9a5e-2f1f4c6d7e80", map[string]string{"display_name": "Ana"}, http.StatusNotFound},
		{"unknown user role", "0b6f1d1e-8f3a-4c57-9a5e-2f1f4c6d7e80", map[string]bool{"is_admin": true}, http.StatusNotFound},
		{"unknown institution", userID, map[string]string{"institution_id": "5c2e9a7b-3d4f-4e1a-8b6c-9d0e1f2a3b4c"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.JSONRequest(t, http.MethodPatch, "/api/admin/users/"+tt.target, tt.body, token)
			testutil.AssertErrorResponse(t, env.do(req), tt.status)
		})
	}
}
