package admin

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"odisea.app/cloud/internal/models"
	"odisea.app/cloud/internal/storage"
)

const (
	adminID = "0b7c6a5e-1111-4c3d-9e8f-000000000001"
	userID  = "0b7c6a5e-2222-4c3d-9e8f-000000000002"
	loneID  = "0b7c6a5e-3333-4c3d-9e8f-000000000003"
)

func seed(t *testing.T) *storage.MemoryStorage {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, u := range []models.User{
		{ID: adminID, Email: "admin@odisea.app", CreatedAt: base},
		{ID: userID, Email: "ana@example.com", CreatedAt: base.Add(time.Hour)},
		{ID: loneID, Email: "lone@example.com", CreatedAt: base.Add(2 * time.Hour)},
	} {
		user := u
		if err := store.SaveUser(ctx, &user); err != nil {
			t.Fatalf("Failed to save user %d: %v", i, err)
		}
	}
	for _, id := range []string{adminID, userID} {
		if err := store.SaveProfile(ctx, &models.Profile{ID: id, DisplayName: "Name " + id[9:13]}); err != nil {
			t.Fatalf("Failed to save profile: %v", err)
		}
	}
	if err := store.SetRole(ctx, adminID, models.RoleAdmin, true); err != nil {
		t.Fatalf("Failed to grant admin: %v", err)
	}
	return store
}

func body(t *testing.T, s string) map[string]json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("Bad test body %s: %v", s, err)
	}
	return m
}

func TestList(t *testing.T) {
	d := New(seed(t))

	entries, err := d.List(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	if entries[0].ID != loneID {
		t.Errorf("Expected newest user first, got %s", entries[0].Email)
	}
	if entries[0].Profile != nil {
		t.Error("Expected user without profile to have no profile fields")
	}

	var admin models.DirectoryEntry
	for _, e := range entries {
		if e.ID == adminID {
			admin = e
		}
	}
	if !admin.IsAdmin || len(admin.Roles) != 1 || admin.Roles[0] != "admin" {
		t.Errorf("Expected admin projection from roles, got %+v", admin)
	}
	if admin.Profile == nil || admin.DisplayName == "" {
		t.Error("Expected admin profile to be merged")
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("Failed to marshal entries: %v", err)
	}
	if !strings.Contains(string(raw), `"email":"admin@odisea.app"`) || !strings.Contains(string(raw), `"display_name"`) {
		t.Errorf("Unexpected JSON %s", raw)
	}
}

func TestParseEdit(t *testing.T) {
	d := New(storage.NewMemoryStorage())

	edit, err := d.ParseEdit(body(t, `{"display_name":" Ana ","is_premium":true,"institution_id":null,"role":"owner","email":"x@y.z"}`))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if edit.Profile.DisplayName == nil || *edit.Profile.DisplayName != "Ana" {
		t.Errorf("Expected trimmed display name, got %v", edit.Profile.DisplayName)
	}
	if edit.Profile.PremiumOverride == nil || !*edit.Profile.PremiumOverride {
		t.Error("Expected premium override true")
	}
	if edit.Profile.InstitutionID == nil || *edit.Profile.InstitutionID != "" {
		t.Error("Expected institution to be cleared")
	}

	edit, err = d.ParseEdit(body(t, `{"is_premium":null}`))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !edit.Profile.ClearPremiumOverride {
		t.Error("Expected null is_premium to clear the override")
	}
}

func TestParseEdit_Rejects(t *testing.T) {
	d := New(storage.NewMemoryStorage())

	tests := map[string]string{
		"only unknown keys":      `{"email":"x@y.z","role":"owner"}`,
		"empty body":             `{}`,
		"premium as string":      `{"is_premium":"yes"}`,
		"display name as number": `{"display_name":42}`,
		"display name too long":  `{"display_name":"` + strings.Repeat("a", 101) + `"}`,
		"language too long":      `{"language":"es-419-extra"}`,
		"bad institution id":     `{"institution_id":"not-a-uuid"}`,
		"admin as null":          `{"is_admin":null}`,
		"country as null":        `{"country":null}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := d.ParseEdit(body(t, raw)); !errors.Is(err, ErrInvalidPatch) {
				t.Errorf("Expected ErrInvalidPatch, got %v", err)
			}
		})
	}
}

func TestPatch_UpdatesProfile(t *testing.T) {
	store := seed(t)
	d := New(store)

	err := d.Patch(context.Background(), adminID, userID, body(t, `{"country":"ES","language":"es","is_premium":true}`))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	profile := store.Profiles[userID]
	if profile.Country != "ES" || profile.Language != "es" {
		t.Errorf("Unexpected profile %+v", profile)
	}
	if !profile.IsPremium || profile.PremiumOverride == nil {
		t.Error("Expected premium override to be applied")
	}
}

func TestPatch_TogglesAdminRole(t *testing.T) {
	store := seed(t)
	d := New(store)
	ctx := context.Background()

	if err := d.Patch(ctx, adminID, userID, body(t, `{"is_admin":true}`)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if ok, _ := store.HasRole(ctx, userID, models.RoleAdmin); !ok {
		t.Error("Expected admin role to be granted")
	}

	if err := d.Patch(ctx, adminID, userID, body(t, `{"is_admin":false}`)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if ok, _ := store.HasRole(ctx, userID, models.RoleAdmin); ok {
		t.Error("Expected admin role to be revoked")
	}
}

func TestPatch_Errors(t *testing.T) {
	store := seed(t)
	d := New(store)
	ctx := context.Background()

	if err := d.Patch(ctx, adminID, "42", body(t, `{"country":"ES"}`)); !errors.Is(err, ErrInvalidPatch) {
		t.Errorf("Expected ErrInvalidPatch for non-UUID id, got %v", err)
	}
	if err := d.Patch(ctx, adminID, loneID, body(t, `{"country":"ES"}`)); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for user without profile, got %v", err)
	}
	missing := "0b7c6a5e-9999-4c3d-9e8f-000000000009"
	if err := d.Patch(ctx, adminID, missing, body(t, `{"is_admin":true}`)); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestPatch_Institution(t *testing.T) {
	store := seed(t)
	d := New(store)
	ctx := context.Background()
	instID := "0b7c6a5e-4444-4c3d-9e8f-000000000004"
	store.Institutions[instID] = models.Institution{ID: instID, Name: "Universidad", Domain: "uni.es"}

	unknown := `{"institution_id":"0b7c6a5e-8888-4c3d-9e8f-000000000008"}`
	if err := d.Patch(ctx, adminID, userID, body(t, unknown)); !errors.Is(err, ErrInvalidPatch) {
		t.Errorf("Expected ErrInvalidPatch for unknown institution, got %v", err)
	}
	if store.Profiles[userID].InstitutionID != nil {
		t.Error("Expected profile to be left untouched")
	}

	if err := d.Patch(ctx, adminID, userID, body(t, `{"institution_id":"`+instID+`"}`)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got := store.Profiles[userID].InstitutionID; got == nil || *got != instID {
		t.Errorf("Expected institution %s, got %v", instID, got)
	}

	if err := d.Patch(ctx, adminID, userID, body(t, `{"institution_id":null}`)); err != nil {
		t.Fatalf("Expected no error clearing institution, got %v", err)
	}
	if got := store.Profiles[userID].InstitutionID; got != nil {
		t.Errorf("Expected institution to be cleared, got %v", *got)
	}
}
