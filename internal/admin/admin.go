package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"odisea.app/cloud/internal/logger"
	"odisea.app/cloud/internal/models"
	"odisea.app/cloud/internal/storage"
)

var ErrInvalidPatch = errors.New("invalid profile patch")

// Store is the part of the entitlement store the directory reads and edits.
type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetInstitution(ctx context.Context, id string) (*models.Institution, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	ListProfiles(ctx context.Context) ([]*models.Profile, error)
	ListRoles(ctx context.Context) (map[string][]models.Role, error)
	UpdateProfile(ctx context.Context, userID string, patch models.ProfilePatch) error
	SetRole(ctx context.Context, userID string, role models.Role, granted bool) error
}

type Directory struct {
	store    Store
	validate *validator.Validate
}

func New(store Store) *Directory {
	return &Directory{store: store, validate: validator.New()}
}

// List merges users, profiles and roles, newest user first. Users without a
// profile are still listed.
func (d *Directory) List(ctx context.Context) ([]models.DirectoryEntry, error) {
	users, err := d.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	profiles, err := d.store.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	roles, err := d.store.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}

	byID := make(map[string]*models.Profile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}

	entries := make([]models.DirectoryEntry, 0, len(users))
	for _, u := range users {
		entry := models.DirectoryEntry{
			Profile:   byID[u.ID],
			ID:        u.ID,
			Email:     u.Email,
			CreatedAt: u.CreatedAt,
			Roles:     []string{},
		}
		for _, role := range roles[u.ID] {
			entry.Roles = append(entry.Roles, string(role))
			if role == models.RoleAdmin {
				entry.IsAdmin = true
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Edit is a parsed PATCH body.
type Edit struct {
	Profile models.ProfilePatch
	IsAdmin *bool
}

const (
	maxDisplayName = 100
	maxCountry     = 100
	maxLanguage    = 10
)

// ParseEdit applies the field whitelist to a raw JSON object. Unknown keys
// are dropped; a known key with the wrong type or length is an error.
func (d *Directory) ParseEdit(body map[string]json.RawMessage) (*Edit, error) {
	edit := &Edit{}

	for key, raw := range body {
		switch key {
		case "display_name":
			s, err := d.boundedString(key, raw, maxDisplayName)
			if err != nil {
				return nil, err
			}
			edit.Profile.DisplayName = &s
		case "country":
			s, err := d.boundedString(key, raw, maxCountry)
			if err != nil {
				return nil, err
			}
			edit.Profile.Country = &s
		case "language":
			s, err := d.boundedString(key, raw, maxLanguage)
			if err != nil {
				return nil, err
			}
			edit.Profile.Language = &s
		case "institution_id":
			if isNull(raw) {
				none := ""
				edit.Profile.InstitutionID = &none
				continue
			}
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, fmt.Errorf("%w: institution_id must be a string or null", ErrInvalidPatch)
			}
			if err := d.validate.Var(s, "uuid"); err != nil {
				return nil, fmt.Errorf("%w: institution_id must be a UUID", ErrInvalidPatch)
			}
			edit.Profile.InstitutionID = &s
		case "is_premium":
			if isNull(raw) {
				edit.Profile.ClearPremiumOverride = true
				continue
			}
			var b bool
			if err := json.Unmarshal(raw, &b); err != nil {
				return nil, fmt.Errorf("%w: is_premium must be a boolean or null", ErrInvalidPatch)
			}
			edit.Profile.PremiumOverride = &b
		case "is_admin":
			var b bool
			if isNull(raw) || json.Unmarshal(raw, &b) != nil {
				return nil, fmt.Errorf("%w: is_admin must be a boolean", ErrInvalidPatch)
			}
			edit.IsAdmin = &b
		}
	}

	if edit.Profile.Empty() && edit.IsAdmin == nil {
		return nil, fmt.Errorf("%w: no editable fields", ErrInvalidPatch)
	}
	return edit, nil
}

func (d *Directory) boundedString(key string, raw json.RawMessage, limit int) (string, error) {
	var s string
	if isNull(raw) || json.Unmarshal(raw, &s) != nil {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidPatch, key)
	}
	s = strings.TrimSpace(s)
	if err := d.validate.Var(s, fmt.Sprintf("max=%d", limit)); err != nil {
		return "", fmt.Errorf("%w: %s must be at most %d characters", ErrInvalidPatch, key, limit)
	}
	return s, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// Patch validates the target id, then applies profile fields and the admin
// role. The role change is written after the profile update.
func (d *Directory) Patch(ctx context.Context, actorID, userID string, body map[string]json.RawMessage) error {
	if err := d.validate.Var(userID, "required,uuid"); err != nil {
		return fmt.Errorf("%w: user id must be a UUID", ErrInvalidPatch)
	}
	edit, err := d.ParseEdit(body)
	if err != nil {
		return err
	}

	if id := edit.Profile.InstitutionID; id != nil && *id != "" {
		inst, err := d.store.GetInstitution(ctx, *id)
		if err != nil {
			return fmt.Errorf("failed to load institution: %w", err)
		}
		if inst == nil {
			return fmt.Errorf("%w: institution_id does not match an institution", ErrInvalidPatch)
		}
	}

	if !edit.Profile.Empty() {
		if err := d.store.UpdateProfile(ctx, userID, edit.Profile); err != nil {
			return err
		}
	}

	if edit.IsAdmin != nil {
		user, err := d.store.GetUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}
		if user == nil {
			return fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
		}
		if err := d.store.SetRole(ctx, userID, models.RoleAdmin, *edit.IsAdmin); err != nil {
			return err
		}
	}

	logger.Info("Profile updated by admin", map[string]interface{}{
		"actor_id":       actorID,
		"user_id":        userID,
		"profile_fields": !edit.Profile.Empty(),
		"is_admin":       edit.IsAdmin != nil,
	})
	return nil
}
