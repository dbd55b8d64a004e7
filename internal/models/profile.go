package models

import "time"

type Role string

const (
	RoleAdmin Role = "admin"
)

// User mirrors an auth user record.
type User struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Profile holds per-user attributes. IsPremium is the effective entitlement:
// PremiumOverride when set, BillingPremium otherwise.
type Profile struct {
	ID              string    `json:"id" db:"id"`
	DisplayName     string    `json:"display_name" db:"display_name"`
	Country         string    `json:"country" db:"country"`
	Language        string    `json:"language" db:"language"`
	InstitutionID   *string   `json:"institution_id" db:"institution_id"`
	IsPremium       bool      `json:"is_premium" db:"is_premium"`
	BillingPremium  bool      `json:"billing_premium" db:"billing_premium"`
	PremiumOverride *bool     `json:"premium_override" db:"premium_override"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// EffectivePremium resolves the premium flag from its two inputs.
func EffectivePremium(billing bool, override *bool) bool {
	if override != nil {
		return *override
	}
	return billing
}

// ProfilePatch is a set of admin edits. Nil fields are left untouched.
// An InstitutionID pointing at "" clears the institution.
type ProfilePatch struct {
	DisplayName          *string
	Country              *string
	Language             *string
	InstitutionID        *string
	PremiumOverride      *bool
	ClearPremiumOverride bool
}

func (p ProfilePatch) Empty() bool {
	return p.DisplayName == nil && p.Country == nil && p.Language == nil &&
		p.InstitutionID == nil && p.PremiumOverride == nil && !p.ClearPremiumOverride
}

// DirectoryEntry is the merged admin view of one user.
type DirectoryEntry struct {
	*Profile
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	IsAdmin   bool      `json:"is_admin"`
	Roles     []string  `json:"roles"`
}
