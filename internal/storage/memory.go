package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"odisea.app/cloud/internal/models"
)

// MemoryStorage keeps everything in maps guarded by one mutex. Each exported
// method holds the lock for its whole duration, which gives ApplyCheckout and
// ApplyRevocation the same all-or-nothing behaviour as the SQL transaction.
type MemoryStorage struct {
	mu sync.Mutex

	Users        map[string]models.User
	Profiles     map[string]models.Profile
	Subscribers  map[string]models.Subscriber // by email
	Institutions map[string]models.Institution
	Roles        map[string]map[models.Role]bool

	Now func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		Users:        make(map[string]models.User),
		Profiles:     make(map[string]models.Profile),
		Subscribers:  make(map[string]models.Subscriber),
		Institutions: make(map[string]models.Institution),
		Roles:        make(map[string]map[models.Role]bool),
		Now:          func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStorage) ApplyCheckout(ctx context.Context, grant *models.CheckoutGrant) (*models.CheckoutResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.Subscribers[grant.Email]
	if ok && existing.LastEventAt.After(grant.Event.CreatedAt) {
		return &models.CheckoutResult{Outcome: models.OutcomeStale, Subscriber: &existing}, nil
	}

	now := m.Now()
	if _, found := m.Users[grant.UserID]; !found {
		m.Users[grant.UserID] = models.User{ID: grant.UserID, Email: grant.Email, CreatedAt: now}
	}
	result := &models.CheckoutResult{Outcome: models.OutcomeApplied}

	var institutionID *string
	if grant.Institution != nil {
		inst := m.upsertInstitutionLocked(grant, now)
		institutionID = institutionRef(inst.ID)
		result.Institution = &inst
	}

	profile, ok := m.Profiles[grant.UserID]
	if !ok {
		profile = models.Profile{ID: grant.UserID, CreatedAt: now}
	}
	if institutionID != nil {
		profile.InstitutionID = institutionID
	}
	profile.BillingPremium = true
	profile.IsPremium = models.EffectivePremium(true, profile.PremiumOverride)
	profile.UpdatedAt = now
	m.Profiles[grant.UserID] = profile

	sub := models.Subscriber{
		ID:                   uuid.NewString(),
		UserID:               grant.UserID,
		Email:                grant.Email,
		StripeCustomerID:     grant.StripeCustomerID,
		StripeSubscriptionID: grant.StripeSubscriptionID,
		Subscribed:           true,
		SubscriptionType:     grant.SubscriptionType,
		SubscriptionTier:     grant.SubscriptionType.Tier(),
		InstitutionID:        institutionID,
		LastEventID:          grant.Event.ID,
		LastEventAt:          grant.Event.CreatedAt,
		UpdatedAt:            now,
	}
	if ok {
		sub.ID = existing.ID
	}
	m.Subscribers[grant.Email] = sub
	result.Subscriber = &sub

	return result, nil
}

func (m *MemoryStorage) upsertInstitutionLocked(grant *models.CheckoutGrant, now time.Time) models.Institution {
	domain := strings.ToLower(grant.Institution.Domain)
	for id, inst := range m.Institutions {
		if inst.Domain == domain {
			inst.Name = grant.Institution.Name
			inst.ActiveSubscription = true
			inst.StripeCustomerID = grant.StripeCustomerID
			inst.StripeSubscriptionID = grant.StripeSubscriptionID
			inst.UpdatedAt = now
			m.Institutions[id] = inst
			return inst
		}
	}

	inst := models.Institution{
		ID:                   uuid.NewString(),
		Name:                 grant.Institution.Name,
		Domain:               domain,
		ActiveSubscription:   true,
		StripeCustomerID:     grant.StripeCustomerID,
		StripeSubscriptionID: grant.StripeSubscriptionID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	m.Institutions[inst.ID] = inst
	return inst
}

func (m *MemoryStorage) ApplyRevocation(ctx context.Context, rev *models.Revocation) (*models.RevocationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.findBySubscriptionLocked(rev.StripeSubscriptionID)
	if !ok {
		return &models.RevocationResult{Outcome: models.OutcomeNotFound}, nil
	}
	if sub.LastEventAt.After(rev.Event.CreatedAt) {
		return &models.RevocationResult{Outcome: models.OutcomeStale, Subscriber: &sub}, nil
	}

	now := m.Now()
	sub.Subscribed = false
	sub.LastEventID = rev.Event.ID
	sub.LastEventAt = rev.Event.CreatedAt
	sub.UpdatedAt = now
	m.Subscribers[sub.Email] = sub

	if profile, ok := m.Profiles[sub.UserID]; ok {
		profile.BillingPremium = false
		profile.IsPremium = models.EffectivePremium(false, profile.PremiumOverride)
		profile.UpdatedAt = now
		m.Profiles[sub.UserID] = profile
	}

	if sub.SubscriptionType == models.SubscriptionInstitution && sub.InstitutionID != nil {
		if inst, ok := m.Institutions[*sub.InstitutionID]; ok {
			inst.ActiveSubscription = false
			inst.UpdatedAt = now
			m.Institutions[inst.ID] = inst
		}
	}

	return &models.RevocationResult{Outcome: models.OutcomeApplied, Subscriber: &sub}, nil
}

func (m *MemoryStorage) findBySubscriptionLocked(subscriptionID string) (models.Subscriber, bool) {
	if subscriptionID == "" {
		return models.Subscriber{}, false
	}
	for _, sub := range m.Subscribers {
		if sub.StripeSubscriptionID == subscriptionID {
			return sub, true
		}
	}
	return models.Subscriber{}, false
}

func (m *MemoryStorage) FindSubscriberByEmail(ctx context.Context, email string) (*models.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.Subscribers[email]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (m *MemoryStorage) FindSubscriberBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.findBySubscriptionLocked(subscriptionID)
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (m *MemoryStorage) ListSubscribers(ctx context.Context) ([]*models.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := make([]*models.Subscriber, 0, len(m.Subscribers))
	for _, sub := range m.Subscribers {
		subCopy := sub
		subs = append(subs, &subCopy)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Email < subs[j].Email })
	return subs, nil
}

func (m *MemoryStorage) GetInstitution(ctx context.Context, id string) (*models.Institution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.Institutions[id]
	if !ok {
		return nil, nil
	}
	return &inst, nil
}

func (m *MemoryStorage) FindInstitutionByDomain(ctx context.Context, domain string) (*models.Institution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	domain = strings.ToLower(domain)
	for _, inst := range m.Institutions {
		if inst.Domain == domain {
			return &inst, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) SetInstitutionActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.Institutions[id]
	if !ok {
		return fmt.Errorf("institution %s: %w", id, ErrNotFound)
	}
	inst.ActiveSubscription = active
	inst.UpdatedAt = m.Now()
	m.Institutions[id] = inst
	return nil
}

func (m *MemoryStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.Users[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (m *MemoryStorage) SaveUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Users[user.ID] = *user
	return nil
}

func (m *MemoryStorage) EnsureUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	existing, ok := m.Users[user.ID]
	if !ok {
		existing = models.User{ID: user.ID, CreatedAt: now}
	}
	if user.Email != "" {
		existing.Email = user.Email
	}
	m.Users[user.ID] = existing

	if _, ok := m.Profiles[user.ID]; !ok {
		m.Profiles[user.ID] = models.Profile{ID: user.ID, CreatedAt: now, UpdatedAt: now}
	}
	return nil
}

func (m *MemoryStorage) ListUsers(ctx context.Context) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]*models.User, 0, len(m.Users))
	for _, user := range m.Users {
		userCopy := user
		users = append(users, &userCopy)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return users, nil
}

func (m *MemoryStorage) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	profile, ok := m.Profiles[userID]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}

func (m *MemoryStorage) SaveProfile(ctx context.Context, profile *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.Users[profile.ID]; !ok {
		return fmt.Errorf("user %s: %w", profile.ID, ErrNotFound)
	}
	p := *profile
	p.IsPremium = models.EffectivePremium(p.BillingPremium, p.PremiumOverride)
	m.Profiles[p.ID] = p
	return nil
}

func (m *MemoryStorage) ListProfiles(ctx context.Context) ([]*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	profiles := make([]*models.Profile, 0, len(m.Profiles))
	for _, profile := range m.Profiles {
		profileCopy := profile
		profiles = append(profiles, &profileCopy)
	}
	return profiles, nil
}

func (m *MemoryStorage) UpdateProfile(ctx context.Context, userID string, patch models.ProfilePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	profile, ok := m.Profiles[userID]
	if !ok {
		return fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}

	if patch.DisplayName != nil {
		profile.DisplayName = *patch.DisplayName
	}
	if patch.Country != nil {
		profile.Country = *patch.Country
	}
	if patch.Language != nil {
		profile.Language = *patch.Language
	}
	if patch.InstitutionID != nil {
		profile.InstitutionID = institutionRef(*patch.InstitutionID)
	}
	switch {
	case patch.PremiumOverride != nil:
		override := *patch.PremiumOverride
		profile.PremiumOverride = &override
	case patch.ClearPremiumOverride:
		profile.PremiumOverride = nil
	}
	profile.IsPremium = models.EffectivePremium(profile.BillingPremium, profile.PremiumOverride)
	profile.UpdatedAt = m.Now()

	m.Profiles[userID] = profile
	return nil
}

func (m *MemoryStorage) SetBillingPremium(ctx context.Context, userID string, premium bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	profile, ok := m.Profiles[userID]
	if !ok {
		return fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	profile.BillingPremium = premium
	profile.IsPremium = models.EffectivePremium(premium, profile.PremiumOverride)
	profile.UpdatedAt = m.Now()
	m.Profiles[userID] = profile
	return nil
}

func (m *MemoryStorage) HasRole(ctx context.Context, userID string, role models.Role) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.Roles[userID][role], nil
}

func (m *MemoryStorage) SetRole(ctx context.Context, userID string, role models.Role, granted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !granted {
		delete(m.Roles[userID], role)
		return nil
	}
	if _, ok := m.Users[userID]; !ok {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if m.Roles[userID] == nil {
		m.Roles[userID] = make(map[models.Role]bool)
	}
	m.Roles[userID][role] = true
	return nil
}

func (m *MemoryStorage) ListRoles(ctx context.Context) (map[string][]models.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]models.Role, len(m.Roles))
	for userID, roles := range m.Roles {
		for role, ok := range roles {
			if ok {
				out[userID] = append(out[userID], role)
			}
		}
		sort.Slice(out[userID], func(i, j int) bool { return out[userID][i] < out[userID][j] })
	}
	return out, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}
