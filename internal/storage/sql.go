package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"odisea.app/cloud/internal/logger"
	"odisea.app/cloud/internal/models"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// SQLStorage implements Storage on database/sql. Queries are written with
// "?" placeholders and rebound to "$n" for Postgres.
type SQLStorage struct {
	db      *sql.DB
	driver  string
	dsn     string
	dialect string
	now     func() time.Time
}

// New opens the database for the given dialect and brings its schema up to
// date.
func New(dialect, dsn string) (*SQLStorage, error) {
	s, err := Open(dialect, dsn)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(Up); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Open connects without touching the schema.
func Open(dialect, dsn string) (*SQLStorage, error) {
	var driver string
	switch dialect {
	case DialectPostgres:
		driver = "pgx"
	case DialectSQLite:
		driver = "sqlite3"
		if !strings.Contains(dsn, "?") {
			dsn += "?_foreign_keys=on&_busy_timeout=5000"
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &SQLStorage{
		db:      db,
		driver:  driver,
		dsn:     dsn,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func NewSQLiteStorage(path string) (*SQLStorage, error) {
	return New(DialectSQLite, path)
}

func NewPostgresStorage(dsn string) (*SQLStorage, error) {
	return New(DialectPostgres, dsn)
}

func (s *SQLStorage) Migrate(dir Direction) error {
	return runMigrations(s.driver, s.dsn, s.dialect, dir)
}

func (s *SQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}

func (s *SQLStorage) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logger.Error("Failed to close rows", map[string]interface{}{"error": err.Error()})
	}
}

func nullable(s *string) interface{} {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func fromNullBool(nb sql.NullBool) *bool {
	if !nb.Valid {
		return nil
	}
	v := nb.Bool
	return &v
}

const subscriberColumns = `id, user_id, email, stripe_customer_id, stripe_subscription_id, subscribed,
	subscription_type, subscription_tier, institution_id, last_event_id, last_event_at, updated_at`

func scanSubscriber(row rowScanner) (*models.Subscriber, error) {
	var sub models.Subscriber
	var subType string
	var institutionID sql.NullString
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.Email,
		&sub.StripeCustomerID,
		&sub.StripeSubscriptionID,
		&sub.Subscribed,
		&subType,
		&sub.SubscriptionTier,
		&institutionID,
		&sub.LastEventID,
		&sub.LastEventAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.SubscriptionType = models.SubscriptionType(subType)
	sub.InstitutionID = fromNullString(institutionID)
	return &sub, nil
}

const institutionColumns = `id, name, domain, active_subscription, stripe_customer_id, stripe_subscription_id, created_at, updated_at`

func scanInstitution(row rowScanner) (*models.Institution, error) {
	var inst models.Institution
	err := row.Scan(
		&inst.ID,
		&inst.Name,
		&inst.Domain,
		&inst.ActiveSubscription,
		&inst.StripeCustomerID,
		&inst.StripeSubscriptionID,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

const profileColumns = `id, display_name, country, language, institution_id, is_premium, billing_premium,
	premium_override, created_at, updated_at`

func scanProfile(row rowScanner) (*models.Profile, error) {
	var p models.Profile
	var institutionID sql.NullString
	var override sql.NullBool
	err := row.Scan(
		&p.ID,
		&p.DisplayName,
		&p.Country,
		&p.Language,
		&institutionID,
		&p.IsPremium,
		&p.BillingPremium,
		&override,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.InstitutionID = fromNullString(institutionID)
	p.PremiumOverride = fromNullBool(override)
	return &p, nil
}

func (s *SQLStorage) ApplyCheckout(ctx context.Context, grant *models.CheckoutGrant) (*models.CheckoutResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.findSubscriber(ctx, tx, "email = ?", grant.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriber: %w", err)
	}
	if existing != nil && existing.LastEventAt.After(grant.Event.CreatedAt) {
		return &models.CheckoutResult{Outcome: models.OutcomeStale, Subscriber: existing}, nil
	}

	now := s.now()
	result := &models.CheckoutResult{Outcome: models.OutcomeApplied}

	var institutionID *string
	if grant.Institution != nil {
		inst, err := s.upsertInstitution(ctx, tx, grant, now)
		if err != nil {
			return nil, err
		}
		institutionID = institutionRef(inst.ID)
		result.Institution = inst
	}

	// The user may reach billing before anything else recorded them.
	if _, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO users (id, email, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`),
		grant.UserID, grant.Email, now,
	); err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	profileQuery := `INSERT INTO profiles (id, institution_id, billing_premium, is_premium, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			institution_id = COALESCE(excluded.institution_id, profiles.institution_id),
			billing_premium = excluded.billing_premium,
			is_premium = COALESCE(profiles.premium_override, excluded.billing_premium),
			updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, s.rebind(profileQuery),
		grant.UserID, nullable(institutionID), true, true, now, now,
	); err != nil {
		return nil, fmt.Errorf("failed to upsert profile: %w", err)
	}

	subID := uuid.NewString()
	if existing != nil {
		subID = existing.ID
	}
	subscriberQuery := `INSERT INTO subscribers (` + subscriberColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (email) DO UPDATE SET
			user_id = excluded.user_id,
			stripe_customer_id = excluded.stripe_customer_id,
			stripe_subscription_id = excluded.stripe_subscription_id,
			subscribed = excluded.subscribed,
			subscription_type = excluded.subscription_type,
			subscription_tier = excluded.subscription_tier,
			institution_id = excluded.institution_id,
			last_event_id = excluded.last_event_id,
			last_event_at = excluded.last_event_at,
			updated_at = excluded.updated_at`
	sub := &models.Subscriber{
		ID:                   subID,
		UserID:               grant.UserID,
		Email:                grant.Email,
		StripeCustomerID:     grant.StripeCustomerID,
		StripeSubscriptionID: grant.StripeSubscriptionID,
		Subscribed:           true,
		SubscriptionType:     grant.SubscriptionType,
		SubscriptionTier:     grant.SubscriptionType.Tier(),
		InstitutionID:        institutionID,
		LastEventID:          grant.Event.ID,
		LastEventAt:          grant.Event.CreatedAt.UTC(),
		UpdatedAt:            now,
	}
	if _, err := tx.ExecContext(ctx, s.rebind(subscriberQuery),
		sub.ID,
		sub.UserID,
		sub.Email,
		sub.StripeCustomerID,
		sub.StripeSubscriptionID,
		sub.Subscribed,
		string(sub.SubscriptionType),
		sub.SubscriptionTier,
		nullable(sub.InstitutionID),
		sub.LastEventID,
		sub.LastEventAt,
		sub.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to upsert subscriber: %w", err)
	}
	result.Subscriber = sub

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit checkout: %w", err)
	}
	return result, nil
}

func (s *SQLStorage) upsertInstitution(ctx context.Context, tx *sql.Tx, grant *models.CheckoutGrant, now time.Time) (*models.Institution, error) {
	query := `INSERT INTO institutions (` + institutionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (domain) DO UPDATE SET
			name = excluded.name,
			active_subscription = excluded.active_subscription,
			stripe_customer_id = excluded.stripe_customer_id,
			stripe_subscription_id = excluded.stripe_subscription_id,
			updated_at = excluded.updated_at
		RETURNING ` + institutionColumns

	inst, err := scanInstitution(tx.QueryRowContext(ctx, s.rebind(query),
		uuid.NewString(),
		grant.Institution.Name,
		strings.ToLower(grant.Institution.Domain),
		true,
		grant.StripeCustomerID,
		grant.StripeSubscriptionID,
		now,
		now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert institution: %w", err)
	}
	return inst, nil
}

func (s *SQLStorage) ApplyRevocation(ctx context.Context, rev *models.Revocation) (*models.RevocationResult, error) {
	if rev.StripeSubscriptionID == "" {
		return &models.RevocationResult{Outcome: models.OutcomeNotFound}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sub, err := s.findSubscriber(ctx, tx, "stripe_subscription_id = ?", rev.StripeSubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriber: %w", err)
	}
	if sub == nil {
		return &models.RevocationResult{Outcome: models.OutcomeNotFound}, nil
	}
	if sub.LastEventAt.After(rev.Event.CreatedAt) {
		return &models.RevocationResult{Outcome: models.OutcomeStale, Subscriber: sub}, nil
	}

	now := s.now()
	sub.Subscribed = false
	sub.LastEventID = rev.Event.ID
	sub.LastEventAt = rev.Event.CreatedAt.UTC()
	sub.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE subscribers SET subscribed = ?, last_event_id = ?, last_event_at = ?, updated_at = ? WHERE id = ?`),
		false, sub.LastEventID, sub.LastEventAt, now, sub.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to update subscriber: %w", err)
	}

	if err := s.setBillingPremium(ctx, tx, sub.UserID, false, now); err != nil {
		return nil, err
	}

	if sub.SubscriptionType == models.SubscriptionInstitution && sub.InstitutionID != nil {
		if _, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE institutions SET active_subscription = ?, updated_at = ? WHERE id = ?`),
			false, now, *sub.InstitutionID,
		); err != nil {
			return nil, fmt.Errorf("failed to deactivate institution: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit revocation: %w", err)
	}
	return &models.RevocationResult{Outcome: models.OutcomeApplied, Subscriber: sub}, nil
}

func (s *SQLStorage) setBillingPremium(ctx context.Context, q queryer, userID string, premium bool, now time.Time) error {
	query := `UPDATE profiles SET billing_premium = ?, is_premium = COALESCE(premium_override, ?), updated_at = ? WHERE id = ?`
	if _, err := q.ExecContext(ctx, s.rebind(query), premium, premium, now, userID); err != nil {
		return fmt.Errorf("failed to update profile premium: %w", err)
	}
	return nil
}

func (s *SQLStorage) findSubscriber(ctx context.Context, q queryer, where string, arg interface{}) (*models.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE ` + where
	sub, err := scanSubscriber(q.QueryRowContext(ctx, s.rebind(query), arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sub, err
}

func (s *SQLStorage) FindSubscriberByEmail(ctx context.Context, email string) (*models.Subscriber, error) {
	return s.findSubscriber(ctx, s.db, "email = ?", email)
}

func (s *SQLStorage) FindSubscriberBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Subscriber, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	return s.findSubscriber(ctx, s.db, "stripe_subscription_id = ?", subscriptionID)
}

func (s *SQLStorage) ListSubscribers(ctx context.Context) ([]*models.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+subscriberColumns+` FROM subscribers ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscribers: %w", err)
	}
	defer closeRows(rows)

	var subs []*models.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscribers: %w", err)
	}
	return subs, nil
}

func (s *SQLStorage) GetInstitution(ctx context.Context, id string) (*models.Institution, error) {
	query := `SELECT ` + institutionColumns + ` FROM institutions WHERE id = ?`
	inst, err := scanInstitution(s.db.QueryRowContext(ctx, s.rebind(query), id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return inst, err
}

func (s *SQLStorage) FindInstitutionByDomain(ctx context.Context, domain string) (*models.Institution, error) {
	query := `SELECT ` + institutionColumns + ` FROM institutions WHERE domain = ?`
	inst, err := scanInstitution(s.db.QueryRowContext(ctx, s.rebind(query), strings.ToLower(domain)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return inst, err
}

func (s *SQLStorage) SetInstitutionActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE institutions SET active_subscription = ?, updated_at = ? WHERE id = ?`),
		active, s.now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update institution: %w", err)
	}
	return requireRow(res, "institution", id)
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func (s *SQLStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, email, created_at FROM users WHERE id = ?`), id).Scan(
		&user.ID,
		&user.Email,
		&user.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *SQLStorage) SaveUser(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET email = excluded.email`
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(query), user.ID, user.Email, createdAt); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// EnsureUser records an authenticated caller and gives them an empty profile.
// An existing profile is left alone.
func (s *SQLStorage) EnsureUser(ctx context.Context, user *models.User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	userQuery := `INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET email = CASE WHEN excluded.email = '' THEN users.email ELSE excluded.email END`
	if _, err := tx.ExecContext(ctx, s.rebind(userQuery), user.ID, user.Email, now); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO profiles (id, created_at, updated_at) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`),
		user.ID, now, now,
	); err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit user: %w", err)
	}
	return nil
}

func (s *SQLStorage) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, email, created_at FROM users ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer closeRows(rows)

	var users []*models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Email, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

func (s *SQLStorage) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = ?`
	profile, err := scanProfile(s.db.QueryRowContext(ctx, s.rebind(query), userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return profile, err
}

func (s *SQLStorage) SaveProfile(ctx context.Context, p *models.Profile) error {
	query := `INSERT INTO profiles (` + profileColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			display_name = excluded.display_name,
			country = excluded.country,
			language = excluded.language,
			institution_id = excluded.institution_id,
			is_premium = excluded.is_premium,
			billing_premium = excluded.billing_premium,
			premium_override = excluded.premium_override,
			updated_at = excluded.updated_at`

	now := s.now()
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	var override interface{}
	if p.PremiumOverride != nil {
		override = *p.PremiumOverride
	}
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		p.ID,
		p.DisplayName,
		p.Country,
		p.Language,
		nullable(p.InstitutionID),
		models.EffectivePremium(p.BillingPremium, p.PremiumOverride),
		p.BillingPremium,
		override,
		createdAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

func (s *SQLStorage) ListProfiles(ctx context.Context) ([]*models.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles`)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer closeRows(rows)

	var profiles []*models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}
	return profiles, nil
}

func (s *SQLStorage) UpdateProfile(ctx context.Context, userID string, patch models.ProfilePatch) error {
	var sets []string
	var args []interface{}

	if patch.DisplayName != nil {
		sets = append(sets, "display_name = ?")
		args = append(args, *patch.DisplayName)
	}
	if patch.Country != nil {
		sets = append(sets, "country = ?")
		args = append(args, *patch.Country)
	}
	if patch.Language != nil {
		sets = append(sets, "language = ?")
		args = append(args, *patch.Language)
	}
	if patch.InstitutionID != nil {
		sets = append(sets, "institution_id = ?")
		args = append(args, nullable(patch.InstitutionID))
	}
	switch {
	case patch.PremiumOverride != nil:
		sets = append(sets, "premium_override = ?", "is_premium = ?")
		args = append(args, *patch.PremiumOverride, *patch.PremiumOverride)
	case patch.ClearPremiumOverride:
		sets = append(sets, "premium_override = NULL", "is_premium = billing_premium")
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.now(), userID)

	query := `UPDATE profiles SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return requireRow(res, "profile", userID)
}

func (s *SQLStorage) SetBillingPremium(ctx context.Context, userID string, premium bool) error {
	query := `UPDATE profiles SET billing_premium = ?, is_premium = COALESCE(premium_override, ?), updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, s.rebind(query), premium, premium, s.now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update profile premium: %w", err)
	}
	return requireRow(res, "profile", userID)
}

func (s *SQLStorage) HasRole(ctx context.Context, userID string, role models.Role) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM user_roles WHERE user_id = ? AND role = ?`), userID, string(role),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query roles: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStorage) SetRole(ctx context.Context, userID string, role models.Role, granted bool) error {
	var err error
	if granted {
		_, err = s.db.ExecContext(ctx, s.rebind(
			`INSERT INTO user_roles (user_id, role, created_at) VALUES (?, ?, ?) ON CONFLICT (user_id, role) DO NOTHING`),
			userID, string(role), s.now(),
		)
	} else {
		_, err = s.db.ExecContext(ctx, s.rebind(
			`DELETE FROM user_roles WHERE user_id = ? AND role = ?`), userID, string(role),
		)
	}
	if err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}
	return nil
}

func (s *SQLStorage) ListRoles(ctx context.Context) (map[string][]models.Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, role FROM user_roles ORDER BY user_id, role`)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer closeRows(rows)

	roles := make(map[string][]models.Role)
	for rows.Next() {
		var userID, role string
		if err := rows.Scan(&userID, &role); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles[userID] = append(roles[userID], models.Role(role))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating roles: %w", err)
	}
	return roles, nil
}
