package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port string

	DatabaseDriver string
	DatabaseURL    string

	AuthJWTSecret string
	AuthAudience  string

	StripeSecretKey     string
	StripeWebhookSecret string
	SiteURL             string
	Currency            string
	IndividualPrice     int64
	InstitutionPrice    int64

	TranslateAPIURL        string
	TranslateAPIKey        string
	TranslateDefaultSource string
	RedisURL               string

	SentryDSN          string
	AllowedOrigins     []string
	RateLimitPerMinute int
	SweepSchedule      string
	LogLevel           string
}

var required = []string{
	"DATABASE_URL",
	"STRIPE_SECRET_KEY",
	"STRIPE_WEBHOOK_SECRET",
	"AUTH_JWT_SECRET",
}

func defaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_DRIVER", DriverPostgres)
	v.SetDefault("AUTH_AUDIENCE", "authenticated")
	v.SetDefault("SITE_URL", "http://localhost:5173")
	v.SetDefault("BILLING_CURRENCY", "eur")
	v.SetDefault("PRICE_INDIVIDUAL_CENTS", 999)
	v.SetDefault("PRICE_INSTITUTION_CENTS", 9900)
	v.SetDefault("TRANSLATE_API_URL", "https://libretranslate.com")
	v.SetDefault("TRANSLATE_DEFAULT_SOURCE", "es")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 60)
	v.SetDefault("SWEEP_SCHEDULE", "@every 1h")
	v.SetDefault("LOG_LEVEL", "INFO")
}

// New reads configuration from the environment.
func New() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	defaults(v)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	var result error
	for _, key := range required {
		if strings.TrimSpace(v.GetString(key)) == "" {
			result = multierror.Append(result, fmt.Errorf("%s environment variable is required", key))
		}
	}

	driver := strings.ToLower(v.GetString("DATABASE_DRIVER"))
	if driver != DriverPostgres && driver != DriverSQLite {
		result = multierror.Append(result, fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, driver))
	}

	individual := v.GetInt64("PRICE_INDIVIDUAL_CENTS")
	institution := v.GetInt64("PRICE_INSTITUTION_CENTS")
	if individual <= 0 || institution <= 0 {
		result = multierror.Append(result, errors.New("PRICE_INDIVIDUAL_CENTS and PRICE_INSTITUTION_CENTS must be positive"))
	}

	if result != nil {
		return nil, result
	}

	return &Config{
		Port:                   v.GetString("PORT"),
		DatabaseDriver:         driver,
		DatabaseURL:            v.GetString("DATABASE_URL"),
		AuthJWTSecret:          v.GetString("AUTH_JWT_SECRET"),
		AuthAudience:           v.GetString("AUTH_AUDIENCE"),
		StripeSecretKey:        v.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:    v.GetString("STRIPE_WEBHOOK_SECRET"),
		SiteURL:                strings.TrimRight(v.GetString("SITE_URL"), "/"),
		Currency:               strings.ToLower(v.GetString("BILLING_CURRENCY")),
		IndividualPrice:        individual,
		InstitutionPrice:       institution,
		TranslateAPIURL:        strings.TrimRight(v.GetString("TRANSLATE_API_URL"), "/"),
		TranslateAPIKey:        v.GetString("TRANSLATE_API_KEY"),
		TranslateDefaultSource: v.GetString("TRANSLATE_DEFAULT_SOURCE"),
		RedisURL:               v.GetString("REDIS_URL"),
		SentryDSN:              v.GetString("SENTRY_DSN"),
		AllowedOrigins:         splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		RateLimitPerMinute:     v.GetInt("RATE_LIMIT_PER_MINUTE"),
		SweepSchedule:          strings.TrimSpace(v.GetString("SWEEP_SCHEDULE")),
		LogLevel:               v.GetString("LOG_LEVEL"),
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
