package main

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"

	"odisea.app/cloud/internal/admin"
	"odisea.app/cloud/internal/auth"
	"odisea.app/cloud/internal/billing"
	"odisea.app/cloud/internal/checkout"
	"odisea.app/cloud/internal/config"
	"odisea.app/cloud/internal/handlers"
	"odisea.app/cloud/internal/logger"
	"odisea.app/cloud/internal/ratelimit"
	"odisea.app/cloud/internal/reconcile"
	"odisea.app/cloud/internal/storage"
	"odisea.app/cloud/internal/translate"
)

// app owns everything runServe has to close on the way out.
type app struct {
	store   storage.Storage
	cache   *translate.RedisCache
	sweeper *reconcile.Sweeper
	server  *handlers.Server
}

func newApp(ctx context.Context, cfg *config.Config, version string) (*app, error) {
	store, err := storage.New(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	a := &app{store: store, sweeper: reconcile.NewSweeper(store)}

	var cache translate.Cache
	if cfg.RedisURL != "" {
		redisCache, err := translate.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			// Translation works uncached; losing Redis is not fatal.
			logger.Warn("Translation cache unavailable", map[string]interface{}{"error": err.Error()})
		} else {
			a.cache = redisCache
			cache = redisCache
		}
	}

	gateway := billing.NewStripeGateway(cfg.StripeSecretKey)
	translator := translate.New(cfg.TranslateAPIURL, cfg.TranslateAPIKey, cfg.TranslateDefaultSource, cache)
	a.server = newServer(cfg, store, gateway, translator, version)
	return a, nil
}

func (a *app) Close() error {
	var result error
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := a.store.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

// newServer wires the HTTP surface over an already opened store.
func newServer(cfg *config.Config, store storage.Storage, gateway billing.Gateway, translator handlers.Translator, version string) *handlers.Server {
	prices := billing.DefaultPrices(cfg.Currency, cfg.IndividualPrice, cfg.InstitutionPrice)

	deps := handlers.Dependencies{
		Version:        version,
		Roles:          store,
		Verifier:       auth.NewVerifier(cfg.AuthJWTSecret, cfg.AuthAudience),
		Stripe:         handlers.NewStripeHandler(reconcile.New(store, gateway), cfg.StripeWebhookSecret),
		Checkout:       handlers.NewCheckoutHandler(checkout.New(gateway, store, prices, cfg.SiteURL)),
		Admin:          handlers.NewAdminHandler(admin.New(store)),
		Translate:      handlers.NewTranslateHandler(translator),
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimiter:    ratelimit.New(cfg.RateLimitPerMinute, time.Minute),
	}
	if p, ok := store.(handlers.Pinger); ok {
		deps.Health = p
	}
	return handlers.NewServer(deps)
}
