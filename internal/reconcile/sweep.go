package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
	"go.uber.org/atomic"

	"odisea.app/cloud/internal/logger"
	"odisea.app/cloud/internal/metrics"
	"odisea.app/cloud/internal/models"
	"odisea.app/cloud/internal/storage"
)

// SweepReport counts the rows a sweep rewrote.
type SweepReport struct {
	Profiles     int
	Institutions int
}

// Sweeper brings profile billing flags and institution activity back in line
// with the subscriber rows they derive from.
type Sweeper struct {
	store   storage.Storage
	cron    *cron.Cron
	running atomic.Bool
	timeout time.Duration
}

func NewSweeper(store storage.Storage) *Sweeper {
	return &Sweeper{store: store, timeout: 5 * time.Minute}
}

// Start schedules the sweep. An empty schedule disables it.
func (s *Sweeper) Start(schedule string) error {
	if schedule == "" {
		logger.Info("Consistency sweep disabled")
		return nil
	}

	s.cron = cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(logger.Default()))))
	if _, err := s.cron.AddFunc(schedule, s.runScheduled); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	logger.Info("Consistency sweep scheduled", map[string]interface{}{"schedule": schedule})
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *Sweeper) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.Run(ctx); err != nil {
		logger.Error("Consistency sweep failed", map[string]interface{}{"error": err.Error()})
	}
}

// Run performs one sweep. A sweep that finds another still in progress
// returns an empty report.
func (s *Sweeper) Run(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}
	if !s.running.CompareAndSwap(false, true) {
		logger.Warn("Consistency sweep already running, skipping")
		return report, nil
	}
	defer s.running.Store(false)

	subs, err := s.store.ListSubscribers(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list subscribers: %w", err)
	}
	profiles, err := s.store.ListProfiles(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list profiles: %w", err)
	}

	// A user or institution is entitled while any of its subscriber rows is.
	wantPremium := make(map[string]bool)
	wantActive := make(map[string]bool)
	for _, sub := range subs {
		wantPremium[sub.UserID] = wantPremium[sub.UserID] || sub.Subscribed
		if sub.SubscriptionType == models.SubscriptionInstitution && sub.InstitutionID != nil {
			id := *sub.InstitutionID
			wantActive[id] = wantActive[id] || sub.Subscribed
		}
	}

	var result *multierror.Error
	for _, p := range profiles {
		want, ok := wantPremium[p.ID]
		if !ok || p.BillingPremium == want {
			continue
		}
		if err := s.store.SetBillingPremium(ctx, p.ID, want); err != nil {
			result = multierror.Append(result, fmt.Errorf("profile %s: %w", p.ID, err))
			continue
		}
		report.Profiles++
		metrics.SweepRepairsTotal.WithLabelValues("profile").Inc()
		logger.Info("Repaired profile premium flag", map[string]interface{}{
			"user_id":         p.ID,
			"billing_premium": want,
		})
	}

	for id, want := range wantActive {
		inst, err := s.store.GetInstitution(ctx, id)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("institution %s: %w", id, err))
			continue
		}
		if inst == nil || inst.ActiveSubscription == want {
			continue
		}
		if err := s.store.SetInstitutionActive(ctx, id, want); err != nil {
			result = multierror.Append(result, fmt.Errorf("institution %s: %w", id, err))
			continue
		}
		report.Institutions++
		metrics.SweepRepairsTotal.WithLabelValues("institution").Inc()
		logger.Info("Repaired institution subscription flag", map[string]interface{}{
			"institution_id": id,
			"active":         want,
		})
	}

	logger.Info("Consistency sweep finished", map[string]interface{}{
		"subscribers":           len(subs),
		"profiles_repaired":     report.Profiles,
		"institutions_repaired": report.Institutions,
	})
	return report, result.ErrorOrNil()
}
