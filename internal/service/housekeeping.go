package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// MaintenanceStore holds the idempotent sweeps run in the background.
type MaintenanceStore interface {
	Now() time.Time
	CompleteFinished(ctx context.Context) (int64, error)
	PrunePastFree(ctx context.Context) (int64, error)
	CleanupOldBookings(ctx context.Context, cutoff time.Time) (int64, error)
	DeactivateStaleSubscriptions(ctx context.Context, before string) (int64, error)
	AutoUnban(ctx context.Context) (int64, error)
}

// HousekeepingReport counts the rows touched by one sweep.
type HousekeepingReport struct {
	Completed     int64
	Pruned        int64
	Deleted       int64
	Subscriptions int64
	Unbanned      int64
}

// Housekeeper completes finished bookings and removes stale rows.
type Housekeeper struct {
	store     MaintenanceStore
	retention time.Duration
	location  *time.Location
	logger    *zerolog.Logger
}

func NewHousekeeper(store MaintenanceStore, retention time.Duration, location *time.Location, logger *zerolog.Logger) *Housekeeper {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	if location == nil {
		location = time.UTC
	}
	l := logger.With().Str("component", "housekeeping").Logger()
	return &Housekeeper{store: store, retention: retention, location: location, logger: &l}
}

// Run performs every sweep and keeps going past individual failures.
func (h *Housekeeper) Run(ctx context.Context) (HousekeepingReport, error) {
	var (
		rep  HousekeepingReport
		errs []error
	)
	step := func(name string, dst *int64, fn func() (int64, error)) {
		n, err := fn()
		if err != nil {
			h.logger.Error().Err(err).Str("step", name).Msg("Housekeeping step failed")
			errs = append(errs, err)
			return
		}
		*dst = n
	}

	now := h.store.Now()
	step("complete", &rep.Completed, func() (int64, error) { return h.store.CompleteFinished(ctx) })
	step("prune", &rep.Pruned, func() (int64, error) { return h.store.PrunePastFree(ctx) })
	if h.retention > 0 {
		step("cleanup", &rep.Deleted, func() (int64, error) {
			return h.store.CleanupOldBookings(ctx, now.Add(-h.retention))
		})
	}
	step("subscriptions", &rep.Subscriptions, func() (int64, error) {
		before := now.In(h.location).AddDate(0, 0, -7).Format("2006-01-02")
		return h.store.DeactivateStaleSubscriptions(ctx, before)
	})
	step("unban", &rep.Unbanned, func() (int64, error) { return h.store.AutoUnban(ctx) })

	if rep != (HousekeepingReport{}) {
		h.logger.Info().
			Int64("completed", rep.Completed).
			Int64("pruned", rep.Pruned).
			Int64("deleted", rep.Deleted).
			Int64("subscriptions", rep.Subscriptions).
			Int64("unbanned", rep.Unbanned).
			Msg("Housekeeping finished")
	}
	return rep, errors.Join(errs...)
}
