package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"parkovka/internal/events"
	"parkovka/internal/metrics"
	"parkovka/internal/models"
)

// IntervalStore is the persistence surface for supplier and admin edits of
// availability.
type IntervalStore interface {
	GetInterval(ctx context.Context, id int64) (*models.Interval, error)
	CreateFree(ctx context.Context, spotID int64, start, end time.Time) (*models.Interval, error)
	FreeCovering(ctx context.Context, spotID int64, start, end time.Time) (*models.Interval, error)
	MergeFree(ctx context.Context, spotID int64) (int, error)
	Retime(ctx context.Context, intervalID int64, start, end time.Time) (bool, error)
	Remove(ctx context.Context, intervalID int64) (bool, error)
	Toggle(ctx context.Context, intervalID int64) (bool, error)
	LogAdminAction(ctx context.Context, adminID int64, action string, bookingID *int64, details string) error
}

// AvailabilityService publishes and edits free intervals.
type AvailabilityService struct {
	store  IntervalStore
	bus    *events.EventBus
	logger *zerolog.Logger
}

func NewAvailabilityService(store IntervalStore, bus *events.EventBus, logger *zerolog.Logger) *AvailabilityService {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	l := logger.With().Str("component", "availability_service").Logger()
	return &AvailabilityService{store: store, bus: bus, logger: &l}
}

// Publish adds free time to a spot. Overlapping an existing interval is
// refused with ErrOverlap; touching free intervals are merged and the
// returned interval is the one that holds the published span afterwards.
func (s *AvailabilityService) Publish(ctx context.Context, spotID int64, start, end time.Time) (*models.Interval, error) {
	iv, err := s.store.CreateFree(ctx, spotID, start, end)
	if err != nil {
		return nil, err
	}
	s.merge(ctx, spotID)

	merged, err := s.store.FreeCovering(ctx, spotID, start, end)
	if err != nil {
		return nil, fmt.Errorf("resolve published interval: %w", err)
	}
	iv = merged

	s.logger.Info().
		Int64("spot_id", spotID).
		Int64("interval_id", iv.ID).
		Time("start", iv.Start).
		Time("end", iv.End).
		Msg("Availability published")
	s.emitFreed(ctx, spotID, iv.ID, start, end)
	return iv, nil
}

// Retime moves a free interval.
func (s *AvailabilityService) Retime(ctx context.Context, adminID, intervalID int64, start, end time.Time) (bool, error) {
	iv, err := s.store.GetInterval(ctx, intervalID)
	if err != nil {
		return false, err
	}
	ok, err := s.store.Retime(ctx, intervalID, start, end)
	if err != nil || !ok {
		return false, err
	}
	s.merge(ctx, iv.SpotID)
	s.audit(ctx, adminID, "retime_interval",
		fmt.Sprintf("interval=%d %s..%s", intervalID, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)))
	s.emitFreed(ctx, iv.SpotID, intervalID, start, end)
	return true, nil
}

// Remove deletes a free interval.
func (s *AvailabilityService) Remove(ctx context.Context, adminID, intervalID int64) (bool, error) {
	iv, err := s.store.GetInterval(ctx, intervalID)
	if err != nil {
		return false, err
	}
	ok, err := s.store.Remove(ctx, intervalID)
	if err != nil || !ok {
		return false, err
	}
	s.merge(ctx, iv.SpotID)
	s.audit(ctx, adminID, "remove_interval", fmt.Sprintf("interval=%d spot=%d", intervalID, iv.SpotID))
	return true, nil
}

// Toggle flips the booked flag of an interval that carries no booking.
func (s *AvailabilityService) Toggle(ctx context.Context, adminID, intervalID int64) (bool, error) {
	iv, err := s.store.GetInterval(ctx, intervalID)
	if err != nil {
		return false, err
	}
	booked, err := s.store.Toggle(ctx, intervalID)
	if err != nil {
		return false, err
	}
	s.audit(ctx, adminID, "toggle_interval", fmt.Sprintf("interval=%d booked=%t", intervalID, booked))
	if !booked {
		s.merge(ctx, iv.SpotID)
		s.emitFreed(ctx, iv.SpotID, intervalID, iv.Start, iv.End)
	}
	return booked, nil
}

func (s *AvailabilityService) merge(ctx context.Context, spotID int64) {
	n, err := s.store.MergeFree(ctx, spotID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("spot_id", spotID).Msg("Merge failed")
		return
	}
	metrics.AddIntervalsMerged(n)
}

func (s *AvailabilityService) audit(ctx context.Context, adminID int64, action, details string) {
	if err := s.store.LogAdminAction(ctx, adminID, action, nil, details); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("Failed to write admin log")
	}
}

func (s *AvailabilityService) emitFreed(ctx context.Context, spotID, intervalID int64, start, end time.Time) {
	s.bus.Emit(ctx, events.EventIntervalFreed, events.IntervalPayload{
		SpotID:     spotID,
		IntervalID: intervalID,
		Start:      start,
		End:        end,
	})
}
