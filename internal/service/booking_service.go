package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"parkovka/internal/database"
	"parkovka/internal/events"
	"parkovka/internal/metrics"
	"parkovka/internal/models"
	"parkovka/internal/pricing"
)

// BookingStore is the persistence surface of the booking state machine.
type BookingStore interface {
	Now() time.Time
	IsBanned(ctx context.Context, userID int64) (bool, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	CreateBooking(ctx context.Context, req models.BookingRequest, price database.PriceFunc) (*models.Booking, *models.CarveResult, error)
	MarkPaid(ctx context.Context, id int64) (bool, error)
	ConfirmBooking(ctx context.Context, id int64) (models.ConfirmOutcome, error)
	Decline(ctx context.Context, id int64) (bool, error)
	CancelBooking(ctx context.Context, id int64) (*models.Booking, error)
	EditPaidHours(ctx context.Context, id int64, paidHours int, price database.PriceFunc) (*models.Booking, bool, error)
	ExpireStale(ctx context.Context, cutoff time.Time) ([]models.ExpiredBooking, error)
	MergeFree(ctx context.Context, spotID int64) (int, error)
}

// BookingService drives bookings through their lifecycle. Prices are always
// computed here from the stored bounds.
type BookingService struct {
	store  BookingStore
	engine *pricing.Engine
	bus    *events.EventBus
	logger *zerolog.Logger
}

func NewBookingService(store BookingStore, engine *pricing.Engine, bus *events.EventBus, logger *zerolog.Logger) *BookingService {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	l := logger.With().Str("component", "booking_service").Logger()
	return &BookingService{store: store, engine: engine, bus: bus, logger: &l}
}

// Quote prices a span without touching storage.
func (s *BookingService) Quote(start, end time.Time) (int64, error) {
	return s.engine.Price(start, end)
}

// Create books [start,end) out of a free interval.
func (s *BookingService) Create(ctx context.Context, customerID, spotID, intervalID int64, start, end time.Time) (*models.Booking, *models.CarveResult, error) {
	banned, err := s.store.IsBanned(ctx, customerID)
	if err != nil {
		return nil, nil, fmt.Errorf("check ban: %w", err)
	}
	if banned {
		metrics.IncBookingRejected("banned")
		return nil, nil, models.ErrBanned
	}

	booking, carve, err := s.store.CreateBooking(ctx, models.BookingRequest{
		CustomerID: customerID,
		SpotID:     spotID,
		IntervalID: intervalID,
		Start:      start,
		End:        end,
	}, s.engine.Price)
	if err != nil {
		metrics.IncBookingRejected(rejectReason(err))
		return nil, nil, s.fault(err, "create booking")
	}

	metrics.IncBookingTransition(string(models.StatusPending))
	s.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("spot_id", spotID).
		Int64("customer_id", customerID).
		Int64("price", booking.TotalPrice).
		Msg("Booking created")
	s.bus.Emit(ctx, events.EventBookingCreated, bookingPayload(booking))
	return booking, carve, nil
}

// MarkPaid records the customer's payment claim. Repeated calls return false.
func (s *BookingService) MarkPaid(ctx context.Context, id int64) (bool, error) {
	ok, err := s.store.MarkPaid(ctx, id)
	if err != nil || !ok {
		return ok, s.fault(err, "mark paid")
	}
	metrics.IncBookingTransition(string(models.StatusPaidWaitAdmin))
	s.emitBooking(ctx, events.EventBookingPaid, id)
	return true, nil
}

// Confirm finalizes a paid booking.
func (s *BookingService) Confirm(ctx context.Context, id int64) (models.ConfirmOutcome, error) {
	outcome, err := s.store.ConfirmBooking(ctx, id)
	if err != nil {
		return "", s.fault(err, "confirm booking")
	}
	if outcome == models.ConfirmOK {
		metrics.IncBookingTransition(string(models.StatusConfirmed))
		s.emitBooking(ctx, events.EventBookingConfirmed, id)
	}
	return outcome, nil
}

// Decline sends a paid booking back to pending.
func (s *BookingService) Decline(ctx context.Context, id int64) (bool, error) {
	ok, err := s.store.Decline(ctx, id)
	if err != nil || !ok {
		return ok, s.fault(err, "decline booking")
	}
	metrics.IncBookingTransition(string(models.StatusPending))
	s.emitBooking(ctx, events.EventBookingDeclined, id)
	return true, nil
}

// Cancel releases a live booking. It returns false when the booking is
// already terminal.
func (s *BookingService) Cancel(ctx context.Context, id int64) (bool, error) {
	booking, err := s.store.CancelBooking(ctx, id)
	if errors.Is(err, models.ErrInvalidTransition) {
		return false, nil
	}
	if err != nil {
		return false, s.fault(err, "cancel booking")
	}

	s.merge(ctx, booking.SpotID)
	metrics.IncBookingTransition(string(models.StatusCancelled))
	s.logger.Info().Int64("booking_id", id).Msg("Booking cancelled")
	s.bus.Emit(ctx, events.EventBookingCancelled, bookingPayload(booking))
	s.bus.Emit(ctx, events.EventIntervalFreed, events.IntervalPayload{
		SpotID:     booking.SpotID,
		IntervalID: booking.IntervalID,
		Start:      booking.Start,
		End:        booking.End,
	})
	return true, nil
}

// EditPaidHours keeps only the paid hours of a live booking and returns the
// remainder to inventory. It returns false when the booking is terminal.
func (s *BookingService) EditPaidHours(ctx context.Context, id int64, paidHours int) (bool, error) {
	before, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return false, s.fault(err, "edit paid hours")
	}

	booking, split, err := s.store.EditPaidHours(ctx, id, paidHours, s.engine.Price)
	if errors.Is(err, models.ErrInvalidTransition) {
		return false, nil
	}
	if err != nil {
		return false, s.fault(err, "edit paid hours")
	}

	s.logger.Info().
		Int64("booking_id", id).
		Int("paid_hours", paidHours).
		Bool("split", split).
		Int64("price", booking.TotalPrice).
		Msg("Booking paid hours edited")
	s.bus.Emit(ctx, events.EventBookingEdited, bookingPayload(booking))
	if split {
		s.merge(ctx, booking.SpotID)
		s.bus.Emit(ctx, events.EventIntervalFreed, events.IntervalPayload{
			SpotID: booking.SpotID,
			Start:  booking.End,
			End:    before.End,
		})
	}
	return true, nil
}

// ExpireStale expires pending bookings older than timeout and returns them
// so each customer can be told once. An ErrInvariant error may come back
// together with the bookings that did expire.
func (s *BookingService) ExpireStale(ctx context.Context, timeout time.Duration) ([]models.ExpiredBooking, error) {
	cutoff := s.store.Now().UTC().Add(-timeout)
	expired, err := s.store.ExpireStale(ctx, cutoff)
	if err != nil && !errors.Is(err, models.ErrInvariant) {
		return nil, s.fault(err, "expire stale bookings")
	}
	err = s.fault(err, "expire stale bookings")
	if len(expired) == 0 {
		return nil, err
	}

	spots := make(map[int64]struct{})
	for _, e := range expired {
		if _, seen := spots[e.SpotID]; !seen {
			spots[e.SpotID] = struct{}{}
			s.merge(ctx, e.SpotID)
		}
		metrics.IncBookingTransition(string(models.StatusExpired))
		s.bus.Emit(ctx, events.EventBookingExpired, events.BookingPayload{
			BookingID:          e.BookingID,
			SpotID:             e.SpotID,
			CustomerID:         e.CustomerID,
			CustomerTelegramID: e.CustomerTelegramID,
			Status:             string(models.StatusExpired),
		})
	}
	s.logger.Info().Int("count", len(expired)).Msg("Stale bookings expired")
	return expired, err
}

func (s *BookingService) merge(ctx context.Context, spotID int64) {
	n, err := s.store.MergeFree(ctx, spotID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("spot_id", spotID).Msg("Merge after release failed")
		return
	}
	metrics.AddIntervalsMerged(n)
}

func (s *BookingService) emitBooking(ctx context.Context, eventType string, id int64) {
	if s.bus == nil {
		return
	}
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Int64("booking_id", id).Msg("Failed to load booking for event")
		return
	}
	s.bus.Emit(ctx, eventType, bookingPayload(b))
}

// fault logs storage failures and invariant violations. Expected outcomes are
// returned untouched.
func (s *BookingService) fault(err error, op string) error {
	if err == nil || isExpected(err) {
		return err
	}
	if errors.Is(err, models.ErrInvariant) {
		metrics.IncInvariantViolation()
		s.logger.Error().Err(err).Str("op", op).Msg("Consistency violation detected")
	} else {
		s.logger.Error().Err(err).Str("op", op).Msg("Storage failure")
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isExpected(err error) bool {
	for _, target := range []error{
		models.ErrInvalidInterval,
		models.ErrInPast,
		models.ErrSlotTaken,
		models.ErrOutsideWindow,
		models.ErrBlocked,
		models.ErrNotFound,
		models.ErrInvalidTransition,
		models.ErrBanned,
		models.ErrOverlap,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, models.ErrSlotTaken):
		return "slot_taken"
	case errors.Is(err, models.ErrOutsideWindow):
		return "outside_window"
	case errors.Is(err, models.ErrInPast):
		return "in_past"
	case errors.Is(err, models.ErrInvalidInterval):
		return "invalid_interval"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func bookingPayload(b *models.Booking) events.BookingPayload {
	return events.BookingPayload{
		BookingID:  b.ID,
		SpotID:     b.SpotID,
		CustomerID: b.CustomerID,
		Start:      b.Start,
		End:        b.End,
		TotalPrice: b.TotalPrice,
		Status:     string(b.Status),
	}
}
