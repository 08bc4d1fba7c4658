package bot

import (
	"context"
	"io"
	"time"

	"parkovka/internal/models"
)

type Bookings interface {
	Quote(start, end time.Time) (int64, error)
	Create(ctx context.Context, customerID, spotID, intervalID int64, start, end time.Time) (*models.Booking, *models.CarveResult, error)
	MarkPaid(ctx context.Context, id int64) (bool, error)
	Confirm(ctx context.Context, id int64) (models.ConfirmOutcome, error)
	Decline(ctx context.Context, id int64) (bool, error)
	Cancel(ctx context.Context, id int64) (bool, error)
	EditPaidHours(ctx context.Context, id int64, paidHours int) (bool, error)
}

type Availability interface {
	Publish(ctx context.Context, spotID int64, start, end time.Time) (*models.Interval, error)
	Retime(ctx context.Context, adminID, intervalID int64, start, end time.Time) (bool, error)
	Remove(ctx context.Context, adminID, intervalID int64) (bool, error)
	Toggle(ctx context.Context, adminID, intervalID int64) (bool, error)
}

type Store interface {
	EnsureUser(ctx context.Context, telegramID int64, username, fullName string) (*models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	BanUser(ctx context.Context, userID int64, until *time.Time, reason string, bannedBy int64) error
	UnbanUser(ctx context.Context, userID int64) error

	GetInterval(ctx context.Context, id int64) (*models.Interval, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	ListBookingsByCustomer(ctx context.Context, customerID int64, limit int) ([]models.Booking, error)
	ListBookingsByStatus(ctx context.Context, status models.Status, limit int) ([]models.Booking, error)

	CreateSpot(ctx context.Context, s *models.Spot) error
	GetSpot(ctx context.Context, id int64) (*models.Spot, error)
	ListSpots(ctx context.Context, onlyAvailable bool) ([]models.Spot, error)
	SetSpotAvailable(ctx context.Context, id int64, available bool) error
	SpotRating(ctx context.Context, spotID int64) (float64, int, error)

	CreateSubscription(ctx context.Context, userID int64, spotID *int64, dateFrom, dateTo *string) (*models.Subscription, error)
	AddReview(ctx context.Context, bookingID, customerID int64, rating int, comment string) (*models.Review, error)

	LogAdminAction(ctx context.Context, adminID int64, action string, bookingID *int64, details string) error
	GetStats(ctx context.Context) (*models.Stats, error)
}

// SlotLister returns the nearest free intervals.
type SlotLister interface {
	List(ctx context.Context, limit int) ([]models.FreeSlot, error)
}

type Exporter interface {
	Export(ctx context.Context, w io.Writer) error
}
