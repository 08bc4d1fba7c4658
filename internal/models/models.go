package models

import "time"

// User maps a chat identity to the internal id used by the engine.
type User struct {
	ID         int64     `json:"id"`
	TelegramID int64     `json:"telegram_id"`
	Username   string    `json:"username"`
	FullName   string    `json:"full_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// Spot is a rentable parking space owned by a supplier.
type Spot struct {
	ID           int64     `json:"id"`
	SupplierID   int64     `json:"supplier_id"`
	Number       string    `json:"spot_number"`
	Address      string    `json:"address"`
	Description  string    `json:"description"`
	PricePerHour int64     `json:"price_per_hour"` // informational only
	IsAvailable  bool      `json:"is_available"`
	CreatedAt    time.Time `json:"created_at"`
}

// Interval is a stored contiguous time range of a spot, free or booked.
type Interval struct {
	ID         int64     `json:"id"`
	SpotID     int64     `json:"spot_id"`
	Start      time.Time `json:"start_time"`
	End        time.Time `json:"end_time"`
	Booked     bool      `json:"is_booked"`
	BookingID  *int64    `json:"booking_id,omitempty"`
	CustomerID *int64    `json:"booked_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Duration returns the length of the interval.
func (i *Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Contains reports whether [start,end) lies inside the interval.
func (i *Interval) Contains(start, end time.Time) bool {
	return !start.Before(i.Start) && !end.After(i.End)
}

// Overlaps uses half-open [start, end) semantics.
func (i *Interval) Overlaps(start, end time.Time) bool {
	return i.Start.Before(end) && i.End.After(start)
}

// CarveResult is what a reservation leaves behind: the booked body plus
// optional free remainders before and after it.
type CarveResult struct {
	Booked Interval  `json:"booked"`
	Lead   *Interval `json:"lead,omitempty"`
	Tail   *Interval `json:"tail,omitempty"`
}

// Pieces returns the carve in chronological order.
func (c *CarveResult) Pieces() []Interval {
	out := make([]Interval, 0, 3)
	if c.Lead != nil {
		out = append(out, *c.Lead)
	}
	out = append(out, c.Booked)
	if c.Tail != nil {
		out = append(out, *c.Tail)
	}
	return out
}

// Booking is a customer's claim on exactly one interval.
type Booking struct {
	ID           int64     `json:"id"`
	CustomerID   int64     `json:"customer_id"`
	SpotID       int64     `json:"spot_id"`
	IntervalID   int64     `json:"availability_id"`
	Start        time.Time `json:"start_time"`
	End          time.Time `json:"end_time"`
	TotalPrice   int64     `json:"total_price"`
	Status       Status    `json:"status"`
	Reviewed     bool      `json:"reviewed"`
	ReminderSent bool      `json:"reminder_sent"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BookingRequest carries everything needed to create a booking. The price is
// computed by the store from Start/End, never taken from user input.
type BookingRequest struct {
	CustomerID int64
	SpotID     int64
	IntervalID int64
	Start      time.Time
	End        time.Time
}

// ExpiredBooking is returned by the expiry sweep so the caller can notify the
// customer once.
type ExpiredBooking struct {
	BookingID          int64 `json:"booking_id"`
	SpotID             int64 `json:"spot_id"`
	CustomerID         int64 `json:"customer_id"`
	CustomerTelegramID int64 `json:"customer_telegram_id"`
}

// Subscription is a standing request to be told about freed availability.
// A nil SpotID means any spot; nil dates mean an open range.
type Subscription struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	TelegramID int64     `json:"telegram_id"`
	SpotID     *int64    `json:"spot_id,omitempty"`
	DateFrom   *string   `json:"date_from,omitempty"` // YYYY-MM-DD
	DateTo     *string   `json:"date_to,omitempty"`   // YYYY-MM-DD
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Review is customer feedback on a completed booking.
type Review struct {
	ID         int64     `json:"id"`
	BookingID  int64     `json:"booking_id"`
	CustomerID int64     `json:"customer_id"`
	SpotID     int64     `json:"spot_id"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment"`
	CreatedAt  time.Time `json:"created_at"`
}

// AdminLog is one audit record of an administrative action.
type AdminLog struct {
	ID        int64     `json:"id"`
	AdminID   int64     `json:"admin_id"`
	Action    string    `json:"action"`
	BookingID *int64    `json:"booking_id,omitempty"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats aggregates booking counts and revenue.
type Stats struct {
	ByStatus      map[Status]int `json:"by_status"`
	Revenue       int64          `json:"revenue"`
	Spots         int            `json:"spots"`
	FreeIntervals int            `json:"free_intervals"`
	Users         int            `json:"users"`
}

// FreeSlot is a free interval with its spot's display number.
type FreeSlot struct {
	Interval
	SpotNumber string `json:"spot_number"`
}

// Reminder is an upcoming confirmed booking that has not been reminded yet.
type Reminder struct {
	BookingID  int64     `json:"booking_id"`
	TelegramID int64     `json:"telegram_id"`
	SpotNumber string    `json:"spot_number"`
	Start      time.Time `json:"start_time"`
}
