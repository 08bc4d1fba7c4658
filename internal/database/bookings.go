package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"parkovka/internal/models"
	"parkovka/internal/pricing"
)

// PriceFunc prices a booking span. The database never accepts a price that
// was not produced by the pricing engine for the stored bounds.
type PriceFunc func(start, end time.Time) (int64, error)

const bookingColumns = `id, customer_id, spot_id, availability_id, start_time, end_time, total_price,
	status, reviewed, reminder_sent, created_at, updated_at`

func scanBooking(r rowScanner) (*models.Booking, error) {
	var b models.Booking
	var status string
	if err := r.Scan(&b.ID, &b.CustomerID, &b.SpotID, &b.IntervalID, &b.Start, &b.End, &b.TotalPrice,
		&status, &b.Reviewed, &b.ReminderSent, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	st, ok := models.ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("%w: booking %d has unknown status %q", models.ErrInvariant, b.ID, status)
	}
	b.Status = st
	return &b, nil
}

func getBooking(ctx context.Context, q querier, id int64) (*models.Booking, error) {
	b, err := scanBooking(q.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %d: %w", id, err)
	}
	return b, nil
}

func queryBookings(ctx context.Context, q querier, query string, args ...any) ([]models.Booking, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// setStatusTx moves a booking along the transition table. The status guard in
// the WHERE clause protects against concurrent writers.
func setStatusTx(ctx context.Context, tx *sql.Tx, b *models.Booking, to models.Status, now time.Time) error {
	if !b.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, b.Status, to)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE bookings SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), now, b.ID, string(b.Status))
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: booking %d changed concurrently", models.ErrInvalidTransition, b.ID)
	}
	b.Status, b.UpdatedAt = to, now
	return nil
}

// syncIntervalTx forces the bound interval to the booking's bounds. A missing
// interval is reported, not recreated.
func syncIntervalTx(ctx context.Context, tx *sql.Tx, b *models.Booking) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE availability
		SET start_time = ?, end_time = ?, is_booked = 1, booking_id = ?, booked_by = ?
		WHERE id = ?`,
		b.Start, b.End, b.ID, b.CustomerID, b.IntervalID,
	)
	if err != nil {
		return fmt.Errorf("sync interval: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: interval %d of booking %d is missing", models.ErrInvariant, b.IntervalID, b.ID)
	}
	return nil
}

// GetBooking returns one booking by id.
func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return getBooking(ctx, db, id)
}

// ListBookingsByCustomer returns the customer's newest bookings first.
func (db *DB) ListBookingsByCustomer(ctx context.Context, customerID int64, limit int) ([]models.Booking, error) {
	return queryBookings(ctx, db,
		`SELECT `+bookingColumns+` FROM bookings WHERE customer_id = ? ORDER BY start_time DESC, id DESC LIMIT ?`,
		customerID, limit)
}

// ListBookingsByStatus returns bookings in one status, oldest first.
func (db *DB) ListBookingsByStatus(ctx context.Context, status models.Status, limit int) ([]models.Booking, error) {
	return queryBookings(ctx, db,
		`SELECT `+bookingColumns+` FROM bookings WHERE status = ? ORDER BY created_at, id LIMIT ?`,
		string(status), limit)
}

// ListBookings returns all bookings created since the given time.
func (db *DB) ListBookings(ctx context.Context, since time.Time) ([]models.Booking, error) {
	return queryBookings(ctx, db,
		`SELECT `+bookingColumns+` FROM bookings WHERE created_at >= ? ORDER BY id`, ts(since))
}

// CreateBooking inserts a pending booking priced by price and carves its
// interval in one transaction.
func (db *DB) CreateBooking(ctx context.Context, req models.BookingRequest, price PriceFunc) (*models.Booking, *models.CarveResult, error) {
	start, end := ts(req.Start), ts(req.End)
	if !end.After(start) {
		return nil, nil, models.ErrInvalidInterval
	}
	now := db.Now()
	if start.Before(now) {
		return nil, nil, models.ErrInPast
	}

	var (
		booking *models.Booking
		carve   *models.CarveResult
	)
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		iv, err := getInterval(ctx, tx, req.IntervalID)
		if err != nil {
			return err
		}
		if iv.SpotID != req.SpotID {
			return fmt.Errorf("interval %d is not on spot %d: %w", iv.ID, req.SpotID, models.ErrNotFound)
		}
		if iv.Booked || iv.BookingID != nil {
			return models.ErrSlotTaken
		}
		if !iv.Contains(start, end) {
			return models.ErrOutsideWindow
		}
		total, err := price(start, end)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO bookings (
				customer_id, spot_id, availability_id, start_time, end_time,
				total_price, status, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			req.CustomerID, req.SpotID, iv.ID, start, end,
			total, string(models.StatusPending), now, now,
		)
		if err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("get last id: %w", err)
		}

		carve, err = reserveTx(ctx, tx, iv.ID, id, req.CustomerID, start, end, now)
		if err != nil {
			return err
		}

		booking = &models.Booking{
			ID:         id,
			CustomerID: req.CustomerID,
			SpotID:     req.SpotID,
			IntervalID: iv.ID,
			Start:      start,
			End:        end,
			TotalPrice: total,
			Status:     models.StatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return booking, carve, nil
}

// transition moves a booking from exactly one status to another. It returns
// false when the booking is in any other status.
func (db *DB) transition(ctx context.Context, id int64, from, to models.Status) (bool, error) {
	ok := false
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		b, err := getBooking(ctx, tx, id)
		if err != nil {
			return err
		}
		if b.Status != from {
			return nil
		}
		if err := setStatusTx(ctx, tx, b, to, db.Now()); err != nil {
			return err
		}
		ok = true
		return nil
	})
	return ok, err
}

// MarkPaid records a payment claim: pending -> paid_wait_admin.
func (db *DB) MarkPaid(ctx context.Context, id int64) (bool, error) {
	return db.transition(ctx, id, models.StatusPending, models.StatusPaidWaitAdmin)
}

// Decline rejects a payment claim: paid_wait_admin -> pending.
func (db *DB) Decline(ctx context.Context, id int64) (bool, error) {
	return db.transition(ctx, id, models.StatusPaidWaitAdmin, models.StatusPending)
}

// ConfirmBooking confirms a paid booking. Repeated calls report
// ConfirmAlready and change nothing.
func (db *DB) ConfirmBooking(ctx context.Context, id int64) (models.ConfirmOutcome, error) {
	var outcome models.ConfirmOutcome
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		b, err := getBooking(ctx, tx, id)
		if err != nil {
			return err
		}
		switch b.Status {
		case models.StatusConfirmed:
			outcome = models.ConfirmAlready
			return nil
		case models.StatusPending:
			outcome = models.ConfirmNotPaid
			return nil
		case models.StatusPaidWaitAdmin:
		default:
			outcome = models.ConfirmInvalid
			return nil
		}

		if err := syncIntervalTx(ctx, tx, b); err != nil {
			return err
		}
		if err := setStatusTx(ctx, tx, b, models.StatusConfirmed, db.Now()); err != nil {
			return err
		}
		outcome = models.ConfirmOK
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// CancelBooking releases the booking's interval with the booking's own bounds
// and marks it cancelled. The caller merges free intervals afterwards.
func (db *DB) CancelBooking(ctx context.Context, id int64) (*models.Booking, error) {
	var booking *models.Booking
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		b, err := getBooking(ctx, tx, id)
		if err != nil {
			return err
		}
		if !b.Status.CanTransition(models.StatusCancelled) {
			return fmt.Errorf("%w: cannot cancel %s booking", models.ErrInvalidTransition, b.Status)
		}
		if err := releaseTx(ctx, tx, b.IntervalID, b.Start, b.End); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("%w: interval %d of booking %d is missing", models.ErrInvariant, b.IntervalID, b.ID)
			}
			return err
		}
		if err := setStatusTx(ctx, tx, b, models.StatusCancelled, db.Now()); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// EditPaidHours keeps only the first paidHours of a live booking. The unpaid
// tail becomes a free interval; the price is recomputed with price for the
// resulting span. split reports whether a tail was cut off.
func (db *DB) EditPaidHours(ctx context.Context, id int64, paidHours int, price PriceFunc) (booking *models.Booking, split bool, err error) {
	if paidHours <= 0 {
		return nil, false, fmt.Errorf("paid hours %d: %w", paidHours, models.ErrInvalidInterval)
	}
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		b, err := getBooking(ctx, tx, id)
		if err != nil {
			return err
		}
		if !b.Status.IsAlive() {
			return fmt.Errorf("%w: cannot edit %s booking", models.ErrInvalidTransition, b.Status)
		}
		now := db.Now()

		if paidHours >= pricing.CeilHours(b.Start, b.End) {
			p, err := price(b.Start, b.End)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE bookings SET total_price = ?, updated_at = ? WHERE id = ?`, p, now, b.ID); err != nil {
				return fmt.Errorf("update price: %w", err)
			}
			if err := syncIntervalTx(ctx, tx, b); err != nil {
				return err
			}
			b.TotalPrice, b.UpdatedAt = p, now
			booking = b
			return nil
		}

		oldEnd := b.End
		newEnd := b.Start.Add(time.Duration(paidHours) * time.Hour)
		p, err := price(b.Start, newEnd)
		if err != nil {
			return err
		}

		b.End = newEnd
		if err := syncIntervalTx(ctx, tx, b); err != nil {
			return err
		}
		if _, err := insertFree(ctx, tx, b.SpotID, newEnd, oldEnd, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE bookings SET end_time = ?, total_price = ?, updated_at = ? WHERE id = ?`,
			newEnd, p, now, b.ID); err != nil {
			return fmt.Errorf("truncate booking: %w", err)
		}
		b.TotalPrice, b.UpdatedAt = p, now
		booking, split = b, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return booking, split, nil
}

// ExpireStale expires every pending booking created before cutoff, releases
// its interval and returns one item per expired booking. A booking whose
// interval is missing stays pending and is reported as ErrInvariant next to
// the bookings that did expire.
func (db *DB) ExpireStale(ctx context.Context, cutoff time.Time) ([]models.ExpiredBooking, error) {
	cutoff = ts(cutoff)
	var (
		expired    []models.ExpiredBooking
		violations []error
	)
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT b.id, b.spot_id, b.customer_id, b.availability_id, b.start_time, b.end_time, u.telegram_id
			FROM bookings b
			LEFT JOIN users u ON u.id = b.customer_id
			WHERE b.status = ? AND b.created_at < ?
			ORDER BY b.id`,
			string(models.StatusPending), cutoff,
		)
		if err != nil {
			return fmt.Errorf("select stale: %w", err)
		}
		type stale struct {
			item       models.ExpiredBooking
			intervalID int64
			start, end time.Time
		}
		var candidates []stale
		for rows.Next() {
			var s stale
			var tg sql.NullInt64
			if err := rows.Scan(&s.item.BookingID, &s.item.SpotID, &s.item.CustomerID, &s.intervalID,
				&s.start, &s.end, &tg); err != nil {
				rows.Close()
				return err
			}
			s.item.CustomerTelegramID = tg.Int64
			candidates = append(candidates, s)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		now := db.Now()
		for _, c := range candidates {
			if err := releaseTx(ctx, tx, c.intervalID, c.start, c.end); err != nil {
				if !errors.Is(err, models.ErrNotFound) {
					return err
				}
				violations = append(violations, fmt.Errorf("%w: interval %d of pending booking %d is missing",
					models.ErrInvariant, c.intervalID, c.item.BookingID))
				continue
			}
			res, err := tx.ExecContext(ctx,
				`UPDATE bookings SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
				string(models.StatusExpired), now, c.item.BookingID, string(models.StatusPending))
			if err != nil {
				return fmt.Errorf("expire booking: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				expired = append(expired, c.item)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, errors.Join(violations...)
}
