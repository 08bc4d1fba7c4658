package database

import (
	"context"
	"fmt"
	"time"

	"parkovka/internal/models"
)

// CompleteFinished moves confirmed bookings whose end has passed to
// completed.
func (db *DB) CompleteFinished(ctx context.Context) (int64, error) {
	now := db.Now()
	res, err := db.ExecContext(ctx,
		`UPDATE bookings SET status = ?, updated_at = ? WHERE status = ? AND end_time <= ?`,
		string(models.StatusCompleted), now, string(models.StatusConfirmed), now)
	if err != nil {
		return 0, fmt.Errorf("complete bookings: %w", err)
	}
	return res.RowsAffected()
}

// PrunePastFree deletes free intervals that have already ended.
func (db *DB) PrunePastFree(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM availability WHERE is_booked = 0 AND booking_id IS NULL AND end_time <= ?`, db.Now())
	if err != nil {
		return 0, fmt.Errorf("prune intervals: %w", err)
	}
	return res.RowsAffected()
}

// CleanupOldBookings deletes cancelled and expired bookings last touched
// before cutoff.
func (db *DB) CleanupOldBookings(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM bookings WHERE status IN (?, ?) AND updated_at < ?`,
		string(models.StatusCancelled), string(models.StatusExpired), ts(cutoff))
	if err != nil {
		return 0, fmt.Errorf("cleanup bookings: %w", err)
	}
	return res.RowsAffected()
}

// DueReminders returns confirmed bookings starting in [from, to) that were not
// reminded yet.
func (db *DB) DueReminders(ctx context.Context, from, to time.Time) ([]models.Reminder, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT b.id, u.telegram_id, s.spot_number, b.start_time
		FROM bookings b
		JOIN users u ON u.id = b.customer_id
		JOIN spots s ON s.id = b.spot_id
		WHERE b.status = ? AND b.reminder_sent = 0 AND b.start_time >= ? AND b.start_time < ?
		ORDER BY b.start_time`,
		string(models.StatusConfirmed), ts(from), ts(to),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Reminder
	for rows.Next() {
		var r models.Reminder
		if err := rows.Scan(&r.BookingID, &r.TelegramID, &r.SpotNumber, &r.Start); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) MarkReminderSent(ctx context.Context, bookingID int64) error {
	_, err := db.ExecContext(ctx, `UPDATE bookings SET reminder_sent = 1 WHERE id = ?`, bookingID)
	return err
}
