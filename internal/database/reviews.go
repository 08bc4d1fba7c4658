package database

import (
	"context"
	"database/sql"
	"fmt"

	"parkovka/internal/models"
)

// AddReview stores the customer's single review of a completed booking.
func (db *DB) AddReview(ctx context.Context, bookingID, customerID int64, rating int, comment string) (*models.Review, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("rating %d must be between 1 and 5", rating)
	}
	var review *models.Review
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		b, err := getBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if b.CustomerID != customerID {
			return fmt.Errorf("booking %d of customer %d: %w", bookingID, customerID, models.ErrNotFound)
		}
		if b.Status != models.StatusCompleted || b.Reviewed {
			return fmt.Errorf("%w: booking %d cannot be reviewed", models.ErrInvalidTransition, bookingID)
		}

		now := db.Now()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO reviews (booking_id, customer_id, spot_id, rating, comment, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			bookingID, customerID, b.SpotID, rating, comment, now,
		)
		if err != nil {
			return fmt.Errorf("insert review: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE bookings SET reviewed = 1 WHERE id = ?`, bookingID); err != nil {
			return fmt.Errorf("mark reviewed: %w", err)
		}
		review = &models.Review{
			ID:         id,
			BookingID:  bookingID,
			CustomerID: customerID,
			SpotID:     b.SpotID,
			Rating:     rating,
			Comment:    comment,
			CreatedAt:  now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return review, nil
}

// SpotRating returns the average rating and review count of a spot.
func (db *DB) SpotRating(ctx context.Context, spotID int64) (avg float64, count int, err error) {
	err = db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(rating), 0), COUNT(*) FROM reviews WHERE spot_id = ?`, spotID,
	).Scan(&avg, &count)
	return avg, count, err
}
