package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"parkovka/internal/models"
)

const intervalColumns = `id, spot_id, start_time, end_time, is_booked, booking_id, booked_by, created_at`

func scanInterval(r rowScanner) (*models.Interval, error) {
	var iv models.Interval
	var bookingID, bookedBy sql.NullInt64
	if err := r.Scan(&iv.ID, &iv.SpotID, &iv.Start, &iv.End, &iv.Booked, &bookingID, &bookedBy, &iv.CreatedAt); err != nil {
		return nil, err
	}
	iv.BookingID = nullInt(bookingID)
	iv.CustomerID = nullInt(bookedBy)
	return &iv, nil
}

func getInterval(ctx context.Context, q querier, id int64) (*models.Interval, error) {
	iv, err := scanInterval(q.QueryRowContext(ctx,
		`SELECT `+intervalColumns+` FROM availability WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("interval %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get interval %d: %w", id, err)
	}
	return iv, nil
}

func insertFree(ctx context.Context, q querier, spotID int64, start, end, now time.Time) (*models.Interval, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO availability (spot_id, start_time, end_time, is_booked, created_at)
		VALUES (?, ?, ?, 0, ?)`,
		spotID, start, end, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert free interval: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last id: %w", err)
	}
	return &models.Interval{ID: id, SpotID: spotID, Start: start, End: end, CreatedAt: now}, nil
}

// GetInterval returns one interval by id.
func (db *DB) GetInterval(ctx context.Context, id int64) (*models.Interval, error) {
	return getInterval(ctx, db, id)
}

// ListIntervals returns all intervals of a spot ordered by start.
func (db *DB) ListIntervals(ctx context.Context, spotID int64) ([]models.Interval, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+intervalColumns+` FROM availability WHERE spot_id = ? ORDER BY start_time, id`, spotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Interval
	for rows.Next() {
		iv, err := scanInterval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *iv)
	}
	return out, rows.Err()
}

// ListFreeIntervals returns the nearest free, future-ending intervals of
// available spots.
func (db *DB) ListFreeIntervals(ctx context.Context, limit int) ([]models.FreeSlot, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.QueryContext(ctx, `
		SELECT a.id, a.spot_id, a.start_time, a.end_time, a.is_booked, a.booking_id, a.booked_by, a.created_at,
		       s.spot_number
		FROM availability a
		JOIN spots s ON s.id = a.spot_id
		WHERE a.is_booked = 0 AND a.booking_id IS NULL AND a.end_time > ? AND s.is_available = 1
		ORDER BY a.start_time, a.id
		LIMIT ?`,
		db.Now(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FreeSlot
	for rows.Next() {
		var fs models.FreeSlot
		var bookingID, bookedBy sql.NullInt64
		if err := rows.Scan(&fs.ID, &fs.SpotID, &fs.Start, &fs.End, &fs.Booked, &bookingID, &bookedBy,
			&fs.CreatedAt, &fs.SpotNumber); err != nil {
			return nil, err
		}
		out = append(out, fs)
	}
	return out, rows.Err()
}

// CreateFree publishes a new free interval for a spot. The overlap check and
// the insert share one write transaction.
func (db *DB) CreateFree(ctx context.Context, spotID int64, start, end time.Time) (*models.Interval, error) {
	start, end = ts(start), ts(end)
	if !end.After(start) {
		return nil, models.ErrInvalidInterval
	}
	now := db.Now()
	if start.Before(now) {
		return nil, models.ErrInPast
	}

	var iv *models.Interval
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var available bool
		err := tx.QueryRowContext(ctx, `SELECT is_available FROM spots WHERE id = ?`, spotID).Scan(&available)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !available) {
			return fmt.Errorf("spot %d: %w", spotID, models.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get spot: %w", err)
		}
		overlap, err := overlaps(ctx, tx, spotID, start, end, 0, now)
		if err != nil {
			return err
		}
		if overlap {
			return fmt.Errorf("spot %d: %w", spotID, models.ErrOverlap)
		}
		iv, err = insertFree(ctx, tx, spotID, start, end, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return iv, nil
}

// CheckOverlap reports whether any future-ending interval of the spot
// overlaps [start,end). excludeID of 0 excludes nothing.
func (db *DB) CheckOverlap(ctx context.Context, spotID int64, start, end time.Time, excludeID int64) (bool, error) {
	return overlaps(ctx, db, spotID, ts(start), ts(end), excludeID, db.Now())
}

func overlaps(ctx context.Context, q querier, spotID int64, start, end time.Time, excludeID int64, now time.Time) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM availability
		WHERE spot_id = ? AND id != ? AND end_time > ?
		  AND start_time < ? AND end_time > ?`,
		spotID, excludeID, now, end, start,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check overlap: %w", err)
	}
	return count > 0, nil
}

// FreeCovering returns the free interval of the spot that contains
// [start,end). After a merge this is the row that absorbed the span.
func (db *DB) FreeCovering(ctx context.Context, spotID int64, start, end time.Time) (*models.Interval, error) {
	iv, err := scanInterval(db.QueryRowContext(ctx, `
		SELECT `+intervalColumns+` FROM availability
		WHERE spot_id = ? AND is_booked = 0 AND booking_id IS NULL
		  AND start_time <= ? AND end_time >= ?
		ORDER BY start_time, id
		LIMIT 1`,
		spotID, ts(start), ts(end),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("free interval on spot %d: %w", spotID, models.ErrNotFound)
	}
	return iv, err
}

// Reserve carves [start,end) out of a free interval in its own transaction.
func (db *DB) Reserve(ctx context.Context, intervalID, bookingID, customerID int64, start, end time.Time) (*models.CarveResult, error) {
	var carve *models.CarveResult
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		carve, err = reserveTx(ctx, tx, intervalID, bookingID, customerID, ts(start), ts(end), db.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return carve, nil
}

// reserveTx shrinks the interval to the booked body and inserts the head and
// tail remainders as free intervals. The three pieces always reconstruct the
// original span.
func reserveTx(ctx context.Context, tx *sql.Tx, intervalID, bookingID, customerID int64, start, end, now time.Time) (*models.CarveResult, error) {
	if !end.After(start) {
		return nil, models.ErrInvalidInterval
	}
	iv, err := getInterval(ctx, tx, intervalID)
	if err != nil {
		return nil, err
	}
	if iv.Booked || iv.BookingID != nil {
		return nil, models.ErrSlotTaken
	}
	if !iv.Contains(start, end) {
		return nil, models.ErrOutsideWindow
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE availability
		SET start_time = ?, end_time = ?, is_booked = 1, booking_id = ?, booked_by = ?
		WHERE id = ? AND is_booked = 0 AND booking_id IS NULL`,
		start, end, bookingID, customerID, intervalID,
	)
	if err != nil {
		return nil, fmt.Errorf("reserve interval: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, models.ErrSlotTaken
	}

	booked := *iv
	booked.Start, booked.End, booked.Booked = start, end, true
	booked.BookingID, booked.CustomerID = &bookingID, &customerID
	carve := &models.CarveResult{Booked: booked}

	if start.After(iv.Start) {
		if carve.Lead, err = insertFree(ctx, tx, iv.SpotID, iv.Start, start, now); err != nil {
			return nil, err
		}
	}
	if end.Before(iv.End) {
		if carve.Tail, err = insertFree(ctx, tx, iv.SpotID, end, iv.End, now); err != nil {
			return nil, err
		}
	}
	return carve, nil
}

// Release frees an interval with exactly [start,end), the bounds of the
// booking that held it.
func (db *DB) Release(ctx context.Context, intervalID int64, start, end time.Time) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return releaseTx(ctx, tx, intervalID, ts(start), ts(end))
	})
}

func releaseTx(ctx context.Context, tx *sql.Tx, intervalID int64, start, end time.Time) error {
	if !end.After(start) {
		return models.ErrInvalidInterval
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE availability
		SET is_booked = 0, booking_id = NULL, booked_by = NULL, start_time = ?, end_time = ?
		WHERE id = ?`,
		start, end, intervalID,
	)
	if err != nil {
		return fmt.Errorf("release interval: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("interval %d: %w", intervalID, models.ErrNotFound)
	}
	return nil
}

// MergeFree collapses touching or overlapping free intervals of a spot and
// returns how many rows were absorbed. It always runs as its own transaction.
func (db *DB) MergeFree(ctx context.Context, spotID int64) (int, error) {
	merged := 0
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, start_time, end_time FROM availability
			WHERE spot_id = ? AND is_booked = 0 AND booking_id IS NULL
			ORDER BY start_time, id`, spotID)
		if err != nil {
			return fmt.Errorf("list free: %w", err)
		}
		type span struct {
			id         int64
			start, end time.Time
		}
		var free []span
		for rows.Next() {
			var s span
			if err := rows.Scan(&s.id, &s.start, &s.end); err != nil {
				rows.Close()
				return err
			}
			free = append(free, s)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(free) < 2 {
			return nil
		}

		flush := func(s span) error {
			_, err := tx.ExecContext(ctx, `UPDATE availability SET end_time = ? WHERE id = ?`, s.end, s.id)
			return err
		}

		cur, grown := free[0], false
		for _, next := range free[1:] {
			if !next.start.After(cur.end) {
				if next.end.After(cur.end) {
					cur.end, grown = next.end, true
				}
				if _, err := tx.ExecContext(ctx, `DELETE FROM availability WHERE id = ?`, next.id); err != nil {
					return fmt.Errorf("delete merged interval: %w", err)
				}
				merged++
				continue
			}
			if grown {
				if err := flush(cur); err != nil {
					return fmt.Errorf("extend interval: %w", err)
				}
			}
			cur, grown = next, false
		}
		if grown {
			if err := flush(cur); err != nil {
				return fmt.Errorf("extend interval: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if merged > 0 {
		db.logger.Debug().Int64("spot_id", spotID).Int("merged", merged).Msg("Free intervals merged")
	}
	return merged, nil
}

// Retime moves a free interval. It returns false without mutation when the
// interval is booked, the bounds are empty, or they overlap another interval
// of the same spot.
func (db *DB) Retime(ctx context.Context, intervalID int64, start, end time.Time) (bool, error) {
	start, end = ts(start), ts(end)
	if !end.After(start) {
		return false, nil
	}
	ok := false
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		iv, err := getInterval(ctx, tx, intervalID)
		if err != nil {
			return err
		}
		if iv.Booked || iv.BookingID != nil {
			return nil
		}
		var count int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM availability
			WHERE spot_id = ? AND id != ? AND NOT (end_time <= ? OR start_time >= ?)`,
			iv.SpotID, intervalID, start, end,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("check overlap: %w", err)
		}
		if count > 0 {
			return nil
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE availability SET start_time = ?, end_time = ?
			WHERE id = ? AND is_booked = 0 AND booking_id IS NULL`,
			start, end, intervalID,
		)
		if err != nil {
			return fmt.Errorf("retime interval: %w", err)
		}
		n, _ := res.RowsAffected()
		ok = n > 0
		return nil
	})
	return ok, err
}

// Remove deletes a free interval. Booked intervals are kept and false is
// returned.
func (db *DB) Remove(ctx context.Context, intervalID int64) (bool, error) {
	if _, err := getInterval(ctx, db, intervalID); err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx,
		`DELETE FROM availability WHERE id = ? AND is_booked = 0 AND booking_id IS NULL`, intervalID)
	if err != nil {
		return false, fmt.Errorf("delete interval: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Toggle flips the booked flag of an interval without a booking and returns
// the new state.
func (db *DB) Toggle(ctx context.Context, intervalID int64) (bool, error) {
	var booked bool
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		iv, err := getInterval(ctx, tx, intervalID)
		if err != nil {
			return err
		}
		if iv.BookingID != nil {
			return models.ErrBlocked
		}
		booked = !iv.Booked
		_, err = tx.ExecContext(ctx,
			`UPDATE availability SET is_booked = ?, booked_by = NULL WHERE id = ? AND booking_id IS NULL`,
			booked, intervalID)
		if err != nil {
			return fmt.Errorf("toggle interval: %w", err)
		}
		return nil
	})
	return booked, err
}
