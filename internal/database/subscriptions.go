package database

import (
	"context"
	"database/sql"
	"fmt"

	"parkovka/internal/models"
)

// CreateSubscription stores a standing availability request.
func (db *DB) CreateSubscription(ctx context.Context, userID int64, spotID *int64, dateFrom, dateTo *string) (*models.Subscription, error) {
	now := db.Now()
	res, err := db.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, spot_id, date_from, date_to, is_active, created_at)
		VALUES (?, ?, ?, ?, 1, ?)`,
		userID, spotID, dateFrom, dateTo, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Subscription{
		ID:        id,
		UserID:    userID,
		SpotID:    spotID,
		DateFrom:  dateFrom,
		DateTo:    dateTo,
		IsActive:  true,
		CreatedAt: now,
	}, nil
}

// MatchSubscriptions returns active subscriptions interested in a spot whose
// date range intersects [fromDate, toDate] (YYYY-MM-DD, inclusive).
func (db *DB) MatchSubscriptions(ctx context.Context, spotID int64, fromDate, toDate string) ([]models.Subscription, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.id, s.user_id, u.telegram_id, s.spot_id, s.date_from, s.date_to, s.is_active, s.created_at
		FROM subscriptions s
		JOIN users u ON u.id = s.user_id
		WHERE s.is_active = 1
		  AND (s.spot_id IS NULL OR s.spot_id = ?)
		  AND (s.date_from IS NULL OR s.date_from <= ?)
		  AND (s.date_to IS NULL OR s.date_to >= ?)
		ORDER BY s.id`,
		spotID, toDate, fromDate,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListSubscriptions returns the active subscriptions of a user.
func (db *DB) ListSubscriptions(ctx context.Context, userID int64) ([]models.Subscription, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.id, s.user_id, u.telegram_id, s.spot_id, s.date_from, s.date_to, s.is_active, s.created_at
		FROM subscriptions s
		JOIN users u ON u.id = s.user_id
		WHERE s.user_id = ? AND s.is_active = 1
		ORDER BY s.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func scanSubscriptions(rows *sql.Rows) ([]models.Subscription, error) {
	var out []models.Subscription
	for rows.Next() {
		var s models.Subscription
		var spotID sql.NullInt64
		var from, to sql.NullString
		if err := rows.Scan(&s.ID, &s.UserID, &s.TelegramID, &spotID, &from, &to, &s.IsActive, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.SpotID = nullInt(spotID)
		if from.Valid {
			s.DateFrom = &from.String
		}
		if to.Valid {
			s.DateTo = &to.String
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (db *DB) DeactivateSubscription(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, `UPDATE subscriptions SET is_active = 0 WHERE id = ?`, id)
	return err
}

// DeactivateStaleSubscriptions switches off subscriptions whose range ended
// before the given date (YYYY-MM-DD).
func (db *DB) DeactivateStaleSubscriptions(ctx context.Context, before string) (int64, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE subscriptions SET is_active = 0 WHERE is_active = 1 AND date_to IS NOT NULL AND date_to < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("deactivate subscriptions: %w", err)
	}
	return res.RowsAffected()
}
