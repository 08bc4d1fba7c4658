package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"parkovka/internal/models"
)

const userColumns = `id, telegram_id, username, full_name, created_at`

func scanUser(r rowScanner) (*models.User, error) {
	var u models.User
	if err := r.Scan(&u.ID, &u.TelegramID, &u.Username, &u.FullName, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (db *DB) getUserWhere(ctx context.Context, where string, arg any) (*models.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user: %w", models.ErrNotFound)
	}
	return u, err
}

// EnsureUser registers a Telegram user or refreshes their names.
func (db *DB) EnsureUser(ctx context.Context, telegramID int64, username, fullName string) (*models.User, error) {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (telegram_id, username, full_name, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(telegram_id) DO UPDATE SET username = excluded.username, full_name = excluded.full_name`,
		telegramID, username, fullName, db.Now(),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return db.GetUserByTelegramID(ctx, telegramID)
}

func (db *DB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return db.getUserWhere(ctx, "id = ?", id)
}

func (db *DB) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	return db.getUserWhere(ctx, "telegram_id = ?", telegramID)
}

// BanUser blacklists a user until the given time; a nil until bans forever.
func (db *DB) BanUser(ctx context.Context, userID int64, until *time.Time, reason string, bannedBy int64) error {
	var untilArg any
	if until != nil {
		untilArg = ts(*until)
	}
	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO blacklist (user_id, reason, banned_until, banned_by, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		userID, reason, untilArg, bannedBy, db.Now(),
	)
	return err
}

func (db *DB) UnbanUser(ctx context.Context, userID int64) error {
	_, err := db.ExecContext(ctx, `DELETE FROM blacklist WHERE user_id = ?`, userID)
	return err
}

// IsBanned reports whether a ban is currently in force.
func (db *DB) IsBanned(ctx context.Context, userID int64) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM blacklist
		WHERE user_id = ? AND (banned_until IS NULL OR banned_until > ?)`,
		userID, db.Now(),
	).Scan(&count)
	return count > 0, err
}

// AutoUnban lifts bans whose term has ended.
func (db *DB) AutoUnban(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM blacklist WHERE banned_until IS NOT NULL AND banned_until <= ?`, db.Now())
	if err != nil {
		return 0, fmt.Errorf("auto unban: %w", err)
	}
	return res.RowsAffected()
}
