package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB wraps the sqlite handle shared by the interval store and the booking
// state machine.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
	now    func() time.Time
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// NewDB opens the database file, applies pragmas and creates the schema.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL + busy timeout; BEGIN IMMEDIATE so writers queue instead of racing
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate&_loc=UTC"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	instance := &DB{
		DB:     db,
		path:   path,
		logger: logger,
		now:    time.Now,
	}

	if err := instance.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

// SetClock replaces the time source used for "now" comparisons.
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

// Now returns the current time in UTC, truncated to the stored precision.
func (db *DB) Now() time.Time {
	return ts(db.now())
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			telegram_id INTEGER UNIQUE NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			full_name TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS spots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			supplier_id INTEGER NOT NULL,
			spot_number TEXT NOT NULL,
			address TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price_per_hour INTEGER NOT NULL DEFAULT 0,
			is_available BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (supplier_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS availability (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			spot_id INTEGER NOT NULL,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			is_booked BOOLEAN NOT NULL DEFAULT 0,
			booked_by INTEGER,
			booking_id INTEGER,
			created_at DATETIME NOT NULL,
			CHECK (end_time > start_time),
			FOREIGN KEY (spot_id) REFERENCES spots(id)
		)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			customer_id INTEGER NOT NULL,
			spot_id INTEGER NOT NULL,
			availability_id INTEGER NOT NULL,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			total_price INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending'
				CHECK (status IN ('pending','paid_wait_admin','confirmed','cancelled','expired','completed')),
			reviewed BOOLEAN NOT NULL DEFAULT 0,
			reminder_sent BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (customer_id) REFERENCES users(id),
			FOREIGN KEY (spot_id) REFERENCES spots(id)
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			spot_id INTEGER,
			date_from TEXT,
			date_to TEXT,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS blacklist (
			user_id INTEGER PRIMARY KEY,
			reason TEXT NOT NULL DEFAULT '',
			banned_until DATETIME,
			banned_by INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reviews (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			booking_id INTEGER UNIQUE NOT NULL,
			customer_id INTEGER NOT NULL,
			spot_id INTEGER NOT NULL,
			rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
			comment TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS admin_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			admin_id INTEGER NOT NULL,
			action TEXT NOT NULL,
			booking_id INTEGER,
			details TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_availability_spot ON availability(spot_id, start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_availability_free ON availability(is_booked, end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_customer ON bookings(customer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_spot ON bookings(spot_id)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_active ON subscriptions(is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_admin_logs_created ON admin_logs(created_at)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(q string) string {
	q = strings.Join(strings.Fields(q), " ")
	if len(q) > 60 {
		return q[:60] + "..."
	}
	return q
}

// withTx runs fn inside one transaction and commits when fn succeeds.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ts normalizes a time to the stored representation: UTC, whole seconds.
func ts(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	x := v.Int64
	return &x
}

func (db *DB) Close() error {
	return db.DB.Close()
}
