package database

import (
	"context"
	"database/sql"
	"fmt"

	"parkovka/internal/models"
)

// ExportTableNames are the tables included in spreadsheet exports.
var ExportTableNames = []string{
	"spots",
	"availability",
	"bookings",
	"reviews",
	"admin_logs",
}

// LogAdminAction appends an audit record.
func (db *DB) LogAdminAction(ctx context.Context, adminID int64, action string, bookingID *int64, details string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO admin_logs (admin_id, action, booking_id, details, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		adminID, action, bookingID, details, db.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert admin log: %w", err)
	}
	return nil
}

// ListAdminLogs returns the newest audit records first.
func (db *DB) ListAdminLogs(ctx context.Context, limit int) ([]models.AdminLog, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, admin_id, action, booking_id, details, created_at
		FROM admin_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AdminLog
	for rows.Next() {
		var l models.AdminLog
		var bookingID sql.NullInt64
		if err := rows.Scan(&l.ID, &l.AdminID, &l.Action, &bookingID, &l.Details, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.BookingID = nullInt(bookingID)
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetStats aggregates booking counts per status and earned revenue.
func (db *DB) GetStats(ctx context.Context) (*models.Stats, error) {
	st := &models.Stats{ByStatus: make(map[models.Status]int)}

	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM bookings GROUP BY status`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, err
		}
		st.ByStatus[models.Status(status)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_price), 0) FROM bookings WHERE status IN (?, ?)`,
		string(models.StatusConfirmed), string(models.StatusCompleted),
	).Scan(&st.Revenue)
	if err != nil {
		return nil, err
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spots WHERE is_available = 1`).Scan(&st.Spots); err != nil {
		return nil, err
	}
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM availability WHERE is_booked = 0 AND end_time > ?`, db.Now()).Scan(&st.FreeIntervals); err != nil {
		return nil, err
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&st.Users); err != nil {
		return nil, err
	}
	return st, nil
}

// GetTableNames returns list of table names to export.
func (db *DB) GetTableNames(_ context.Context) ([]string, error) {
	return ExportTableNames, nil
}

// GetTableData returns all rows from an exportable table as maps.
func (db *DB) GetTableData(ctx context.Context, tableName string) (data []map[string]any, columns []string, err error) {
	validTable := false
	for _, t := range ExportTableNames {
		if t == tableName {
			validTable = true
			break
		}
	}
	if !validTable {
		return nil, nil, fmt.Errorf("invalid table name: %s", tableName)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, nil, err
	}
	for rows.Next() {
		var cid, notNull, pk int
		var name, typeName string
		var dfltValue sql.NullString
		if err = rows.Scan(&cid, &name, &typeName, &notNull, &dfltValue, &pk); err != nil {
			rows.Close()
			return nil, nil, err
		}
		columns = append(columns, name)
	}
	rows.Close()

	if len(columns) == 0 {
		return nil, nil, fmt.Errorf("table %s has no columns", tableName)
	}

	dataRows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY id", tableName))
	if err != nil {
		return nil, nil, err
	}
	defer dataRows.Close()

	for dataRows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err = dataRows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		data = append(data, row)
	}
	return data, columns, dataRows.Err()
}
