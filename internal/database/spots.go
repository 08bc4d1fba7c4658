package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"parkovka/internal/models"
)

const spotColumns = `id, supplier_id, spot_number, address, description, price_per_hour, is_available, created_at`

func scanSpot(r rowScanner) (*models.Spot, error) {
	var s models.Spot
	if err := r.Scan(&s.ID, &s.SupplierID, &s.Number, &s.Address, &s.Description,
		&s.PricePerHour, &s.IsAvailable, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSpot stores a new spot and fills its id.
func (db *DB) CreateSpot(ctx context.Context, s *models.Spot) error {
	s.CreatedAt = db.Now()
	s.IsAvailable = true
	res, err := db.ExecContext(ctx, `
		INSERT INTO spots (supplier_id, spot_number, address, description, price_per_hour, is_available, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)`,
		s.SupplierID, s.Number, s.Address, s.Description, s.PricePerHour, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert spot: %w", err)
	}
	s.ID, err = res.LastInsertId()
	return err
}

func (db *DB) GetSpot(ctx context.Context, id int64) (*models.Spot, error) {
	s, err := scanSpot(db.QueryRowContext(ctx, `SELECT `+spotColumns+` FROM spots WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("spot %d: %w", id, models.ErrNotFound)
	}
	return s, err
}

func (db *DB) ListSpots(ctx context.Context, onlyAvailable bool) ([]models.Spot, error) {
	query := `SELECT ` + spotColumns + ` FROM spots`
	if onlyAvailable {
		query += ` WHERE is_available = 1`
	}
	rows, err := db.QueryContext(ctx, query+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Spot
	for rows.Next() {
		s, err := scanSpot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// SetSpotAvailable soft-deletes or restores a spot.
func (db *DB) SetSpotAvailable(ctx context.Context, id int64, available bool) error {
	res, err := db.ExecContext(ctx, `UPDATE spots SET is_available = ? WHERE id = ?`, available, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("spot %d: %w", id, models.ErrNotFound)
	}
	return nil
}
