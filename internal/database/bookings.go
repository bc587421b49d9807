package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

const bookingColumns = `id, salon_id, service_id, staff_id, user_id, date, time, slot_at, price,
	status, payment_method, payment_date, card_last_four, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (db *DB) scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b           models.Booking
		slotKey     string
		paymentDate sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.SalonID, &b.ServiceID, &b.StaffID, &b.UserID, &b.Date, &b.Time, &slotKey, &b.Price,
		&b.Status, &b.PaymentMethod, &paymentDate, &b.CardLastFour, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	b.SlotAt, err = models.ParseSlotKey(slotKey, db.loc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse slot %s: %w", slotKey, err)
	}
	if paymentDate.Valid {
		d := paymentDate.Time
		b.PaymentDate = &d
	}
	return &b, nil
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...interface{}) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	bookings := make([]*models.Booking, 0)
	for rows.Next() {
		b, err := db.scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func (db *DB) ensureSlot(b *models.Booking) error {
	if b.SlotAt.IsZero() {
		at, err := models.ParseSlot(b.Date, b.Time, db.loc)
		if err != nil {
			return domain.Invalid("date", "%v", err)
		}
		b.SetSlot(at)
		return nil
	}
	b.SetSlot(b.SlotAt)
	return nil
}

// CreateBooking inserts a booking inside a transaction. The partial unique index
// on (staff_id, slot_at) rejects a second active booking for the same slot.
// Replaying a create for an existing id with the same slot returns the stored row.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if err := db.ensureSlot(booking); err != nil {
		return err
	}
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	booking.Status = models.NormalizeStatus(booking.Status)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	existing, err := db.scanBooking(tx.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, booking.ID))
	switch {
	case err == nil:
		if existing.StaffID == booking.StaffID && models.SameSlot(existing.SlotAt, booking.SlotAt) {
			*booking = *existing
			return nil
		}
		return fmt.Errorf("%w: booking %s already exists", domain.ErrConcurrentModification, booking.ID)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to check booking id in tx: %w", err)
	}

	now := time.Now()
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = now
	booking.Version = 1

	query := `INSERT INTO bookings (` + bookingColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		booking.ID,
		booking.SalonID,
		booking.ServiceID,
		booking.StaffID,
		booking.UserID,
		booking.Date,
		booking.Time,
		models.SlotKey(booking.SlotAt),
		booking.Price,
		booking.Status,
		booking.PaymentMethod,
		booking.PaymentDate,
		booking.CardLastFour,
		booking.CreatedAt,
		booking.UpdatedAt,
		booking.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSlotTaken
		}
		return fmt.Errorf("failed to insert booking in tx: %w", err)
	}

	return tx.Commit()
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := db.scanBooking(db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// UpdateBooking writes every mutable field in one conditional statement,
// so a status flip and its payment fields land together or not at all.
func (db *DB) UpdateBooking(ctx context.Context, booking *models.Booking, fromVersion int64) error {
	if err := db.ensureSlot(booking); err != nil {
		return err
	}

	query := `UPDATE bookings SET salon_id = ?, service_id = ?, staff_id = ?, user_id = ?, date = ?, time = ?,
                slot_at = ?, price = ?, status = ?, payment_method = ?, payment_date = ?, card_last_four = ?,
                updated_at = ?, version = version + 1
              WHERE id = ? AND version = ?`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		booking.SalonID,
		booking.ServiceID,
		booking.StaffID,
		booking.UserID,
		booking.Date,
		booking.Time,
		models.SlotKey(booking.SlotAt),
		booking.Price,
		booking.Status,
		booking.PaymentMethod,
		booking.PaymentDate,
		booking.CardLastFour,
		now,
		booking.ID,
		fromVersion,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSlotTaken
		}
		return fmt.Errorf("failed to update booking: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := db.GetBooking(ctx, booking.ID); err != nil {
			return err
		}
		return domain.ErrConcurrentModification
	}

	booking.Version = fromVersion + 1
	booking.UpdatedAt = now
	return nil
}

func (db *DB) DeleteBooking(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (db *DB) ListSalonBookings(ctx context.Context, salonID string) ([]*models.Booking, error) {
	return db.queryBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE salon_id = ? ORDER BY slot_at ASC`, salonID)
}

func (db *DB) ListUserBookings(ctx context.Context, userID string) ([]*models.Booking, error) {
	return db.queryBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE user_id = ? ORDER BY slot_at DESC`, userID)
}

// ListSlotBookings returns the non-cancelled bookings of a salon, narrowed to a
// staff member and a day when those are given.
func (db *DB) ListSlotBookings(ctx context.Context, salonID, staffID string, day time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE salon_id = ? AND status <> ?`
	args := []interface{}{salonID, models.StatusCancelled}
	if staffID != "" {
		query += ` AND staff_id = ?`
		args = append(args, staffID)
	}
	if !day.IsZero() {
		query += ` AND date = ?`
		args = append(args, day.Format(models.DateLayout))
	}
	query += ` ORDER BY slot_at ASC`
	return db.queryBookings(ctx, query, args...)
}
