package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"
)

// SyncCatalog upserts the catalog in a single transaction and refreshes the cache.
func (db *DB) SyncCatalog(ctx context.Context, catalog *models.Catalog) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, s := range catalog.Salons {
		_, err := tx.ExecContext(ctx, `INSERT INTO salons (id, name, address, phone, is_active, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET name = excluded.name, address = excluded.address,
                phone = excluded.phone, is_active = excluded.is_active, updated_at = excluded.updated_at`,
			s.ID, s.Name, s.Address, s.Phone, s.IsActive, now, now)
		if err != nil {
			return fmt.Errorf("failed to upsert salon %s: %w", s.ID, err)
		}
	}
	for _, s := range catalog.Services {
		_, err := tx.ExecContext(ctx, `INSERT INTO services (id, salon_id, name, price, duration_minutes, sort_order, is_active)
              VALUES (?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET salon_id = excluded.salon_id, name = excluded.name, price = excluded.price,
                duration_minutes = excluded.duration_minutes, sort_order = excluded.sort_order, is_active = excluded.is_active`,
			s.ID, s.SalonID, s.Name, s.Price, s.DurationMinutes, s.SortOrder, s.IsActive)
		if err != nil {
			return fmt.Errorf("failed to upsert service %s: %w", s.ID, err)
		}
	}
	for _, s := range catalog.Staff {
		_, err := tx.ExecContext(ctx, `INSERT INTO staff (id, salon_id, name, position, specialty, is_active)
              VALUES (?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET salon_id = excluded.salon_id, name = excluded.name,
                position = excluded.position, specialty = excluded.specialty, is_active = excluded.is_active`,
			s.ID, s.SalonID, s.Name, s.Position, s.Specialty, s.IsActive)
		if err != nil {
			return fmt.Errorf("failed to upsert staff %s: %w", s.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit catalog: %w", err)
	}

	db.mu.Lock()
	for _, s := range catalog.Salons {
		db.salons[s.ID] = s
	}
	for _, s := range catalog.Services {
		db.services[s.ID] = s
	}
	for _, s := range catalog.Staff {
		db.staff[s.ID] = s
	}
	db.mu.Unlock()

	db.logger.Info().
		Int("salons", len(catalog.Salons)).
		Int("services", len(catalog.Services)).
		Int("staff", len(catalog.Staff)).
		Msg("Catalog synced")
	return nil
}

func (db *DB) GetSalon(ctx context.Context, id string) (*models.Salon, error) {
	db.mu.RLock()
	s, ok := db.salons[id]
	db.mu.RUnlock()
	if ok {
		return &s, nil
	}

	err := db.QueryRowContext(ctx,
		`SELECT id, name, address, phone, is_active, created_at, updated_at FROM salons WHERE id = ?`, id,
	).Scan(&s.ID, &s.Name, &s.Address, &s.Phone, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: salon %s", domain.ErrCatalogNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get salon: %w", err)
	}
	return &s, nil
}

func (db *DB) GetService(ctx context.Context, id string) (*models.Service, error) {
	db.mu.RLock()
	s, ok := db.services[id]
	db.mu.RUnlock()
	if ok {
		return &s, nil
	}

	err := db.QueryRowContext(ctx,
		`SELECT id, salon_id, name, price, duration_minutes, sort_order, is_active FROM services WHERE id = ?`, id,
	).Scan(&s.ID, &s.SalonID, &s.Name, &s.Price, &s.DurationMinutes, &s.SortOrder, &s.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: service %s", domain.ErrCatalogNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return &s, nil
}

func (db *DB) GetStaff(ctx context.Context, id string) (*models.Staff, error) {
	db.mu.RLock()
	s, ok := db.staff[id]
	db.mu.RUnlock()
	if ok {
		return &s, nil
	}

	err := db.QueryRowContext(ctx,
		`SELECT id, salon_id, name, position, specialty, is_active FROM staff WHERE id = ?`, id,
	).Scan(&s.ID, &s.SalonID, &s.Name, &s.Position, &s.Specialty, &s.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: staff %s", domain.ErrCatalogNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get staff: %w", err)
	}
	return &s, nil
}

func (db *DB) ListServices(ctx context.Context, salonID string) ([]models.Service, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, salon_id, name, price, duration_minutes, sort_order, is_active
         FROM services WHERE salon_id = ? AND is_active = 1 ORDER BY sort_order, id`, salonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var services []models.Service
	for rows.Next() {
		var s models.Service
		if err := rows.Scan(&s.ID, &s.SalonID, &s.Name, &s.Price, &s.DurationMinutes, &s.SortOrder, &s.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		services = append(services, s)
	}
	return services, rows.Err()
}

func (db *DB) ListStaff(ctx context.Context, salonID string) ([]models.Staff, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, salon_id, name, position, specialty, is_active
         FROM staff WHERE salon_id = ? AND is_active = 1 ORDER BY name, id`, salonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list staff: %w", err)
	}
	defer rows.Close()

	var staff []models.Staff
	for rows.Next() {
		var s models.Staff
		if err := rows.Scan(&s.ID, &s.SalonID, &s.Name, &s.Position, &s.Specialty, &s.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan staff: %w", err)
		}
		staff = append(staff, s)
	}
	return staff, rows.Err()
}
