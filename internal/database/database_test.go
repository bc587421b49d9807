package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"salonbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	db.SetLocation(time.UTC)
	return db
}

func testCatalog() *models.Catalog {
	return &models.Catalog{
		Salons: []models.Salon{
			{ID: "salon-1", Name: "Glow", IsActive: true},
			{ID: "salon-2", Name: "Shine", IsActive: true},
		},
		Services: []models.Service{
			{ID: "svc-cut", SalonID: "salon-1", Name: "Haircut", Price: 25000, DurationMinutes: 30, IsActive: true},
			{ID: "svc-color", SalonID: "salon-1", Name: "Coloring", Price: 60000, DurationMinutes: 90, SortOrder: 1, IsActive: true},
		},
		Staff: []models.Staff{
			{ID: "staff-a", SalonID: "salon-1", Name: "Anu", Position: "Stylist", IsActive: true},
			{ID: "staff-b", SalonID: "salon-1", Name: "Bold", Position: "Colorist", IsActive: true},
		},
	}
}

func newBooking(id, staffID string, at time.Time) *models.Booking {
	b := &models.Booking{
		ID:        id,
		SalonID:   "salon-1",
		ServiceID: "svc-cut",
		StaffID:   staffID,
		UserID:    "user-1",
		Price:     25000,
		Status:    models.StatusPending,
	}
	b.SetSlot(at)
	return b
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
}

func TestNewDB_SchemaIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "twice.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.PingContext(context.Background()))
}

func TestNewDB_InvalidDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	logger := zerolog.Nop()
	_, err := NewDB(filepath.Join(file, "sub", "db.sqlite"), &logger)
	assert.Error(t, err)
}
