package export

import (
	"bytes"
	"testing"
	"time"

	"salonbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteBookings(t *testing.T) {
	paid := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	confirmed := &models.Booking{ID: "b1", StaffID: "s1", ServiceID: "svc-cut", UserID: "u1", Price: 35000,
		Status: models.StatusConfirmed, PaymentMethod: models.PaymentMethodCard, PaymentDate: &paid, CardLastFour: "4242"}
	confirmed.SetSlot(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	cancelled := &models.Booking{ID: "b2", StaffID: "s2", ServiceID: "svc-cut", UserID: "u2", Price: 20000,
		Status: models.StatusCancelled}
	cancelled.SetSlot(time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC))

	var buf bytes.Buffer
	names := Names{Staff: map[string]string{"s1": "Anu"}, Services: map[string]string{"svc-cut": "Haircut"}}
	err := WriteBookings(&buf, "Glow", []*models.Booking{confirmed, cancelled}, names, paid)
	require.NoError(t, err)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{bookingsSheet, summarySheet}, f.GetSheetList())

	rows, err := f.GetRows(bookingsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, []string{"b1", "2025-06-01", "10:00 AM", "Anu", "Haircut", "u1", "35000", "confirmed", "card", "2025-06-01 09:30", "4242"}, rows[1][:11])
	assert.Equal(t, "s2", rows[2][3], "unknown staff falls back to the id")

	revenue, err := f.GetCellValue(summarySheet, "B8")
	require.NoError(t, err)
	assert.Equal(t, "35000", revenue)
	cancelledCount, err := f.GetCellValue(summarySheet, "B7")
	require.NoError(t, err)
	assert.Equal(t, "1", cancelledCount)
}

func TestWriteBookings_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteBookings(&buf, "Empty", nil, Names{}, time.Now()))
	assert.NotZero(t, buf.Len())
}
