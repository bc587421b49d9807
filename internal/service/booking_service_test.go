package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"salonbook/internal/availability"
	"salonbook/internal/database"
	"salonbook/internal/domain"
	"salonbook/internal/events"
	"salonbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 5, 20, 8, 0, 0, 0, time.UTC)

type recordingWorker struct {
	mu    sync.Mutex
	tasks []string
}

func (w *recordingWorker) EnqueueTask(ctx context.Context, taskType string, booking *models.Booking) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tasks = append(w.tasks, taskType+":"+booking.ID)
	return nil
}

type harness struct {
	svc    *BookingService
	db     *database.DB
	worker *recordingWorker
	events []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetLocation(time.UTC)

	require.NoError(t, db.SyncCatalog(context.Background(), &models.Catalog{
		Salons: []models.Salon{{ID: "salon-1", Name: "Glow", IsActive: true}, {ID: "salon-2", Name: "Shine", IsActive: true}},
		Services: []models.Service{
			{ID: "svc-cut", SalonID: "salon-1", Name: "Haircut", Price: 25000, DurationMinutes: 30, IsActive: true},
			{ID: "svc-other", SalonID: "salon-2", Name: "Nails", Price: 15000, DurationMinutes: 30, IsActive: true},
		},
		Staff: []models.Staff{
			{ID: "s1", SalonID: "salon-1", Name: "Anu", IsActive: true},
			{ID: "s2", SalonID: "salon-1", Name: "Bold", IsActive: true},
			{ID: "s9", SalonID: "salon-2", Name: "Dulmaa", IsActive: true},
		},
	}))

	h := &harness{db: db, worker: &recordingWorker{}}
	bus := events.NewEventBus()
	bus.SubscribeAll(events.BookingEvents, func(e *events.Event) error {
		h.events = append(h.events, e.Type)
		return nil
	})

	hours, err := availability.ParseWorkingHours("09:00", "18:00", 60)
	require.NoError(t, err)
	h.svc = NewBookingService(db, db, bus, h.worker, Options{
		MaxBookingDays: 90,
		Location:       time.UTC,
		Hours:          hours,
	}, &logger)
	h.svc.now = func() time.Time { return testNow }
	return h
}

func draft(staffID, date, clock string) *models.Booking {
	return &models.Booking{
		SalonID:   "salon-1",
		ServiceID: "svc-cut",
		StaffID:   staffID,
		UserID:    "user-1",
		Date:      date,
		Time:      clock,
		Price:     35000,
		Status:    models.StatusBooked,
	}
}

func TestCreateBooking_RoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b := draft("s1", "2025-06-01", "10:00 AM")
	require.NoError(t, h.svc.CreateBooking(ctx, b))
	require.NotEmpty(t, b.ID)

	got, err := h.svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(35000), got.Price)
	assert.Equal(t, "2025-06-01", got.Date)
	assert.Equal(t, "10:00 AM", got.Time)
	assert.Equal(t, "s1", got.StaffID)
	assert.Equal(t, "svc-cut", got.ServiceID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.False(t, got.Paid())

	assert.Equal(t, []string{events.EventBookingCreated}, h.events)
	assert.Equal(t, []string{models.SyncTaskUpsert + ":" + b.ID}, h.worker.tasks)
}

func TestCreateBooking_PriceFromCatalog(t *testing.T) {
	h := newHarness(t)
	b := draft("s1", "2025-06-01", "11:00 AM")
	b.Price = 0
	require.NoError(t, h.svc.CreateBooking(context.Background(), b))
	assert.Equal(t, int64(25000), b.Price)
}

func TestCreateBooking_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(b *models.Booking)
		field  string
	}{
		{"MissingSalon", func(b *models.Booking) { b.SalonID = "" }, "salonId"},
		{"MissingService", func(b *models.Booking) { b.ServiceID = "" }, "serviceId"},
		{"MissingStaff", func(b *models.Booking) { b.StaffID = "" }, "staffId"},
		{"MissingUser", func(b *models.Booking) { b.UserID = "" }, "userId"},
		{"MissingTime", func(b *models.Booking) { b.Time = "" }, "time"},
		{"BadDate", func(b *models.Booking) { b.Date = "someday" }, "date"},
		{"NegativePrice", func(b *models.Booking) { b.Price = -1 }, "price"},
		{"AlreadyConfirmed", func(b *models.Booking) { b.Status = models.StatusConfirmed }, "status"},
		{"UnknownSalon", func(b *models.Booking) { b.SalonID = "salon-x" }, "salonId"},
		{"ServiceOfOtherSalon", func(b *models.Booking) { b.ServiceID = "svc-other" }, "serviceId"},
		{"StaffOfOtherSalon", func(b *models.Booking) { b.StaffID = "s9" }, "staffId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := draft("s1", "2025-06-01", "10:00 AM")
			tt.mutate(b)
			err := h.svc.CreateBooking(ctx, b)
			require.ErrorIs(t, err, domain.ErrValidation)
			var ve *domain.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	list, err := h.svc.ListSalonBookings(ctx, "salon-1")
	require.NoError(t, err)
	assert.Empty(t, list, "validation failures must not write")
	assert.Empty(t, h.events)
}

func TestCreateBooking_AnonymousAllowed(t *testing.T) {
	h := newHarness(t)
	h.svc.allowAnonymous = true
	b := draft("s1", "2025-06-01", "10:00 AM")
	b.UserID = ""
	assert.NoError(t, h.svc.CreateBooking(context.Background(), b))
}

func TestCreateBooking_SlotWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.svc.CreateBooking(ctx, draft("s1", "2025-05-19", "10:00 AM")), domain.ErrPastSlot)
	assert.ErrorIs(t, h.svc.CreateBooking(ctx, draft("s1", "2025-05-20", "7:30 AM")), domain.ErrPastSlot)
	assert.ErrorIs(t, h.svc.CreateBooking(ctx, draft("s1", "2025-12-01", "10:00 AM")), domain.ErrSlotTooFar)
}

func TestCreateBooking_DoubleBookingRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.CreateBooking(ctx, draft("s1", "2025-06-01", "10:00 AM")))

	second := draft("s1", "June 1, 2025", "10:00am")
	second.UserID = "user-2"
	assert.ErrorIs(t, h.svc.CreateBooking(ctx, second), domain.ErrSlotTaken)

	other := draft("s2", "2025-06-01", "10:00 AM")
	assert.NoError(t, h.svc.CreateBooking(ctx, other), "another staff member is free at the same time")
}

func TestCreateBooking_ReplayIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := draft("s1", "2025-06-01", "10:00 AM")
	first.ID = "client-id-1"
	require.NoError(t, h.svc.CreateBooking(ctx, first))

	again := draft("s1", "2025-06-01", "10:00 AM")
	again.ID = "client-id-1"
	require.NoError(t, h.svc.CreateBooking(ctx, again))
	assert.Equal(t, first.Version, again.Version)
	assert.Len(t, h.events, 1)

	moved := draft("s1", "2025-06-01", "11:00 AM")
	moved.ID = "client-id-1"
	assert.ErrorIs(t, h.svc.CreateBooking(ctx, moved), domain.ErrConcurrentModification)
}

func TestCancelThenSlotIsFree(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	b := draft("s1", "2025-06-01", "10:00 AM")
	require.NoError(t, h.svc.CreateBooking(ctx, b))

	free, err := h.svc.FreeTimes(ctx, "salon-1", "s1", day)
	require.NoError(t, err)
	assert.NotContains(t, free, day.Add(10*time.Hour))

	cancelled, err := h.svc.CancelBooking(ctx, b.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	free, err = h.svc.FreeTimes(ctx, "salon-1", "s1", day)
	require.NoError(t, err)
	assert.Contains(t, free, day.Add(10*time.Hour))

	require.NoError(t, h.svc.CreateBooking(ctx, draft("s1", "2025-06-01", "10:00 AM")))
}

func TestLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b := draft("s1", "2025-06-01", "10:00 AM")
	require.NoError(t, h.svc.CreateBooking(ctx, b))

	_, err := h.svc.CompleteBooking(ctx, b.ID, "staff")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "pending cannot be completed")

	paidAt := testNow.Add(time.Minute)
	paid, err := h.svc.ConfirmPayment(ctx, b.ID, models.Payment{Method: models.PaymentMethodQPay, Date: paidAt})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, paid.Status)
	assert.Equal(t, models.PaymentMethodQPay, paid.PaymentMethod)
	assert.True(t, paid.PaymentDate.Equal(paidAt))

	// the same confirmation again changes nothing
	again, err := h.svc.ConfirmPayment(ctx, b.ID, models.Payment{Method: models.PaymentMethodQPay})
	require.NoError(t, err)
	assert.Equal(t, paid.Version, again.Version)

	_, err = h.svc.ConfirmPayment(ctx, b.ID, models.Payment{Method: models.PaymentMethodCard, CardLastFour: "1111"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	done, err := h.svc.CompleteBooking(ctx, b.ID, "staff")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)

	_, err = h.svc.CancelBooking(ctx, b.ID, "staff")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	assert.Equal(t, []string{
		events.EventBookingCreated,
		events.EventBookingConfirmed,
		events.EventBookingCompleted,
	}, h.events)
}

func TestCompleteCancelledRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b := draft("s1", "2025-06-01", "10:00 AM")
	require.NoError(t, h.svc.CreateBooking(ctx, b))
	_, err := h.svc.CancelBooking(ctx, b.ID, "user-1")
	require.NoError(t, err)

	_, err = h.svc.CompleteBooking(ctx, b.ID, "staff")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = h.svc.ConfirmPayment(ctx, b.ID, models.Payment{Method: models.PaymentMethodQPay})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := h.svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.False(t, got.Paid())
}

func TestMissingBooking(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CancelBooking(ctx, "nope", "user-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.svc.CompleteBooking(ctx, "nope", "staff")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, h.svc.DeleteBooking(ctx, "nope"), domain.ErrNotFound)
}

func TestRescheduleBooking(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := draft("s1", "2025-06-01", "10:00 AM")
	require.NoError(t, h.svc.CreateBooking(ctx, a))
	b := draft("s1", "2025-06-01", "11:00 AM")
	require.NoError(t, h.svc.CreateBooking(ctx, b))

	_, err := h.svc.RescheduleBooking(ctx, b.ID, "", "2025-06-01", "10:00 AM")
	assert.ErrorIs(t, err, domain.ErrSlotTaken)

	moved, err := h.svc.RescheduleBooking(ctx, b.ID, "s2", "2025-06-01", "10:00 AM")
	require.NoError(t, err)
	assert.Equal(t, "s2", moved.StaffID)
	assert.Equal(t, "10:00 AM", moved.Time)
	assert.Equal(t, int64(2), moved.Version)

	_, err = h.svc.RescheduleBooking(ctx, b.ID, "s9", "2025-06-01", "1:00 PM")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.svc.CancelBooking(ctx, a.ID, "user-1")
	require.NoError(t, err)
	_, err = h.svc.RescheduleBooking(ctx, a.ID, "", "2025-06-02", "10:00 AM")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestApplyUpdate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b := draft("s1", "2025-06-01", "10:00 AM")
	require.NoError(t, h.svc.CreateBooking(ctx, b))

	paidAt := testNow.Add(time.Minute)
	req := UpdateRequest{
		Status:        models.StatusConfirmed,
		PaymentMethod: models.PaymentMethodCard,
		PaymentDate:   &paidAt,
		CardLastFour:  "4242",
		Version:       b.Version,
	}
	updated, err := h.svc.ApplyUpdate(ctx, b.ID, req)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, updated.Status)
	assert.Equal(t, "4242", updated.CardLastFour)

	// a retried request carries the old version but the state already matches
	replay, err := h.svc.ApplyUpdate(ctx, b.ID, req)
	require.NoError(t, err)
	assert.Equal(t, updated.Version, replay.Version)

	_, err = h.svc.ApplyUpdate(ctx, b.ID, UpdateRequest{Status: models.StatusCancelled, Version: 1})
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	_, err = h.svc.ApplyUpdate(ctx, b.ID, UpdateRequest{Status: "archived"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.svc.ApplyUpdate(ctx, b.ID, UpdateRequest{Status: models.StatusPending})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	moved, err := h.svc.ApplyUpdate(ctx, b.ID, UpdateRequest{Time: "2:00 PM"})
	require.NoError(t, err)
	assert.Equal(t, "2:00 PM", moved.Time)
	assert.Equal(t, models.StatusConfirmed, moved.Status)

	cancelled, err := h.svc.ApplyUpdate(ctx, b.ID, UpdateFromBooking(&models.Booking{
		Status: models.StatusCancelled, StaffID: moved.StaffID, Date: moved.Date, Time: moved.Time,
		PaymentMethod: moved.PaymentMethod, PaymentDate: moved.PaymentDate, CardLastFour: moved.CardLastFour,
	}, moved.Version))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
}

func TestConfirmPaymentChecksCardDigits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b := draft("s1", "2025-06-01", "10:00 AM")
	require.NoError(t, h.svc.CreateBooking(ctx, b))

	for _, lastFour := range []string{"", "abcd", "123", "12345"} {
		_, err := h.svc.ConfirmPayment(ctx, b.ID, models.Payment{Method: models.PaymentMethodCard, CardLastFour: lastFour})
		assert.ErrorIs(t, err, domain.ErrValidation, "last four %q", lastFour)
	}

	_, err := h.svc.ApplyUpdate(ctx, b.ID, UpdateRequest{
		Status:        models.StatusConfirmed,
		PaymentMethod: models.PaymentMethodCard,
		CardLastFour:  "abcd",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	got, err := h.svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.False(t, got.Paid())
}

func TestConfirmPaymentReplayAfterCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b := draft("s1", "2025-06-01", "10:00 AM")
	require.NoError(t, h.svc.CreateBooking(ctx, b))

	_, err := h.svc.ConfirmPayment(ctx, b.ID, models.Payment{Method: models.PaymentMethodQPay})
	require.NoError(t, err)
	_, err = h.svc.CancelBooking(ctx, b.ID, "user-1")
	require.NoError(t, err)

	_, err = h.svc.ConfirmPayment(ctx, b.ID, models.Payment{Method: models.PaymentMethodQPay})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := h.svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.True(t, got.Paid(), "payment metadata stays on a cancelled booking")
}

func TestDeleteBooking(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b := draft("s1", "2025-06-01", "10:00 AM")
	require.NoError(t, h.svc.CreateBooking(ctx, b))
	require.NoError(t, h.svc.DeleteBooking(ctx, b.ID))

	_, err := h.svc.GetBooking(ctx, b.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, h.worker.tasks, models.SyncTaskDelete+":"+b.ID)
}

func TestGetBookingExpanded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b := draft("s1", "2025-06-01", "10:00 AM")
	require.NoError(t, h.svc.CreateBooking(ctx, b))

	got, err := h.svc.GetBookingExpanded(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Salon)
	require.NotNil(t, got.Service)
	require.NotNil(t, got.Staff)
	assert.Equal(t, "Glow", got.Salon.Name)
	assert.Equal(t, "Haircut", got.Service.Name)
	assert.Equal(t, "Anu", got.Staff.Name)
}

func TestAvailability(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.svc.CreateBooking(ctx, draft("s1", "2025-06-01", "10:00 AM")))

	a, err := h.svc.Availability(ctx, "salon-1", "s1", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01", a.Date)
	assert.Equal(t, []string{"10:00 AM"}, a.Taken)
	assert.Len(t, a.Free, 8)
	assert.NotContains(t, a.Free, "10:00 AM")

	_, err = h.svc.FreeTimes(ctx, "salon-1", "", time.Now())
	assert.ErrorIs(t, err, domain.ErrValidation)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}

func (m *mockStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockStore) UpdateBooking(ctx context.Context, b *models.Booking, fromVersion int64) error {
	return m.Called(ctx, b, fromVersion).Error(0)
}

func (m *mockStore) DeleteBooking(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockStore) ListSalonBookings(ctx context.Context, salonID string) ([]*models.Booking, error) {
	args := m.Called(ctx, salonID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}

func (m *mockStore) ListUserBookings(ctx context.Context, userID string) ([]*models.Booking, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}

func (m *mockStore) ListSlotBookings(ctx context.Context, salonID, staffID string, day time.Time) ([]*models.Booking, error) {
	args := m.Called(ctx, salonID, staffID, day)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}

func TestCreateBooking_AvailabilityUnknownFailsSafe(t *testing.T) {
	logger := zerolog.Nop()
	store := new(mockStore)
	store.On("ListSlotBookings", mock.Anything, "salon-1", "s1", mock.Anything).Return(nil, errors.New("connection refused"))

	svc := NewBookingService(store, nil, nil, nil, Options{Location: time.UTC}, &logger)
	svc.now = func() time.Time { return testNow }

	err := svc.CreateBooking(context.Background(), draft("s1", "2025-06-01", "10:00 AM"))
	assert.ErrorIs(t, err, domain.ErrAvailabilityUnknown)
	store.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything)
}

func TestConfirmPayment_ConcurrentWriteSurfaces(t *testing.T) {
	logger := zerolog.Nop()
	store := new(mockStore)
	store.On("GetBooking", mock.Anything, "b1").Return(&models.Booking{ID: "b1", Status: models.StatusPending, Version: 3}, nil)
	store.On("UpdateBooking", mock.Anything, mock.Anything, int64(3)).Return(domain.ErrConcurrentModification)

	svc := NewBookingService(store, nil, nil, nil, Options{Location: time.UTC}, &logger)
	_, err := svc.ConfirmPayment(context.Background(), "b1", models.Payment{Method: models.PaymentMethodQPay})
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
	store.AssertExpectations(t)
}
