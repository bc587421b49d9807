package payment

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"testing"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"
	"salonbook/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBookings struct {
	mock.Mock
}

func (m *mockBookings) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockBookings) ConfirmPayment(ctx context.Context, id string, p models.Payment) (*models.Booking, error) {
	args := m.Called(ctx, id, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

type countingGateway struct {
	calls int
	err   error
	at    time.Time
}

func (g *countingGateway) Charge(ctx context.Context, req ChargeRequest) (Receipt, error) {
	g.calls++
	if g.err != nil {
		return Receipt{}, g.err
	}
	return Receipt{ProviderID: "test:" + req.IdempotencyKey, CapturedAt: g.at}, nil
}

var validCard = CardDetails{Number: "4111111111111111", Holder: "Saraa", Expiry: "12/30", CVV: "123"}

func newTestFinalizer(bookings Bookings, gw Gateway) *Finalizer {
	logger := zerolog.Nop()
	f := NewFinalizer(bookings, gw, repository.NewMemoryGuard(), time.Hour, &logger)
	f.now = func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }
	return f
}

func pending(id string) *models.Booking {
	return &models.Booking{ID: id, SalonID: "salon-1", Status: models.StatusPending, Price: 35000, Version: 1}
}

func TestPay_Card(t *testing.T) {
	paidAt := time.Date(2025, 6, 1, 9, 0, 5, 0, time.UTC)
	gw := &countingGateway{at: paidAt}
	bookings := new(mockBookings)
	bookings.On("GetBooking", mock.Anything, "b1").Return(pending("b1"), nil)

	confirmed := pending("b1")
	confirmed.ApplyPayment(models.Payment{Method: models.PaymentMethodCard, Date: paidAt, CardLastFour: "1111"})
	bookings.On("ConfirmPayment", mock.Anything, "b1", models.Payment{
		Method: models.PaymentMethodCard, Date: paidAt, CardLastFour: "1111",
	}).Return(confirmed, nil)

	f := newTestFinalizer(bookings, gw)
	got, err := f.Pay(context.Background(), "b1", models.PaymentMethodCard, validCard, "key-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Equal(t, "1111", got.CardLastFour)
	assert.Equal(t, 1, gw.calls)
	bookings.AssertExpectations(t)
}

func TestPay_QPay(t *testing.T) {
	paidAt := time.Date(2025, 6, 1, 9, 0, 5, 0, time.UTC)
	gw := &countingGateway{at: paidAt}
	bookings := new(mockBookings)
	bookings.On("GetBooking", mock.Anything, "b1").Return(pending("b1"), nil)
	bookings.On("ConfirmPayment", mock.Anything, "b1", models.Payment{Method: models.PaymentMethodQPay, Date: paidAt}).
		Return(&models.Booking{ID: "b1", Status: models.StatusConfirmed}, nil)

	f := newTestFinalizer(bookings, gw)
	_, err := f.Pay(context.Background(), "b1", models.PaymentMethodQPay, CardDetails{}, "")
	require.NoError(t, err)
	bookings.AssertExpectations(t)
}

func TestPay_InvalidCardNeverTouchesStore(t *testing.T) {
	gw := &countingGateway{}
	bookings := new(mockBookings)
	f := newTestFinalizer(bookings, gw)

	card := validCard
	card.Expiry = "01/20"
	_, err := f.Pay(context.Background(), "b1", models.PaymentMethodCard, card, "")
	assert.ErrorIs(t, err, ErrCardExpired)
	assert.Equal(t, 0, gw.calls)
	bookings.AssertNotCalled(t, "GetBooking", mock.Anything, mock.Anything)
}

func TestPay_UnsupportedMethod(t *testing.T) {
	f := newTestFinalizer(new(mockBookings), &countingGateway{})
	_, err := f.Pay(context.Background(), "b1", "cash", CardDetails{}, "")
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestPay_ReplayDoesNotChargeTwice(t *testing.T) {
	gw := &countingGateway{}
	paid := pending("b1")
	paid.ApplyPayment(models.Payment{Method: models.PaymentMethodCard, Date: time.Now(), CardLastFour: "1111"})
	bookings := new(mockBookings)
	bookings.On("GetBooking", mock.Anything, "b1").Return(paid, nil)

	f := newTestFinalizer(bookings, gw)
	got, err := f.Pay(context.Background(), "b1", models.PaymentMethodCard, validCard, "key-1")
	require.NoError(t, err)
	assert.Same(t, paid, got)
	assert.Equal(t, 0, gw.calls)
	bookings.AssertNotCalled(t, "ConfirmPayment", mock.Anything, mock.Anything, mock.Anything)
}

func TestPay_CancelledBooking(t *testing.T) {
	cancelled := pending("b1")
	cancelled.Status = models.StatusCancelled
	bookings := new(mockBookings)
	bookings.On("GetBooking", mock.Anything, "b1").Return(cancelled, nil)

	f := newTestFinalizer(bookings, &countingGateway{})
	_, err := f.Pay(context.Background(), "b1", models.PaymentMethodQPay, CardDetails{}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestPay_PaidThenCancelledIsNotAReplay(t *testing.T) {
	gw := &countingGateway{}
	cancelled := pending("b1")
	cancelled.ApplyPayment(models.Payment{Method: models.PaymentMethodQPay, Date: time.Now()})
	cancelled.Status = models.StatusCancelled
	bookings := new(mockBookings)
	bookings.On("GetBooking", mock.Anything, "b1").Return(cancelled, nil)

	f := newTestFinalizer(bookings, gw)
	_, err := f.Pay(context.Background(), "b1", models.PaymentMethodQPay, CardDetails{}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 0, gw.calls)
}

func TestPay_RechecksBookingAfterClaim(t *testing.T) {
	gw := &countingGateway{}
	paid := pending("b1")
	paid.ApplyPayment(models.Payment{Method: models.PaymentMethodQPay, Date: time.Now()})
	bookings := new(mockBookings)
	bookings.On("GetBooking", mock.Anything, "b1").Return(pending("b1"), nil).Once()
	bookings.On("GetBooking", mock.Anything, "b1").Return(paid, nil).Once()

	f := newTestFinalizer(bookings, gw)
	got, err := f.Pay(context.Background(), "b1", models.PaymentMethodQPay, CardDetails{}, "")
	require.NoError(t, err)
	assert.Same(t, paid, got)
	assert.Equal(t, 0, gw.calls)

	ok, err := f.guard.Claim(context.Background(), lockKey("b1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPay_DefaultLockTTL(t *testing.T) {
	logger := zerolog.Nop()
	guard := &recordingGuard{MemoryGuard: repository.NewMemoryGuard()}
	bookings := new(mockBookings)
	bookings.On("GetBooking", mock.Anything, "b1").Return(pending("b1"), nil)
	bookings.On("ConfirmPayment", mock.Anything, "b1", mock.Anything).
		Return(&models.Booking{ID: "b1", Status: models.StatusConfirmed}, nil)

	f := NewFinalizer(bookings, &countingGateway{}, guard, 0, &logger)
	_, err := f.Pay(context.Background(), "b1", models.PaymentMethodQPay, CardDetails{}, "")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPaymentLockTTL*time.Second, guard.ttl)
}

type recordingGuard struct {
	*repository.MemoryGuard
	ttl time.Duration
}

func (g *recordingGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	g.ttl = ttl
	return g.MemoryGuard.Claim(ctx, key, ttl)
}

func TestPay_InProgress(t *testing.T) {
	bookings := new(mockBookings)
	bookings.On("GetBooking", mock.Anything, "b1").Return(pending("b1"), nil)
	f := newTestFinalizer(bookings, &countingGateway{})

	ok, err := f.guard.Claim(context.Background(), lockKey("b1"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.Pay(context.Background(), "b1", models.PaymentMethodQPay, CardDetails{}, "")
	assert.ErrorIs(t, err, ErrPaymentInProgress)
}

func TestPay_DeclinedReleasesLock(t *testing.T) {
	gw := &countingGateway{err: errors.New("declined")}
	bookings := new(mockBookings)
	bookings.On("GetBooking", mock.Anything, "b1").Return(pending("b1"), nil)
	f := newTestFinalizer(bookings, gw)

	_, err := f.Pay(context.Background(), "b1", models.PaymentMethodQPay, CardDetails{}, "")
	require.Error(t, err)

	ok, err := f.guard.Claim(context.Background(), lockKey("b1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "a failed charge must not keep the booking locked")
}

func TestSimulatedGateway(t *testing.T) {
	g := NewSimulatedGateway(0)
	r, err := g.Charge(context.Background(), ChargeRequest{BookingID: "b1"})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ProviderID)
	assert.False(t, r.CapturedAt.IsZero())

	slow := NewSimulatedGateway(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = slow.Charge(ctx, ChargeRequest{BookingID: "b1"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQPayInvoice(t *testing.T) {
	b := pending("b1")
	assert.Contains(t, QPayPayload("salon-merchant", b), "amount=35000")

	data, err := QPayInvoice("salon-merchant", b)
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(data))
	assert.NoError(t, err)
}
