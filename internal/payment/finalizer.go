// Package payment validates payment input and confirms bookings once the
// gateway has captured the amount.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/metrics"
	"salonbook/internal/models"

	"github.com/rs/zerolog"
)

var (
	ErrPaymentInProgress = errors.New("payment for this booking is already in progress")
	ErrUnsupportedMethod = errors.New("unsupported payment method")
)

// Bookings is the part of the booking service the finalizer needs.
type Bookings interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ConfirmPayment(ctx context.Context, id string, payment models.Payment) (*models.Booking, error)
}

type Finalizer struct {
	bookings Bookings
	gateway  Gateway
	guard    domain.IdempotencyGuard
	lockTTL  time.Duration
	logger   *zerolog.Logger
	now      func() time.Time
}

// lockTTL bounds the in-flight claim: a process that dies mid-payment leaves
// the booking locked for at most that long.
func NewFinalizer(bookings Bookings, gateway Gateway, guard domain.IdempotencyGuard, lockTTL time.Duration, logger *zerolog.Logger) *Finalizer {
	if lockTTL <= 0 {
		lockTTL = models.DefaultPaymentLockTTL * time.Second
	}
	return &Finalizer{
		bookings: bookings,
		gateway:  gateway,
		guard:    guard,
		lockTTL:  lockTTL,
		logger:   logger,
		now:      time.Now,
	}
}

func lockKey(bookingID string) string {
	return "payment:" + bookingID
}

// Pay validates the input, charges through the gateway and confirms the booking.
// Paying an already confirmed booking again with the same method returns it
// unchanged without charging.
func (f *Finalizer) Pay(ctx context.Context, bookingID, method string, card CardDetails, idempotencyKey string) (*models.Booking, error) {
	var lastFour string
	switch method {
	case models.PaymentMethodQPay:
	case models.PaymentMethodCard:
		if err := ValidateCard(card, f.now()); err != nil {
			metrics.IncPayment(method, "invalid")
			return nil, err
		}
		lastFour = LastFour(card.Number)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}

	booking, err := f.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	attempt := models.Payment{Method: method, CardLastFour: lastFour}
	if booking.SamePayment(attempt) && booking.Status == models.StatusConfirmed {
		f.logger.Info().Str("booking_id", bookingID).Msg("Payment replay, booking already paid")
		return booking, nil
	}
	if booking.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: cannot pay a %s booking", domain.ErrInvalidTransition, booking.Status)
	}

	key := lockKey(bookingID)
	claimed, err := f.guard.Claim(ctx, key, f.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("claim payment lock: %w", err)
	}
	if !claimed {
		return nil, ErrPaymentInProgress
	}
	defer f.release(key)

	// пока ждали блокировку, заявку могли оплатить или отменить
	if booking, err = f.bookings.GetBooking(ctx, bookingID); err != nil {
		return nil, err
	}
	if booking.Status != models.StatusPending {
		if booking.SamePayment(attempt) && booking.Status == models.StatusConfirmed {
			return booking, nil
		}
		return nil, fmt.Errorf("%w: cannot pay a %s booking", domain.ErrInvalidTransition, booking.Status)
	}

	if idempotencyKey == "" {
		idempotencyKey = bookingID
	}
	receipt, err := f.gateway.Charge(ctx, ChargeRequest{
		BookingID:      bookingID,
		Method:         method,
		Amount:         booking.Price,
		CardLastFour:   lastFour,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		metrics.IncPayment(method, "declined")
		return nil, fmt.Errorf("charge: %w", err)
	}

	attempt.Date = receipt.CapturedAt
	confirmed, err := f.bookings.ConfirmPayment(ctx, bookingID, attempt)
	if err != nil {
		metrics.IncPayment(method, "store_error")
		f.logger.Error().Err(err).Str("booking_id", bookingID).Str("receipt", receipt.ProviderID).
			Msg("Payment captured but booking was not confirmed")
		return nil, err
	}

	metrics.IncPayment(method, "success")
	f.logger.Info().Str("booking_id", bookingID).Str("method", method).Str("receipt", receipt.ProviderID).Msg("Payment confirmed")
	return confirmed, nil
}

func (f *Finalizer) release(key string) {
	// ctx of the request may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.guard.Release(ctx, key); err != nil {
		f.logger.Warn().Err(err).Str("key", key).Msg("Failed to release payment lock")
	}
}
