package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"salonbook/internal/availability"
	"salonbook/internal/domain"
	"salonbook/internal/events"
	"salonbook/internal/metrics"
	"salonbook/internal/models"

	"github.com/rs/zerolog"
)

type Options struct {
	MaxBookingDays int
	AllowAnonymous bool
	Location       *time.Location
	Hours          availability.WorkingHours
	// Now overrides the clock used for the booking window.
	Now func() time.Time
}

var _ domain.BookingService = (*BookingService)(nil)

// BookingService drives the booking lifecycle over any domain.BookingStore.
// Every mutation is written to the store first; events and the Sheets mirror
// only see state the store accepted.
type BookingService struct {
	store          domain.BookingStore
	catalog        domain.CatalogRepository
	checker        *availability.Checker
	eventBus       domain.EventPublisher
	syncWorker     domain.SyncWorker
	loc            *time.Location
	maxBookingDays int
	allowAnonymous bool
	logger         *zerolog.Logger
	now            func() time.Time
}

// NewBookingService wires the service. catalog, eventBus and syncWorker may be nil.
func NewBookingService(store domain.BookingStore, catalog domain.CatalogRepository, eventBus domain.EventPublisher,
	syncWorker domain.SyncWorker, opts Options, logger *zerolog.Logger) *BookingService {
	if opts.MaxBookingDays <= 0 {
		opts.MaxBookingDays = models.DefaultMaxBookingDays
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Hours.Step == 0 {
		opts.Hours, _ = availability.ParseWorkingHours("09:00", "18:00", models.DefaultSlotStepMinutes)
	}
	return &BookingService{
		store:          store,
		catalog:        catalog,
		checker:        availability.NewChecker(store, opts.Hours),
		eventBus:       eventBus,
		syncWorker:     syncWorker,
		loc:            opts.Location,
		maxBookingDays: opts.MaxBookingDays,
		allowAnonymous: opts.AllowAnonymous,
		logger:         logger,
		now:            opts.Now,
	}
}

// resolveSlot fills SlotAt, Date and Time from whichever form the caller sent.
func (s *BookingService) resolveSlot(b *models.Booking) error {
	if !b.SlotAt.IsZero() {
		b.SetSlot(b.SlotAt)
		return nil
	}
	if strings.TrimSpace(b.Date) == "" {
		return domain.Invalid("date", "date is required")
	}
	if strings.TrimSpace(b.Time) == "" {
		return domain.Invalid("time", "time is required")
	}
	at, err := models.ParseSlot(b.Date, b.Time, s.loc)
	if err != nil {
		return domain.Invalid("date", "%v", err)
	}
	b.SetSlot(at)
	return nil
}

// ValidateSlotWindow rejects slots in the past or beyond the booking horizon.
func (s *BookingService) ValidateSlotWindow(at time.Time) error {
	// slot is a salon wall clock
	local := time.Date(at.Year(), at.Month(), at.Day(), at.Hour(), at.Minute(), 0, 0, s.loc)
	now := s.now().In(s.loc)
	if local.Before(now) {
		return domain.ErrPastSlot
	}
	if local.After(now.AddDate(0, 0, s.maxBookingDays)) {
		return domain.ErrSlotTooFar
	}
	return nil
}

func (s *BookingService) validateNew(b *models.Booking) error {
	if strings.TrimSpace(b.SalonID) == "" {
		return domain.Invalid("salonId", "salonId is required")
	}
	if strings.TrimSpace(b.ServiceID) == "" {
		return domain.Invalid("serviceId", "serviceId is required")
	}
	if strings.TrimSpace(b.StaffID) == "" {
		return domain.Invalid("staffId", "staffId is required")
	}
	if !s.allowAnonymous && strings.TrimSpace(b.UserID) == "" {
		return domain.Invalid("userId", "userId is required")
	}
	if b.Price < 0 {
		return domain.Invalid("price", "price must not be negative")
	}
	b.Status = models.NormalizeStatus(b.Status)
	if b.Status != models.StatusPending {
		return domain.Invalid("status", "new bookings start as %s", models.StatusPending)
	}
	if b.PaymentMethod != "" || b.PaymentDate != nil || b.CardLastFour != "" {
		return domain.Invalid("paymentMethod", "payment is attached by the payment endpoint")
	}
	return s.resolveSlot(b)
}

// checkCatalog verifies that service and staff belong to the salon and fills
// the price from the service when the caller sent none.
func (s *BookingService) checkCatalog(ctx context.Context, b *models.Booking) error {
	if s.catalog == nil {
		return nil
	}
	if _, err := s.catalog.GetSalon(ctx, b.SalonID); err != nil {
		return catalogError("salonId", err)
	}
	svc, err := s.catalog.GetService(ctx, b.ServiceID)
	if err != nil {
		return catalogError("serviceId", err)
	}
	if svc.SalonID != b.SalonID {
		return domain.Invalid("serviceId", "service %s is not offered by salon %s", svc.ID, b.SalonID)
	}
	if err := s.checkStaff(ctx, b.SalonID, b.StaffID); err != nil {
		return err
	}
	if b.Price == 0 {
		b.Price = svc.Price
	}
	return nil
}

func (s *BookingService) checkStaff(ctx context.Context, salonID, staffID string) error {
	if s.catalog == nil {
		return nil
	}
	staff, err := s.catalog.GetStaff(ctx, staffID)
	if err != nil {
		return catalogError("staffId", err)
	}
	if staff.SalonID != salonID {
		return domain.Invalid("staffId", "staff %s does not work at salon %s", staff.ID, salonID)
	}
	return nil
}

func catalogError(field string, err error) error {
	if errors.Is(err, domain.ErrCatalogNotFound) {
		return domain.Invalid(field, "%v", err)
	}
	return err
}

func (s *BookingService) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if err := s.validateNew(booking); err != nil {
		return err
	}

	// retry of a create that already went through
	if booking.ID != "" {
		existing, err := s.store.GetBooking(ctx, booking.ID)
		switch {
		case err == nil:
			if existing.StaffID == booking.StaffID && models.SameSlot(existing.SlotAt, booking.SlotAt) {
				*booking = *existing.Clone()
				return nil
			}
			return fmt.Errorf("%w: booking %s already exists", domain.ErrConcurrentModification, booking.ID)
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
	}

	if err := s.ValidateSlotWindow(booking.SlotAt); err != nil {
		return err
	}
	if err := s.checkCatalog(ctx, booking); err != nil {
		return err
	}

	free, err := s.checker.SlotFree(ctx, booking.SalonID, booking.StaffID, booking.SlotAt)
	if err != nil {
		return err
	}
	if !free {
		metrics.IncSlotConflict()
		return domain.ErrSlotTaken
	}

	// the store re-checks atomically, the pre-check only saves a round trip
	if err := s.store.CreateBooking(ctx, booking); err != nil {
		if errors.Is(err, domain.ErrSlotTaken) {
			metrics.IncSlotConflict()
		}
		return err
	}

	metrics.IncBookingCreated(booking.SalonID)
	s.logger.Info().Str("booking_id", booking.ID).Str("salon_id", booking.SalonID).
		Str("staff_id", booking.StaffID).Str("slot", models.SlotKey(booking.SlotAt)).Msg("Booking created")

	s.publishEvent(events.EventBookingCreated, booking, booking.UserID)
	s.enqueueSync(ctx, models.SyncTaskUpsert, booking)
	return nil
}

func (s *BookingService) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return s.store.GetBooking(ctx, id)
}

// GetBookingExpanded attaches salon, service and staff. Missing catalog entries
// are left empty.
func (s *BookingService) GetBookingExpanded(ctx context.Context, id string) (*models.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.catalog == nil {
		return b, nil
	}
	b = b.Clone()
	if salon, err := s.catalog.GetSalon(ctx, b.SalonID); err == nil {
		b.Salon = salon
	} else if !errors.Is(err, domain.ErrCatalogNotFound) {
		return nil, err
	}
	if svc, err := s.catalog.GetService(ctx, b.ServiceID); err == nil {
		b.Service = svc
	} else if !errors.Is(err, domain.ErrCatalogNotFound) {
		return nil, err
	}
	if staff, err := s.catalog.GetStaff(ctx, b.StaffID); err == nil {
		b.Staff = staff
	} else if !errors.Is(err, domain.ErrCatalogNotFound) {
		return nil, err
	}
	return b, nil
}

func (s *BookingService) ListSalonBookings(ctx context.Context, salonID string) ([]*models.Booking, error) {
	return s.store.ListSalonBookings(ctx, salonID)
}

func (s *BookingService) ListUserBookings(ctx context.Context, userID string) ([]*models.Booking, error) {
	return s.store.ListUserBookings(ctx, userID)
}

func (s *BookingService) ListSlotBookings(ctx context.Context, salonID, staffID string, day time.Time) ([]*models.Booking, error) {
	return s.store.ListSlotBookings(ctx, salonID, staffID, day)
}

// mutate applies fn to a copy of the stored booking and writes it back under
// the version that was read. fn returns false when nothing has to change.
func (s *BookingService) mutate(ctx context.Context, id string, fn func(b *models.Booking) (bool, error)) (*models.Booking, bool, error) {
	current, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, false, err
	}
	updated := current.Clone()
	changed, err := fn(updated)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return current, false, nil
	}
	if err := s.store.UpdateBooking(ctx, updated, current.Version); err != nil {
		return nil, false, err
	}
	if current.Status != updated.Status {
		metrics.IncTransition(current.Status, updated.Status)
	}
	return updated, true, nil
}

func transitionError(from, to string) error {
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
}

// ConfirmPayment moves a pending booking to confirmed together with its payment
// fields in one conditional write. Repeating it with the same payment is a no-op
// while the booking is confirmed or completed.
func (s *BookingService) ConfirmPayment(ctx context.Context, id string, payment models.Payment) (*models.Booking, error) {
	if payment.Method != models.PaymentMethodCard && payment.Method != models.PaymentMethodQPay {
		return nil, domain.Invalid("paymentMethod", "unsupported payment method %q", payment.Method)
	}
	if payment.Date.IsZero() {
		payment.Date = s.now()
	}
	if payment.Method != models.PaymentMethodCard {
		payment.CardLastFour = ""
	} else if !models.ValidLastFour(payment.CardLastFour) {
		return nil, domain.Invalid("cardLastFour", "card payment needs the last 4 digits of the card")
	}

	b, changed, err := s.mutate(ctx, id, func(b *models.Booking) (bool, error) {
		// повтор того же платежа допустим, пока заявка оплачена и не закрыта отменой
		if b.SamePayment(payment) && (b.Status == models.StatusConfirmed || b.Status == models.StatusCompleted) {
			return false, nil
		}
		if !models.CanTransition(b.Status, models.StatusConfirmed) {
			return false, transitionError(b.Status, models.StatusConfirmed)
		}
		b.ApplyPayment(payment)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.Info().Str("booking_id", id).Str("method", payment.Method).Msg("Booking paid")
		s.publishEvent(events.EventBookingConfirmed, b, b.UserID)
		s.enqueueSync(ctx, models.SyncTaskUpsert, b)
	}
	return b, nil
}

// CancelBooking frees the slot. Cancelling a cancelled booking is a no-op.
func (s *BookingService) CancelBooking(ctx context.Context, id string, actor string) (*models.Booking, error) {
	return s.setStatus(ctx, id, models.StatusCancelled, events.EventBookingCancelled, actor)
}

func (s *BookingService) CompleteBooking(ctx context.Context, id string, actor string) (*models.Booking, error) {
	return s.setStatus(ctx, id, models.StatusCompleted, events.EventBookingCompleted, actor)
}

func (s *BookingService) setStatus(ctx context.Context, id, status, eventType, actor string) (*models.Booking, error) {
	b, changed, err := s.mutate(ctx, id, func(b *models.Booking) (bool, error) {
		if b.Status == status {
			return false, nil
		}
		if !models.CanTransition(b.Status, status) {
			return false, transitionError(b.Status, status)
		}
		b.Status = status
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.Info().Str("booking_id", id).Str("status", status).Str("actor", actor).Msg("Booking status changed")
		s.publishEvent(eventType, b, actor)
		s.enqueueSync(ctx, models.SyncTaskUpdateStatus, b)
	}
	return b, nil
}

// RescheduleBooking moves an active booking to another slot and, optionally,
// another staff member of the same salon.
func (s *BookingService) RescheduleBooking(ctx context.Context, id, staffID, date, clock string) (*models.Booking, error) {
	at, err := models.ParseSlot(date, clock, s.loc)
	if err != nil {
		return nil, domain.Invalid("date", "%v", err)
	}
	if err := s.ValidateSlotWindow(at); err != nil {
		return nil, err
	}

	b, changed, err := s.mutate(ctx, id, func(b *models.Booking) (bool, error) {
		if staffID == "" {
			staffID = b.StaffID
		}
		if b.StaffID == staffID && models.SameSlot(b.SlotAt, at) {
			return false, nil
		}
		if models.Terminal(b.Status) {
			return false, fmt.Errorf("%w: cannot reschedule a %s booking", domain.ErrInvalidTransition, b.Status)
		}
		if staffID != b.StaffID {
			if err := s.checkStaff(ctx, b.SalonID, staffID); err != nil {
				return false, err
			}
		}
		free, err := s.checker.SlotFree(ctx, b.SalonID, staffID, at)
		if err != nil {
			return false, err
		}
		if !free {
			metrics.IncSlotConflict()
			return false, domain.ErrSlotTaken
		}
		b.StaffID = staffID
		b.SetSlot(at)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.Info().Str("booking_id", id).Str("staff_id", b.StaffID).Str("slot", models.SlotKey(b.SlotAt)).Msg("Booking rescheduled")
		s.publishEvent(events.EventBookingRescheduled, b, "")
		s.enqueueSync(ctx, models.SyncTaskUpsert, b)
	}
	return b, nil
}

// DeleteBooking removes the record entirely. Regular flows cancel instead.
func (s *BookingService) DeleteBooking(ctx context.Context, id string) error {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteBooking(ctx, id); err != nil {
		return err
	}
	s.logger.Warn().Str("booking_id", id).Msg("Booking deleted")
	s.publishEvent(events.EventBookingDeleted, b, "admin")
	s.enqueueSync(ctx, models.SyncTaskDelete, b)
	return nil
}

// FreeTimes lists the open slots of a staff member on day.
func (s *BookingService) FreeTimes(ctx context.Context, salonID, staffID string, day time.Time) ([]time.Time, error) {
	if salonID == "" {
		return nil, domain.Invalid("salonId", "salonId is required")
	}
	if staffID == "" {
		return nil, domain.Invalid("staffId", "staffId is required")
	}
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, s.loc)
	free, err := s.checker.FreeTimes(ctx, salonID, staffID, day)
	if err != nil {
		return nil, err
	}

	// past slots of today are not offered
	now := s.now().In(s.loc)
	out := free[:0]
	for _, at := range free {
		if !at.Before(now) {
			out = append(out, at)
		}
	}
	return out, nil
}

// Availability renders the day grid of a staff member for API consumers.
func (s *BookingService) Availability(ctx context.Context, salonID, staffID string, day time.Time) (*models.Availability, error) {
	free, err := s.FreeTimes(ctx, salonID, staffID, day)
	if err != nil {
		return nil, err
	}
	booked, err := s.store.ListSlotBookings(ctx, salonID, staffID, day)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAvailabilityUnknown, err)
	}

	a := &models.Availability{
		SalonID: salonID,
		StaffID: staffID,
		Date:    day.Format(models.DateLayout),
		Free:    make([]string, 0, len(free)),
		Taken:   make([]string, 0, len(booked)),
	}
	for _, at := range free {
		a.Free = append(a.Free, at.Format(models.TimeLayout))
	}
	for _, b := range booked {
		a.Taken = append(a.Taken, b.Time)
	}
	return a, nil
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking, changedBy string) {
	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:     booking.ID,
		SalonID:       booking.SalonID,
		ServiceID:     booking.ServiceID,
		StaffID:       booking.StaffID,
		UserID:        booking.UserID,
		Date:          booking.Date,
		Time:          booking.Time,
		SlotAt:        booking.SlotAt,
		Price:         booking.Price,
		Status:        booking.Status,
		PaymentMethod: booking.PaymentMethod,
		Version:       booking.Version,
		ChangedBy:     changedBy,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("booking_id", booking.ID).Msg("publish event error")
	}
}

func (s *BookingService) enqueueSync(ctx context.Context, taskType string, booking *models.Booking) {
	if s.syncWorker == nil {
		return
	}

	if err := s.syncWorker.EnqueueTask(ctx, taskType, booking.Clone()); err != nil {
		s.logger.Error().Err(err).Str("booking_id", booking.ID).Str("task", taskType).Msg("sheets enqueue error")
	}
}
