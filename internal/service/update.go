package service

import (
	"context"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"
)

// UpdateRequest is the body of PUT /orders/{owner}/{id}. Empty fields are left
// unchanged. Version, when set, must match the stored version unless the
// booking already is in the requested state.
type UpdateRequest struct {
	Status        string     `json:"status,omitempty"`
	StaffID       string     `json:"staffId,omitempty"`
	Date          string     `json:"date,omitempty"`
	Time          string     `json:"time,omitempty"`
	PaymentMethod string     `json:"paymentMethod,omitempty"`
	PaymentDate   *time.Time `json:"paymentDate,omitempty"`
	CardLastFour  string     `json:"cardLastFour,omitempty"`
	Version       int64      `json:"version,omitempty"`
	ChangedBy     string     `json:"changedBy,omitempty"`
}

// UpdateFromBooking builds the request that moves the stored booking to b.
func UpdateFromBooking(b *models.Booking, fromVersion int64) UpdateRequest {
	return UpdateRequest{
		Status:        b.Status,
		StaffID:       b.StaffID,
		Date:          b.Date,
		Time:          b.Time,
		PaymentMethod: b.PaymentMethod,
		PaymentDate:   b.PaymentDate,
		CardLastFour:  b.CardLastFour,
		Version:       fromVersion,
	}
}

func (s *BookingService) wantsReschedule(current *models.Booking, req UpdateRequest) (bool, error) {
	if req.StaffID != "" && req.StaffID != current.StaffID {
		return true, nil
	}
	if req.Date == "" && req.Time == "" {
		return false, nil
	}
	date, clock := req.Date, req.Time
	if date == "" {
		date = current.Date
	}
	if clock == "" {
		clock = current.Time
	}
	at, err := models.ParseSlot(date, clock, s.loc)
	if err != nil {
		return false, domain.Invalid("date", "%v", err)
	}
	return !models.SameSlot(at, current.SlotAt), nil
}

func (s *BookingService) samePaymentFields(current *models.Booking, req UpdateRequest) bool {
	if req.PaymentMethod == "" {
		return true
	}
	if req.PaymentMethod != models.PaymentMethodCard {
		return current.PaymentMethod == req.PaymentMethod
	}
	return current.PaymentMethod == req.PaymentMethod && current.CardLastFour == req.CardLastFour
}

// ApplyUpdate dispatches a PUT to the lifecycle operations. Sending the same
// request twice returns the stored booking without writing again.
func (s *BookingService) ApplyUpdate(ctx context.Context, id string, req UpdateRequest) (*models.Booking, error) {
	current, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	status := ""
	if req.Status != "" {
		status = models.NormalizeStatus(req.Status)
		if !models.ValidStatus(status) {
			return nil, domain.Invalid("status", "unknown status %q", req.Status)
		}
	}

	reschedule, err := s.wantsReschedule(current, req)
	if err != nil {
		return nil, err
	}
	if !reschedule && (status == "" || status == current.Status) && s.samePaymentFields(current, req) {
		return current, nil
	}
	if req.Version != 0 && req.Version != current.Version {
		return nil, domain.ErrConcurrentModification
	}

	result := current
	if reschedule {
		date, clock := req.Date, req.Time
		if date == "" {
			date = current.Date
		}
		if clock == "" {
			clock = current.Time
		}
		if result, err = s.RescheduleBooking(ctx, id, req.StaffID, date, clock); err != nil {
			return nil, err
		}
	}

	actor := req.ChangedBy
	switch {
	case status == models.StatusConfirmed && (result.Status != status || !s.samePaymentFields(result, req)):
		if req.PaymentMethod == "" {
			return nil, domain.Invalid("paymentMethod", "confirming a booking requires payment")
		}
		p := models.Payment{Method: req.PaymentMethod, CardLastFour: req.CardLastFour}
		if req.PaymentDate != nil {
			p.Date = *req.PaymentDate
		}
		result, err = s.ConfirmPayment(ctx, id, p)
	case !s.samePaymentFields(result, req):
		return nil, domain.Invalid("paymentMethod", "payment can only be attached when confirming")
	case status == "" || status == result.Status:
	case status == models.StatusCancelled:
		result, err = s.CancelBooking(ctx, id, actor)
	case status == models.StatusCompleted:
		result, err = s.CompleteBooking(ctx, id, actor)
	default:
		err = transitionError(result.Status, status)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
