package models

import (
	"regexp"
	"time"
)

var lastFourPattern = regexp.MustCompile(`^\d{4}$`)

type Booking struct {
	ID            string     `json:"_id"`
	SalonID       string     `json:"salonId"`
	ServiceID     string     `json:"serviceId"`
	StaffID       string     `json:"staffId"`
	UserID        string     `json:"userId"`
	Date          string     `json:"date"`
	Time          string     `json:"time"`
	SlotAt        time.Time  `json:"slotAt"`
	Price         int64      `json:"price"`
	Status        string     `json:"status"` // pending, confirmed, completed, cancelled
	PaymentMethod string     `json:"paymentMethod,omitempty"`
	PaymentDate   *time.Time `json:"paymentDate,omitempty"`
	CardLastFour  string     `json:"cardLastFour,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	Version       int64      `json:"version"`

	Salon   *Salon   `json:"salon,omitempty"`
	Service *Service `json:"service,omitempty"`
	Staff   *Staff   `json:"staff,omitempty"`
}

// Payment is the metadata attached to a booking once it has been paid.
type Payment struct {
	Method       string    `json:"paymentMethod"`
	Date         time.Time `json:"paymentDate"`
	CardLastFour string    `json:"cardLastFour,omitempty"`
}

// ValidLastFour reports whether s is the four trailing digits of a card number.
func ValidLastFour(s string) bool {
	return lastFourPattern.MatchString(s)
}

// Clone returns a copy that can be mutated without touching the original.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	if b.PaymentDate != nil {
		d := *b.PaymentDate
		c.PaymentDate = &d
	}
	return &c
}

// Active reports whether the booking still holds its slot.
func (b *Booking) Active() bool {
	return b.Status != StatusCancelled
}

// Paid reports whether payment metadata is attached.
func (b *Booking) Paid() bool {
	return b.PaymentMethod != "" && b.PaymentDate != nil
}

// SamePayment reports whether p describes the payment already stored on b.
// A paid booking that was cancelled still carries it; callers check Status.
func (b *Booking) SamePayment(p Payment) bool {
	if !b.Paid() {
		return false
	}
	return b.PaymentMethod == p.Method && b.CardLastFour == p.CardLastFour
}

// ApplyPayment flips the booking to confirmed and attaches payment fields.
func (b *Booking) ApplyPayment(p Payment) {
	d := p.Date
	b.Status = StatusConfirmed
	b.PaymentMethod = p.Method
	b.PaymentDate = &d
	b.CardLastFour = ""
	if p.Method == PaymentMethodCard {
		b.CardLastFour = p.CardLastFour
	}
}

// SetSlot stores the structured slot and its canonical display strings.
func (b *Booking) SetSlot(at time.Time) {
	b.SlotAt = at
	b.Date = at.Format(DateLayout)
	b.Time = at.Format(TimeLayout)
}

type Availability struct {
	SalonID string   `json:"salonId"`
	StaffID string   `json:"staffId"`
	Date    string   `json:"date"`
	Free    []string `json:"free"`
	Taken   []string `json:"taken"`
}
