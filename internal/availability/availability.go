// Package availability answers whether a staff member is free at a slot.
package availability

import (
	"context"
	"fmt"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"
)

// WorkingHours is the daily grid slots are offered on.
type WorkingHours struct {
	OpenHour, OpenMinute   int
	CloseHour, CloseMinute int
	Step                   time.Duration
}

// ParseWorkingHours builds WorkingHours from clock strings such as "09:00" or "6:00 PM".
func ParseWorkingHours(open, closeAt string, stepMinutes int) (WorkingHours, error) {
	oh, om, err := models.ParseClock(open)
	if err != nil {
		return WorkingHours{}, fmt.Errorf("open: %w", err)
	}
	ch, cm, err := models.ParseClock(closeAt)
	if err != nil {
		return WorkingHours{}, fmt.Errorf("close: %w", err)
	}
	if stepMinutes <= 0 {
		stepMinutes = models.DefaultSlotStepMinutes
	}
	if ch*60+cm <= oh*60+om {
		return WorkingHours{}, fmt.Errorf("closing time %s is not after opening time %s", closeAt, open)
	}
	return WorkingHours{
		OpenHour: oh, OpenMinute: om,
		CloseHour: ch, CloseMinute: cm,
		Step: time.Duration(stepMinutes) * time.Minute,
	}, nil
}

// Candidates returns every slot start of the day, the last one starting before closing.
func (h WorkingHours) Candidates(day time.Time) []time.Time {
	loc := day.Location()
	start := time.Date(day.Year(), day.Month(), day.Day(), h.OpenHour, h.OpenMinute, 0, 0, loc)
	end := time.Date(day.Year(), day.Month(), day.Day(), h.CloseHour, h.CloseMinute, 0, 0, loc)

	step := h.Step
	if step <= 0 {
		step = models.DefaultSlotStepMinutes * time.Minute
	}
	var slots []time.Time
	for t := start; t.Before(end); t = t.Add(step) {
		slots = append(slots, t)
	}
	return slots
}

// IsSlotFree reports whether no active booking of staffID occupies at.
func IsSlotFree(bookings []*models.Booking, staffID string, at time.Time) bool {
	for _, b := range bookings {
		if b == nil || !b.Active() {
			continue
		}
		if b.StaffID == staffID && models.SameSlot(b.SlotAt, at) {
			return false
		}
	}
	return true
}

// FreeTimes returns the candidate slots of day that are still free for staffID.
func FreeTimes(bookings []*models.Booking, staffID string, day time.Time, hours WorkingHours) []time.Time {
	free := make([]time.Time, 0)
	for _, slot := range hours.Candidates(day) {
		if IsSlotFree(bookings, staffID, slot) {
			free = append(free, slot)
		}
	}
	return free
}

// SlotLister fetches the active bookings of a staff member for one day.
type SlotLister interface {
	ListSlotBookings(ctx context.Context, salonID, staffID string, day time.Time) ([]*models.Booking, error)
}

// Checker answers availability questions from a live store. A failed fetch is
// reported as ErrAvailabilityUnknown, never as free.
type Checker struct {
	lister SlotLister
	hours  WorkingHours
}

func NewChecker(lister SlotLister, hours WorkingHours) *Checker {
	return &Checker{lister: lister, hours: hours}
}

func (c *Checker) SlotFree(ctx context.Context, salonID, staffID string, at time.Time) (bool, error) {
	bookings, err := c.lister.ListSlotBookings(ctx, salonID, staffID, at)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrAvailabilityUnknown, err)
	}
	return IsSlotFree(bookings, staffID, at), nil
}

func (c *Checker) FreeTimes(ctx context.Context, salonID, staffID string, day time.Time) ([]time.Time, error) {
	bookings, err := c.lister.ListSlotBookings(ctx, salonID, staffID, day)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAvailabilityUnknown, err)
	}
	return FreeTimes(bookings, staffID, day, c.hours), nil
}

// Hours returns the working hours the checker offers slots on.
func (c *Checker) Hours() WorkingHours {
	return c.hours
}
