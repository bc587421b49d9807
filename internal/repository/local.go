package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"

	"github.com/rs/zerolog"
)

type localDocument struct {
	SchemaVersion int               `json:"schemaVersion"`
	Bookings      []*models.Booking `json:"bookings"`
}

// LocalBookingStore keeps every booking in one versioned JSON document.
// Slot uniqueness is only checked against that document, so it is safe for a
// single device and not across clients.
type LocalBookingStore struct {
	kv     domain.KV
	key    string
	loc    *time.Location
	logger *zerolog.Logger
	now    func() time.Time

	mu sync.Mutex
}

func NewLocalBookingStore(kv domain.KV, key string, loc *time.Location, logger *zerolog.Logger) *LocalBookingStore {
	if key == "" {
		key = models.DefaultLocalStoreKey
	}
	if loc == nil {
		loc = time.Local
	}
	return &LocalBookingStore{kv: kv, key: key, loc: loc, logger: logger, now: time.Now}
}

func (s *LocalBookingStore) load(ctx context.Context) (*localDocument, error) {
	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read local bookings: %w", err)
	}
	doc := &localDocument{SchemaVersion: models.LocalStoreSchemaVersion}
	if !ok || strings.TrimSpace(raw) == "" {
		return doc, nil
	}

	// unversioned documents were a bare array
	if strings.HasPrefix(strings.TrimSpace(raw), "[") {
		if err := json.Unmarshal([]byte(raw), &doc.Bookings); err != nil {
			return nil, fmt.Errorf("failed to decode legacy bookings: %w", err)
		}
		s.logger.Info().Int("bookings", len(doc.Bookings)).Msg("Migrating legacy local bookings document")
	} else {
		if err := json.Unmarshal([]byte(raw), doc); err != nil {
			return nil, fmt.Errorf("failed to decode local bookings: %w", err)
		}
		if doc.SchemaVersion > models.LocalStoreSchemaVersion {
			return nil, fmt.Errorf("local bookings schema %d is newer than supported %d",
				doc.SchemaVersion, models.LocalStoreSchemaVersion)
		}
	}

	for _, b := range doc.Bookings {
		b.Status = models.NormalizeStatus(b.Status)
		if b.SlotAt.IsZero() {
			if at, err := models.ParseSlot(b.Date, b.Time, s.loc); err == nil {
				b.SetSlot(at)
			}
		}
		if b.Version == 0 {
			b.Version = 1
		}
	}
	doc.SchemaVersion = models.LocalStoreSchemaVersion
	return doc, nil
}

func (s *LocalBookingStore) save(ctx context.Context, doc *localDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode local bookings: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, string(data)); err != nil {
		return fmt.Errorf("failed to write local bookings: %w", err)
	}
	return nil
}

func (s *LocalBookingStore) normalizeSlot(b *models.Booking) error {
	if !b.SlotAt.IsZero() {
		b.SetSlot(b.SlotAt)
		return nil
	}
	at, err := models.ParseSlot(b.Date, b.Time, s.loc)
	if err != nil {
		return domain.Invalid("date", "%v", err)
	}
	b.SetSlot(at)
	return nil
}

func slotTaken(doc *localDocument, b *models.Booking) bool {
	for _, other := range doc.Bookings {
		if other.ID == b.ID || !other.Active() {
			continue
		}
		if other.StaffID == b.StaffID && models.SameSlot(other.SlotAt, b.SlotAt) {
			return true
		}
	}
	return false
}

func find(doc *localDocument, id string) int {
	for i, b := range doc.Bookings {
		if b.ID == id {
			return i
		}
	}
	return -1
}

func (s *LocalBookingStore) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if booking.ID == "" {
		return domain.Invalid("_id", "a client generated id is required")
	}
	if err := s.normalizeSlot(booking); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return err
	}

	if i := find(doc, booking.ID); i >= 0 {
		existing := doc.Bookings[i]
		if existing.StaffID == booking.StaffID && models.SameSlot(existing.SlotAt, booking.SlotAt) {
			*booking = *existing.Clone()
			return nil
		}
		return fmt.Errorf("%w: booking %s already exists", domain.ErrConcurrentModification, booking.ID)
	}
	if slotTaken(doc, booking) {
		return domain.ErrSlotTaken
	}

	now := s.now()
	booking.Status = models.NormalizeStatus(booking.Status)
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = now
	booking.Version = 1

	doc.Bookings = append(doc.Bookings, booking.Clone())
	return s.save(ctx, doc)
}

func (s *LocalBookingStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	i := find(doc, id)
	if i < 0 {
		return nil, domain.ErrNotFound
	}
	return doc.Bookings[i], nil
}

func (s *LocalBookingStore) UpdateBooking(ctx context.Context, booking *models.Booking, fromVersion int64) error {
	if err := s.normalizeSlot(booking); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	i := find(doc, booking.ID)
	if i < 0 {
		return domain.ErrNotFound
	}
	if doc.Bookings[i].Version != fromVersion {
		return domain.ErrConcurrentModification
	}
	if booking.Active() && slotTaken(doc, booking) {
		return domain.ErrSlotTaken
	}

	booking.Version = fromVersion + 1
	booking.UpdatedAt = s.now()
	doc.Bookings[i] = booking.Clone()
	return s.save(ctx, doc)
}

func (s *LocalBookingStore) DeleteBooking(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	i := find(doc, id)
	if i < 0 {
		return domain.ErrNotFound
	}
	doc.Bookings = append(doc.Bookings[:i], doc.Bookings[i+1:]...)
	return s.save(ctx, doc)
}

func (s *LocalBookingStore) filter(ctx context.Context, keep func(b *models.Booking) bool) ([]*models.Booking, error) {
	s.mu.Lock()
	doc, err := s.load(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]*models.Booking, 0)
	for _, b := range doc.Bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SlotAt.Before(out[j].SlotAt) })
	return out, nil
}

func (s *LocalBookingStore) ListSalonBookings(ctx context.Context, salonID string) ([]*models.Booking, error) {
	return s.filter(ctx, func(b *models.Booking) bool { return b.SalonID == salonID })
}

func (s *LocalBookingStore) ListUserBookings(ctx context.Context, userID string) ([]*models.Booking, error) {
	return s.filter(ctx, func(b *models.Booking) bool { return b.UserID == userID })
}

func (s *LocalBookingStore) ListSlotBookings(ctx context.Context, salonID, staffID string, day time.Time) ([]*models.Booking, error) {
	date := ""
	if !day.IsZero() {
		date = day.Format(models.DateLayout)
	}
	return s.filter(ctx, func(b *models.Booking) bool {
		if b.SalonID != salonID || !b.Active() {
			return false
		}
		if staffID != "" && b.StaffID != staffID {
			return false
		}
		return date == "" || b.Date == date
	})
}
