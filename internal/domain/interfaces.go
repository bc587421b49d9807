package domain

import (
	"context"
	"time"

	"salonbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BookingStore is the persistence contract shared by the server database,
// the REST client and the local fallback store.
type BookingStore interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	// UpdateBooking persists booking when the stored version still equals fromVersion.
	UpdateBooking(ctx context.Context, booking *models.Booking, fromVersion int64) error
	DeleteBooking(ctx context.Context, id string) error
	ListSalonBookings(ctx context.Context, salonID string) ([]*models.Booking, error)
	ListUserBookings(ctx context.Context, userID string) ([]*models.Booking, error)
	ListSlotBookings(ctx context.Context, salonID, staffID string, day time.Time) ([]*models.Booking, error)
}

type CatalogRepository interface {
	GetSalon(ctx context.Context, id string) (*models.Salon, error)
	GetService(ctx context.Context, id string) (*models.Service, error)
	GetStaff(ctx context.Context, id string) (*models.Staff, error)
}

// KV is a minimal string key/value store used by the local booking store.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// IdempotencyGuard claims a key once until it expires or is released.
type IdempotencyGuard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	GetSelf() tgbotapi.User
	StopReceivingUpdates()
}

type TelegramService interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	SendMessage(chatID int64, text string) (tgbotapi.Message, error)
	SendMarkdown(chatID int64, text string) (tgbotapi.Message, error)
	SendWithInlineKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error)
	AnswerCallback(callbackID, text string) error
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	GetSelf() tgbotapi.User
	StopReceivingUpdates()
}

type SheetsWriter interface {
	UpsertBooking(ctx context.Context, booking *models.Booking) error
	UpdateBookingStatus(ctx context.Context, bookingID string, status string) error
	DeleteBooking(ctx context.Context, bookingID string) error
}

type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType string, booking *models.Booking) error
}

type BookingService interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetBookingExpanded(ctx context.Context, id string) (*models.Booking, error)
	ListSalonBookings(ctx context.Context, salonID string) ([]*models.Booking, error)
	ListUserBookings(ctx context.Context, userID string) ([]*models.Booking, error)
	ListSlotBookings(ctx context.Context, salonID, staffID string, day time.Time) ([]*models.Booking, error)
	ConfirmPayment(ctx context.Context, id string, payment models.Payment) (*models.Booking, error)
	CancelBooking(ctx context.Context, id string, actor string) (*models.Booking, error)
	CompleteBooking(ctx context.Context, id string, actor string) (*models.Booking, error)
	RescheduleBooking(ctx context.Context, id, staffID, date, clock string) (*models.Booking, error)
	DeleteBooking(ctx context.Context, id string) error
	FreeTimes(ctx context.Context, salonID, staffID string, day time.Time) ([]time.Time, error)
}
