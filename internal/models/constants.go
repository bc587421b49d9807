package models

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"

	// StatusBooked is the legacy name some clients send at creation.
	StatusBooked = "booked"
)

const (
	PaymentMethodCard = "card"
	PaymentMethodQPay = "qpay"
)

const (
	ParseModeMarkdown = "Markdown"
	ParseModeHTML     = "HTML"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "3:04 PM"

	// SlotKeyLayout is the sortable text form used for storage keys and indexes.
	SlotKeyLayout = "2006-01-02T15:04"
)

const (
	// LocalStoreSchemaVersion версия формата локального хранилища заявок
	LocalStoreSchemaVersion = 1

	// DefaultLocalStoreKey ключ, под которым хранится документ с заявками
	DefaultLocalStoreKey = "salonbook:bookings"

	// DefaultMaxBookingDays горизонт бронирования по умолчанию
	DefaultMaxBookingDays = 90

	// DefaultSlotStepMinutes шаг сетки слотов по умолчанию
	DefaultSlotStepMinutes = 30

	// WorkerQueueSize размер очереди воркера
	WorkerQueueSize = 1000

	// DefaultPaymentLockTTL сколько держится блокировка незавершенного платежа
	DefaultPaymentLockTTL = 30 // секунд
)

// NormalizeStatus maps legacy status names onto the canonical lifecycle.
func NormalizeStatus(status string) string {
	if status == StatusBooked || status == "" {
		return StatusPending
	}
	return status
}

// ValidStatus reports whether status is part of the lifecycle.
func ValidStatus(status string) bool {
	switch status {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves status.
func Terminal(status string) bool {
	return status == StatusCancelled || status == StatusCompleted
}

var transitions = map[string][]string{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether the lifecycle allows moving from -> to.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
