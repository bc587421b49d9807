package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"salonbook/internal/domain"
	"salonbook/internal/events"

	"github.com/rs/zerolog"
)

const notifyQueueSize = 100

type notification struct {
	eventType string
	text      string
}

// Notifier posts booking events to the configured manager chats. Handle only
// queues the message so the event bus never waits on Telegram.
type Notifier struct {
	tgService domain.TelegramService
	chatIDs   []int64
	queue     chan notification
	metrics   *Metrics
	logger    *zerolog.Logger
}

func NewNotifier(tgService domain.TelegramService, chatIDs []int64, metrics *Metrics, logger *zerolog.Logger) *Notifier {
	return &Notifier{
		tgService: tgService,
		chatIDs:   chatIDs,
		queue:     make(chan notification, notifyQueueSize),
		metrics:   metrics,
		logger:    logger,
	}
}

// Attach subscribes the notifier to every booking event.
func (n *Notifier) Attach(bus *events.EventBus) {
	bus.SubscribeAll(events.BookingEvents, n.Handle)
}

func (n *Notifier) Handle(event *events.Event) error {
	if len(n.chatIDs) == 0 {
		return nil
	}
	p, err := events.DecodeBooking(event)
	if err != nil {
		return fmt.Errorf("decode booking event: %w", err)
	}

	select {
	case n.queue <- notification{eventType: event.Type, text: formatEvent(event.Type, p)}:
		return nil
	default:
		n.metrics.notification(event.Type, "dropped")
		n.logger.Warn().Str("event_type", event.Type).Str("booking_id", p.BookingID).Msg("notification queue is full")
		return errors.New("notification queue is full")
	}
}

// Start delivers queued notifications until ctx is done.
func (n *Notifier) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-n.queue:
			n.deliver(item)
		}
	}
}

func (n *Notifier) deliver(item notification) {
	for _, chatID := range n.chatIDs {
		if _, err := n.tgService.SendMarkdown(chatID, item.text); err != nil {
			n.metrics.notification(item.eventType, "error")
			n.logger.Error().Err(err).Int64("chat_id", chatID).Str("event_type", item.eventType).Msg("notification send failed")
			continue
		}
		n.metrics.notification(item.eventType, "sent")
	}
}

var eventTitles = map[string]string{
	events.EventBookingCreated:     "🆕 Новая заявка",
	events.EventBookingConfirmed:   "✅ Заявка оплачена",
	events.EventBookingCancelled:   "❌ Заявка отменена",
	events.EventBookingCompleted:   "🏁 Заявка выполнена",
	events.EventBookingRescheduled: "🔁 Заявка перенесена",
	events.EventBookingDeleted:     "🗑 Заявка удалена",
}

func formatEvent(eventType string, p events.BookingEventPayload) string {
	title, ok := eventTitles[eventType]
	if !ok {
		title = eventType
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "*%s*\n`%s`\n", title, p.BookingID)
	fmt.Fprintf(&sb, "📅 %s %s\n", p.Date, p.Time)
	fmt.Fprintf(&sb, "💇 %s · Мастер: %s\n", escapeMarkdown(p.ServiceID), escapeMarkdown(p.StaffID))
	fmt.Fprintf(&sb, "💰 %d · %s", p.Price, statusLabel(p.Status))
	if p.PaymentMethod != "" {
		fmt.Fprintf(&sb, " · %s", p.PaymentMethod)
	}
	if p.ChangedBy != "" {
		fmt.Fprintf(&sb, "\nИзменил: %s", escapeMarkdown(p.ChangedBy))
	}
	return sb.String()
}
