package bot

import (
	"fmt"
	"sort"
	"strings"

	"salonbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// escapeMarkdown escapes the characters legacy Markdown treats as markup.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func statusLabel(status string) string {
	switch models.NormalizeStatus(status) {
	case models.StatusPending:
		return "⏳ Ожидает оплаты"
	case models.StatusConfirmed:
		return "✅ Подтверждена"
	case models.StatusCompleted:
		return "🏁 Выполнена"
	case models.StatusCancelled:
		return "❌ Отменена"
	default:
		return status
	}
}

func staffName(b *models.Booking) string {
	if b.Staff != nil && b.Staff.Name != "" {
		return b.Staff.Name
	}
	return b.StaffID
}

func serviceName(b *models.Booking) string {
	if b.Service != nil && b.Service.Name != "" {
		return b.Service.Name
	}
	return b.ServiceID
}

func formatBooking(b *models.Booking) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Заявка* `%s`\n", b.ID)
	fmt.Fprintf(&sb, "📅 %s %s\n", b.Date, b.Time)
	fmt.Fprintf(&sb, "💇 %s\n", escapeMarkdown(serviceName(b)))
	fmt.Fprintf(&sb, "👤 Мастер: %s\n", escapeMarkdown(staffName(b)))
	if b.UserID != "" {
		fmt.Fprintf(&sb, "🙋 Клиент: %s\n", escapeMarkdown(b.UserID))
	}
	fmt.Fprintf(&sb, "💰 %d\n", b.Price)
	fmt.Fprintf(&sb, "Статус: %s", statusLabel(b.Status))
	if b.Paid() {
		fmt.Fprintf(&sb, "\nОплата: %s", b.PaymentMethod)
		if b.CardLastFour != "" {
			fmt.Fprintf(&sb, " (*%s)", b.CardLastFour)
		}
	}
	return sb.String()
}

func formatBookingList(bookings []*models.Booking) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Предстоящие заявки: %d*\n", len(bookings))
	for _, b := range bookings {
		fmt.Fprintf(&sb, "\n%s %s · %s · %s\n`%s` %s",
			b.Date, b.Time, escapeMarkdown(staffName(b)), escapeMarkdown(serviceName(b)), b.ID, statusLabel(b.Status))
	}
	return sb.String()
}

// bookingKeyboard offers the status changes still open for b.
func bookingKeyboard(b *models.Booking) (tgbotapi.InlineKeyboardMarkup, bool) {
	var row []tgbotapi.InlineKeyboardButton
	if models.CanTransition(b.Status, models.StatusCompleted) {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("🏁 Выполнена", callbackComplete+":"+b.ID))
	}
	if models.CanTransition(b.Status, models.StatusCancelled) {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("❌ Отменить", callbackCancel+":"+b.ID))
	}
	if len(row) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(row), true
}

// filterBookings keeps matching bookings ordered by slot.
func filterBookings(bookings []*models.Booking, keep func(*models.Booking) bool) []*models.Booking {
	out := make([]*models.Booking, 0, len(bookings))
	for _, b := range bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SlotAt.Before(out[j].SlotAt) })
	return out
}
