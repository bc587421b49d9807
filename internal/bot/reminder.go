package bot

import (
	"context"
	"fmt"
	"time"

	"salonbook/internal/models"
)

// StartDigest sends managers the next day's bookings every day at digest_time.
// It returns at once when no digest time is configured.
func (b *Bot) StartDigest(ctx context.Context) {
	if b == nil || b.tgService == nil || b.digestTime == "" {
		return
	}

	hour, minute, err := models.ParseClock(b.digestTime)
	if err != nil {
		b.logger.Error().Err(err).Str("digest_time", b.digestTime).Msg("Invalid digest time format")
		return
	}

	go func() {
		// First wait until the next digest time, then tick every 24h.
		timer := time.NewTimer(timeUntilNext(b.now().In(b.loc), hour, minute))
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				b.sendTomorrowDigest(ctx)
				timer.Reset(timeUntilNext(b.now().In(b.loc), hour, minute))
			}
		}
	}()
}

func (b *Bot) sendTomorrowDigest(ctx context.Context) {
	tomorrow := b.now().In(b.loc).AddDate(0, 0, 1)
	date := tomorrow.Format(models.DateLayout)

	bookings, err := b.orders.ListSalonBookings(ctx, b.salonID)
	if err != nil {
		b.logger.Error().Err(err).Str("date", date).Msg("digest: list bookings error")
		return
	}

	due := filterBookings(bookings, func(bk *models.Booking) bool {
		return bk.Date == date && shouldRemindStatus(bk.Status)
	})
	text := formatDigest(tomorrow, due)

	for chatID := range b.managers {
		if _, err := b.tgService.SendMarkdown(chatID, text); err != nil {
			b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("digest: send error")
		}
	}
}

func shouldRemindStatus(status string) bool {
	switch status {
	case models.StatusPending, models.StatusConfirmed:
		return true
	default:
		return false
	}
}

func formatDigest(day time.Time, bookings []*models.Booking) string {
	if len(bookings) == 0 {
		return fmt.Sprintf("Напоминание: на %s заявок нет.", day.Format("02.01.2006"))
	}
	text := fmt.Sprintf("*Напоминание: заявки на %s (%d)*\n", day.Format("02.01.2006"), len(bookings))
	for _, bk := range bookings {
		text += fmt.Sprintf("\n%s · %s · %s · %s", bk.Time, escapeMarkdown(staffName(bk)),
			escapeMarkdown(serviceName(bk)), statusLabel(bk.Status))
	}
	return text
}

func timeUntilNext(now time.Time, hour, minute int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
