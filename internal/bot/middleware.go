package bot

import (
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (b *Bot) withRecovery(handler func()) {
	defer func() {
		if r := recover(); r != nil {
			if b.metrics != nil {
				b.metrics.ErrorsTotal.Inc()
			}
			b.logger.Error().Interface("panic", r).Msg("Recovered from panic in update handler")
		}
	}()
	handler()
}

func (b *Bot) isManager(userID int64) bool {
	return b.managers[userID]
}

// allow lets managers through and tells everyone else the bot is staff only.
func (b *Bot) allow(from *tgbotapi.User, msg *tgbotapi.Message) bool {
	if from == nil {
		return false
	}
	if b.isManager(from.ID) {
		return true
	}
	b.logger.Warn().Int64("user_id", from.ID).Str("username", from.UserName).Msg("Access denied")
	if b.metrics != nil {
		b.metrics.AccessDenied.Inc()
	}
	if msg != nil && msg.Chat != nil {
		b.sendMessage(msg.Chat.ID, "⛔ Бот доступен только менеджерам салона.")
	}
	return false
}

func actorName(user *tgbotapi.User) string {
	if user == nil {
		return "telegram"
	}
	if user.UserName != "" {
		return "telegram:@" + user.UserName
	}
	return "telegram:" + strconv.FormatInt(user.ID, 10)
}
