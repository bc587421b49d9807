package bot

import (
	"context"
	"errors"

	"salonbook/internal/domain"
)

func (b *Bot) getErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, domain.ErrNotFound) {
		return "⚠️ Заявка не найдена. Проверьте идентификатор."
	}

	if errors.Is(err, domain.ErrInvalidTransition) {
		return "⚠️ Для этой заявки такой переход статуса невозможен."
	}

	if errors.Is(err, domain.ErrConcurrentModification) {
		return "⚠️ Заявку только что изменили (конфликт версий). Пожалуйста, попробуйте еще раз."
	}

	if errors.Is(err, domain.ErrSlotTaken) {
		return "⚠️ Это время у мастера уже занято."
	}

	if errors.Is(err, domain.ErrAvailabilityUnknown) {
		return "⚠️ Сервер заявок временно недоступен. Попробуйте позже."
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "⚠️ Сервер заявок не ответил вовремя. Попробуйте позже."
	}

	// Default error message
	return "❌ Произошла ошибка при обработке запроса. Пожалуйста, попробуйте позже."
}
